package normalize

import (
	"context"
	"fmt"
	"testing"

	"github.com/avolokh/newsriver/app/article"
)

type mockTranslator struct {
	translateFunc func(ctx context.Context, text, targetLanguage string) (string, error)
	calls         int
}

func (m *mockTranslator) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	m.calls++
	return m.translateFunc(ctx, text, targetLanguage)
}

func cleanedArticle(title, text string) *article.Article {
	return &article.Article{
		ID:          "a1",
		Fingerprint: "fp1",
		Title:       title,
		Text:        text,
		Stage:       article.StageCleaned,
	}
}

func TestProcessorDetectsLanguageAndCountsWords(t *testing.T) {
	processor := NewProcessor(NewDetector(), nil, "en")

	a := cleanedArticle("Budget talks", "The government announced a new budget plan for the upcoming fiscal year with significant changes to public spending.")
	got, err := processor.Process(context.Background(), a)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if got.Language != "en" {
		t.Errorf("Expected language %q, got %q", "en", got.Language)
	}
	if got.WordCount != 18 {
		t.Errorf("Expected word count 18, got %d", got.WordCount)
	}
	if got.Stage != article.StageNormalized {
		t.Errorf("Expected stage %q, got %q", article.StageNormalized, got.Stage)
	}
}

func TestProcessorDetectsNonEnglishLanguage(t *testing.T) {
	processor := NewProcessor(NewDetector(), nil, "en")

	a := cleanedArticle("Haushalt", "Die Bundesregierung hat heute einen neuen Haushaltsplan für das kommende Jahr vorgestellt und erhebliche Änderungen angekündigt.")
	got, err := processor.Process(context.Background(), a)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if got.Language != "de" {
		t.Errorf("Expected language %q, got %q", "de", got.Language)
	}
}

func TestProcessorTranslatesForeignArticles(t *testing.T) {
	translator := &mockTranslator{
		translateFunc: func(ctx context.Context, text, targetLanguage string) (string, error) {
			if targetLanguage != "en" {
				t.Errorf("Expected target language %q, got %q", "en", targetLanguage)
			}
			return "translated: " + text, nil
		},
	}
	processor := NewProcessor(NewDetector(), translator, "en")

	a := cleanedArticle("Haushalt", "Die Bundesregierung hat heute einen neuen Haushaltsplan für das kommende Jahr vorgestellt und erhebliche Änderungen angekündigt.")
	got, err := processor.Process(context.Background(), a)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if translator.calls != 2 {
		t.Errorf("Expected 2 translation calls (title and text), got %d", translator.calls)
	}
	if got.TranslatedTitle != "translated: Haushalt" {
		t.Errorf("Unexpected translated title: %q", got.TranslatedTitle)
	}
	if got.TranslatedText == "" {
		t.Error("Expected translated text to be set")
	}
}

func TestProcessorSkipsTranslationForTargetLanguage(t *testing.T) {
	translator := &mockTranslator{
		translateFunc: func(ctx context.Context, text, targetLanguage string) (string, error) {
			return "should not be called", nil
		},
	}
	processor := NewProcessor(NewDetector(), translator, "en")

	a := cleanedArticle("Budget talks", "The government announced a new budget plan for the upcoming fiscal year with significant changes to public spending.")
	got, err := processor.Process(context.Background(), a)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if translator.calls != 0 {
		t.Errorf("Expected no translation calls, got %d", translator.calls)
	}
	if got.TranslatedTitle != "" || got.TranslatedText != "" {
		t.Error("Expected translation fields to stay empty")
	}
}

func TestProcessorTranslationFailureIsNonFatal(t *testing.T) {
	translator := &mockTranslator{
		translateFunc: func(ctx context.Context, text, targetLanguage string) (string, error) {
			return "", fmt.Errorf("backend unavailable")
		},
	}
	processor := NewProcessor(NewDetector(), translator, "en")

	a := cleanedArticle("Haushalt", "Die Bundesregierung hat heute einen neuen Haushaltsplan für das kommende Jahr vorgestellt und erhebliche Änderungen angekündigt.")
	got, err := processor.Process(context.Background(), a)
	if err != nil {
		t.Fatalf("Expected translation failure to be non-fatal, got: %v", err)
	}

	if got == nil {
		t.Fatal("Expected record to advance despite translation failure")
	}
	if got.Stage != article.StageNormalized {
		t.Errorf("Expected stage %q, got %q", article.StageNormalized, got.Stage)
	}
	if got.TranslatedTitle != "" || got.TranslatedText != "" {
		t.Error("Expected translation fields to be empty after failure")
	}
	if processor.TranslationFailures() != 1 {
		t.Errorf("Expected 1 recorded translation failure, got %d", processor.TranslationFailures())
	}
}

func TestDetectorFallsBackOnInconclusiveText(t *testing.T) {
	detector := NewDetector()

	if got := detector.Detect("1234567890"); got != defaultLanguage {
		t.Errorf("Expected fallback %q, got %q", defaultLanguage, got)
	}
}

func TestLanguageName(t *testing.T) {
	if got := languageName("de"); got != "German" {
		t.Errorf("Expected %q, got %q", "German", got)
	}
	if got := languageName("xx-not-a-code"); got != "xx-not-a-code" {
		t.Errorf("Expected passthrough for unknown code, got %q", got)
	}
}
