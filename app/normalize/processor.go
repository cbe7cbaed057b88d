package normalize

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/avolokh/newsriver/app/article"
)

// Processor is the Normalizer stage: it detects the article's language,
// counts words and optionally translates into the target language.
type Processor struct {
	detector       *Detector
	translator     Translator
	targetLanguage string

	translationFailures atomic.Int64
}

// NewProcessor builds the stage. A nil translator disables translation
// entirely.
func NewProcessor(detector *Detector, translator Translator, targetLanguage string) *Processor {
	return &Processor{
		detector:       detector,
		translator:     translator,
		targetLanguage: targetLanguage,
	}
}

// Process never fails a record: detection is deterministic and offline, and
// a translation failure only leaves the translation fields empty.
func (p *Processor) Process(ctx context.Context, a *article.Article) (*article.Article, error) {
	a.Language = p.detector.Detect(a.Text)
	a.WordCount = len(strings.Fields(a.Text))

	if p.translator != nil && a.Language != p.targetLanguage {
		p.translate(ctx, a)
	}

	a.Stage = article.StageNormalized
	return a, nil
}

// TranslationFailures reports how many records advanced without translation
// because the translation backend failed.
func (p *Processor) TranslationFailures() int64 {
	return p.translationFailures.Load()
}

func (p *Processor) translate(ctx context.Context, a *article.Article) {
	title, err := p.translator.Translate(ctx, a.Title, p.targetLanguage)
	if err != nil {
		p.recordFailure(a, err)
		return
	}

	text, err := p.translator.Translate(ctx, a.Text, p.targetLanguage)
	if err != nil {
		p.recordFailure(a, err)
		return
	}

	a.TranslatedTitle = title
	a.TranslatedText = text
}

func (p *Processor) recordFailure(a *article.Article, err error) {
	p.translationFailures.Add(1)
	a.TranslatedTitle = ""
	a.TranslatedText = ""
	slog.Warn("Translation failed, continuing without it",
		"id", a.ID, "language", a.Language, "error", err)
}
