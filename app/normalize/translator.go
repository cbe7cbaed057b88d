package normalize

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Translator converts article text into the target language.
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

// LLMTranslator translates through an OpenAI-compatible chat endpoint.
type LLMTranslator struct {
	client llms.Model
}

func NewLLMTranslator(baseURL, apiKey, model string) (*LLMTranslator, error) {
	if apiKey == "" {
		apiKey = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(apiKey),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create translation client: %w", err)
	}

	return &LLMTranslator{client: client}, nil
}

func (t *LLMTranslator) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	system := fmt.Sprintf(
		"You are a professional news translator. Translate the user's text into %s. "+
			"Preserve names, numbers and facts exactly. Respond with the translation only.",
		languageName(targetLanguage))

	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(system)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(text)},
		},
	}

	response, err := t.client.GenerateContent(ctx, content, llms.WithTemperature(0.0))
	if err != nil {
		return "", fmt.Errorf("translation call failed: %w", err)
	}

	if len(response.Choices) < 1 {
		return "", fmt.Errorf("translation returned no choices")
	}

	translated := strings.TrimSpace(response.Choices[0].Content)
	if translated == "" {
		return "", fmt.Errorf("translation returned empty text")
	}

	return translated, nil
}

// languageName turns an ISO 639-1 code into an English language name the
// model reliably understands ("en" reads worse in a prompt than "English").
func languageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}

	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}
