package enrich

import (
	"context"

	"github.com/avolokh/newsriver/app/article"
)

const passthroughSummaryChars = 200

// PassthroughProvider stands in when no model backend is configured:
// articles flow through the full pipeline with a leading-text summary,
// generic topics and no embedding. Useful for local runs against the rest of
// the stack.
type PassthroughProvider struct{}

func (PassthroughProvider) Enrich(ctx context.Context, item Item) Result {
	summary := item.Text
	if len(summary) > passthroughSummaryChars {
		summary = truncateText(summary, passthroughSummaryChars)
	}

	return Result{Enrichment: &Enrichment{
		Summary:        summary,
		Topics:         []string{"general", "news"},
		Entities:       []string{},
		Sentiment:      article.SentimentNeutral,
		SentimentScore: 0,
	}}
}

func (p PassthroughProvider) EnrichBatch(ctx context.Context, items []Item) []Result {
	results := make([]Result, len(items))
	for i, item := range items {
		results[i] = p.Enrich(ctx, item)
	}
	return results
}
