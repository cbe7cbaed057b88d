package enrich

import (
	"context"

	"github.com/avolokh/newsriver/app/article"
)

// Item is the analyzable slice of one article. When a translation exists the
// caller passes the translated fields, matching what the models were asked
// to reason about.
type Item struct {
	Title string
	Text  string
}

// Enrichment is one article's worth of model output.
type Enrichment struct {
	Summary        string
	Topics         []string
	Entities       []string
	Sentiment      article.Sentiment
	SentimentScore float64
	Embedding      []float32
}

// Result is the per-item outcome of an enrichment call. Exactly one of
// Enrichment and Err is set; Err carries the transient/permanent
// classification.
type Result struct {
	Enrichment *Enrichment
	Err        error
}

// Provider produces enrichments. EnrichBatch returns one Result per input
// item, in input order, and never fails as a whole: batch-level problems
// surface as the same error on every item.
type Provider interface {
	Enrich(ctx context.Context, item Item) Result
	EnrichBatch(ctx context.Context, items []Item) []Result
}
