package index

import (
	"context"
	"time"

	"github.com/avolokh/newsriver/app/article"
)

// Query is one search request against the article index. A non-empty Vector
// with Hybrid set adds a kNN clause next to the lexical match; filters apply
// to both.
type Query struct {
	Text      string
	Sources   []string
	Languages []string
	Topics    []string
	Sentiment article.Sentiment
	From      time.Time
	To        time.Time
	Page      int
	Size      int
	Hybrid    bool
	Vector    []float32
}

// SearchResult is a page of matches plus the total match count.
type SearchResult struct {
	Total    int64
	Articles []*article.Article
}

// ItemResult is the per-document outcome of a bulk write. Err is nil for an
// indexed document and classified transient or permanent otherwise.
type ItemResult struct {
	ID  string
	Err error
}

// Bucket is one facet count in the stats aggregations.
type Bucket struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Stats aggregates the index for the read API.
type Stats struct {
	TotalArticles int64    `json:"total_articles"`
	Sources       []Bucket `json:"sources"`
	Languages     []Bucket `json:"languages"`
	Sentiments    []Bucket `json:"sentiments"`
	DailyCounts   []Bucket `json:"daily_counts"`
}

// SearchStore is the article index. Writes are keyed upserts by article id,
// so replaying a record overwrites its document instead of duplicating it.
type SearchStore interface {
	EnsureIndex(ctx context.Context) error
	BulkUpsert(ctx context.Context, docs []*article.Article) ([]ItemResult, error)
	HybridQuery(ctx context.Context, q Query) (*SearchResult, error)
	GetByID(ctx context.Context, id string) (*article.Article, error)
	Latest(ctx context.Context, source string, page, size int) (*SearchResult, error)
	Stats(ctx context.Context) (*Stats, error)
}
