package article

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stage is the furthest pipeline step an article has completed. Stages are
// strictly ordered; a consumer that sees a record already past its own stage
// forwards it unchanged.
type Stage string

const (
	StageRaw        Stage = "raw"
	StageCleaned    Stage = "cleaned"
	StageNormalized Stage = "normalized"
	StageEnriched   Stage = "enriched"
	StageIndexed    Stage = "indexed"
)

var stageOrder = map[Stage]int{
	StageRaw:        0,
	StageCleaned:    1,
	StageNormalized: 2,
	StageEnriched:   3,
	StageIndexed:    4,
}

// AtLeast reports whether s has reached or passed other.
func (s Stage) AtLeast(other Stage) bool {
	return stageOrder[s] >= stageOrder[other]
}

// Valid reports whether s is a known stage value.
func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Article is the single record flowing through every pipeline stage. Fields
// are only ever added as the record progresses, never removed, with the one
// exception of RawHTML which is discarded after cleaning.
type Article struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Author      string    `json:"author,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	ScrapedAt   time.Time `json:"scraped_at"`

	RawHTML string `json:"raw_html,omitempty"`
	Text    string `json:"text,omitempty"`

	Language        string `json:"language,omitempty"`
	TranslatedTitle string `json:"translated_title,omitempty"`
	TranslatedText  string `json:"translated_text,omitempty"`
	WordCount       int    `json:"word_count,omitempty"`

	Summary        string    `json:"summary,omitempty"`
	Topics         []string  `json:"topics,omitempty"`
	Entities       []string  `json:"entities,omitempty"`
	Sentiment      Sentiment `json:"sentiment,omitempty"`
	SentimentScore float64   `json:"sentiment_score,omitempty"`
	Embedding      []float32 `json:"embedding,omitempty"`

	Stage Stage `json:"stage"`
}

// PartitionKey returns the stream partition key for the article: the
// fingerprint once the Parser/Deduper has computed it, the id before that.
// All records sharing a fingerprint land on the same partition, which is
// what keeps the dedup check-and-set race-free per logical consumer.
func (a *Article) PartitionKey() string {
	if a.Fingerprint != "" {
		return a.Fingerprint
	}
	return a.ID
}

// Encode serializes the article for the stream wire format.
func (a *Article) Encode() ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode article %s: %w", a.ID, err)
	}
	return data, nil
}

// Decode deserializes a stream payload into an article.
func Decode(data []byte) (*Article, error) {
	var a Article
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode article: %w", err)
	}
	if a.ID == "" {
		return nil, fmt.Errorf("failed to decode article: missing id")
	}
	if !a.Stage.Valid() {
		return nil, fmt.Errorf("failed to decode article %s: unknown stage %q", a.ID, a.Stage)
	}
	return &a, nil
}
