package article

import (
	"testing"
	"time"
)

func TestStageOrdering(t *testing.T) {
	ordered := []Stage{StageRaw, StageCleaned, StageNormalized, StageEnriched, StageIndexed}

	for i, s := range ordered {
		for j, other := range ordered {
			got := s.AtLeast(other)
			want := i >= j
			if got != want {
				t.Errorf("%s.AtLeast(%s) = %v, want %v", s, other, got, want)
			}
		}
	}
}

func TestStageValid(t *testing.T) {
	if !StageCleaned.Valid() {
		t.Error("Expected cleaned to be a valid stage")
	}
	if Stage("polished").Valid() {
		t.Error("Expected unknown stage to be invalid")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	a := &Article{
		ID:          "art-1",
		Fingerprint: "abc123",
		Source:      "example.com",
		URL:         "https://example.com/story",
		Title:       "Test Story",
		PublishedAt: time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC),
		ScrapedAt:   time.Date(2025, 7, 1, 12, 5, 0, 0, time.UTC),
		Text:        "Some cleaned text",
		Language:    "en",
		WordCount:   3,
		Summary:     "A summary.",
		Topics:      []string{"testing"},
		Sentiment:   SentimentNeutral,
		Embedding:   []float32{0.1, 0.2},
		Stage:       StageEnriched,
	}

	data, err := a.Encode()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if decoded.ID != a.ID {
		t.Errorf("Expected id %q, got %q", a.ID, decoded.ID)
	}
	if decoded.Stage != StageEnriched {
		t.Errorf("Expected stage enriched, got %q", decoded.Stage)
	}
	if len(decoded.Embedding) != 2 {
		t.Errorf("Expected embedding to survive round trip, got %v", decoded.Embedding)
	}
	if decoded.Sentiment != SentimentNeutral {
		t.Errorf("Expected neutral sentiment, got %q", decoded.Sentiment)
	}
}

func TestDecodeRejectsInvalid(t *testing.T) {
	if _, err := Decode([]byte(`{"stage":"raw"}`)); err == nil {
		t.Error("Expected error for missing id")
	}
	if _, err := Decode([]byte(`{"id":"x","stage":"bogus"}`)); err == nil {
		t.Error("Expected error for unknown stage")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Error("Expected error for malformed payload")
	}
}

func TestPartitionKey(t *testing.T) {
	a := &Article{ID: "id-1"}
	if a.PartitionKey() != "id-1" {
		t.Errorf("Expected id as partition key before fingerprinting, got %q", a.PartitionKey())
	}

	a.Fingerprint = "fp-1"
	if a.PartitionKey() != "fp-1" {
		t.Errorf("Expected fingerprint as partition key, got %q", a.PartitionKey())
	}
}
