package database

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/avolokh/newsriver/app/article"
)

func newTestRepository(t *testing.T) *DeadLetterRepository {
	t.Helper()

	db, err := NewConnection(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := RunMigrations(db); err != nil {
		t.Fatalf("Expected migrations to apply, got: %v", err)
	}

	return NewDeadLetterRepository(db)
}

func deadLetterFixture(id string, stage article.Stage, failedAt time.Time) *article.DeadLetter {
	return &article.DeadLetter{
		Article: article.Article{
			ID:          id,
			Fingerprint: "fp-" + id,
			Source:      "news.example.com",
			Title:       "title " + id,
			Stage:       article.StageNormalized,
		},
		Stage:    stage,
		Reason:   "provider rejected request",
		Error:    "permanent: provider rejected request",
		FailedAt: failedAt,
	}
}

func TestDeadLetterInsertAndList(t *testing.T) {
	repo := newTestRepository(t)
	now := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		dl := deadLetterFixture(fmt.Sprintf("a%d", i), article.StageEnriched, now.Add(time.Duration(i)*time.Minute))
		if err := repo.Insert(dl); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}

	records, err := repo.List("", 10, 0)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}

	// Newest first.
	if records[0].ArticleID != "a2" {
		t.Errorf("Expected a2 first, got %q", records[0].ArticleID)
	}
	if records[0].Stage != string(article.StageEnriched) {
		t.Errorf("Expected stage %q, got %q", article.StageEnriched, records[0].Stage)
	}
	if records[0].Reason != "provider rejected request" {
		t.Errorf("Unexpected reason: %q", records[0].Reason)
	}

	// Payload round-trips to the original article.
	a, err := article.Decode([]byte(records[0].Payload))
	if err != nil {
		t.Fatalf("Expected decodable payload, got: %v", err)
	}
	if a.ID != "a2" || a.Stage != article.StageNormalized {
		t.Errorf("Unexpected payload article: %+v", a)
	}
}

func TestDeadLetterListFiltersByStage(t *testing.T) {
	repo := newTestRepository(t)
	now := time.Now().UTC()

	if err := repo.Insert(deadLetterFixture("a1", article.StageCleaned, now)); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := repo.Insert(deadLetterFixture("a2", article.StageEnriched, now)); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	records, err := repo.List(string(article.StageEnriched), 10, 0)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(records) != 1 || records[0].ArticleID != "a2" {
		t.Errorf("Expected only a2, got %+v", records)
	}
}

func TestDeadLetterGet(t *testing.T) {
	repo := newTestRepository(t)

	if err := repo.Insert(deadLetterFixture("a1", article.StageIndexed, time.Now().UTC())); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	records, err := repo.List("", 1, 0)
	if err != nil || len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d (err %v)", len(records), err)
	}

	rec, err := repo.Get(records[0].ID)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if rec == nil || rec.ArticleID != "a1" {
		t.Errorf("Unexpected record: %+v", rec)
	}

	missing, err := repo.Get(99999)
	if err != nil {
		t.Fatalf("Expected no error for missing id, got: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for missing id, got %+v", missing)
	}
}

func TestDeadLetterCountByStage(t *testing.T) {
	repo := newTestRepository(t)
	now := time.Now().UTC()

	for i := 0; i < 2; i++ {
		if err := repo.Insert(deadLetterFixture(fmt.Sprintf("c%d", i), article.StageCleaned, now)); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}
	if err := repo.Insert(deadLetterFixture("e1", article.StageEnriched, now)); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	counts, err := repo.CountByStage()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("Expected 2 stages, got %d", len(counts))
	}

	byStage := map[string]int64{}
	for _, c := range counts {
		byStage[c.Stage] = c.Count
	}
	if byStage[string(article.StageCleaned)] != 2 {
		t.Errorf("Expected 2 cleaned failures, got %d", byStage[string(article.StageCleaned)])
	}
	if byStage[string(article.StageEnriched)] != 1 {
		t.Errorf("Expected 1 enriched failure, got %d", byStage[string(article.StageEnriched)])
	}
}

func TestDeadLetterPurge(t *testing.T) {
	repo := newTestRepository(t)
	now := time.Now().UTC()

	if err := repo.Insert(deadLetterFixture("old", article.StageCleaned, now.Add(-48*time.Hour))); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := repo.Insert(deadLetterFixture("new", article.StageCleaned, now)); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	deleted, err := repo.Purge(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 purged record, got %d", deleted)
	}

	records, err := repo.List("", 10, 0)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(records) != 1 || records[0].ArticleID != "new" {
		t.Errorf("Expected only the recent record, got %+v", records)
	}
}
