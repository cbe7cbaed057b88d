package stream

import (
	"context"
	"testing"
	"time"

	"github.com/avolokh/newsriver/app/article"
	"github.com/avolokh/newsriver/app/retry"
)

func publishArticle(t *testing.T, pub Publisher, a *article.Article) {
	t.Helper()
	data, err := a.Encode()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := pub.Publish(context.Background(), a.PartitionKey(), data); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
}

func newTestRunner(broker *MemoryBroker, process ProcessFunc) *Runner {
	return &Runner{
		Name:        "test-stage",
		Stage:       article.StageCleaned,
		Consumer:    broker.Consumer("in"),
		Output:      broker.Publisher("out"),
		DeadLetters: broker.Publisher("dead"),
		Process:     process,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	}
}

func drainRunner(t *testing.T, r *Runner, expect func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if expect() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Runner returned error: %v", err)
	}
	if !expect() {
		t.Fatal("Runner did not produce expected output in time")
	}
}

func TestRunnerAdvancesStage(t *testing.T) {
	broker := NewMemoryBroker()
	r := newTestRunner(broker, func(ctx context.Context, a *article.Article) (*article.Article, error) {
		a.Text = "cleaned"
		a.Fingerprint = "fp-1"
		a.Stage = article.StageCleaned
		return a, nil
	})

	publishArticle(t, broker.Publisher("in"), &article.Article{ID: "a1", Stage: article.StageRaw})

	drainRunner(t, r, func() bool { return len(broker.Messages("out")) == 1 })

	out, err := article.Decode(broker.Messages("out")[0].Value)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out.Stage != article.StageCleaned {
		t.Errorf("Expected stage cleaned, got %q", out.Stage)
	}
	if broker.Messages("out")[0].Key != "fp-1" {
		t.Errorf("Expected output keyed by fingerprint, got %q", broker.Messages("out")[0].Key)
	}
}

func TestRunnerForwardsRecordsAlreadyPastStage(t *testing.T) {
	broker := NewMemoryBroker()
	processed := 0
	r := newTestRunner(broker, func(ctx context.Context, a *article.Article) (*article.Article, error) {
		processed++
		return a, nil
	})

	publishArticle(t, broker.Publisher("in"), &article.Article{
		ID: "a1", Fingerprint: "fp-1", Stage: article.StageNormalized,
	})

	drainRunner(t, r, func() bool { return len(broker.Messages("out")) == 1 })

	if processed != 0 {
		t.Errorf("Expected no processing for a record past this stage, got %d calls", processed)
	}
	out, _ := article.Decode(broker.Messages("out")[0].Value)
	if out.Stage != article.StageNormalized {
		t.Errorf("Expected stage preserved on no-op forward, got %q", out.Stage)
	}
}

func TestRunnerDropsOnNilResult(t *testing.T) {
	broker := NewMemoryBroker()
	r := newTestRunner(broker, func(ctx context.Context, a *article.Article) (*article.Article, error) {
		return nil, nil // duplicate: silent drop
	})

	publishArticle(t, broker.Publisher("in"), &article.Article{ID: "dup", Stage: article.StageRaw})
	publishArticle(t, broker.Publisher("in"), &article.Article{ID: "marker", Stage: article.StageEnriched})

	// The marker record is past this stage and gets forwarded; the duplicate
	// before it must not appear.
	drainRunner(t, r, func() bool { return len(broker.Messages("out")) == 1 })

	out, _ := article.Decode(broker.Messages("out")[0].Value)
	if out.ID != "marker" {
		t.Errorf("Expected only the marker to be forwarded, got %q", out.ID)
	}
	if len(broker.Messages("dead")) != 0 {
		t.Errorf("Expected no dead letters for a silent drop, got %d", len(broker.Messages("dead")))
	}
}

func TestRunnerDeadLettersPermanentFailure(t *testing.T) {
	broker := NewMemoryBroker()
	calls := 0
	r := newTestRunner(broker, func(ctx context.Context, a *article.Article) (*article.Article, error) {
		calls++
		return nil, retry.Permanent("content too short", nil)
	})

	publishArticle(t, broker.Publisher("in"), &article.Article{ID: "bad", Stage: article.StageRaw})

	drainRunner(t, r, func() bool { return len(broker.Messages("dead")) == 1 })

	if calls != 1 {
		t.Errorf("Expected no retries for permanent failure, got %d calls", calls)
	}

	dl, err := article.DecodeDeadLetter(broker.Messages("dead")[0].Value)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if dl.Article.ID != "bad" {
		t.Errorf("Expected dead letter for 'bad', got %q", dl.Article.ID)
	}
	if dl.Article.Stage != article.StageRaw {
		t.Errorf("Expected article stage unchanged in dead letter, got %q", dl.Article.Stage)
	}
	if dl.Stage != article.StageCleaned {
		t.Errorf("Expected failing stage recorded, got %q", dl.Stage)
	}
}

func TestRunnerRetriesTransientThenSucceeds(t *testing.T) {
	broker := NewMemoryBroker()
	calls := 0
	r := newTestRunner(broker, func(ctx context.Context, a *article.Article) (*article.Article, error) {
		calls++
		if calls < 3 {
			return nil, retry.Transient("flaky dependency", nil)
		}
		a.Stage = article.StageCleaned
		return a, nil
	})

	publishArticle(t, broker.Publisher("in"), &article.Article{ID: "flaky", Stage: article.StageRaw})

	drainRunner(t, r, func() bool { return len(broker.Messages("out")) == 1 })

	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
	if len(broker.Messages("dead")) != 0 {
		t.Errorf("Expected no dead letters after eventual success, got %d", len(broker.Messages("dead")))
	}
}

func TestRunnerDeadLettersOnRetryExhaustion(t *testing.T) {
	broker := NewMemoryBroker()
	calls := 0
	r := newTestRunner(broker, func(ctx context.Context, a *article.Article) (*article.Article, error) {
		calls++
		return nil, retry.Transient("always down", nil)
	})

	publishArticle(t, broker.Publisher("in"), &article.Article{ID: "down", Stage: article.StageRaw})

	drainRunner(t, r, func() bool { return len(broker.Messages("dead")) == 1 })

	if calls != 3 {
		t.Errorf("Expected attempts up to the cap, got %d", calls)
	}
}

func TestRunnerSkipsUndecodableRecords(t *testing.T) {
	broker := NewMemoryBroker()
	r := newTestRunner(broker, func(ctx context.Context, a *article.Article) (*article.Article, error) {
		a.Stage = article.StageCleaned
		return a, nil
	})

	broker.Publisher("in").Publish(context.Background(), "junk", []byte("not an article"))
	publishArticle(t, broker.Publisher("in"), &article.Article{ID: "good", Stage: article.StageRaw})

	drainRunner(t, r, func() bool { return len(broker.Messages("out")) == 1 })

	out, _ := article.Decode(broker.Messages("out")[0].Value)
	if out.ID != "good" {
		t.Errorf("Expected the valid record to pass, got %q", out.ID)
	}
}
