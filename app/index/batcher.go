package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avolokh/newsriver/app/article"
	"github.com/avolokh/newsriver/app/retry"
	"github.com/avolokh/newsriver/app/stream"
)

// Batcher is the Indexer stage: it accumulates enriched records until the
// batch is full or the flush interval elapses, then bulk-upserts them keyed
// by id. Indexing is terminal: successes are recorded in the store itself,
// nothing is forwarded. Offsets are committed only after every record of a
// batch has been indexed or dead-lettered, and shutdown flushes whatever is
// in flight.
type Batcher struct {
	Consumer      stream.Consumer
	DeadLetters   stream.Publisher
	Store         SearchStore
	BatchSize     int
	FlushInterval time.Duration
	MaxAttempts   int
	BaseDelay     time.Duration
}

func (b *Batcher) Run(ctx context.Context) error {
	slog.Info("Stage started", "stage", "indexer", "batch_size", b.BatchSize, "flush_interval", b.FlushInterval)

	var pending []stream.Message
	deadline := time.Now().Add(b.FlushInterval)

	for {
		fetchCtx, cancel := context.WithDeadline(ctx, deadline)
		m, err := b.Consumer.Fetch(fetchCtx)
		cancel()

		switch {
		case err == nil:
			pending = append(pending, m)
			if len(pending) < b.BatchSize {
				continue
			}
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			// Flush interval elapsed.
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			b.shutdownFlush(pending)
			slog.Info("Stage stopped", "stage", "indexer")
			return nil
		default:
			return fmt.Errorf("stage indexer: %w", err)
		}

		if err := b.flushAndCommit(ctx, pending); err != nil {
			if errors.Is(err, context.Canceled) {
				b.shutdownFlush(pending)
				return nil
			}
			return fmt.Errorf("stage indexer: %w", err)
		}
		pending = nil
		deadline = time.Now().Add(b.FlushInterval)
	}
}

// shutdownFlush gives uncommitted records one last write on a fresh context
// before the process exits. Anything that still fails is simply left
// uncommitted for redelivery.
func (b *Batcher) shutdownFlush(pending []stream.Message) {
	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := b.flushAndCommit(ctx, pending); err != nil {
		slog.Warn("Final flush failed, records will be redelivered", "records", len(pending), "error", err)
	}
}

func (b *Batcher) flushAndCommit(ctx context.Context, pending []stream.Message) error {
	if len(pending) == 0 {
		return nil
	}

	var docs []*article.Article
	for _, m := range pending {
		a, err := article.Decode(m.Value)
		if err != nil {
			slog.Warn("Dropping undecodable record", "stage", "indexer", "key", m.Key, "error", err)
			continue
		}
		a.Stage = article.StageIndexed
		docs = append(docs, a)
	}

	if err := b.flush(ctx, docs); err != nil {
		return err
	}

	return b.Consumer.Commit(ctx, pending...)
}

// flush drives the retry loop over a shrinking set of documents: each pass
// settles successes and permanent failures, transient failures carry into
// the next attempt until the budget runs out.
func (b *Batcher) flush(ctx context.Context, docs []*article.Article) error {
	for attempt := 1; len(docs) > 0; attempt++ {
		results, err := b.Store.BulkUpsert(ctx, docs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return context.Canceled
			}
			if !retry.IsTransient(err) || attempt >= b.MaxAttempts {
				return b.deadLetterAll(ctx, docs, err)
			}
			slog.Warn("Bulk write failed, retrying",
				"attempt", attempt, "max_attempts", b.MaxAttempts, "records", len(docs), "error", err)
			if err := retry.Backoff(ctx, attempt, b.BaseDelay); err != nil {
				return err
			}
			continue
		}

		var remaining []*article.Article
		indexed := 0
		for i, result := range results {
			switch {
			case result.Err == nil:
				indexed++
			case retry.IsTransient(result.Err) && attempt < b.MaxAttempts:
				remaining = append(remaining, docs[i])
			default:
				if err := b.deadLetter(ctx, docs[i], result.Err); err != nil {
					return err
				}
			}
		}

		if indexed > 0 {
			slog.Info("Batch indexed", "records", indexed, "attempt", attempt)
		}

		docs = remaining
		if len(docs) > 0 {
			if err := retry.Backoff(ctx, attempt, b.BaseDelay); err != nil {
				return err
			}
		}
	}

	return nil
}

func (b *Batcher) deadLetterAll(ctx context.Context, docs []*article.Article, cause error) error {
	for _, doc := range docs {
		if err := b.deadLetter(ctx, doc, cause); err != nil {
			return err
		}
	}
	return nil
}

func (b *Batcher) deadLetter(ctx context.Context, a *article.Article, cause error) error {
	slog.Error("Record dead-lettered", "stage", "indexer", "id", a.ID, "error", cause)

	// The record never made it into the index; its stage reverts to what the
	// producer set so a requeue replays the write.
	a.Stage = article.StageEnriched
	dl := article.NewDeadLetter(a, article.StageIndexed, retry.Reason(cause), cause)
	data, err := dl.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode dead letter for %s: %w", a.ID, err)
	}
	if err := b.DeadLetters.Publish(ctx, a.PartitionKey(), data); err != nil {
		return fmt.Errorf("failed to dead-letter %s: %w", a.ID, err)
	}
	return nil
}
