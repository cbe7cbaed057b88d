package enrich

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

// Driver is the Enricher stage loop. Unlike the per-record stage runner it
// coalesces consecutive records into bounded batches so the provider can
// share one embeddings call across them, then splits the batch results back
// into per-record outcomes: enriched records forward, transient failures
// retry with the whole remainder, permanent failures dead-letter
// individually without holding the rest of the batch hostage.
type Driver struct {
	Consumer    stream.Consumer
	Output      stream.Publisher
	DeadLetters stream.Publisher
	Provider    Provider
	BatchSize   int
	Linger      time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
}

// Run consumes until the context is cancelled; any other error is
// stage-fatal. A batch's offsets are committed only after every record in it
// has been forwarded or dead-lettered.
func (d *Driver) Run(ctx context.Context) error {
	slog.Info("Stage started", "stage", "enricher", "batch_size", d.BatchSize, "linger", d.Linger)

	for {
		batch, err := d.nextBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("Stage stopped", "stage", "enricher")
				return nil
			}
			return fmt.Errorf("stage enricher: %w", err)
		}

		if err := d.handleBatch(ctx, batch); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("stage enricher: %w", err)
		}

		if err := d.Consumer.Commit(ctx, batch...); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("stage enricher: %w", err)
		}
	}
}

// nextBatch blocks for the first record, then keeps fetching until the batch
// is full or the linger window closes.
func (d *Driver) nextBatch(ctx context.Context) ([]stream.Message, error) {
	first, err := d.Consumer.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	batch := []stream.Message{first}

	lingerCtx, cancel := context.WithTimeout(ctx, d.Linger)
	defer cancel()

	for len(batch) < d.BatchSize {
		m, err := d.Consumer.Fetch(lingerCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break
			}
			return nil, err
		}
		batch = append(batch, m)
	}

	return batch, nil
}

func (d *Driver) handleBatch(ctx context.Context, batch []stream.Message) error {
	var pending []*article.Article

	for _, m := range batch {
		a, err := article.Decode(m.Value)
		if err != nil {
			slog.Warn("Dropping undecodable record", "stage", "enricher", "key", m.Key, "error", err)
			continue
		}

		if a.Stage.AtLeast(article.StageEnriched) {
			slog.Debug("Record already past stage, forwarding unchanged", "stage", "enricher", "id", a.ID)
			if err := d.forward(ctx, a); err != nil {
				return err
			}
			continue
		}

		pending = append(pending, a)
	}

	return d.enrich(ctx, pending)
}

// enrich drives the retry loop over a shrinking set of records: each pass
// resolves successes and permanent failures, transient failures carry into
// the next attempt.
func (d *Driver) enrich(ctx context.Context, pending []*article.Article) error {
	for attempt := 1; len(pending) > 0; attempt++ {
		items := make([]Item, len(pending))
		for i, a := range pending {
			items[i] = analyzableItem(a)
		}

		results := d.Provider.EnrichBatch(ctx, items)

		var remaining []*article.Article
		for i, a := range pending {
			result := results[i]
			switch {
			case errors.Is(result.Err, context.Canceled):
				// Shutdown mid-batch: leave everything uncommitted.
				return context.Canceled
			case result.Err == nil:
				applyEnrichment(a, result.Enrichment)
				if err := d.forward(ctx, a); err != nil {
					return err
				}
			case retry.IsTransient(result.Err) && attempt < d.MaxAttempts:
				remaining = append(remaining, a)
			default:
				if err := d.deadLetter(ctx, a, result.Err); err != nil {
					return err
				}
			}
		}

		pending = remaining
		if len(pending) > 0 {
			slog.Debug("Retrying enrichment",
				"attempt", attempt, "max_attempts", d.MaxAttempts, "records", len(pending))
			if err := retry.Backoff(ctx, attempt, d.BaseDelay); err != nil {
				return err
			}
		}
	}

	return nil
}

// analyzableItem prefers the translated fields, matching what a
// target-language model reasons about best.
func analyzableItem(a *article.Article) Item {
	item := Item{Title: a.Title, Text: a.Text}
	if a.TranslatedText != "" {
		item.Text = a.TranslatedText
	}
	if a.TranslatedTitle != "" {
		item.Title = a.TranslatedTitle
	}
	return item
}

func applyEnrichment(a *article.Article, e *Enrichment) {
	a.Summary = e.Summary
	a.Topics = e.Topics
	a.Entities = e.Entities
	a.Sentiment = e.Sentiment
	a.SentimentScore = e.SentimentScore
	a.Embedding = e.Embedding
	a.Stage = article.StageEnriched
}

func (d *Driver) forward(ctx context.Context, a *article.Article) error {
	data, err := a.Encode()
	if err != nil {
		return d.deadLetter(ctx, a, retry.Permanent("unencodable record", err))
	}
	if err := d.Output.Publish(ctx, a.PartitionKey(), data); err != nil {
		return fmt.Errorf("failed to forward %s: %w", a.ID, err)
	}
	return nil
}

func (d *Driver) deadLetter(ctx context.Context, a *article.Article, cause error) error {
	slog.Error("Record dead-lettered", "stage", "enricher", "id", a.ID, "error", cause)

	dl := article.NewDeadLetter(a, article.StageEnriched, retry.Reason(cause), cause)
	data, err := dl.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode dead letter for %s: %w", a.ID, err)
	}
	if err := d.DeadLetters.Publish(ctx, a.PartitionKey(), data); err != nil {
		return fmt.Errorf("failed to dead-letter %s: %w", a.ID, err)
	}
	return nil
}
