package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avolokh/newsriver/app/article"
	"github.com/avolokh/newsriver/app/retry"
)

// ProcessFunc transforms an article for one pipeline stage. Returning
// (nil, nil) drops the record silently; returning an error routes the record
// through the retry policy and, on exhaustion or permanence, to the
// dead-letter stream. Implementations must be pure functions of the record:
// the runner replays them freely under at-least-once delivery.
type ProcessFunc func(ctx context.Context, a *article.Article) (*article.Article, error)

// Runner drives one per-record pipeline stage: fetch, decode, stage-guard,
// process, forward, commit. Offsets are committed only after the record's
// outcome (forward, drop or dead letter) has been published, so a crash
// replays the record instead of losing it.
type Runner struct {
	Name        string
	Stage       article.Stage
	Consumer    Consumer
	Output      Publisher // nil for a terminal stage
	DeadLetters Publisher
	Process     ProcessFunc
	MaxAttempts int
	BaseDelay   time.Duration
	CallTimeout time.Duration
}

// Run consumes until the context is cancelled. Any other error is
// stage-fatal (broker unreachable) and propagates for a process restart;
// resumption from the last committed offset is the broker's job.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("Stage started", "stage", r.Name)

	for {
		m, err := r.Consumer.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("Stage stopped", "stage", r.Name)
				return nil
			}
			return fmt.Errorf("stage %s: %w", r.Name, err)
		}

		if err := r.handle(ctx, m); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("stage %s: %w", r.Name, err)
		}

		if err := r.Consumer.Commit(ctx, m); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("stage %s: %w", r.Name, err)
		}
	}
}

func (r *Runner) handle(ctx context.Context, m Message) error {
	a, err := article.Decode(m.Value)
	if err != nil {
		// Poison pill: committing anyway is the only way out of a decode loop.
		slog.Warn("Dropping undecodable record", "stage", r.Name, "key", m.Key, "error", err)
		return nil
	}

	if a.Stage.AtLeast(r.Stage) {
		slog.Debug("Record already past stage, forwarding unchanged", "stage", r.Name, "id", a.ID, "record_stage", a.Stage)
		return r.forward(ctx, a)
	}

	var out *article.Article
	err = retry.Do(ctx, func() error {
		callCtx := ctx
		if r.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.CallTimeout)
			defer cancel()
		}
		var procErr error
		out, procErr = r.Process(callCtx, a)
		return procErr
	}, r.MaxAttempts, r.BaseDelay)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return r.deadLetter(ctx, a, err)
	}

	if out == nil {
		slog.Debug("Record dropped", "stage", r.Name, "id", a.ID)
		return nil
	}

	return r.forward(ctx, out)
}

func (r *Runner) forward(ctx context.Context, a *article.Article) error {
	if r.Output == nil {
		return nil
	}
	data, err := a.Encode()
	if err != nil {
		return r.deadLetter(ctx, a, retry.Permanent("unencodable record", err))
	}
	if err := r.Output.Publish(ctx, a.PartitionKey(), data); err != nil {
		return fmt.Errorf("failed to forward %s: %w", a.ID, err)
	}
	return nil
}

func (r *Runner) deadLetter(ctx context.Context, a *article.Article, cause error) error {
	slog.Error("Record dead-lettered", "stage", r.Name, "id", a.ID, "error", cause)

	dl := article.NewDeadLetter(a, r.Stage, retry.Reason(cause), cause)
	data, err := dl.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode dead letter for %s: %w", a.ID, err)
	}
	if err := r.DeadLetters.Publish(ctx, a.PartitionKey(), data); err != nil {
		return fmt.Errorf("failed to dead-letter %s: %w", a.ID, err)
	}
	return nil
}
