package deadletter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/avolokh/newsriver/app/article"
	"github.com/avolokh/newsriver/app/database"
	"github.com/avolokh/newsriver/app/stream"
)

// Consumer drains the dead-letter stream into SQLite so failures survive
// restarts and can be inspected or requeued through the API.
type Consumer struct {
	Consumer stream.Consumer
	Store    database.DeadLetterStore
}

func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("Dead-letter consumer started")

	for {
		m, err := c.Consumer.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("Dead-letter consumer stopped")
				return nil
			}
			return fmt.Errorf("dead-letter consumer: %w", err)
		}

		dl, err := article.DecodeDeadLetter(m.Value)
		if err != nil {
			slog.Warn("Dropping undecodable dead letter", "key", m.Key, "error", err)
		} else if err := c.Store.Insert(dl); err != nil {
			// Leave the record uncommitted; it redelivers once the store
			// recovers.
			return fmt.Errorf("dead-letter consumer: %w", err)
		} else {
			slog.Info("Dead letter persisted", "id", dl.Article.ID, "stage", dl.Stage, "reason", dl.Reason)
		}

		if err := c.Consumer.Commit(ctx, m); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("dead-letter consumer: %w", err)
		}
	}
}
