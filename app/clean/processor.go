package clean

import (
	"context"
	"log/slog"
	"time"

	"github.com/avolokh/newsriver/app/article"
	"github.com/avolokh/newsriver/app/dedup"
	"github.com/avolokh/newsriver/app/retry"
)

// Articles whose cleaned text falls under this length are navigation
// fragments or paywall stubs, not articles.
const minTextLength = 100

// Processor is the Parser/Deduper stage: it cleans markup into text,
// fingerprints the result and drops duplicates within the dedup window.
type Processor struct {
	cleaner *Cleaner
	cache   dedup.Cache
	window  time.Duration
}

func NewProcessor(cache dedup.Cache, window time.Duration) *Processor {
	return &Processor{
		cleaner: NewCleaner(),
		cache:   cache,
		window:  window,
	}
}

// Process implements the stage contract. Returning (nil, nil) drops a
// duplicate; the winner is whichever insertion won the cache's atomic
// check-and-set, regardless of arrival order or content richness.
func (p *Processor) Process(ctx context.Context, a *article.Article) (*article.Article, error) {
	text, err := p.cleaner.Run(a.RawHTML)
	if err != nil {
		return nil, retry.Permanent("uncleanable content", err)
	}
	if len(text) < minTextLength {
		return nil, retry.Permanent("content too short after cleaning", nil)
	}

	a.Text = text
	a.RawHTML = ""
	a.Fingerprint = Fingerprint(a.Title, a.Text)

	inserted, owner, err := p.cache.PutIfAbsent(ctx, a.Fingerprint, a.ID, p.window)
	if err != nil {
		return nil, retry.Transient("dedup cache unavailable", err)
	}

	if !inserted && owner != a.ID {
		slog.Info("Duplicate dropped", "id", a.ID, "fingerprint", a.Fingerprint, "owner", owner)
		return nil, nil
	}

	// inserted, or a replay of our own record: re-claiming an already-owned
	// fingerprint is a no-op, which is what makes redelivery safe.
	a.Stage = article.StageCleaned
	return a, nil
}
