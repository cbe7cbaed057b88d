package ingest

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"github.com/avolokh/newsriver/app/article"
	"github.com/avolokh/newsriver/app/stream"
)

// Recently published GUIDs are remembered this long so that a feed still
// listing yesterday's items does not re-emit them on every poll. The
// fingerprint cache downstream catches anything that slips past.
const guidTTL = time.Hour

// Polls back off up to this far after repeated fetch failures. A source is
// never disabled outright, only slowed down.
const maxBackoff = 2 * time.Hour

// Ingestor polls the configured feeds on an interval and publishes each new
// entry as a raw article.
type Ingestor struct {
	sources    []Source
	publisher  stream.Publisher
	httpClient *http.Client
	parser     *gofeed.Parser
	interval   time.Duration
	timeout    time.Duration
	userAgent  string

	seen    map[string]time.Time
	backoff map[string]*sourceBackoff
	now     func() time.Time
}

type sourceBackoff struct {
	failures    int
	nextAttempt time.Time
}

func NewIngestor(sources []Source, publisher stream.Publisher, interval, timeout time.Duration, userAgent string) *Ingestor {
	return &Ingestor{
		sources:    sources,
		publisher:  publisher,
		httpClient: &http.Client{},
		parser:     gofeed.NewParser(),
		interval:   interval,
		timeout:    timeout,
		userAgent:  userAgent,
		seen:       make(map[string]time.Time),
		backoff:    make(map[string]*sourceBackoff),
		now:        time.Now,
	}
}

// Run polls all sources immediately, then on every interval tick, until the
// context is cancelled.
func (i *Ingestor) Run(ctx context.Context) error {
	slog.Info("Ingestor started", "sources", len(i.sources), "interval", i.interval)

	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	i.pollAll(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Ingestor stopped")
			return nil
		case <-ticker.C:
			i.pollAll(ctx)
		}
	}
}

func (i *Ingestor) pollAll(ctx context.Context) {
	now := i.now()
	i.pruneSeen(now)

	for _, source := range i.sources {
		if ctx.Err() != nil {
			return
		}

		if b, ok := i.backoff[source.URL]; ok && now.Before(b.nextAttempt) {
			slog.Debug("Source backing off, skipping", "source", source.Name, "until", b.nextAttempt)
			continue
		}

		published, err := i.pollSource(ctx, source)
		if err != nil {
			i.recordFailure(source, now)
			slog.Warn("Source poll failed", "source", source.Name, "error", err)
			continue
		}

		delete(i.backoff, source.URL)
		if published > 0 {
			slog.Info("Source polled", "source", source.Name, "published", published)
		}
	}
}

func (i *Ingestor) pollSource(ctx context.Context, source Source) (int, error) {
	data, err := i.fetch(ctx, source.URL)
	if err != nil {
		return 0, err
	}

	feed, err := i.parser.Parse(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to parse feed: %w", err)
	}

	now := i.now()
	published := 0

	for _, item := range feed.Items {
		guid := cmp.Or(item.GUID, item.Link)
		if guid == "" {
			continue
		}

		seenKey := source.URL + "|" + guid
		if _, ok := i.seen[seenKey]; ok {
			continue
		}

		a := i.buildArticle(source, item, now)
		if a.RawHTML == "" {
			slog.Debug("Feed item has no content, skipping", "source", source.Name, "guid", guid)
			continue
		}

		data, err := a.Encode()
		if err != nil {
			return published, fmt.Errorf("failed to encode article: %w", err)
		}

		if err := i.publisher.Publish(ctx, a.PartitionKey(), data); err != nil {
			return published, fmt.Errorf("failed to publish article: %w", err)
		}

		i.seen[seenKey] = now
		published++
	}

	return published, nil
}

func (i *Ingestor) fetch(ctx context.Context, feedURL string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, "GET", feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", i.userAgent)

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

func (i *Ingestor) buildArticle(source Source, item *gofeed.Item, now time.Time) *article.Article {
	a := &article.Article{
		ID:        uuid.NewString(),
		Source:    sourceDomain(source, item.Link),
		URL:       item.Link,
		Title:     item.Title,
		RawHTML:   cmp.Or(item.Content, item.Description),
		ScrapedAt: now.UTC(),
		Stage:     article.StageRaw,
	}

	if len(item.Authors) > 0 && item.Authors[0] != nil {
		a.Author = item.Authors[0].Name
	}

	if item.PublishedParsed != nil {
		a.PublishedAt = item.PublishedParsed.UTC()
	} else {
		a.PublishedAt = now.UTC()
	}

	return a
}

func (i *Ingestor) recordFailure(source Source, now time.Time) {
	b, ok := i.backoff[source.URL]
	if !ok {
		b = &sourceBackoff{}
		i.backoff[source.URL] = b
	}

	b.failures++
	delay := i.interval << (b.failures - 1)
	if delay > maxBackoff || delay <= 0 {
		delay = maxBackoff
	}
	b.nextAttempt = now.Add(delay)
}

func (i *Ingestor) pruneSeen(now time.Time) {
	for key, at := range i.seen {
		if now.Sub(at) > guidTTL {
			delete(i.seen, key)
		}
	}
}

func sourceDomain(source Source, link string) string {
	if parsed, err := url.Parse(link); err == nil && parsed.Hostname() != "" {
		return strings.TrimPrefix(parsed.Hostname(), "www.")
	}

	if parsed, err := url.Parse(source.URL); err == nil && parsed.Hostname() != "" {
		return strings.TrimPrefix(parsed.Hostname(), "www.")
	}

	return source.Name
}
