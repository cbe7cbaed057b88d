package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/avolokh/newsriver/app/article"
	"github.com/avolokh/newsriver/app/retry"
)

const (
	maxAnalysisChars  = 2000
	maxEmbeddingChars = 1000
	maxTopics         = 5
	maxEntities       = 10
)

const systemPrompt = `You analyze news articles. Respond with a single JSON object containing exactly these fields:
"summary": a 1-2 sentence summary focused on the key facts and main points;
"topics": an array of 3-5 main topics, single words or short phrases covering people, places, organizations, events and themes;
"entities": an array of named entities mentioned in the article: person, company, location and organization names;
"sentiment": exactly one of "positive", "negative" or "neutral", judged on the overall tone and emotional impact;
"sentiment_score": your confidence in the sentiment call, a number between 0 and 1.`

// analysis matches the JSON shape the chat model is instructed to return.
type analysis struct {
	Summary        string   `json:"summary"`
	Topics         []string `json:"topics"`
	Entities       []string `json:"entities"`
	Sentiment      string   `json:"sentiment"`
	SentimentScore float64  `json:"sentiment_score"`
}

// LLMProvider enriches articles through an OpenAI-compatible API: one
// JSON-mode chat call per article for the analysis fields, one batched
// embeddings call per batch. All upstream calls share a rate limiter and a
// per-call timeout; per-item chat calls within a batch run on a bounded
// worker pool.
type LLMProvider struct {
	client      llms.Model
	embedder    embeddings.Embedder
	limiter     *rate.Limiter
	pool        *ants.Pool
	callTimeout time.Duration
	dims        int
}

type LLMProviderOptions struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	EmbeddingDims  int
	RateLimit      float64 // upstream calls per second
	RateBurst      int
	Concurrency    int
	CallTimeout    time.Duration
}

func NewLLMProvider(opts LLMProviderOptions) (*LLMProvider, error) {
	if opts.APIKey == "" {
		opts.APIKey = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(opts.BaseURL),
		openai.WithToken(opts.APIKey),
		openai.WithModel(opts.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat client: %w", err)
	}

	embeddingClient, err := openai.New(
		openai.WithBaseURL(opts.BaseURL),
		openai.WithToken(opts.APIKey),
		openai.WithEmbeddingModel(opts.EmbeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(embeddingClient, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	pool, err := ants.NewPool(opts.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &LLMProvider{
		client:      client,
		embedder:    embedder,
		limiter:     rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		pool:        pool,
		callTimeout: opts.CallTimeout,
		dims:        opts.EmbeddingDims,
	}, nil
}

func (p *LLMProvider) Close() {
	p.pool.Release()
}

// EmbedQuery embeds free-text search input so the read API can run vector
// queries against the same space the articles were embedded into.
func (p *LLMProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	vector, err := p.embedder.EmbedQuery(callCtx, truncateText(text, maxEmbeddingChars))
	if err != nil {
		return nil, classifyProviderError(err)
	}
	if len(vector) != p.dims {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(vector), p.dims)
	}
	return vector, nil
}

func (p *LLMProvider) Enrich(ctx context.Context, item Item) Result {
	return p.EnrichBatch(ctx, []Item{item})[0]
}

func (p *LLMProvider) EnrichBatch(ctx context.Context, items []Item) []Result {
	results := make([]Result, len(items))

	var wg sync.WaitGroup
	for i := range items {
		i := i
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i] = p.analyze(ctx, items[i])
		}
		if err := p.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	p.attachEmbeddings(ctx, items, results)

	return results
}

// analyze runs the JSON-mode chat call for one item and parses the analysis
// fields. The embedding is filled in later by the batch embeddings call.
func (p *LLMProvider) analyze(ctx context.Context, item Item) Result {
	if err := p.limiter.Wait(ctx); err != nil {
		return Result{Err: retry.Transient("rate limiter interrupted", err)}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		},
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(fmt.Sprintf(
				"Title: %s\n\nText: %s", item.Title, truncateText(item.Text, maxAnalysisChars)))},
		},
	}

	response, err := p.client.GenerateContent(callCtx,
		content, llms.WithTemperature(0.1), llms.WithJSONMode())
	if err != nil {
		return Result{Err: classifyProviderError(err)}
	}

	if len(response.Choices) < 1 {
		return Result{Err: retry.Transient("model returned no choices", nil)}
	}

	var parsed analysis
	if err := json.Unmarshal([]byte(stripFences(response.Choices[0].Content)), &parsed); err != nil {
		return Result{Err: retry.Transient("unparseable model response", err)}
	}

	return Result{Enrichment: &Enrichment{
		Summary:        strings.TrimSpace(parsed.Summary),
		Topics:         trimList(parsed.Topics, maxTopics),
		Entities:       trimList(parsed.Entities, maxEntities),
		Sentiment:      parseSentiment(parsed.Sentiment),
		SentimentScore: clampScore(parsed.SentimentScore),
	}}
}

// attachEmbeddings runs one embeddings call for every item whose analysis
// succeeded. A batch-level failure marks all of those items, not the ones
// that already failed analysis.
func (p *LLMProvider) attachEmbeddings(ctx context.Context, items []Item, results []Result) {
	indices := make([]int, 0, len(items))
	texts := make([]string, 0, len(items))
	for i, result := range results {
		if result.Err != nil {
			continue
		}
		indices = append(indices, i)
		texts = append(texts, truncateText(items[i].Text, maxEmbeddingChars))
	}
	if len(texts) == 0 {
		return
	}

	if err := p.limiter.Wait(ctx); err != nil {
		markAll(results, indices, retry.Transient("rate limiter interrupted", err))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	vectors, err := p.embedder.EmbedDocuments(callCtx, texts)
	if err != nil {
		markAll(results, indices, classifyProviderError(err))
		return
	}
	if len(vectors) != len(texts) {
		markAll(results, indices, retry.Transient(
			fmt.Sprintf("embedder returned %d vectors for %d texts", len(vectors), len(texts)), nil))
		return
	}

	for n, i := range indices {
		if len(vectors[n]) != p.dims {
			results[i] = Result{Err: retry.Permanent(
				fmt.Sprintf("embedding has %d dimensions, want %d", len(vectors[n]), p.dims), nil)}
			continue
		}
		results[i].Enrichment.Embedding = vectors[n]
	}
}

func markAll(results []Result, indices []int, err error) {
	for _, i := range indices {
		results[i] = Result{Err: err}
	}
}

// truncateText caps text at maxChars, preferring to cut at the last full
// sentence within the limit.
func truncateText(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}

	truncated := text[:maxChars]
	if i := strings.LastIndex(truncated, "."); i > 0 {
		return truncated[:i+1]
	}

	return truncated + "..."
}

// stripFences removes markdown code fences some models wrap JSON in even
// when asked not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func trimList(values []string, limit int) []string {
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if len(v) > 1 {
			cleaned = append(cleaned, v)
		}
		if len(cleaned) == limit {
			break
		}
	}
	return cleaned
}

func parseSentiment(s string) article.Sentiment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive":
		return article.SentimentPositive
	case "negative":
		return article.SentimentNegative
	default:
		return article.SentimentNeutral
	}
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

var statusCodeRe = regexp.MustCompile(`status code: (\d{3})`)

// classifyProviderError sorts upstream failures into retryable and not.
// Rate limiting and server errors pass; other client errors mean the request
// itself is bad and a retry would fail identically.
func classifyProviderError(err error) error {
	if m := statusCodeRe.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		switch {
		case code == 429 || code >= 500:
			return retry.Transient("provider unavailable", err)
		case code >= 400:
			return retry.Permanent("provider rejected request", err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return retry.Transient("provider call timed out", err)
	}

	return retry.Transient("provider call failed", err)
}
