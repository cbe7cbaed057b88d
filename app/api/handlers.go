package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avolokh/newsriver/app/article"
	"github.com/avolokh/newsriver/app/database"
	"github.com/avolokh/newsriver/app/index"
)

// QueryEmbedder turns free-text search input into a query vector. nil
// disables hybrid search; requests fall back to lexical matching.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Counters exposes in-process pipeline counters for /stats.
type Counters interface {
	TranslationFailures() int64
}

type Handler struct {
	store       index.SearchStore
	deadLetters database.DeadLetterStore
	embedder    QueryEmbedder
	counters    Counters
	version     string
}

func NewHandler(store index.SearchStore, deadLetters database.DeadLetterStore,
	embedder QueryEmbedder, counters Counters, version string) *Handler {
	return &Handler{
		store:       store,
		deadLetters: deadLetters,
		embedder:    embedder,
		counters:    counters,
		version:     version,
	}
}

func (h *Handler) GetLatestArticles(c *gin.Context) {
	page := intQuery(c, "page", 1)
	size := intQuery(c, "size", 20)

	result, err := h.store.Latest(c.Request.Context(), c.Query("source"), page, size)
	if err != nil {
		slog.Error("Store error", "operation", "latest", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve articles"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":    result.Total,
		"page":     page,
		"size":     size,
		"articles": result.Articles,
	})
}

func (h *Handler) GetArticleByID(c *gin.Context) {
	id := c.Param("id")

	a, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
			return
		}
		slog.Error("Store error", "operation", "get_article", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve article"})
		return
	}

	c.JSON(http.StatusOK, a)
}

func (h *Handler) SearchArticles(c *gin.Context) {
	q := index.Query{
		Text:      c.Query("q"),
		Sources:   listQuery(c, "source"),
		Languages: listQuery(c, "language"),
		Topics:    listQuery(c, "topic"),
		Sentiment: article.Sentiment(c.Query("sentiment")),
		Page:      intQuery(c, "page", 1),
		Size:      intQuery(c, "size", 20),
	}

	var err error
	if q.From, err = timeQuery(c, "from"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from date"})
		return
	}
	if q.To, err = timeQuery(c, "to"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to date"})
		return
	}

	if q.Sentiment != "" {
		switch q.Sentiment {
		case article.SentimentPositive, article.SentimentNegative, article.SentimentNeutral:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sentiment"})
			return
		}
	}

	// Hybrid is on by default whenever there is query text and an embedder
	// to vectorize it with.
	hybrid := c.DefaultQuery("hybrid", "true") == "true"
	if hybrid && q.Text != "" && h.embedder != nil {
		vector, err := h.embedder.EmbedQuery(c.Request.Context(), q.Text)
		if err != nil {
			slog.Warn("Query embedding failed, falling back to lexical search", "error", err)
		} else {
			q.Hybrid = true
			q.Vector = vector
		}
	}

	result, err := h.store.HybridQuery(c.Request.Context(), q)
	if err != nil {
		slog.Error("Store error", "operation", "search", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"query":    q.Text,
		"total":    result.Total,
		"page":     q.Page,
		"size":     q.Size,
		"hybrid":   q.Hybrid,
		"articles": result.Articles,
	})
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		slog.Error("Store error", "operation", "stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve stats"})
		return
	}

	response := gin.H{
		"total_articles": stats.TotalArticles,
		"sources":        stats.Sources,
		"languages":      stats.Languages,
		"sentiments":     stats.Sentiments,
		"daily_counts":   stats.DailyCounts,
	}

	pipeline := gin.H{}
	if h.counters != nil {
		pipeline["translation_failures"] = h.counters.TranslationFailures()
	}
	if h.deadLetters != nil {
		if counts, err := h.deadLetters.CountByStage(); err == nil {
			pipeline["dead_letters"] = counts
		}
	}
	response["pipeline"] = pipeline

	c.JSON(http.StatusOK, response)
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := gin.H{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
	}

	if _, err := h.store.Stats(c.Request.Context()); err != nil {
		health["status"] = "degraded"
		health["index"] = "unavailable"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}

	health["status"] = "ok"
	c.JSON(http.StatusOK, health)
}

func (h *Handler) ListDeadLetters(c *gin.Context) {
	records, err := h.deadLetters.List(c.Query("stage"), intQuery(c, "limit", 50), intQuery(c, "offset", 0))
	if err != nil {
		slog.Error("Database error", "operation", "list_dead_letters", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list dead letters"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"dead_letters": records, "count": len(records)})
}

func (h *Handler) CountDeadLetters(c *gin.Context) {
	counts, err := h.deadLetters.CountByStage()
	if err != nil {
		slog.Error("Database error", "operation", "count_dead_letters", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count dead letters"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

func (h *Handler) PurgeDeadLetters(c *gin.Context) {
	hours := intQuery(c, "older_than_hours", 168)
	if hours < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "older_than_hours must be positive"})
		return
	}

	deleted, err := h.deadLetters.Purge(time.Now().Add(-time.Duration(hours) * time.Hour))
	if err != nil {
		slog.Error("Database error", "operation", "purge_dead_letters", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to purge dead letters"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"purged": deleted})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	value := c.Query(name)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func listQuery(c *gin.Context, name string) []string {
	value := c.Query(name)
	if value == "" {
		return nil
	}

	var values []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

func timeQuery(c *gin.Context, name string) (time.Time, error) {
	value := c.Query(name)
	if value == "" {
		return time.Time{}, nil
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}
