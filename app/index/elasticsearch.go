package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/avolokh/newsriver/app/article"
	"github.com/avolokh/newsriver/app/retry"
)

var ErrNotFound = errors.New("article not found")

// ElasticStore implements SearchStore on Elasticsearch. Documents are
// replaced wholesale on upsert, keyed by article id.
type ElasticStore struct {
	client *elasticsearch.Client
	index  string
	dims   int
}

func NewElasticStore(host, index string, dims int) (*ElasticStore, error) {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{host},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	return &ElasticStore{client: client, index: index, dims: dims}, nil
}

// EnsureIndex installs the index template and creates the index if missing.
func (s *ElasticStore) EnsureIndex(ctx context.Context) error {
	template := map[string]any{
		"index_patterns": []string{s.index + "*"},
		"template": map[string]any{
			"settings": map[string]any{
				"number_of_shards":   1,
				"number_of_replicas": 1,
				"analysis": map[string]any{
					"analyzer": map[string]any{
						"news_analyzer": map[string]any{
							"type":      "custom",
							"tokenizer": "standard",
							"filter":    []string{"lowercase", "stop", "snowball"},
						},
					},
				},
			},
			"mappings": map[string]any{
				"properties": map[string]any{
					"id":          map[string]any{"type": "keyword"},
					"fingerprint": map[string]any{"type": "keyword"},
					"url":         map[string]any{"type": "keyword"},
					"title": map[string]any{
						"type":     "text",
						"analyzer": "news_analyzer",
						"fields": map[string]any{
							"keyword": map[string]any{"type": "keyword", "ignore_above": 256},
						},
					},
					"text":             map[string]any{"type": "text", "analyzer": "news_analyzer"},
					"summary":          map[string]any{"type": "text", "analyzer": "news_analyzer"},
					"translated_title": map[string]any{"type": "text", "analyzer": "news_analyzer"},
					"translated_text":  map[string]any{"type": "text", "analyzer": "news_analyzer"},
					"author":           map[string]any{"type": "keyword"},
					"source":           map[string]any{"type": "keyword"},
					"language":         map[string]any{"type": "keyword"},
					"published_at":     map[string]any{"type": "date"},
					"scraped_at":       map[string]any{"type": "date"},
					"word_count":       map[string]any{"type": "integer"},
					"topics":           map[string]any{"type": "keyword"},
					"entities":         map[string]any{"type": "keyword"},
					"sentiment":        map[string]any{"type": "keyword"},
					"sentiment_score":  map[string]any{"type": "float"},
					"stage":            map[string]any{"type": "keyword"},
					"embedding": map[string]any{
						"type":       "dense_vector",
						"dims":       s.dims,
						"index":      true,
						"similarity": "cosine",
					},
				},
			},
		},
	}

	body, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("failed to encode index template: %w", err)
	}

	res, err := s.client.Indices.PutIndexTemplate(s.index+"_template", bytes.NewReader(body),
		s.client.Indices.PutIndexTemplate.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to install index template: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to install index template: %s", res.String())
	}

	exists, err := s.client.Indices.Exists([]string{s.index},
		s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index: %w", err)
	}
	defer exists.Body.Close()
	if exists.StatusCode == 200 {
		return nil
	}

	created, err := s.client.Indices.Create(s.index,
		s.client.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer created.Body.Close()
	if created.IsError() && !strings.Contains(created.String(), "resource_already_exists_exception") {
		return fmt.Errorf("failed to create index: %s", created.String())
	}

	slog.Info("Index ready", "index", s.index)
	return nil
}

type bulkItemStatus struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemStatus `json:"items"`
}

// BulkUpsert writes docs with one bulk request and reports a per-document
// outcome; the error return covers request-level failures only.
func (s *ElasticStore) BulkUpsert(ctx context.Context, docs []*article.Article) ([]ItemResult, error) {
	var buf bytes.Buffer
	for _, doc := range docs {
		action, err := json.Marshal(map[string]any{
			"index": map[string]any{"_index": s.index, "_id": doc.ID},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode bulk action: %w", err)
		}
		source, err := doc.Encode()
		if err != nil {
			return nil, err
		}
		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(source)
		buf.WriteByte('\n')
	}

	res, err := s.client.Bulk(bytes.NewReader(buf.Bytes()),
		s.client.Bulk.WithContext(ctx))
	if err != nil {
		return nil, retry.Transient("bulk request failed", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, retry.Transient(fmt.Sprintf("bulk request rejected: %s", res.Status()), nil)
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, retry.Transient("unparseable bulk response", err)
	}
	if len(parsed.Items) != len(docs) {
		return nil, retry.Transient(
			fmt.Sprintf("bulk response has %d items for %d docs", len(parsed.Items), len(docs)), nil)
	}

	results := make([]ItemResult, len(docs))
	for i, item := range parsed.Items {
		status, ok := item["index"]
		if !ok {
			results[i] = ItemResult{ID: docs[i].ID, Err: retry.Transient("bulk item missing index result", nil)}
			continue
		}
		results[i] = ItemResult{ID: docs[i].ID, Err: classifyItemStatus(status)}
	}
	return results, nil
}

// classifyItemStatus maps a per-item bulk status to the retry taxonomy.
// Overload and server errors are worth retrying; mapping conflicts and other
// client errors will fail identically every time.
func classifyItemStatus(item bulkItemStatus) error {
	if item.Status >= 200 && item.Status < 300 {
		return nil
	}

	reason := fmt.Sprintf("index status %d", item.Status)
	if item.Error != nil {
		reason = fmt.Sprintf("%s: %s: %s", reason, item.Error.Type, item.Error.Reason)
	}

	if item.Status == 429 || item.Status >= 500 {
		return retry.Transient(reason, nil)
	}
	return retry.Permanent(reason, nil)
}

type hit struct {
	Source article.Article `json:"_source"`
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []hit `json:"hits"`
	} `json:"hits"`
	Aggregations struct {
		Sources     termsAgg `json:"sources"`
		Languages   termsAgg `json:"languages"`
		Sentiments  termsAgg `json:"sentiments"`
		DailyCounts struct {
			Buckets []struct {
				KeyAsString string `json:"key_as_string"`
				DocCount    int64  `json:"doc_count"`
			} `json:"buckets"`
		} `json:"daily_counts"`
	} `json:"aggregations"`
}

type termsAgg struct {
	Buckets []struct {
		Key      string `json:"key"`
		DocCount int64  `json:"doc_count"`
	} `json:"buckets"`
}

// HybridQuery combines a lexical multi_match with an optional kNN clause
// over the embedding. Filters and the indexed-stage guard apply to both
// sides.
func (s *ElasticStore) HybridQuery(ctx context.Context, q Query) (*SearchResult, error) {
	filters := s.buildFilters(q)

	var must []any
	if q.Text != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":     q.Text,
				"fields":    []string{"title^3", "summary^2", "text", "topics^2", "entities"},
				"type":      "best_fields",
				"fuzziness": "AUTO",
			},
		})
	} else {
		must = append(must, map[string]any{"match_all": map[string]any{}})
	}

	body := map[string]any{
		"from": pageOffset(q.Page, q.Size),
		"size": pageSize(q.Size),
		"query": map[string]any{
			"bool": map[string]any{"must": must, "filter": filters},
		},
	}

	if q.Hybrid && len(q.Vector) > 0 {
		body["knn"] = map[string]any{
			"field":          "embedding",
			"query_vector":   q.Vector,
			"k":              pageSize(q.Size),
			"num_candidates": 100,
			"filter":         filters,
		}
	}

	if q.Text == "" && !q.Hybrid {
		body["sort"] = []any{map[string]any{"published_at": "desc"}}
	}

	parsed, err := s.search(ctx, body)
	if err != nil {
		return nil, err
	}
	return collectHits(parsed), nil
}

func (s *ElasticStore) GetByID(ctx context.Context, id string) (*article.Article, error) {
	res, err := s.client.Get(s.index, id, s.client.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get article %s: %w", id, err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil, ErrNotFound
	}
	if res.IsError() {
		return nil, fmt.Errorf("failed to get article %s: %s", id, res.Status())
	}

	var doc struct {
		Source article.Article `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode article %s: %w", id, err)
	}
	if doc.Source.Stage != article.StageIndexed {
		return nil, ErrNotFound
	}
	return &doc.Source, nil
}

func (s *ElasticStore) Latest(ctx context.Context, source string, page, size int) (*SearchResult, error) {
	filters := []any{stageFilter()}
	if source != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"source": source}})
	}

	body := map[string]any{
		"from": pageOffset(page, size),
		"size": pageSize(size),
		"query": map[string]any{
			"bool": map[string]any{"filter": filters},
		},
		"sort": []any{map[string]any{"published_at": "desc"}},
	}

	parsed, err := s.search(ctx, body)
	if err != nil {
		return nil, err
	}
	return collectHits(parsed), nil
}

func (s *ElasticStore) Stats(ctx context.Context) (*Stats, error) {
	body := map[string]any{
		"size": 0,
		"query": map[string]any{
			"bool": map[string]any{"filter": []any{stageFilter()}},
		},
		"aggs": map[string]any{
			"sources":    map[string]any{"terms": map[string]any{"field": "source", "size": 20}},
			"languages":  map[string]any{"terms": map[string]any{"field": "language", "size": 10}},
			"sentiments": map[string]any{"terms": map[string]any{"field": "sentiment", "size": 3}},
			"daily_counts": map[string]any{
				"date_histogram": map[string]any{
					"field":             "published_at",
					"calendar_interval": "day",
					"order":             map[string]any{"_key": "desc"},
				},
			},
		},
	}

	parsed, err := s.search(ctx, body)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalArticles: parsed.Hits.Total.Value,
		Sources:       collectBuckets(parsed.Aggregations.Sources),
		Languages:     collectBuckets(parsed.Aggregations.Languages),
		Sentiments:    collectBuckets(parsed.Aggregations.Sentiments),
	}

	daily := parsed.Aggregations.DailyCounts.Buckets
	if len(daily) > 7 {
		daily = daily[:7]
	}
	for _, b := range daily {
		stats.DailyCounts = append(stats.DailyCounts, Bucket{Name: b.KeyAsString, Count: b.DocCount})
	}

	return stats, nil
}

func (s *ElasticStore) search(ctx context.Context, body map[string]any) (*searchResponse, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(encoded)),
		s.client.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search rejected: %s", res.Status())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("unparseable search response: %w", err)
	}
	return &parsed, nil
}

// buildFilters translates the query filters, always including the
// indexed-stage guard so readers never see half-processed documents.
func (s *ElasticStore) buildFilters(q Query) []any {
	filters := []any{stageFilter()}

	if len(q.Sources) > 0 {
		filters = append(filters, map[string]any{"terms": map[string]any{"source": q.Sources}})
	}
	if len(q.Languages) > 0 {
		filters = append(filters, map[string]any{"terms": map[string]any{"language": q.Languages}})
	}
	if len(q.Topics) > 0 {
		filters = append(filters, map[string]any{"terms": map[string]any{"topics": q.Topics}})
	}
	if q.Sentiment != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"sentiment": string(q.Sentiment)}})
	}

	if !q.From.IsZero() || !q.To.IsZero() {
		bounds := map[string]any{}
		if !q.From.IsZero() {
			bounds["gte"] = q.From.Format(time.RFC3339)
		}
		if !q.To.IsZero() {
			bounds["lte"] = q.To.Format(time.RFC3339)
		}
		filters = append(filters, map[string]any{"range": map[string]any{"published_at": bounds}})
	}

	return filters
}

func stageFilter() map[string]any {
	return map[string]any{"term": map[string]any{"stage": string(article.StageIndexed)}}
}

func collectHits(parsed *searchResponse) *SearchResult {
	result := &SearchResult{Total: parsed.Hits.Total.Value}
	for i := range parsed.Hits.Hits {
		result.Articles = append(result.Articles, &parsed.Hits.Hits[i].Source)
	}
	return result
}

func collectBuckets(agg termsAgg) []Bucket {
	buckets := make([]Bucket, 0, len(agg.Buckets))
	for _, b := range agg.Buckets {
		buckets = append(buckets, Bucket{Name: b.Key, Count: b.DocCount})
	}
	return buckets
}

func pageSize(size int) int {
	if size <= 0 {
		return 20
	}
	if size > 100 {
		return 100
	}
	return size
}

func pageOffset(page, size int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize(size)
}
