package cfg

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Stream broker configuration
	KafkaBrokers        string `long:"kafka-brokers" env:"KAFKA_BOOTSTRAP_SERVERS" default:"localhost:9092" description:"Comma-separated Kafka bootstrap servers"`
	TopicRaw            string `long:"topic-raw" env:"KAFKA_TOPIC_RAW_ARTICLES" default:"raw_articles" description:"Topic for raw articles"`
	TopicCleaned        string `long:"topic-cleaned" env:"KAFKA_TOPIC_CLEANED_ARTICLES" default:"cleaned_articles" description:"Topic for cleaned articles"`
	TopicNormalized     string `long:"topic-normalized" env:"KAFKA_TOPIC_NORMALIZED_ARTICLES" default:"normalized_articles" description:"Topic for normalized articles"`
	TopicEnriched       string `long:"topic-enriched" env:"KAFKA_TOPIC_ENRICHED_ARTICLES" default:"enriched_articles" description:"Topic for enriched articles"`
	TopicDeadLetters    string `long:"topic-dead-letters" env:"KAFKA_TOPIC_DEAD_LETTERS" default:"dead_letters" description:"Topic for dead-lettered records"`
	ConsumerGroupPrefix string `long:"consumer-group-prefix" env:"CONSUMER_GROUP_PREFIX" default:"newsriver" description:"Prefix for consumer group ids"`

	// Dedup cache configuration
	RedisAddr        string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address for the dedup cache"`
	DedupWindowHours int    `long:"dedup-window" env:"DEDUP_WINDOW_HOURS" default:"24" description:"Dedup window in hours"`

	// Ingestion configuration
	SourcesFile           string `long:"sources-file" env:"SOURCES_FILE" default:"./sources.yml" description:"YAML file listing feed sources"`
	IngestIntervalMinutes int    `long:"ingest-interval" env:"INGEST_INTERVAL_MINUTES" default:"5" description:"Ingestion interval in minutes"`
	FetchTimeout          int    `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30" description:"Feed fetch timeout in seconds"`

	// Normalization configuration
	TranslationEnabled bool   `long:"enable-translation" env:"ENABLE_TRANSLATION" description:"Translate articles to the target language"`
	TargetLanguage     string `long:"target-language" env:"TARGET_LANGUAGE" default:"en" description:"Target language for translation"`

	// Enrichment configuration
	LLMBaseURL        string  `long:"llm-base-url" env:"LLM_BASE_URL" default:"https://api.openai.com/v1" description:"OpenAI-compatible API base URL"`
	LLMAPIKey         string  `long:"llm-api-key" env:"LLM_API_KEY" description:"API key for the LLM provider"`
	LLMModel          string  `long:"llm-model" env:"LLM_MODEL" default:"gpt-4o-mini" description:"Chat model for enrichment"`
	EmbeddingModel    string  `long:"embedding-model" env:"EMBEDDING_MODEL" default:"text-embedding-3-small" description:"Embedding model"`
	EmbeddingDims     int     `long:"embedding-dims" env:"EMBEDDING_DIMS" default:"768" description:"Expected embedding dimension"`
	EnrichRateLimit   float64 `long:"enrich-rate-limit" env:"ENRICH_RATE_LIMIT" default:"2" description:"Provider requests per second for this instance"`
	EnrichRateBurst   int     `long:"enrich-rate-burst" env:"ENRICH_RATE_BURST" default:"4" description:"Provider request burst size"`
	EnrichMaxAttempts int     `long:"enrich-max-attempts" env:"ENRICH_MAX_ATTEMPTS" default:"5" description:"Max attempts per enrichment call"`
	EnrichBatchSize   int     `long:"enrich-batch-size" env:"ENRICH_BATCH_SIZE" default:"10" description:"Max articles coalesced into one provider call"`
	EnrichConcurrency int     `long:"enrich-concurrency" env:"ENRICH_CONCURRENCY" default:"4" description:"Max in-flight provider batches"`
	CallTimeout       int     `long:"call-timeout" env:"CALL_TIMEOUT" default:"30" description:"Per-call timeout for external services in seconds"`

	// Indexing configuration
	ElasticsearchURL  string `long:"elasticsearch-url" env:"ELASTICSEARCH_HOST" default:"http://localhost:9200" description:"Elasticsearch URL"`
	IndexName         string `long:"index-name" env:"ELASTICSEARCH_INDEX" default:"news" description:"Search index name"`
	IndexBatchSize    int    `long:"index-batch-size" env:"INDEX_BATCH_SIZE" default:"500" description:"Max records per bulk write"`
	IndexFlushSeconds int    `long:"index-flush-interval" env:"INDEX_FLUSH_SECONDS" default:"5" description:"Bulk flush interval in seconds"`
	IndexMaxAttempts  int    `long:"index-max-attempts" env:"INDEX_MAX_ATTEMPTS" default:"5" description:"Max attempts per failed index item"`

	// Dead-letter store configuration
	DBPath string `long:"db-path" env:"DB_PATH" default:"./newsriver.db" description:"SQLite database path for dead-letter inspection"`

	// HTTP server configuration
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for operational endpoints (optional)"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"newsriver/1.0" description:"User agent string for feed fetches"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		KafkaBrokers:        splitList(raw.KafkaBrokers),
		TopicRaw:            raw.TopicRaw,
		TopicCleaned:        raw.TopicCleaned,
		TopicNormalized:     raw.TopicNormalized,
		TopicEnriched:       raw.TopicEnriched,
		TopicDeadLetters:    raw.TopicDeadLetters,
		ConsumerGroupPrefix: raw.ConsumerGroupPrefix,
		RedisAddr:           raw.RedisAddr,
		DedupWindowHours:    raw.DedupWindowHours,
		SourcesFile:         raw.SourcesFile,
		IngestIntervalMinutes: raw.IngestIntervalMinutes,
		FetchTimeout:        raw.FetchTimeout,
		TranslationEnabled:  raw.TranslationEnabled,
		TargetLanguage:      raw.TargetLanguage,
		LLMBaseURL:          raw.LLMBaseURL,
		LLMAPIKey:           raw.LLMAPIKey,
		LLMModel:            raw.LLMModel,
		EmbeddingModel:      raw.EmbeddingModel,
		EmbeddingDims:       raw.EmbeddingDims,
		EnrichRateLimit:     raw.EnrichRateLimit,
		EnrichRateBurst:     raw.EnrichRateBurst,
		EnrichMaxAttempts:   raw.EnrichMaxAttempts,
		EnrichBatchSize:     raw.EnrichBatchSize,
		EnrichConcurrency:   raw.EnrichConcurrency,
		CallTimeout:         raw.CallTimeout,
		ElasticsearchURL:    raw.ElasticsearchURL,
		IndexName:           raw.IndexName,
		IndexBatchSize:      raw.IndexBatchSize,
		IndexFlushSeconds:   raw.IndexFlushSeconds,
		IndexMaxAttempts:    raw.IndexMaxAttempts,
		DBPath:              raw.DBPath,
		Port:                raw.Port,
		APIAccessKey:        raw.APIAccessKey,
		UserAgent:           raw.UserAgent,
		Debug:               raw.Debug,
		Version:             GetVersion(),
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
