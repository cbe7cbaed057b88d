package cfg

type Cfg struct {
	// Stream broker configuration
	KafkaBrokers       []string
	TopicRaw           string
	TopicCleaned       string
	TopicNormalized    string
	TopicEnriched      string
	TopicDeadLetters   string
	ConsumerGroupPrefix string

	// Dedup cache configuration
	RedisAddr       string
	DedupWindowHours int

	// Ingestion configuration
	SourcesFile           string
	IngestIntervalMinutes int
	FetchTimeout          int // seconds

	// Normalization configuration
	TranslationEnabled bool
	TargetLanguage     string

	// Enrichment configuration
	LLMBaseURL       string
	LLMAPIKey        string
	LLMModel         string
	EmbeddingModel   string
	EmbeddingDims    int
	EnrichRateLimit  float64 // requests per second, per instance
	EnrichRateBurst  int
	EnrichMaxAttempts int
	EnrichBatchSize  int
	EnrichConcurrency int
	CallTimeout      int // seconds, per external call

	// Indexing configuration
	ElasticsearchURL  string
	IndexName         string
	IndexBatchSize    int
	IndexFlushSeconds int
	IndexMaxAttempts  int

	// Dead-letter store configuration
	DBPath string

	// HTTP server configuration
	Port         string
	APIAccessKey string

	// Application metadata
	UserAgent string
	Debug     bool
	Version   string
}
