package config

import (
	"time"

	"github.com/spf13/viper"
)

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultServerHost         = "0.0.0.0"
	DefaultServerPort         = 8080
	DefaultReadTimeout        = 15 * time.Second
	DefaultWriteTimeout       = 60 * time.Second
	DefaultShutdownTimeout    = 20 * time.Second
	DefaultMaxBodySize        = 2 << 20
	DefaultRateLimitPerSecond = 20

	DefaultDBHost          = "localhost"
	DefaultDBPort          = 5432
	DefaultDBName          = "keymed"
	DefaultDBSSLMode       = "disable"
	DefaultDBMaxOpenConns  = 25
	DefaultDBMaxIdleConns  = 10
	DefaultDBMigrationPath = "internal/infrastructure/database/postgres/migrations"

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisPoolSize  = 10
	DefaultRedisKeyPrefix = "keymed:"

	DefaultKafkaBroker     = "localhost:9092"
	DefaultKafkaGroupID    = "keymed-worker"
	DefaultKafkaClientID   = "keymed"
	DefaultKafkaMaxRetries = 3

	DefaultMinIOEndpoint = "localhost:9000"
	DefaultMinIOBucket   = "keymed-documents"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultLLMEndpoint          = "http://localhost:11434/api/extract"
	DefaultLLMModel             = "llama3"
	DefaultLLMTimeout           = 90 * time.Second
	DefaultLLMRequestsPerSecond = 2.0
	DefaultLLMBurst             = 1
	DefaultLLMMaxResponseBytes  = 4 << 20
	DefaultLLMBreakerThreshold  = 5
	DefaultLLMBreakerCooldown   = 30 * time.Second

	DefaultMaxDocumentChars    = 60000
	DefaultMinClassifierSignal = 2.0

	// Duplicate thresholds: >= DuplicateThreshold is a duplicate, the band
	// down to ReviewThreshold needs a human decision.
	DefaultDuplicateThreshold     = 0.90
	DefaultReviewThreshold        = 0.60
	DefaultMinCandidateConfidence = 0.30
	DefaultNumericTolerance       = 0.02
	DefaultDateWindowDays         = 7
	DefaultCandidateWindowDays    = 30

	// Pattern confidence = RequiredWeight*required coverage + TotalWeight*overall coverage.
	DefaultPatternRequiredWeight      = 0.7
	DefaultPatternTotalWeight         = 0.3
	DefaultPatternMinRequiredCoverage = 0.5
	DefaultRecentMatchLimit           = 20
	DefaultPatternCacheTTL            = 10 * time.Minute

	DefaultStoreBackend = "memory"
	DefaultSessionTTL   = 24 * time.Hour
	DefaultParseTimeout = 2 * time.Minute

	DefaultWorkerConcurrency = 4
	DefaultWorkerHealthPort  = 8081
)

// registerDefaults seeds v with every default so that KEYMED_* environment
// variables bind even when no config file mentions the key.
func registerDefaults(v *viper.Viper) {
	v.SetDefault("server.host", DefaultServerHost)
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.read_timeout", DefaultReadTimeout)
	v.SetDefault("server.write_timeout", DefaultWriteTimeout)
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)
	v.SetDefault("server.max_body_size", DefaultMaxBodySize)
	v.SetDefault("server.cors_allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit_per_second", DefaultRateLimitPerSecond)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", DefaultDBHost)
	v.SetDefault("database.port", DefaultDBPort)
	v.SetDefault("database.user", "keymed")
	v.SetDefault("database.password", "")
	v.SetDefault("database.db_name", DefaultDBName)
	v.SetDefault("database.ssl_mode", DefaultDBSSLMode)
	v.SetDefault("database.max_open_conns", DefaultDBMaxOpenConns)
	v.SetDefault("database.max_idle_conns", DefaultDBMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("database.statement_timeout", 30*time.Second)
	v.SetDefault("database.migration_path", DefaultDBMigrationPath)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", DefaultRedisAddr)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", DefaultRedisPoolSize)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.key_prefix", DefaultRedisKeyPrefix)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{DefaultKafkaBroker})
	v.SetDefault("kafka.group_id", DefaultKafkaGroupID)
	v.SetDefault("kafka.client_id", DefaultKafkaClientID)
	v.SetDefault("kafka.max_retries", DefaultKafkaMaxRetries)
	v.SetDefault("kafka.dead_letter_topic", "")

	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.endpoint", DefaultMinIOEndpoint)
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.region", "")
	v.SetDefault("minio.bucket", DefaultMinIOBucket)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("log.output_paths", []string{"stdout"})

	v.SetDefault("llm.endpoint", DefaultLLMEndpoint)
	v.SetDefault("llm.model", DefaultLLMModel)
	v.SetDefault("llm.timeout", DefaultLLMTimeout)
	v.SetDefault("llm.requests_per_second", DefaultLLMRequestsPerSecond)
	v.SetDefault("llm.burst", DefaultLLMBurst)
	v.SetDefault("llm.max_response_bytes", DefaultLLMMaxResponseBytes)
	v.SetDefault("llm.breaker_threshold", DefaultLLMBreakerThreshold)
	v.SetDefault("llm.breaker_cooldown", DefaultLLMBreakerCooldown)

	v.SetDefault("extraction.max_document_chars", DefaultMaxDocumentChars)
	v.SetDefault("extraction.inherit_document_date", true)
	v.SetDefault("extraction.min_classifier_signal", DefaultMinClassifierSignal)

	v.SetDefault("dedup.duplicate_threshold", DefaultDuplicateThreshold)
	v.SetDefault("dedup.review_threshold", DefaultReviewThreshold)
	v.SetDefault("dedup.min_candidate_confidence", DefaultMinCandidateConfidence)
	v.SetDefault("dedup.numeric_tolerance", DefaultNumericTolerance)
	v.SetDefault("dedup.date_window_days", DefaultDateWindowDays)
	v.SetDefault("dedup.candidate_window_days", DefaultCandidateWindowDays)

	v.SetDefault("patterns.definitions_path", "")
	v.SetDefault("patterns.include_builtin", true)
	v.SetDefault("patterns.required_weight", DefaultPatternRequiredWeight)
	v.SetDefault("patterns.total_weight", DefaultPatternTotalWeight)
	v.SetDefault("patterns.min_required_coverage", DefaultPatternMinRequiredCoverage)
	v.SetDefault("patterns.recent_match_limit", DefaultRecentMatchLimit)
	v.SetDefault("patterns.cache_ttl", DefaultPatternCacheTTL)

	v.SetDefault("import.store_backend", DefaultStoreBackend)
	v.SetDefault("import.session_ttl", DefaultSessionTTL)
	v.SetDefault("import.parse_timeout", DefaultParseTimeout)
	v.SetDefault("import.archive_documents", false)
	v.SetDefault("import.publish_events", false)

	v.SetDefault("worker.concurrency", DefaultWorkerConcurrency)
	v.SetDefault("worker.health_port", DefaultWorkerHealthPort)
}

// ApplyDefaults fills every zero-value scalar field in cfg with its default.
// Explicit configuration always wins.  Booleans are seeded by registerDefaults
// only, since false is a legitimate explicit value.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	setString(&cfg.Server.Host, DefaultServerHost)
	setInt(&cfg.Server.Port, DefaultServerPort)
	setDuration(&cfg.Server.ReadTimeout, DefaultReadTimeout)
	setDuration(&cfg.Server.WriteTimeout, DefaultWriteTimeout)
	setDuration(&cfg.Server.ShutdownTimeout, DefaultShutdownTimeout)
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = DefaultMaxBodySize
	}
	setInt(&cfg.Server.RateLimitPerSecond, DefaultRateLimitPerSecond)

	// ── Database ──────────────────────────────────────────────────────────────
	setString(&cfg.Database.Host, DefaultDBHost)
	setInt(&cfg.Database.Port, DefaultDBPort)
	setString(&cfg.Database.DBName, DefaultDBName)
	setString(&cfg.Database.SSLMode, DefaultDBSSLMode)
	setInt(&cfg.Database.MaxOpenConns, DefaultDBMaxOpenConns)
	setInt(&cfg.Database.MaxIdleConns, DefaultDBMaxIdleConns)
	setString(&cfg.Database.MigrationPath, DefaultDBMigrationPath)

	// ── Redis ─────────────────────────────────────────────────────────────────
	setString(&cfg.Redis.Addr, DefaultRedisAddr)
	setInt(&cfg.Redis.PoolSize, DefaultRedisPoolSize)
	setString(&cfg.Redis.KeyPrefix, DefaultRedisKeyPrefix)

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	setString(&cfg.Kafka.GroupID, DefaultKafkaGroupID)
	setString(&cfg.Kafka.ClientID, DefaultKafkaClientID)
	setInt(&cfg.Kafka.MaxRetries, DefaultKafkaMaxRetries)

	// ── MinIO ─────────────────────────────────────────────────────────────────
	setString(&cfg.MinIO.Endpoint, DefaultMinIOEndpoint)
	setString(&cfg.MinIO.Bucket, DefaultMinIOBucket)

	// ── Log ───────────────────────────────────────────────────────────────────
	setString(&cfg.Log.Level, DefaultLogLevel)
	setString(&cfg.Log.Format, DefaultLogFormat)

	// ── LLM / extraction ──────────────────────────────────────────────────────
	setString(&cfg.LLM.Endpoint, DefaultLLMEndpoint)
	setString(&cfg.LLM.Model, DefaultLLMModel)
	setDuration(&cfg.LLM.Timeout, DefaultLLMTimeout)
	setFloat(&cfg.LLM.RequestsPerSecond, DefaultLLMRequestsPerSecond)
	setInt(&cfg.LLM.Burst, DefaultLLMBurst)
	setInt(&cfg.LLM.BreakerThreshold, DefaultLLMBreakerThreshold)
	setDuration(&cfg.LLM.BreakerCooldown, DefaultLLMBreakerCooldown)
	if cfg.LLM.MaxResponseBytes == 0 {
		cfg.LLM.MaxResponseBytes = DefaultLLMMaxResponseBytes
	}
	setInt(&cfg.Extraction.MaxDocumentChars, DefaultMaxDocumentChars)
	setFloat(&cfg.Extraction.MinClassifierSignal, DefaultMinClassifierSignal)

	// ── Dedup ─────────────────────────────────────────────────────────────────
	setFloat(&cfg.Dedup.DuplicateThreshold, DefaultDuplicateThreshold)
	setFloat(&cfg.Dedup.ReviewThreshold, DefaultReviewThreshold)
	setFloat(&cfg.Dedup.MinCandidateConfidence, DefaultMinCandidateConfidence)
	setFloat(&cfg.Dedup.NumericTolerance, DefaultNumericTolerance)
	setInt(&cfg.Dedup.DateWindowDays, DefaultDateWindowDays)
	setInt(&cfg.Dedup.CandidateWindowDays, DefaultCandidateWindowDays)

	// ── Patterns ──────────────────────────────────────────────────────────────
	if cfg.Patterns.RequiredWeight == 0 && cfg.Patterns.TotalWeight == 0 {
		cfg.Patterns.RequiredWeight = DefaultPatternRequiredWeight
		cfg.Patterns.TotalWeight = DefaultPatternTotalWeight
	}
	setFloat(&cfg.Patterns.MinRequiredCoverage, DefaultPatternMinRequiredCoverage)
	setInt(&cfg.Patterns.RecentMatchLimit, DefaultRecentMatchLimit)
	setDuration(&cfg.Patterns.CacheTTL, DefaultPatternCacheTTL)

	// ── Import / worker ───────────────────────────────────────────────────────
	setString(&cfg.Import.StoreBackend, DefaultStoreBackend)
	setDuration(&cfg.Import.SessionTTL, DefaultSessionTTL)
	setDuration(&cfg.Import.ParseTimeout, DefaultParseTimeout)
	setInt(&cfg.Worker.Concurrency, DefaultWorkerConcurrency)
	setInt(&cfg.Worker.HealthPort, DefaultWorkerHealthPort)
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func setFloat(dst *float64, def float64) {
	if *dst == 0 {
		*dst = def
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst == 0 {
		*dst = def
	}
}

//Personal.AI order the ending
