// Package config defines the configuration structures for KeyMed-Intelligence.
// No I/O lives in this file, only plain data types and validation.
package config

import (
	"fmt"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize        int64         `mapstructure:"max_body_size"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
	RateLimitPerSecond int           `mapstructure:"rate_limit_per_second"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	DBName           string        `mapstructure:"db_name"`
	SSLMode          string        `mapstructure:"ssl_mode"`
	MaxOpenConns     int           `mapstructure:"max_open_conns"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime  time.Duration `mapstructure:"conn_max_idle_time"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	MigrationPath    string        `mapstructure:"migration_path"`
	AutoMigrate      bool          `mapstructure:"auto_migrate"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// KafkaConfig holds Kafka producer/consumer parameters.
type KafkaConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	Brokers         []string `mapstructure:"brokers"`
	GroupID         string   `mapstructure:"group_id"`
	ClientID        string   `mapstructure:"client_id"`
	MaxRetries      int      `mapstructure:"max_retries"`
	DeadLetterTopic string   `mapstructure:"dead_letter_topic"`
}

// MinIOConfig holds object storage parameters for the raw document archive.
type MinIOConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"` // "json" | "console"
	OutputPaths []string `mapstructure:"output_paths"`
}

// LLMConfig points at the local language-model extraction endpoint.
type LLMConfig struct {
	Endpoint          string        `mapstructure:"endpoint"`
	Model             string        `mapstructure:"model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxResponseBytes  int64         `mapstructure:"max_response_bytes"`
	// BreakerThreshold consecutive transport failures open the circuit for
	// BreakerCooldown.  A negative threshold disables the breaker.
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

// ExtractionConfig tunes the extraction pipeline.
type ExtractionConfig struct {
	MaxDocumentChars    int     `mapstructure:"max_document_chars"`
	InheritDocumentDate bool    `mapstructure:"inherit_document_date"`
	MinClassifierSignal float64 `mapstructure:"min_classifier_signal"`
}

// DedupConfig tunes duplicate detection.
type DedupConfig struct {
	DuplicateThreshold     float64 `mapstructure:"duplicate_threshold"`
	ReviewThreshold        float64 `mapstructure:"review_threshold"`
	MinCandidateConfidence float64 `mapstructure:"min_candidate_confidence"`
	NumericTolerance       float64 `mapstructure:"numeric_tolerance"`
	DateWindowDays         int     `mapstructure:"date_window_days"`
	CandidateWindowDays    int     `mapstructure:"candidate_window_days"`
}

// PatternConfig tunes the lab pattern matcher.
type PatternConfig struct {
	DefinitionsPath     string        `mapstructure:"definitions_path"`
	IncludeBuiltin      bool          `mapstructure:"include_builtin"`
	RequiredWeight      float64       `mapstructure:"required_weight"`
	TotalWeight         float64       `mapstructure:"total_weight"`
	MinRequiredCoverage float64       `mapstructure:"min_required_coverage"`
	RecentMatchLimit    int           `mapstructure:"recent_match_limit"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
}

// ImportConfig tunes the import session workflow.
type ImportConfig struct {
	StoreBackend     string        `mapstructure:"store_backend"` // "memory" | "postgres"
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
	ParseTimeout     time.Duration `mapstructure:"parse_timeout"`
	ArchiveDocuments bool          `mapstructure:"archive_documents"`
	PublishEvents    bool          `mapstructure:"publish_events"`
}

// WorkerConfig holds event worker settings.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	HealthPort  int `mapstructure:"health_port"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	Log        LogConfig        `mapstructure:"log"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	Patterns   PatternConfig    `mapstructure:"patterns"`
	Import     ImportConfig     `mapstructure:"import"`
	Worker     WorkerConfig     `mapstructure:"worker"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of a fully-populated Config and
// returns the first problem found.  Sections that are disabled are skipped.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("config: database.host is required")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
		}
		if c.Database.User == "" {
			return fmt.Errorf("config: database.user is required")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("config: database.db_name is required")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: redis.addr is required")
		}
		if c.Redis.DB < 0 {
			return fmt.Errorf("config: redis.db must be >= 0, got %d", c.Redis.DB)
		}
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("config: kafka.group_id is required")
		}
	}

	if c.MinIO.Enabled && (c.MinIO.Endpoint == "" || c.MinIO.Bucket == "") {
		return fmt.Errorf("config: minio.endpoint and minio.bucket are required")
	}

	if c.LLM.Endpoint == "" {
		return fmt.Errorf("config: llm.endpoint is required")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("config: llm.timeout must be positive")
	}

	if !inUnit(c.Dedup.ReviewThreshold) || !inUnit(c.Dedup.DuplicateThreshold) {
		return fmt.Errorf("config: dedup thresholds must lie in [0, 1]")
	}
	if c.Dedup.ReviewThreshold >= c.Dedup.DuplicateThreshold {
		return fmt.Errorf("config: dedup.review_threshold %.2f must be below dedup.duplicate_threshold %.2f",
			c.Dedup.ReviewThreshold, c.Dedup.DuplicateThreshold)
	}
	if c.Dedup.DateWindowDays < 1 {
		return fmt.Errorf("config: dedup.date_window_days must be >= 1, got %d", c.Dedup.DateWindowDays)
	}

	if !inUnit(c.Patterns.RequiredWeight) || !inUnit(c.Patterns.TotalWeight) {
		return fmt.Errorf("config: pattern weights must lie in [0, 1]")
	}
	if sum := c.Patterns.RequiredWeight + c.Patterns.TotalWeight; sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("config: patterns.required_weight + patterns.total_weight must equal 1, got %.3f", sum)
	}
	if !inUnit(c.Patterns.MinRequiredCoverage) {
		return fmt.Errorf("config: patterns.min_required_coverage must lie in [0, 1]")
	}

	switch c.Import.StoreBackend {
	case "memory":
	case "postgres":
		if !c.Database.Enabled {
			return fmt.Errorf("config: import.store_backend=postgres requires database.enabled")
		}
	default:
		return fmt.Errorf("config: import.store_backend %q is invalid; expected memory|postgres", c.Import.StoreBackend)
	}
	if c.Import.ArchiveDocuments && !c.MinIO.Enabled {
		return fmt.Errorf("config: import.archive_documents requires minio.enabled")
	}
	if c.Import.PublishEvents && !c.Kafka.Enabled {
		return fmt.Errorf("config: import.publish_events requires kafka.enabled")
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be >= 1, got %d", c.Worker.Concurrency)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}

func inUnit(v float64) bool { return v >= 0 && v <= 1 }

//Personal.AI order the ending
