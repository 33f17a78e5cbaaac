// Package bootstrap assembles the application services from configuration.
// The API server, the worker and the CLI share it so every binary wires the
// same stack.
package bootstrap

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/KeyMed-Intelligence/internal/application/analysis"
	"github.com/turtacn/KeyMed-Intelligence/internal/application/importing"
	"github.com/turtacn/KeyMed-Intelligence/internal/config"
	"github.com/turtacn/KeyMed-Intelligence/internal/domain/dedup"
	"github.com/turtacn/KeyMed-Intelligence/internal/domain/labpattern"
	"github.com/turtacn/KeyMed-Intelligence/internal/domain/record"
	"github.com/turtacn/KeyMed-Intelligence/internal/domain/similarity"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/database/postgres"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/database/postgres/repositories"
	redisinfra "github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/database/redis"
	kafkainfra "github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/prometheus"
	minioinfra "github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/storage/minio"
	"github.com/turtacn/KeyMed-Intelligence/internal/intelligence/common"
	"github.com/turtacn/KeyMed-Intelligence/internal/intelligence/doc_classifier"
	"github.com/turtacn/KeyMed-Intelligence/internal/intelligence/record_extractor"
	"github.com/turtacn/KeyMed-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

// Options selects optional parts of the stack.
type Options struct {
	// Source names the emitting service in event envelopes.
	Source string

	// MetricsNamespace defaults to "keymed".
	MetricsNamespace string

	// SkipMigrations disables config-driven auto migration (the CLI migrates
	// explicitly).
	SkipMigrations bool
}

// Components holds the wired services and the infrastructure they use.
// Infrastructure fields are nil when the matching config section is
// disabled.
type Components struct {
	Config  *config.Config
	Logger  logging.Logger
	Metrics *prometheus.AppMetrics

	Collector  prometheus.MetricsCollector
	Classifier *doc_classifier.Classifier
	Extractor  *record_extractor.Extractor
	Records    record.Store
	Imports    *importing.Service
	Analysis   *analysis.Service
	Patterns   *labpattern.Library

	DB       *postgres.Connection
	Pool     *pgxpool.Pool
	Redis    *redisinfra.Client
	MinIO    *minioinfra.MinIOClient
	Producer *kafkainfra.Producer

	checks  []handlers.HealthChecker
	closers []func() error
}

// New builds every component.  On error, whatever was already opened is
// closed.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger, opts Options) (c *Components, err error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrCodeValidation, "configuration is required")
	}
	if opts.Source == "" {
		opts.Source = "keymed"
	}
	if opts.MetricsNamespace == "" {
		opts.MetricsNamespace = "keymed"
	}
	c = &Components{Config: cfg, Logger: logging.OrNop(logger)}
	defer func() {
		if err != nil {
			c.Close()
			c = nil
		}
	}()

	if err = c.initMetrics(opts); err != nil {
		return c, err
	}
	if err = c.initPostgres(ctx, opts); err != nil {
		return c, err
	}
	if err = c.initRedis(); err != nil {
		return c, err
	}
	if err = c.initMinIO(); err != nil {
		return c, err
	}
	if err = c.initKafka(); err != nil {
		return c, err
	}
	if err = c.initExtraction(); err != nil {
		return c, err
	}
	if err = c.initImports(opts); err != nil {
		return c, err
	}
	if err = c.initAnalysis(); err != nil {
		return c, err
	}
	return c, nil
}

// HealthCheckers returns one checker per enabled dependency.
func (c *Components) HealthCheckers() []handlers.HealthChecker {
	return append([]handlers.HealthChecker(nil), c.checks...)
}

// Close shuts the import service down and releases connections in reverse
// order of creation.
func (c *Components) Close() {
	if c.Imports != nil {
		c.Imports.Close()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.Logger.Warn("Failed to close component", logging.Err(err))
		}
	}
	c.closers = nil
}

func (c *Components) onClose(fn func() error) { c.closers = append(c.closers, fn) }

func (c *Components) addCheck(name string, fn func(ctx context.Context) error) {
	c.checks = append(c.checks, handlers.CheckFunc{Component: name, Fn: fn})
}

// ─────────────────────────────────────────────────────────────────────────────
// Infrastructure
// ─────────────────────────────────────────────────────────────────────────────

func (c *Components) initMetrics(opts Options) error {
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            opts.MetricsNamespace,
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	}, c.Logger)
	if err != nil {
		return err
	}
	c.Collector = collector
	c.Metrics = prometheus.NewAppMetrics(collector)
	return nil
}

func (c *Components) initPostgres(ctx context.Context, opts Options) error {
	dbCfg := c.Config.Database
	if !dbCfg.Enabled {
		return nil
	}
	conn, err := postgres.NewConnection(dbCfg, c.Logger)
	if err != nil {
		return err
	}
	c.DB = conn
	c.onClose(conn.Close)
	c.addCheck("postgres", conn.HealthCheck)

	if dbCfg.AutoMigrate && !opts.SkipMigrations {
		if err := conn.RunMigrations(dbCfg.MigrationPath); err != nil {
			return err
		}
	}

	pool, err := postgres.NewPool(ctx, dbCfg, c.Logger)
	if err != nil {
		return err
	}
	c.Pool = pool
	c.onClose(func() error { pool.Close(); return nil })
	return nil
}

func (c *Components) initRedis() error {
	rc := c.Config.Redis
	if !rc.Enabled {
		return nil
	}
	client, err := redisinfra.NewClient(&redisinfra.RedisConfig{
		Mode:         "standalone",
		Addr:         rc.Addr,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
		KeyPrefix:    rc.KeyPrefix,
	}, c.Logger)
	if err != nil {
		return err
	}
	c.Redis = client
	c.onClose(client.Close)
	c.addCheck("redis", client.Ping)
	return nil
}

func (c *Components) initMinIO() error {
	mc := c.Config.MinIO
	if !mc.Enabled {
		return nil
	}
	client, err := minioinfra.NewMinIOClient(mc, c.Logger)
	if err != nil {
		return err
	}
	c.MinIO = client
	c.onClose(client.Close)
	c.addCheck("minio", func(ctx context.Context) error {
		st, err := client.HealthCheck(ctx)
		if err != nil {
			return err
		}
		if !st.Healthy {
			return errors.New(errors.ErrCodeStorageError, "object storage unhealthy").WithDetail(st.Error)
		}
		return nil
	})
	return nil
}

func (c *Components) initKafka() error {
	kc := c.Config.Kafka
	if !kc.Enabled {
		return nil
	}
	producer, err := kafkainfra.NewProducer(kafkainfra.ProducerConfig{
		Brokers:    kc.Brokers,
		Acks:       "all",
		MaxRetries: kc.MaxRetries,
	}, c.Logger)
	if err != nil {
		return err
	}
	c.Producer = producer
	c.onClose(producer.Close)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Services
// ─────────────────────────────────────────────────────────────────────────────

func (c *Components) initExtraction() error {
	c.Classifier = doc_classifier.NewClassifier(c.Config.Extraction.MinClassifierSignal)

	llm, err := record_extractor.NewHTTPLLMClient(record_extractor.HTTPClientConfig{
		Endpoint:          c.Config.LLM.Endpoint,
		Model:             c.Config.LLM.Model,
		Timeout:           c.Config.LLM.Timeout,
		RequestsPerSecond: c.Config.LLM.RequestsPerSecond,
		Burst:             c.Config.LLM.Burst,
		MaxResponseBytes:  c.Config.LLM.MaxResponseBytes,
	}, c.Logger)
	if err != nil {
		return err
	}
	metrics, err := common.NewPrometheusIntelligenceMetrics(c.Collector.Registerer())
	if err != nil {
		return err
	}
	client := record_extractor.NewBreakerClient(llm, c.Config.LLM.BreakerThreshold, c.Config.LLM.BreakerCooldown, c.Logger)
	c.Extractor, err = record_extractor.NewExtractor(client, record_extractor.Config{
		MaxDocumentChars:    c.Config.Extraction.MaxDocumentChars,
		InheritDocumentDate: c.Config.Extraction.InheritDocumentDate,
	}, c.Logger, metrics)
	return err
}

// DedupConfig maps the dedup config section onto the detector settings.
func DedupConfig(dc config.DedupConfig) dedup.Config {
	cfg := dedup.DefaultConfig()
	cfg.DuplicateThreshold = dc.DuplicateThreshold
	cfg.ReviewThreshold = dc.ReviewThreshold
	cfg.MinCandidateConfidence = dc.MinCandidateConfidence
	cfg.Similarity = similarity.Config{
		RelativeTolerance: dc.NumericTolerance,
		DecayFactor:       similarity.DefaultConfig().DecayFactor,
		DateWindowDays:    dc.DateWindowDays,
	}
	return cfg
}

func (c *Components) initImports(opts Options) error {
	cfg := c.Config
	switch cfg.Import.StoreBackend {
	case "postgres":
		if c.DB == nil {
			return errors.New(errors.ErrCodeValidation, "postgres record store requires database.enabled")
		}
		c.Records = repositories.NewRecordRepository(c.DB, c.Logger)
	default:
		c.Records = record.NewMemoryStore()
	}

	deps := importing.Deps{
		Pipeline: importing.Pipeline{
			Classifier: c.Classifier,
			Extractor:  c.Extractor,
			Checker:    dedup.NewDetector(DedupConfig(cfg.Dedup), c.Logger),
			Store:      c.Records,
			Metrics:    c.Metrics,
		},
		Sessions: importing.NewMemorySessionStore(cfg.Import.SessionTTL),
	}
	if c.Redis != nil {
		deps.Sessions = redisinfra.NewSessionStore(c.Redis, cfg.Import.SessionTTL)
		deps.Locker = redisinfra.NewLocker(c.Redis, c.Logger)
	}
	if c.Pool != nil {
		deps.Audit = repositories.NewAuditRepository(c.Pool, c.Logger)
	}
	if c.MinIO != nil && cfg.Import.ArchiveDocuments {
		deps.Archive = minioinfra.NewDocumentArchive(c.MinIO, c.Logger)
	}
	if c.Producer != nil && cfg.Import.PublishEvents {
		deps.Events = importing.NewKafkaEventPublisher(c.Producer, opts.Source, c.Logger)
	}

	svc, err := importing.NewService(deps, importing.ServiceConfig{
		ParseTimeout:        cfg.Import.ParseTimeout,
		CandidateWindowDays: cfg.Dedup.CandidateWindowDays,
	}, c.Logger)
	if err != nil {
		return err
	}
	c.Imports = svc
	return nil
}

// LoadPatterns builds the pattern library from the builtin set and an
// optional definitions file.
func LoadPatterns(pc config.PatternConfig, logger logging.Logger) (*labpattern.Library, error) {
	var patterns []labpattern.Pattern
	if pc.IncludeBuiltin || pc.DefinitionsPath == "" {
		patterns = append(patterns, labpattern.BuiltinPatterns()...)
	}
	if pc.DefinitionsPath != "" {
		extra, err := labpattern.LoadFile(pc.DefinitionsPath)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeValidation, "failed to load pattern definitions").WithDetail(pc.DefinitionsPath)
		}
		patterns = append(patterns, extra...)
	}
	return labpattern.NewLibrary(patterns, logger), nil
}

func (c *Components) initAnalysis() error {
	pc := c.Config.Patterns
	lib, err := LoadPatterns(pc, c.Logger)
	if err != nil {
		return err
	}
	c.Patterns = lib
	matcher := labpattern.NewMatcher(lib, labpattern.MatcherConfig{
		RequiredWeight:      pc.RequiredWeight,
		TotalWeight:         pc.TotalWeight,
		MinRequiredCoverage: pc.MinRequiredCoverage,
	}, c.Logger)

	opts := []analysis.Option{
		analysis.WithStore(c.Records),
		analysis.WithMetrics(c.Metrics),
		analysis.WithRecentStore(analysis.NewMemoryRecentStore(pc.RecentMatchLimit)),
	}
	if c.Redis != nil {
		opts = append(opts,
			analysis.WithCache(redisinfra.NewRedisCache(c.Redis, c.Logger,
				redisinfra.WithPrefix("patterns:"),
				redisinfra.WithDefaultTTL(pc.CacheTTL),
			)),
			analysis.WithRecentStore(redisinfra.NewRecentAnalyses(c.Redis, pc.RecentMatchLimit, c.Logger)),
		)
	}
	c.Analysis, err = analysis.NewService(matcher, analysis.Config{CacheTTL: pc.CacheTTL}, c.Logger, opts...)
	return err
}

// PatternsPublisher returns the Kafka publisher for detected patterns, or
// nil when Kafka is disabled.
func (c *Components) PatternsPublisher(source string) analysis.Publisher {
	if c.Producer == nil {
		return nil
	}
	return analysis.NewKafkaPublisher(c.Producer, source, c.Logger)
}

//Personal.AI order the ending
