// Command worker consumes committed-lab events and runs lab pattern analysis
// against the longitudinal store.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/KeyMed-Intelligence/internal/application/analysis"
	"github.com/turtacn/KeyMed-Intelligence/internal/bootstrap"
	"github.com/turtacn/KeyMed-Intelligence/internal/config"
	kafkainfra "github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	prominfra "github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KeyMed-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/common"
)

const (
	defaultHealthPort = 8081
	source            = "keymed-worker"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: KEYMED_* environment)")
	consumers := flag.Int("consumers", 0, "consumer group members in this process (default: worker.concurrency)")
	ensureTopics := flag.Bool("ensure-topics", false, "create the default topics before consuming")
	flag.Parse()

	if err := run(*configPath, *consumers, *ensureTopics); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, consumers int, ensureTopics bool) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	if !cfg.Kafka.Enabled {
		return errors.New(errors.ErrCodeValidation, "the worker needs kafka.enabled")
	}
	if consumers <= 0 {
		consumers = cfg.Worker.Concurrency
	}
	if consumers <= 0 {
		consumers = 1
	}

	logger, err := bootstrap.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	logger = logger.Named("worker")
	logger.Info("starting KeyMed-Intelligence worker",
		logging.String("version", version),
		logging.Int("consumers", consumers),
		logging.Strings("brokers", cfg.Kafka.Brokers),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{Source: source})
	if err != nil {
		return err
	}
	defer comps.Close()

	if ensureTopics {
		if err := createTopics(ctx, cfg.Kafka.Brokers, logger); err != nil {
			return err
		}
	}

	handler := timed(comps.Metrics, kafkainfra.TopicLabsCommitted,
		analysis.LabsCommittedHandler(comps.Analysis, comps.PatternsPublisher(source), logger))
	group := make([]*kafkainfra.Consumer, 0, consumers)
	defer func() {
		for _, c := range group {
			if err := c.Close(); err != nil {
				logger.Warn("consumer close failed", logging.Err(err))
			}
		}
	}()
	for i := 0; i < consumers; i++ {
		c, err := newLabsConsumer(cfg.Kafka, handler, logger.With(logging.Int("member", i)))
		if err != nil {
			return err
		}
		group = append(group, c)
		if err := c.Start(ctx); err != nil {
			return err
		}
	}

	health := newHealthServer(cfg.Worker.HealthPort, comps)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("health server listening", logging.String("addr", health.Addr))
		if err := health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, errors.ErrCodeInternal, "health server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down worker")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return health.Shutdown(shutdownCtx)
	})
	err = g.Wait()

	for _, c := range group {
		st := c.Stats()
		logger.Info("consumer stats",
			logging.Int64("consumed", st.Consumed),
			logging.Int64("processed", st.Processed),
			logging.Int64("dead_lettered", st.DeadLettered),
		)
	}
	return err
}

// timed records the processing time of every message next handles.
func timed(m *prominfra.AppMetrics, topic string, next common.MessageHandler) common.MessageHandler {
	return func(ctx context.Context, msg *common.Message) error {
		start := time.Now()
		err := next(ctx, msg)
		prominfra.RecordMessage(m, topic, time.Since(start), err)
		return err
	}
}

func newLabsConsumer(kc config.KafkaConfig, handler common.MessageHandler, logger logging.Logger) (*kafkainfra.Consumer, error) {
	dlq := kc.DeadLetterTopic
	if dlq == "" {
		dlq = kafkainfra.TopicDeadLetterLabs
	}
	c, err := kafkainfra.NewConsumer(kafkainfra.ConsumerConfig{
		Brokers: kc.Brokers,
		GroupID: kc.GroupID,
		Topics:  []string{kafkainfra.TopicLabsCommitted},
		RetryConfig: kafkainfra.RetryConfig{
			MaxRetries:      kc.MaxRetries,
			RetryBackoff:    time.Second,
			MaxRetryBackoff: 30 * time.Second,
			DeadLetterTopic: dlq,
		},
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := c.Subscribe(kafkainfra.TopicLabsCommitted, handler); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func createTopics(ctx context.Context, brokers []string, logger logging.Logger) error {
	tm, err := kafkainfra.NewTopicManager(brokers, logger)
	if err != nil {
		return err
	}
	defer tm.Close()
	return tm.EnsureDefaultTopics(ctx)
}

func newHealthServer(port int, comps *bootstrap.Components) *http.Server {
	if port <= 0 {
		port = defaultHealthPort
	}
	h := handlers.NewHealthHandler(version, comps.HealthCheckers()...)
	r := chi.NewRouter()
	r.Get("/healthz", h.Liveness)
	r.Get("/readyz", h.Readiness)
	r.Get("/healthz/detail", h.Detailed)
	r.Handle("/metrics", comps.Collector.Handler())
	return &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

//Personal.AI order the ending
