package prometheus

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

// MetricsCollector registers the service metrics on a private registry and
// serves them.
type MetricsCollector interface {
	RegisterCounter(name, help string, labels ...string) CounterVec
	RegisterGauge(name, help string, labels ...string) GaugeVec
	RegisterHistogram(name, help string, buckets []float64, labels ...string) HistogramVec
	RegisterSummary(name, help string, objectives map[float64]float64, labels ...string) SummaryVec
	Handler() http.Handler
	// Registerer lets collectors built elsewhere (the extraction metrics)
	// land on the same /metrics endpoint.
	Registerer() prometheus.Registerer
}

// Counter, Gauge and Observer are the subsets of the client types the
// service uses.  The client types satisfy them directly.
type (
	Counter interface {
		Inc()
		Add(delta float64)
	}
	Gauge interface {
		Set(value float64)
		Inc()
		Dec()
		Add(delta float64)
		Sub(delta float64)
	}
	Observer interface {
		Observe(value float64)
	}
)

// Labeled resolves a metric child by label values or by label map.
type Labeled[M any] interface {
	WithLabelValues(lvs ...string) M
	With(labels map[string]string) M
}

type (
	CounterVec   = Labeled[Counter]
	GaugeVec     = Labeled[Gauge]
	HistogramVec = Labeled[Observer]
	SummaryVec   = Labeled[Observer]
)

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Namespace               string
	Subsystem               string
	EnableProcessMetrics    bool
	EnableGoMetrics         bool
	DefaultHistogramBuckets []float64
	ConstLabels             map[string]string
}

// DefaultSummaryObjectives are the quantiles tracked when none are given.
var DefaultSummaryObjectives = map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001}

type prometheusCollector struct {
	registry *prometheus.Registry
	config   CollectorConfig
	logger   logging.Logger

	mu   sync.Mutex
	byFQ map[string]prometheus.Collector
}

// NewMetricsCollector creates a collector with its own registry.
func NewMetricsCollector(cfg CollectorConfig, logger logging.Logger) (MetricsCollector, error) {
	if cfg.Namespace == "" {
		return nil, errors.New(errors.ErrCodeValidation, "metrics namespace is required")
	}
	registry := prometheus.NewRegistry()
	if cfg.EnableProcessMetrics {
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: cfg.Namespace}))
	}
	if cfg.EnableGoMetrics {
		registry.MustRegister(collectors.NewGoCollector())
	}
	if cfg.DefaultHistogramBuckets == nil {
		cfg.DefaultHistogramBuckets = prometheus.DefBuckets
	}
	return &prometheusCollector{
		registry: registry,
		config:   cfg,
		logger:   logging.OrNop(logger).Named("metrics"),
		byFQ:     make(map[string]prometheus.Collector),
	}, nil
}

func (c *prometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (c *prometheusCollector) Registerer() prometheus.Registerer { return c.registry }

func (c *prometheusCollector) RegisterCounter(name, help string, labels ...string) CounterVec {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts(c.opts(name, help)), labels)
	if v, ok := register(c, "counter", name, vec); ok {
		return labeled[Counter]{
			byValues: func(lvs ...string) Counter { return v.WithLabelValues(lvs...) },
			byMap:    func(l map[string]string) Counter { return v.With(l) },
		}
	}
	return noopVec[Counter]()
}

func (c *prometheusCollector) RegisterGauge(name, help string, labels ...string) GaugeVec {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts(c.opts(name, help)), labels)
	if v, ok := register(c, "gauge", name, vec); ok {
		return labeled[Gauge]{
			byValues: func(lvs ...string) Gauge { return v.WithLabelValues(lvs...) },
			byMap:    func(l map[string]string) Gauge { return v.With(l) },
		}
	}
	return noopVec[Gauge]()
}

func (c *prometheusCollector) RegisterHistogram(name, help string, buckets []float64, labels ...string) HistogramVec {
	if buckets == nil {
		buckets = c.config.DefaultHistogramBuckets
	}
	o := c.opts(name, help)
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: o.Namespace, Subsystem: o.Subsystem, Name: o.Name, Help: o.Help,
		ConstLabels: o.ConstLabels, Buckets: buckets,
	}, labels)
	if v, ok := register(c, "histogram", name, vec); ok {
		return observers(v)
	}
	return noopVec[Observer]()
}

func (c *prometheusCollector) RegisterSummary(name, help string, objectives map[float64]float64, labels ...string) SummaryVec {
	if objectives == nil {
		objectives = DefaultSummaryObjectives
	}
	o := c.opts(name, help)
	vec := prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: o.Namespace, Subsystem: o.Subsystem, Name: o.Name, Help: o.Help,
		ConstLabels: o.ConstLabels, Objectives: objectives,
	}, labels)
	if v, ok := register(c, "summary", name, vec); ok {
		return observers(v)
	}
	return noopVec[Observer]()
}

func (c *prometheusCollector) opts(name, help string) prometheus.Opts {
	return prometheus.Opts{
		Namespace:   c.config.Namespace,
		Subsystem:   c.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: c.config.ConstLabels,
	}
}

// register adds vec under its fully qualified name, or returns the collector
// already registered there.  Registering the same name twice with another
// metric type yields false and the caller falls back to a no-op.
func register[V prometheus.Collector](c *prometheusCollector, kind, name string, vec V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fq := prometheus.BuildFQName(c.config.Namespace, c.config.Subsystem, name)
	if existing, ok := c.byFQ[fq]; ok {
		v, same := existing.(V)
		if !same {
			c.logger.Warn("metric type mismatch", logging.String("name", fq), logging.String("type", kind))
		}
		return v, same
	}
	if err := c.registry.Register(vec); err != nil {
		c.logger.Error("failed to register metric", logging.String("name", fq), logging.String("type", kind), logging.Err(err))
		var zero V
		return zero, false
	}
	c.byFQ[fq] = vec
	return vec, true
}

// ─────────────────────────────────────────────────────────────────────────────
// Label adapters
// ─────────────────────────────────────────────────────────────────────────────

type labeled[M any] struct {
	byValues func(lvs ...string) M
	byMap    func(labels map[string]string) M
}

func (l labeled[M]) WithLabelValues(lvs ...string) M    { return l.byValues(lvs...) }
func (l labeled[M]) With(labels map[string]string) M { return l.byMap(labels) }

type observerVec interface {
	WithLabelValues(lvs ...string) prometheus.Observer
	With(labels prometheus.Labels) prometheus.Observer
}

func observers(v observerVec) labeled[Observer] {
	return labeled[Observer]{
		byValues: func(lvs ...string) Observer { return v.WithLabelValues(lvs...) },
		byMap:    func(l map[string]string) Observer { return v.With(l) },
	}
}

// noop satisfies Counter, Gauge and Observer.
type noop struct{}

func (noop) Inc()            {}
func (noop) Dec()            {}
func (noop) Add(float64)     {}
func (noop) Sub(float64)     {}
func (noop) Set(float64)     {}
func (noop) Observe(float64) {}

func noopVec[M any]() labeled[M] {
	var m M
	if n, ok := any(noop{}).(M); ok {
		m = n
	}
	return labeled[M]{
		byValues: func(...string) M { return m },
		byMap:    func(map[string]string) M { return m },
	}
}

//Personal.AI order the ending
