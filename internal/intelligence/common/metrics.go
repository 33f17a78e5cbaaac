package common

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// ---------------------------------------------------------------------------
// Interfaces
// ---------------------------------------------------------------------------

// IntelligenceMetrics is the telemetry API of the document intelligence layer.
// The classifier, the LLM client and the extractor report through it so the
// backend (Prometheus, in-memory, noop) can be swapped without touching them.
type IntelligenceMetrics interface {
	// RecordLLMCall records one round trip to the extraction model.
	RecordLLMCall(ctx context.Context, params *LLMCallParams)

	// RecordExtraction records the outcome of one Extract call.
	RecordExtraction(ctx context.Context, params *ExtractionParams)

	// RecordClassification records the type assigned to a document.
	RecordClassification(ctx context.Context, documentType string)

	// GetLLMLatencyHistogram returns the model latency histogram.
	GetLLMLatencyHistogram() LatencyHistogram

	// GetCurrentStats returns a point-in-time snapshot.
	GetCurrentStats() *IntelligenceStats
}

// LatencyHistogram provides percentile-based latency observation.
type LatencyHistogram interface {
	Observe(durationMs float64)
	Percentile(p float64) float64
	Count() int64
	Sum() float64
}

// ---------------------------------------------------------------------------
// Parameter structs
// ---------------------------------------------------------------------------

// LLM call outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeUnavailable = "unavailable"
	OutcomeBadStatus   = "bad_status"
	OutcomeEmpty       = "empty"
	OutcomeTimeout     = "timeout"
	OutcomeParseError  = "parse_error"
	OutcomeFallback    = "fallback"
)

// LLMCallParams describes one model request.
type LLMCallParams struct {
	Model        string  `json:"model"`
	DocumentType string  `json:"document_type"`
	Attempt      int     `json:"attempt"`
	DurationMs   float64 `json:"duration_ms"`
	Outcome      string  `json:"outcome"`
}

// ExtractionParams describes one finished extraction.
type ExtractionParams struct {
	DocumentType string  `json:"document_type"`
	Outcome      string  `json:"outcome"`
	Records      int     `json:"records"`
	Warnings     int     `json:"warnings"`
	Confidence   float64 `json:"confidence"`
	Repaired     bool    `json:"repaired"`
	DurationMs   float64 `json:"duration_ms"`
}

// IntelligenceStats is a point-in-time snapshot.
type IntelligenceStats struct {
	TotalLLMCalls       int64            `json:"total_llm_calls"`
	FailedLLMCalls      int64            `json:"failed_llm_calls"`
	AvgLLMLatencyMs     float64          `json:"avg_llm_latency_ms"`
	P50LatencyMs        float64          `json:"p50_latency_ms"`
	P95LatencyMs        float64          `json:"p95_latency_ms"`
	P99LatencyMs        float64          `json:"p99_latency_ms"`
	Extractions         int64            `json:"extractions"`
	FallbackExtractions int64            `json:"fallback_extractions"`
	Classifications     map[string]int64 `json:"classifications"`
}

// ---------------------------------------------------------------------------
// Prometheus implementation
// ---------------------------------------------------------------------------

const metricsPrefix = "keymed_intelligence_"

var defaultLatencyBuckets = []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000}

type prometheusIntelligenceMetrics struct {
	llmLatency           *prometheus.HistogramVec
	llmCalls             *prometheus.CounterVec
	extractionTotal      *prometheus.CounterVec
	extractionRecords    *prometheus.HistogramVec
	extractionConfidence *prometheus.HistogramVec
	classificationTotal  *prometheus.CounterVec

	latencyHist *latencyHistogram
	totalCalls  atomic.Int64
	failedCalls atomic.Int64
	extractions atomic.Int64
	fallbacks   atomic.Int64
	classes     sync.Map // document type -> *atomic.Int64
}

// NewPrometheusIntelligenceMetrics registers the intelligence collectors with
// registerer (the default registerer when nil).
func NewPrometheusIntelligenceMetrics(registerer prometheus.Registerer) (*prometheusIntelligenceMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &prometheusIntelligenceMetrics{latencyHist: newLatencyHistogram(defaultHistogramWindow)}

	m.llmLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "llm_request_duration_milliseconds",
		Help:    "Latency of extraction model requests in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"model", "document_type"})

	m.llmCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "llm_requests_total",
		Help: "Extraction model requests by outcome.",
	}, []string{"model", "outcome", "attempt"})

	m.extractionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "extractions_total",
		Help: "Finished extractions by outcome.",
	}, []string{"document_type", "outcome", "repaired"})

	m.extractionRecords = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "extraction_records",
		Help:    "Records surviving validation per extraction.",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
	}, []string{"document_type"})

	m.extractionConfidence = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "extraction_confidence",
		Help:    "Extraction confidence scores.",
		Buckets: []float64{0, 0.2, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
	}, []string{"document_type"})

	m.classificationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "classifications_total",
		Help: "Documents classified by type.",
	}, []string{"document_type"})

	for _, c := range []prometheus.Collector{
		m.llmLatency, m.llmCalls, m.extractionTotal,
		m.extractionRecords, m.extractionConfidence, m.classificationTotal,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *prometheusIntelligenceMetrics) RecordLLMCall(_ context.Context, p *LLMCallParams) {
	if p == nil {
		return
	}
	m.llmLatency.WithLabelValues(p.Model, p.DocumentType).Observe(p.DurationMs)
	m.llmCalls.WithLabelValues(p.Model, p.Outcome, attemptLabel(p.Attempt)).Inc()
	m.latencyHist.Observe(p.DurationMs)
	m.totalCalls.Add(1)
	if p.Outcome != OutcomeSuccess {
		m.failedCalls.Add(1)
	}
}

func (m *prometheusIntelligenceMetrics) RecordExtraction(_ context.Context, p *ExtractionParams) {
	if p == nil {
		return
	}
	repaired := "false"
	if p.Repaired {
		repaired = "true"
	}
	m.extractionTotal.WithLabelValues(p.DocumentType, p.Outcome, repaired).Inc()
	m.extractionRecords.WithLabelValues(p.DocumentType).Observe(float64(p.Records))
	m.extractionConfidence.WithLabelValues(p.DocumentType).Observe(p.Confidence)
	m.extractions.Add(1)
	if p.Outcome == OutcomeFallback {
		m.fallbacks.Add(1)
	}
}

func (m *prometheusIntelligenceMetrics) RecordClassification(_ context.Context, documentType string) {
	m.classificationTotal.WithLabelValues(documentType).Inc()
	v, _ := m.classes.LoadOrStore(documentType, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func (m *prometheusIntelligenceMetrics) GetLLMLatencyHistogram() LatencyHistogram {
	return m.latencyHist
}

func (m *prometheusIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	classes := make(map[string]int64)
	m.classes.Range(func(key, value any) bool {
		classes[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})
	return buildStats(m.latencyHist, m.totalCalls.Load(), m.failedCalls.Load(),
		m.extractions.Load(), m.fallbacks.Load(), classes)
}

// ---------------------------------------------------------------------------
// Noop implementation
// ---------------------------------------------------------------------------

type noopIntelligenceMetrics struct{}

// NewNoopIntelligenceMetrics returns a metrics sink that discards everything.
func NewNoopIntelligenceMetrics() IntelligenceMetrics {
	return noopIntelligenceMetrics{}
}

func (noopIntelligenceMetrics) RecordLLMCall(context.Context, *LLMCallParams)       {}
func (noopIntelligenceMetrics) RecordExtraction(context.Context, *ExtractionParams) {}
func (noopIntelligenceMetrics) RecordClassification(context.Context, string)        {}

func (noopIntelligenceMetrics) GetLLMLatencyHistogram() LatencyHistogram {
	return newLatencyHistogram(1)
}

func (noopIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	return &IntelligenceStats{Classifications: map[string]int64{}}
}

// OrNoop returns m, or a noop implementation when m is nil.
func OrNoop(m IntelligenceMetrics) IntelligenceMetrics {
	if m == nil {
		return NewNoopIntelligenceMetrics()
	}
	return m
}

// ---------------------------------------------------------------------------
// In-memory implementation (for testing)
// ---------------------------------------------------------------------------

// InMemoryIntelligenceMetrics keeps every event for assertions.
type InMemoryIntelligenceMetrics struct {
	mu              sync.Mutex
	calls           []LLMCallParams
	extractions     []ExtractionParams
	classifications map[string]int64
	latencyHist     *latencyHistogram
}

// NewInMemoryIntelligenceMetrics returns an empty recorder.
func NewInMemoryIntelligenceMetrics() *InMemoryIntelligenceMetrics {
	return &InMemoryIntelligenceMetrics{
		classifications: make(map[string]int64),
		latencyHist:     newLatencyHistogram(defaultHistogramWindow),
	}
}

func (m *InMemoryIntelligenceMetrics) RecordLLMCall(_ context.Context, p *LLMCallParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, *p)
	m.latencyHist.Observe(p.DurationMs)
}

func (m *InMemoryIntelligenceMetrics) RecordExtraction(_ context.Context, p *ExtractionParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extractions = append(m.extractions, *p)
}

func (m *InMemoryIntelligenceMetrics) RecordClassification(_ context.Context, documentType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classifications[documentType]++
}

func (m *InMemoryIntelligenceMetrics) GetLLMLatencyHistogram() LatencyHistogram {
	return m.latencyHist
}

func (m *InMemoryIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	var failed, fallbacks int64
	for _, c := range m.calls {
		if c.Outcome != OutcomeSuccess {
			failed++
		}
	}
	for _, e := range m.extractions {
		if e.Outcome == OutcomeFallback {
			fallbacks++
		}
	}
	classes := make(map[string]int64, len(m.classifications))
	for k, v := range m.classifications {
		classes[k] = v
	}
	return buildStats(m.latencyHist, int64(len(m.calls)), failed, int64(len(m.extractions)), fallbacks, classes)
}

// LLMCalls returns a copy of the recorded model calls.
func (m *InMemoryIntelligenceMetrics) LLMCalls() []LLMCallParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LLMCallParams{}, m.calls...)
}

// Extractions returns a copy of the recorded extractions.
func (m *InMemoryIntelligenceMetrics) Extractions() []ExtractionParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExtractionParams{}, m.extractions...)
}

// ---------------------------------------------------------------------------
// latencyHistogram: thread-safe sliding window with percentiles
// ---------------------------------------------------------------------------

const defaultHistogramWindow = 2048

// latencyHistogram keeps the most recent window samples in a ring; Count and
// Sum cover every sample ever observed.
type latencyHistogram struct {
	mu     sync.Mutex
	ring   []float64
	next   int
	filled bool
	count  int64
	sum    float64
}

func newLatencyHistogram(window int) *latencyHistogram {
	if window < 1 {
		window = 1
	}
	return &latencyHistogram{ring: make([]float64, window)}
}

func (h *latencyHistogram) Observe(durationMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.next] = durationMs
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.filled = true
	}
	h.count++
	h.sum += durationMs
}

// Percentile interpolates linearly between the nearest ranks of the window.
func (h *latencyHistogram) Percentile(p float64) float64 {
	h.mu.Lock()
	n := h.next
	if h.filled {
		n = len(h.ring)
	}
	samples := append([]float64(nil), h.ring[:n]...)
	h.mu.Unlock()

	if len(samples) == 0 {
		return 0
	}
	sort.Float64s(samples)
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	rank := (p / 100) * float64(len(samples)-1)
	lower := int(math.Floor(rank))
	if lower+1 >= len(samples) {
		return samples[len(samples)-1]
	}
	frac := rank - float64(lower)
	return samples[lower] + frac*(samples[lower+1]-samples[lower])
}

func (h *latencyHistogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *latencyHistogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func buildStats(h *latencyHistogram, calls, failed, extractions, fallbacks int64, classes map[string]int64) *IntelligenceStats {
	var avg float64
	if n := h.Count(); n > 0 {
		avg = h.Sum() / float64(n)
	}
	return &IntelligenceStats{
		TotalLLMCalls:       calls,
		FailedLLMCalls:      failed,
		AvgLLMLatencyMs:     avg,
		P50LatencyMs:        h.Percentile(50),
		P95LatencyMs:        h.Percentile(95),
		P99LatencyMs:        h.Percentile(99),
		Extractions:         extractions,
		FallbackExtractions: fallbacks,
		Classifications:     classes,
	}
}

func attemptLabel(attempt int) string {
	if attempt <= 1 {
		return "initial"
	}
	return "repair"
}

//Personal.AI order the ending
