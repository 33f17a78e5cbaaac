package prometheus

import (
	"strconv"
	"time"

	"github.com/turtacn/KeyMed-Intelligence/internal/application/importing"
	"github.com/turtacn/KeyMed-Intelligence/internal/domain/dedup"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

// AppMetrics holds the service-level metrics.  It satisfies the Metrics
// ports of the importing and analysis packages.
type AppMetrics struct {
	// HTTP Layer
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPActiveRequests  GaugeVec

	// Import Layer
	ImportTransitionsTotal CounterVec
	ImportsTotal           CounterVec
	ImportDuration         HistogramVec
	ImportRecordsTotal     CounterVec
	ImportDocumentRecords  SummaryVec
	DuplicateChecksTotal   CounterVec

	// Pattern Layer
	PatternAnalysesTotal   CounterVec
	PatternMatchesTotal    CounterVec
	PatternAnalysisSeconds HistogramVec

	// Messaging Layer
	MessageProcessDuration HistogramVec
}

// Default Buckets
var (
	DefaultHTTPDurationBuckets    = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultImportDurationBuckets  = []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120}
	DefaultPatternDurationBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1}
)

// NewAppMetrics registers all metrics and returns AppMetrics struct.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	// HTTP
	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests", "Active HTTP requests", "method")

	// Imports
	m.ImportTransitionsTotal = collector.RegisterCounter("import_state_transitions_total", "Import session state transitions", "from", "to")
	m.ImportsTotal = collector.RegisterCounter("imports_total", "Finished imports by outcome", "outcome")
	m.ImportDuration = collector.RegisterHistogram("import_duration_seconds", "Commit duration of an import", DefaultImportDurationBuckets, "outcome")
	m.ImportRecordsTotal = collector.RegisterCounter("import_records_total", "Records imported or skipped", "result")
	m.ImportDocumentRecords = collector.RegisterSummary("import_document_records", "Records resolved per imported document", nil, "outcome")
	m.DuplicateChecksTotal = collector.RegisterCounter("duplicate_checks_total", "Duplicate checks by record kind and recommendation", "kind", "recommendation")

	// Patterns
	m.PatternAnalysesTotal = collector.RegisterCounter("pattern_analyses_total", "Lab pattern analyses", "source")
	m.PatternMatchesTotal = collector.RegisterCounter("pattern_matches_total", "Patterns matched", "source")
	m.PatternAnalysisSeconds = collector.RegisterHistogram("pattern_analysis_duration_seconds", "Lab pattern analysis duration", DefaultPatternDurationBuckets, "source")

	// Messaging
	m.MessageProcessDuration = collector.RegisterHistogram("mq_process_duration_seconds", "Message processing duration", DefaultHTTPDurationBuckets, "topic", "status")

	return m
}

// ─────────────────────────────────────────────────────────────────────────────
// Port implementations
// ─────────────────────────────────────────────────────────────────────────────

func (m *AppMetrics) RecordTransition(from, to importing.State) {
	m.ImportTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

func (m *AppMetrics) RecordDuplicateCheck(kind clinical.RecordKind, recommendation dedup.Recommendation) {
	m.DuplicateChecksTotal.WithLabelValues(string(kind), string(recommendation)).Inc()
}

func (m *AppMetrics) RecordImport(outcome string, imported, skipped int, duration time.Duration) {
	m.ImportsTotal.WithLabelValues(outcome).Inc()
	m.ImportDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.ImportRecordsTotal.WithLabelValues("imported").Add(float64(imported))
	m.ImportRecordsTotal.WithLabelValues("skipped").Add(float64(skipped))
	m.ImportDocumentRecords.WithLabelValues(outcome).Observe(float64(imported + skipped))
}

func (m *AppMetrics) RecordPatternAnalysis(source string, matches int, duration time.Duration) {
	m.PatternAnalysesTotal.WithLabelValues(source).Inc()
	m.PatternMatchesTotal.WithLabelValues(source).Add(float64(matches))
	m.PatternAnalysisSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// Helpers

func RecordHTTPRequest(metrics *AppMetrics, method, path string, statusCode int, duration time.Duration) {
	metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordMessage observes one consumed message.
func RecordMessage(metrics *AppMetrics, topic string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.MessageProcessDuration.WithLabelValues(topic, status).Observe(duration.Seconds())
}

//Personal.AI order the ending
