package prometheus

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

func newTestCollector(t *testing.T) MetricsCollector {
	cfg := CollectorConfig{
		Namespace: "test",
		Subsystem: "unit",
	}
	c, err := NewMetricsCollector(cfg, logging.NewNopLogger())
	require.NoError(t, err)
	return c
}

func scrapeMetrics(t *testing.T, collector MetricsCollector) string {
	handler := collector.Handler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestNewMetricsCollector_ValidConfig(t *testing.T) {
	c := newTestCollector(t)
	assert.NotNil(t, c)
	assert.NotNil(t, c.Registerer())
}

func TestNewMetricsCollector_EmptyNamespace(t *testing.T) {
	_, err := NewMetricsCollector(CollectorConfig{Subsystem: "unit"}, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestNewMetricsCollector_WithProcessMetrics(t *testing.T) {
	cfg := CollectorConfig{
		Namespace:            "test",
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	}
	c, err := NewMetricsCollector(cfg, logging.NewNopLogger())
	require.NoError(t, err)
	output := scrapeMetrics(t, c)
	assert.Contains(t, output, "go_goroutines")
}

func TestRegisterCounter_WithLabels(t *testing.T) {
	c := newTestCollector(t)
	counter := c.RegisterCounter("http_requests", "HTTP requests", "method")
	counter.WithLabelValues("GET").Add(5)

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_unit_http_requests{method="GET"} 5`)
}

func TestRegisterCounter_Duplicate(t *testing.T) {
	c := newTestCollector(t)
	c1 := c.RegisterCounter("dup_counter", "help")
	c2 := c.RegisterCounter("dup_counter", "help")

	c1.WithLabelValues().Inc()
	c2.WithLabelValues().Inc()

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, "test_unit_dup_counter 2")
}

func TestRegisterGauge_Success(t *testing.T) {
	c := newTestCollector(t)
	gauge := c.RegisterGauge("active_sessions", "Active sessions")
	gauge.WithLabelValues().Set(10)

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, "test_unit_active_sessions 10")
}

func TestRegisterHistogram_DefaultBuckets(t *testing.T) {
	c := newTestCollector(t)
	hist := c.RegisterHistogram("latency", "Latency", nil)
	hist.WithLabelValues().Observe(0.1)

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_unit_latency_bucket{le="0.1"} 1`)
}

func TestRegisterSummary(t *testing.T) {
	c := newTestCollector(t)
	summary := c.RegisterSummary("document_records", "Records per document", nil, "outcome")
	summary.WithLabelValues("complete").Observe(12)
	summary.With(map[string]string{"outcome": "complete"}).Observe(4)

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_unit_document_records_count{outcome="complete"} 2`)
	assert.Contains(t, output, `test_unit_document_records_sum{outcome="complete"} 16`)
	assert.Contains(t, output, `quantile="0.99"`)
}

func TestConcurrentRegistration(t *testing.T) {
	c := newTestCollector(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RegisterCounter("concurrent_metric", "help", "id").WithLabelValues("1").Inc()
		}()
	}
	wg.Wait()

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_unit_concurrent_metric{id="1"} 50`)
}

func TestTypeConflictReturnsNoop(t *testing.T) {
	c := newTestCollector(t)
	c.RegisterCounter("conflict", "help").WithLabelValues().Inc()

	gauge := c.RegisterGauge("conflict", "help")
	gauge.WithLabelValues().Set(10)
	gauge.With(nil).Dec()
	c.RegisterHistogram("conflict", "help", nil).WithLabelValues().Observe(1)
	c.RegisterSummary("conflict", "help", nil).WithLabelValues().Observe(1)

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, "# TYPE test_unit_conflict counter")
	assert.Contains(t, output, "test_unit_conflict 1")
}

func TestRegisterer_SharesEndpoint(t *testing.T) {
	c := newTestCollector(t)
	extra := prometheus.NewCounter(prometheus.CounterOpts{Name: "extraction_calls_total"})
	require.NoError(t, c.Registerer().Register(extra))
	extra.Inc()

	assert.Contains(t, scrapeMetrics(t, c), "extraction_calls_total 1")
}

//Personal.AI order the ending
