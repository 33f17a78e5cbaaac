package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/prometheus"
)

// Metrics records request counts and latencies labelled with the chi route
// pattern so path parameters do not explode cardinality.
func Metrics(m *prometheus.AppMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			active := m.HTTPActiveRequests.WithLabelValues(r.Method)
			active.Inc()
			defer active.Dec()

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			prometheus.RecordHTTPRequest(m, r.Method, route, status, time.Since(start))
		})
	}
}

//Personal.AI order the ending
