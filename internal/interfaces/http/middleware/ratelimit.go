package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"

	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

// RateLimit limits each client IP to requestsPerSecond.  Over the limit the
// client gets a 429 in the API error format.  A non-positive rate disables
// limiting.
func RateLimit(requestsPerSecond int) func(http.Handler) http.Handler {
	if requestsPerSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(requestsPerSecond, time.Second,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(limitExceeded),
	)
}

func limitExceeded(w http.ResponseWriter, _ *http.Request) {
	code := errors.ErrCodeTooManyRequests
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    code.String(),
		"message": errors.DefaultMessageForCode(code),
	})
}

//Personal.AI order the ending
