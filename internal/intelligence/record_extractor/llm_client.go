package record_extractor

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

// ---------------------------------------------------------------------------
// Transport contract
// ---------------------------------------------------------------------------

// LLMRequest is the body posted to the extraction endpoint.
type LLMRequest struct {
	Prompt       string `json:"prompt"`
	RawText      string `json:"rawText"`
	DocumentType string `json:"documentType"`
	Model        string `json:"model,omitempty"`
}

// LLMClient sends one extraction request and returns the model's answer text
// (the JSON document the model produced, unwrapped from any envelope).
//
// Errors carry one of the EXT_ codes: ErrCodeLLMUnavailable,
// ErrCodeLLMBadStatus, ErrCodeLLMEmptyResponse or ErrCodeExtractionTimeout.
type LLMClient interface {
	Complete(ctx context.Context, req *LLMRequest) (string, error)
	Model() string
}

// ---------------------------------------------------------------------------
// HTTP implementation
// ---------------------------------------------------------------------------

// HTTPClientConfig configures HTTPLLMClient.
type HTTPClientConfig struct {
	Endpoint          string
	Model             string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxResponseBytes  int64
}

const (
	defaultLLMTimeout       = 60 * time.Second
	defaultMaxResponseBytes = 4 << 20
	maxErrorBodyEcho        = 512
)

// HTTPLLMClient posts requests to a local model service.
type HTTPLLMClient struct {
	endpoint string
	model    string
	http     *http.Client
	limiter  *rate.Limiter
	maxBytes int64
	logger   logging.Logger
}

// NewHTTPLLMClient validates cfg and builds the client.  A non-positive
// RequestsPerSecond disables client-side rate limiting.
func NewHTTPLLMClient(cfg HTTPClientConfig, logger logging.Logger) (*HTTPLLMClient, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New(errors.ErrCodeValidation, "llm endpoint is required")
	}
	if !strings.HasPrefix(cfg.Endpoint, "http://") && !strings.HasPrefix(cfg.Endpoint, "https://") {
		return nil, errors.New(errors.ErrCodeValidation, "llm endpoint must be an http(s) URL").WithDetail(cfg.Endpoint)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultLLMTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &HTTPLLMClient{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  limiter,
		maxBytes: cfg.MaxResponseBytes,
		logger:   logging.OrNop(logger).Named("llm"),
	}, nil
}

// Model returns the configured model name.
func (c *HTTPLLMClient) Model() string { return c.model }

// Complete implements LLMClient.
func (c *HTTPLLMClient) Complete(ctx context.Context, req *LLMRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", contextError(ctx, err)
		}
		return "", errors.Wrap(err, errors.ErrCodeExtractionTimeout, "llm rate limit wait exceeds the deadline")
	}
	if req.Model == "" {
		req.Model = c.model
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSerialization, "encode llm request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeLLMUnavailable, "build llm request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", contextError(ctx, err)
		}
		if isTimeout(err) {
			return "", errors.Wrap(err, errors.ErrCodeExtractionTimeout, "llm request timed out")
		}
		return "", errors.Wrap(err, errors.ErrCodeLLMUnavailable, "llm service unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return "", contextError(ctx, err)
		}
		return "", errors.Wrap(err, errors.ErrCodeLLMUnavailable, "read llm response")
	}
	if int64(len(raw)) > c.maxBytes {
		return "", errors.New(errors.ErrCodeLLMMalformedResponse, "llm response exceeds size limit").
			WithDetail(fmt.Sprintf("limit %d bytes", c.maxBytes))
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("llm returned non-200 status",
			logging.Int("status", resp.StatusCode),
			logging.String("endpoint", c.endpoint))
		return "", errors.New(errors.ErrCodeLLMBadStatus, fmt.Sprintf("llm service returned status %d", resp.StatusCode)).
			WithDetail(truncateRunes(strings.TrimSpace(string(raw)), maxErrorBodyEcho))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", errors.New(errors.ErrCodeLLMEmptyResponse, "llm service returned an empty body")
	}
	return unwrapEnvelope(raw)
}

// envelope covers the wrappers local model servers put around the answer.
type envelope struct {
	Response *string          `json:"response"`
	Output   *string          `json:"output"`
	Error    *json.RawMessage `json:"error"`
	Message  *struct {
		Content string `json:"content"`
	} `json:"message"`
}

// unwrapEnvelope returns the model's answer.  A body that is not a JSON
// object, or an object without a known wrapper key, is returned as is and
// left to the parser.
func unwrapEnvelope(raw []byte) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return string(trimmed), nil
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return string(trimmed), nil
	}
	if env.Error != nil && string(*env.Error) != "null" {
		return "", errors.New(errors.ErrCodeLLMBadStatus, "llm service reported an error").
			WithDetail(truncateRunes(errorText(*env.Error), maxErrorBodyEcho))
	}
	var answer *string
	switch {
	case env.Response != nil:
		answer = env.Response
	case env.Output != nil:
		answer = env.Output
	case env.Message != nil:
		answer = &env.Message.Content
	default:
		return string(trimmed), nil
	}
	if strings.TrimSpace(*answer) == "" {
		return "", errors.New(errors.ErrCodeLLMEmptyResponse, "llm answer is empty")
	}
	return *answer, nil
}

func errorText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

// contextError maps a context failure to the extraction timeout code.
func contextError(ctx context.Context, err error) error {
	switch {
	case stderrors.Is(ctx.Err(), context.DeadlineExceeded) || stderrors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(err, errors.ErrCodeExtractionTimeout, "llm request deadline exceeded")
	case stderrors.Is(ctx.Err(), context.Canceled) || stderrors.Is(err, context.Canceled):
		return errors.Wrap(err, errors.ErrCodeExtractionTimeout, "llm request cancelled")
	}
	return errors.Wrap(err, errors.ErrCodeLLMUnavailable, "llm request aborted")
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return stderrors.As(err, &t) && t.Timeout()
}

//Personal.AI order the ending
