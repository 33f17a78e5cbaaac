package record_extractor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

func quoteJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

type HTTPLLMClientSuite struct {
	suite.Suite
	server   *httptest.Server
	status   int
	body     string
	received []LLMRequest
}

func (s *HTTPLLMClientSuite) SetupTest() {
	s.status = http.StatusOK
	s.body = `{"response": "{}"}`
	s.received = nil
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Equal(http.MethodPost, r.Method)
		s.Equal("application/json", r.Header.Get("Content-Type"))
		raw, err := io.ReadAll(r.Body)
		s.Require().NoError(err)
		var req LLMRequest
		s.Require().NoError(json.Unmarshal(raw, &req))
		s.received = append(s.received, req)
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte(s.body))
	}))
}

func (s *HTTPLLMClientSuite) TearDownTest() {
	s.server.Close()
}

func (s *HTTPLLMClientSuite) client(cfg HTTPClientConfig) *HTTPLLMClient {
	cfg.Endpoint = s.server.URL
	c, err := NewHTTPLLMClient(cfg, nil)
	s.Require().NoError(err)
	return c
}

func (s *HTTPLLMClientSuite) TestRequestBody() {
	c := s.client(HTTPClientConfig{Model: "llama3"})
	_, err := c.Complete(context.Background(), &LLMRequest{Prompt: "p", RawText: "Sodium 130", DocumentType: "lab-report"})
	s.Require().NoError(err)
	s.Require().Len(s.received, 1)
	s.Equal(LLMRequest{Prompt: "p", RawText: "Sodium 130", DocumentType: "lab-report", Model: "llama3"}, s.received[0])
}

func (s *HTTPLLMClientSuite) TestEnvelopes() {
	tests := map[string]string{
		`{"response": "{\"labs\": []}"}`:                `{"labs": []}`,
		`{"output": "{\"labs\": []}"}`:                  `{"labs": []}`,
		`{"message": {"content": "{\"labs\": []}"}}`:    `{"labs": []}`,
		`{"labs": [], "medications": []}`:               `{"labs": [], "medications": []}`,
		"```json\n{\"labs\": []}\n```":                  "```json\n{\"labs\": []}\n```",
		`{"response": "{\"labs\": []}", "error": null}`: `{"labs": []}`,
	}
	c := s.client(HTTPClientConfig{})
	for body, want := range tests {
		s.body = body
		got, err := c.Complete(context.Background(), &LLMRequest{Prompt: "p"})
		s.Require().NoError(err, body)
		s.Equal(want, got, body)
	}
}

func (s *HTTPLLMClientSuite) TestErrorMapping() {
	tests := []struct {
		status int
		body   string
		code   errors.ErrorCode
	}{
		{http.StatusInternalServerError, "boom", errors.ErrCodeLLMBadStatus},
		{http.StatusServiceUnavailable, "", errors.ErrCodeLLMBadStatus},
		{http.StatusOK, "", errors.ErrCodeLLMEmptyResponse},
		{http.StatusOK, "  \n", errors.ErrCodeLLMEmptyResponse},
		{http.StatusOK, `{"error": "model not loaded"}`, errors.ErrCodeLLMBadStatus},
		{http.StatusOK, `{"error": {"message": "context length exceeded"}}`, errors.ErrCodeLLMBadStatus},
	}
	c := s.client(HTTPClientConfig{})
	for _, tt := range tests {
		s.status = tt.status
		s.body = tt.body
		_, err := c.Complete(context.Background(), &LLMRequest{Prompt: "p"})
		s.Require().Error(err)
		s.Equal(tt.code, errors.GetCode(err), "%d %q", tt.status, tt.body)
	}
}

func (s *HTTPLLMClientSuite) TestErrorObjectDetail() {
	s.body = `{"error": {"message": "context length exceeded"}}`
	_, err := s.client(HTTPClientConfig{}).Complete(context.Background(), &LLMRequest{Prompt: "p"})
	s.Require().Error(err)
	s.Contains(err.Error(), "context length exceeded")
}

func (s *HTTPLLMClientSuite) TestResponseSizeLimit() {
	s.body = `{"response": "` + strings.Repeat("a", 200) + `"}`
	_, err := s.client(HTTPClientConfig{MaxResponseBytes: 64}).Complete(context.Background(), &LLMRequest{Prompt: "p"})
	s.True(errors.IsCode(err, errors.ErrCodeLLMMalformedResponse))
}

func (s *HTTPLLMClientSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.client(HTTPClientConfig{}).Complete(ctx, &LLMRequest{Prompt: "p"})
	s.True(errors.IsCode(err, errors.ErrCodeExtractionTimeout))
	s.Empty(s.received)
}

func (s *HTTPLLMClientSuite) TestRateLimiterWaitsOnContext() {
	c := s.client(HTTPClientConfig{RequestsPerSecond: 0.001, Burst: 1})
	_, err := c.Complete(context.Background(), &LLMRequest{Prompt: "first"})
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, &LLMRequest{Prompt: "second"})
	s.True(errors.IsCode(err, errors.ErrCodeExtractionTimeout))
	s.Len(s.received, 1)
}

func TestHTTPLLMClientSuite(t *testing.T) {
	suite.Run(t, new(HTTPLLMClientSuite))
}

func TestNewHTTPLLMClient_Validation(t *testing.T) {
	_, err := NewHTTPLLMClient(HTTPClientConfig{}, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	_, err = NewHTTPLLMClient(HTTPClientConfig{Endpoint: "localhost:11434"}, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	c, err := NewHTTPLLMClient(HTTPClientConfig{Endpoint: "http://localhost:11434/api/generate", Model: "m"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "m", c.Model())
}

func TestPromptBuilder(t *testing.T) {
	b := NewPromptBuilder()
	p, err := b.Build("lab-report", "Sodium 130")
	require.NoError(t, err)
	assert.Contains(t, p, "laboratory report")
	assert.Contains(t, p, "Document type: lab-report")
	assert.Contains(t, p, "Sodium 130")
	assert.NotContains(t, p, "previous answer")

	r, err := b.BuildRepair("lab-report", "Sodium 130", strings.Repeat("y", 5000), io.ErrUnexpectedEOF)
	require.NoError(t, err)
	assert.Contains(t, r, "Your previous answer could not be used: unexpected EOF")
	assert.Contains(t, r, strings.Repeat("y", maxEchoedAnswer))
	assert.NotContains(t, r, strings.Repeat("y", maxEchoedAnswer+1))
}

//Personal.AI order the ending
