package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 9090
  cors_allowed_origins: ["https://app.example.org"]
log:
  level: debug
  format: console
llm:
  endpoint: "http://llm.local:8000/extract"
  timeout: 45s
dedup:
  duplicate_threshold: 0.92
  date_window_days: 10
patterns:
  include_builtin: true
import:
  store_backend: memory
  session_ttl: 2h
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keymed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ReadsFileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.org"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "http://llm.local:8000/extract", cfg.LLM.Endpoint)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 0.92, cfg.Dedup.DuplicateThreshold)
	assert.Equal(t, DefaultReviewThreshold, cfg.Dedup.ReviewThreshold)
	assert.Equal(t, 10, cfg.Dedup.DateWindowDays)
	assert.Equal(t, 2*time.Hour, cfg.Import.SessionTTL)
	assert.True(t, cfg.Extraction.InheritDocumentDate)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("KEYMED_SERVER_PORT", "7070")
	t.Setenv("KEYMED_DEDUP_REVIEW_THRESHOLD", "0.55")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 0.55, cfg.Dedup.ReviewThreshold)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_InvalidValues(t *testing.T) {
	_, err := Load(writeConfig(t, "dedup:\n  review_threshold: 0.95\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoadFromEnv_UsesDotEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("KEYMED_LLM_MODEL=mistral\n"), 0o600))
	t.Setenv("KEYMED_LLM_MODEL", "")
	os.Unsetenv("KEYMED_LLM_MODEL")
	t.Cleanup(func() { os.Unsetenv("KEYMED_LLM_MODEL") })

	cfg, err := LoadFromEnv(envFile)
	require.NoError(t, err)
	assert.Equal(t, "mistral", cfg.LLM.Model)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
}

func TestLoadOrDefault_EmptyPath(t *testing.T) {
	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, DefaultStoreBackend, cfg.Import.StoreBackend)
}

func TestMustLoad_Panics(t *testing.T) {
	assert.Panics(t, func() { MustLoad(filepath.Join(t.TempDir(), "absent.yaml")) })
}

func TestWatch_InvokesCallbackOnChange(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	var level atomic.Value
	require.NoError(t, Watch(path, func(c *Config) { level.Store(c.Log.Level) }, nil))

	updated := []byte(`
log:
  level: warn
  format: json
`)
	require.NoError(t, os.WriteFile(path, updated, 0o600))

	assert.Eventually(t, func() bool {
		v, _ := level.Load().(string)
		return v == "warn"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(filepath.Join(t.TempDir(), "absent.yaml"), func(*Config) {}, nil)
	assert.Error(t, err)
}

//Personal.AI order the ending
