package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyMed-Intelligence/internal/config"
	"github.com/turtacn/KeyMed-Intelligence/internal/domain/record"
	"github.com/turtacn/KeyMed-Intelligence/internal/testutil"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

func defaultConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestNew_InMemoryStack(t *testing.T) {
	c, err := New(context.Background(), defaultConfig(), testutil.NewMockLogger(), Options{})
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Imports)
	assert.NotNil(t, c.Analysis)
	assert.NotNil(t, c.Extractor)
	assert.NotNil(t, c.Metrics)
	assert.IsType(t, &record.MemoryStore{}, c.Records)
	assert.Nil(t, c.DB)
	assert.Nil(t, c.Redis)
	assert.Nil(t, c.Producer)
	assert.Empty(t, c.HealthCheckers())
	assert.Nil(t, c.PatternsPublisher("test"))
	assert.NotEmpty(t, c.Analysis.Patterns())
}

func TestNew_PostgresBackendNeedsDatabase(t *testing.T) {
	cfg := defaultConfig()
	cfg.Import.StoreBackend = "postgres"
	_, err := New(context.Background(), cfg, nil, Options{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(context.Background(), nil, nil, Options{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestNew_RedisBackedSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := defaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()

	c, err := New(context.Background(), cfg, nil, Options{})
	require.NoError(t, err)
	defer c.Close()

	checks := c.HealthCheckers()
	require.Len(t, checks, 1)
	assert.Equal(t, "redis", checks[0].Name())
	assert.NoError(t, checks[0].Check(context.Background()))

	id, err := c.Imports.SubmitDocument(context.Background(), "   ")
	require.NoError(t, err)
	c.Imports.Wait()
	assert.True(t, mr.Exists(cfg.Redis.KeyPrefix+"session:"+id), "session snapshots live in redis")
}

func TestDedupConfig(t *testing.T) {
	dc := DedupConfig(defaultConfig().Dedup)
	assert.InDelta(t, 0.90, dc.DuplicateThreshold, 1e-9)
	assert.InDelta(t, 0.60, dc.ReviewThreshold, 1e-9)
	assert.Equal(t, 7, dc.Similarity.DateWindowDays)
	assert.InDelta(t, 0.02, dc.Similarity.RelativeTolerance, 1e-9)
}

func TestLoadPatterns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extra.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`version: 1
patterns:
  - id: isolated-hyperkalemia
    name: Isolated Hyperkalemia
    category: electrolyte
    severity: high
    description: High potassium.
    required:
      - {parameter: Potassium, operator: ">", value: 5.5, unit: mmol/L}
`), 0o600))

	lib, err := LoadPatterns(config.PatternConfig{DefinitionsPath: path}, nil)
	require.NoError(t, err)
	_, ok := lib.Get("isolated-hyperkalemia")
	assert.True(t, ok)
	_, ok = lib.Get("hypovolemic-hyponatremia")
	assert.False(t, ok, "builtin patterns are only merged on request")

	lib, err = LoadPatterns(config.PatternConfig{DefinitionsPath: path, IncludeBuiltin: true}, nil)
	require.NoError(t, err)
	_, ok = lib.Get("hypovolemic-hyponatremia")
	assert.True(t, ok)

	_, err = LoadPatterns(config.PatternConfig{DefinitionsPath: filepath.Join(dir, "missing.yaml")}, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

//Personal.AI order the ending
