package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyMed-Intelligence/internal/config"
	"github.com/turtacn/KeyMed-Intelligence/internal/domain/labpattern"
	"github.com/turtacn/KeyMed-Intelligence/internal/testutil"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"response": testutil.SampleExtractionJSON})
	}))
	t.Cleanup(llm.Close)

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.LLM.Endpoint = llm.URL
	return cfg
}

func run(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	app := &App{Config: cfg, Logger: testutil.NewMockLogger()}
	root := newRootCommand(app)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--no-color"}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestClassify(t *testing.T) {
	out, err := run(t, testConfig(t), "classify", writeFile(t, "report.txt", testutil.SampleLabReport))
	require.NoError(t, err)
	assert.Contains(t, out, "Document type: lab-report")
	assert.Contains(t, out, "signal:")
}

func TestClassify_JSON(t *testing.T) {
	out, err := run(t, testConfig(t), "-o", "json", "classify", writeFile(t, "report.txt", testutil.SampleLabReport))
	require.NoError(t, err)
	var res struct {
		Type clinical.DocumentType `json:"type"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, clinical.DocumentLabReport, res.Type)
}

func TestClassify_MissingFile(t *testing.T) {
	_, err := run(t, testConfig(t), "classify", filepath.Join(t.TempDir(), "nope.txt"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))
}

func TestUnknownOutputFormat(t *testing.T) {
	_, err := run(t, testConfig(t), "-o", "yaml", "patterns", "categories")
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestExtract(t *testing.T) {
	out, err := run(t, testConfig(t), "-o", "json", "extract", writeFile(t, "report.txt", testutil.SampleLabReport))
	require.NoError(t, err)

	var ext clinical.RecordExtraction
	require.NoError(t, json.Unmarshal([]byte(out), &ext))
	assert.Equal(t, clinical.DocumentLabReport, ext.DocumentType)
	assert.Equal(t, "Jane Doe", ext.PatientName)
	assert.Len(t, ext.Labs, 5)
	assert.Greater(t, ext.Confidence, 0.0)
}

func TestExtract_Table(t *testing.T) {
	out, err := run(t, testConfig(t), "extract", writeFile(t, "report.txt", testutil.SampleLabReport))
	require.NoError(t, err)
	assert.Contains(t, out, "Patient:       Jane Doe")
	assert.Contains(t, out, "Sodium")
	assert.Contains(t, out, "2024-01-15")
}

func TestImport(t *testing.T) {
	out, err := run(t, testConfig(t), "-o", "json", "import", writeFile(t, "report.txt", testutil.SampleLabReport))
	require.NoError(t, err)

	var res struct {
		SessionID string `json:"session_id"`
		Status    struct {
			State string `json:"state"`
		} `json:"status"`
		Summary struct {
			Imported map[string]int `json:"imported"`
			Complete bool           `json:"complete"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, "complete", res.Status.State)
	assert.Equal(t, 5, res.Summary.Imported["lab"])
	assert.True(t, res.Summary.Complete)
}

func TestImport_Table(t *testing.T) {
	out, err := run(t, testConfig(t), "import", writeFile(t, "report.txt", testutil.SampleLabReport))
	require.NoError(t, err)
	assert.Contains(t, out, "State:         complete")
	assert.Contains(t, out, "Summary")
}

func TestImport_BadDecision(t *testing.T) {
	_, err := run(t, testConfig(t), "import", "--on-review", "maybe", writeFile(t, "report.txt", testutil.SampleLabReport))
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidDecision))
}

func TestImport_BlankDocumentFails(t *testing.T) {
	_, err := run(t, testConfig(t), "import", writeFile(t, "blank.txt", "   \n"))
	require.Error(t, err)
}

func TestImportHistory_Empty(t *testing.T) {
	out, err := run(t, testConfig(t), "import", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No import sessions recorded.")
}

func TestLabsAnalyze(t *testing.T) {
	out, err := run(t, testConfig(t), "-o", "json", "labs", "analyze", "Sodium=130", "BUN/Creatinine Ratio=25")
	require.NoError(t, err)

	var matches []labpattern.Match
	require.NoError(t, json.Unmarshal([]byte(out), &matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.Pattern.ID)
	}
	assert.Contains(t, ids, "hypovolemic-hyponatremia")
}

func TestLabsAnalyze_Table(t *testing.T) {
	out, err := run(t, testConfig(t), "labs", "analyze", "Sodium=130", "BUN/Creatinine Ratio=25")
	require.NoError(t, err)
	assert.Contains(t, out, "Next steps for")
}

func TestLabsAnalyze_Errors(t *testing.T) {
	_, err := run(t, testConfig(t), "labs", "analyze")
	assert.True(t, errors.IsCode(err, errors.ErrCodeLabsEmpty))

	_, err = run(t, testConfig(t), "labs", "analyze", "Sodium")
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))

	_, err = run(t, testConfig(t), "labs", "analyze", "--file", writeFile(t, "labs.json", "[1,2]"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))
}

func TestCollectLabs(t *testing.T) {
	path := writeFile(t, "labs.json", `{"Sodium": 128, "Urine Color": "amber", "Potassium": "5.9"}`)
	labs, err := collectLabs(path, []string{"Sodium=131", "Glucose=>500"})
	require.NoError(t, err)

	na, ok := labs["Sodium"].Float()
	require.True(t, ok)
	assert.Equal(t, 131.0, na, "arguments override the file")
	assert.False(t, labs["Urine Color"].IsNumeric())
	assert.Equal(t, ">500", labs["Glucose"].String())
}

func TestLabsRecent(t *testing.T) {
	out, err := run(t, testConfig(t), "labs", "recent")
	require.NoError(t, err)
	assert.Contains(t, out, "No analyses recorded.")
}

func TestPatterns(t *testing.T) {
	cfg := testConfig(t)

	out, err := run(t, cfg, "patterns", "get", "hypovolemic-hyponatremia")
	require.NoError(t, err)
	assert.Contains(t, out, "hypovolemic-hyponatremia")
	assert.Contains(t, out, "Sodium")

	_, err = run(t, cfg, "patterns", "get", "no-such-pattern")
	assert.True(t, errors.IsCode(err, errors.ErrCodePatternNotFound))

	out, err = run(t, cfg, "-o", "json", "patterns", "categories")
	require.NoError(t, err)
	var cats []string
	require.NoError(t, json.Unmarshal([]byte(out), &cats))
	assert.NotEmpty(t, cats)

	out, err = run(t, cfg, "-o", "json", "patterns", "list", "--category", cats[0])
	require.NoError(t, err)
	var patterns []labpattern.Pattern
	require.NoError(t, json.Unmarshal([]byte(out), &patterns))
	require.NotEmpty(t, patterns)
	for _, p := range patterns {
		assert.Equal(t, cats[0], p.Category)
	}
}

func TestMigrate_ArgumentErrors(t *testing.T) {
	_, err := run(t, testConfig(t), "migrate", "force", "abc")
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))

	_, err = run(t, testConfig(t), "migrate", "rollback", "--steps", "0")
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))
}

func TestVersion(t *testing.T) {
	out, err := run(t, nil, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "keymed dev")
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "85%", percent(0.851))
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

//Personal.AI order the ending
