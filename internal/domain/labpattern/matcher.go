package labpattern

import (
	"sort"

	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

const (
	// DefaultRequiredWeight is the share of confidence driven by required findings.
	DefaultRequiredWeight = 0.7
	// DefaultTotalWeight is the share driven by all findings together.
	DefaultTotalWeight = 0.3
	// DefaultMinRequiredCoverage is the fraction of required findings that must hold.
	DefaultMinRequiredCoverage = 0.5
)

// MatcherConfig holds the scoring weights.
type MatcherConfig struct {
	RequiredWeight      float64
	TotalWeight         float64
	MinRequiredCoverage float64
}

// DefaultMatcherConfig returns the standard weights.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		RequiredWeight:      DefaultRequiredWeight,
		TotalWeight:         DefaultTotalWeight,
		MinRequiredCoverage: DefaultMinRequiredCoverage,
	}
}

// Match is one pattern that fits the analysed labs.
type Match struct {
	Pattern         Pattern  `json:"pattern"`
	MatchedFindings []string `json:"matched_findings"`
	MissingFindings []string `json:"missing_findings"`
	UnmetFindings   []string `json:"unmet_findings"`
	RequiredMatched int      `json:"required_matched"`
	RequiredTotal   int      `json:"required_total"`
	Confidence      float64  `json:"confidence"`
}

// Matcher evaluates lab snapshots against a Library.
type Matcher struct {
	lib    *Library
	cfg    MatcherConfig
	logger logging.Logger
}

// NewMatcher creates a Matcher.  Weights that do not sum to 1 fall back to
// the defaults.
func NewMatcher(lib *Library, cfg MatcherConfig, logger logging.Logger) *Matcher {
	sum := cfg.RequiredWeight + cfg.TotalWeight
	if cfg.RequiredWeight < 0 || cfg.TotalWeight < 0 || sum < 0.999 || sum > 1.001 {
		def := DefaultMatcherConfig()
		cfg.RequiredWeight, cfg.TotalWeight = def.RequiredWeight, def.TotalWeight
	}
	if cfg.MinRequiredCoverage <= 0 || cfg.MinRequiredCoverage > 1 {
		cfg.MinRequiredCoverage = DefaultMinRequiredCoverage
	}
	if lib == nil {
		lib = NewLibrary(nil, logger)
	}
	return &Matcher{lib: lib, cfg: cfg, logger: logging.OrNop(logger).Named("labpattern")}
}

// Library returns the library the matcher evaluates against.
func (m *Matcher) Library() *Library { return m.lib }

// Analyze evaluates labs, keyed by any spelling of the parameter name,
// against every pattern.  The result is sorted by confidence descending with
// ties broken by pattern id, and is identical for identical input.
func (m *Matcher) Analyze(labs map[string]clinical.LabValue) []Match {
	return m.AnalyzeSnapshot(NewSnapshot(labs))
}

// AnalyzeSnapshot is Analyze over an already canonicalised snapshot.
func (m *Matcher) AnalyzeSnapshot(snap Snapshot) []Match {
	out := make([]Match, 0)
	if len(snap) == 0 {
		return out
	}
	m.lib.each(func(p *Pattern) {
		if match, ok := m.evaluate(p, snap); ok {
			out = append(out, match)
		}
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Pattern.ID < out[j].Pattern.ID
	})
	m.logger.Debug("lab analysis complete", logging.Int("labs", len(snap)), logging.Int("matches", len(out)))
	return out
}

func (m *Matcher) evaluate(p *Pattern, snap Snapshot) (Match, bool) {
	reqTotal := len(p.RequiredFindings)
	if reqTotal == 0 {
		return Match{}, false
	}
	match := Match{
		MatchedFindings: []string{},
		MissingFindings: []string{},
		UnmetFindings:   []string{},
		RequiredTotal:   reqTotal,
	}
	matchedAll := 0
	for _, f := range p.Findings() {
		switch checkFinding(f, snap) {
		case findingMatched:
			matchedAll++
			if f.Required {
				match.RequiredMatched++
			}
			match.MatchedFindings = append(match.MatchedFindings, f.Label())
		case findingMissing:
			match.MissingFindings = append(match.MissingFindings, f.Label())
		default:
			match.UnmetFindings = append(match.UnmetFindings, f.Label())
		}
	}

	coverage := float64(match.RequiredMatched) / float64(reqTotal)
	if coverage < m.cfg.MinRequiredCoverage {
		return Match{}, false
	}
	total := reqTotal + len(p.SupportingFindings)
	match.Confidence = clinical.ClampConfidence(
		m.cfg.RequiredWeight*coverage + m.cfg.TotalWeight*float64(matchedAll)/float64(total))
	match.Pattern = p.clone()
	return match, true
}

type findingOutcome int

const (
	findingMatched findingOutcome = iota
	findingMissing
	findingUnmet
)

// checkFinding compares on coerced numbers.  A value that cannot be coerced
// leaves the finding unmet.
func checkFinding(f Finding, snap Snapshot) findingOutcome {
	v, ok := snap.Lookup(f.Parameter)
	if !ok || v.IsZero() {
		return findingMissing
	}
	n, ok := v.Coerce()
	if !ok {
		return findingUnmet
	}
	if f.Operator.Holds(n, f.Value) {
		return findingMatched
	}
	return findingUnmet
}

//Personal.AI order the ending
