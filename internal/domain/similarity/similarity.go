// Package similarity provides the field-level fuzzy comparison primitives used
// by duplicate detection: normalised edit-distance similarity for names,
// tolerance-based numeric matching for values and doses, and date proximity.
// Every comparator returns a score in [0,1] and is symmetric in its arguments.
package similarity

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

// Config tunes the comparators.
type Config struct {
	// RelativeTolerance is the fraction of the larger magnitude within which two
	// numbers are considered equal (0.02 = 2%).
	RelativeTolerance float64

	// DecayFactor is the multiple of the tolerance allowance at which numeric
	// similarity reaches 0.  Must be > 1.
	DecayFactor float64

	// DateWindowDays is the distance in days at which date proximity reaches 0.
	DateWindowDays int
}

// DefaultConfig returns the standard comparator settings.
func DefaultConfig() Config {
	return Config{
		RelativeTolerance: 0.02,
		DecayFactor:       5,
		DateWindowDays:    7,
	}
}

// Scorer bundles the comparators with a Config.  It is stateless and safe
// for concurrent use.
type Scorer struct {
	cfg Config
}

// NewScorer builds a Scorer, repairing out-of-range settings.
func NewScorer(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.RelativeTolerance < 0 {
		cfg.RelativeTolerance = def.RelativeTolerance
	}
	if cfg.DecayFactor <= 1 {
		cfg.DecayFactor = def.DecayFactor
	}
	if cfg.DateWindowDays < 1 {
		cfg.DateWindowDays = def.DateWindowDays
	}
	return &Scorer{cfg: cfg}
}

// Config returns the effective configuration.
func (s *Scorer) Config() Config { return s.cfg }

// ─────────────────────────────────────────────────────────────────────────────
// Strings
// ─────────────────────────────────────────────────────────────────────────────

// Normalize applies NFKC, lower-cases and collapses whitespace.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), unicode.IsSpace), " ")
}

// Strings returns 1 − editDistance/maxLen over the normalised forms.
// Two empty strings are identical.
func (s *Scorer) Strings(a, b string) float64 {
	ra := []rune(Normalize(a))
	rb := []rune(Normalize(b))
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	if string(ra) == string(rb) {
		return 1
	}
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	return clamp(1 - float64(Levenshtein(ra, rb))/float64(maxLen))
}

// Levenshtein returns the edit distance between two rune slices using two
// rolling rows.
func Levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// ─────────────────────────────────────────────────────────────────────────────
// Numbers
// ─────────────────────────────────────────────────────────────────────────────

// Numbers scores two readings.  Values within max(RelativeTolerance×max(|a|,|b|),
// precision) score 1; beyond that the score decays linearly to 0 at
// DecayFactor times the allowance.
func (s *Scorer) Numbers(a, b, precision float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return 0
	}
	diff := math.Abs(a - b)
	allowance := math.Max(s.cfg.RelativeTolerance*math.Max(math.Abs(a), math.Abs(b)), math.Abs(precision))
	if diff <= allowance+1e-12 {
		return 1
	}
	if allowance == 0 {
		return 0
	}
	return clamp(1 - (diff-allowance)/((s.cfg.DecayFactor-1)*allowance))
}

// Values compares two lab values.  Numeric pairs use Numbers with the coarser
// of the two reported precisions; categorical pairs use Strings.  A numeric
// value against a categorical one is compared on coerced numbers when
// possible and scores 0 otherwise.
func (s *Scorer) Values(a, b clinical.LabValue) float64 {
	fa, okA := a.Float()
	fb, okB := b.Float()
	if okA && okB {
		return s.Numbers(fa, fb, math.Max(a.Precision(), b.Precision()))
	}
	if !okA && !okB {
		return s.Strings(a.String(), b.String())
	}
	ca, okA := a.Coerce()
	cb, okB := b.Coerce()
	if okA && okB {
		return s.Numbers(ca, cb, math.Max(a.Precision(), b.Precision()))
	}
	return 0
}

var quantityPattern = regexp.MustCompile(`^\s*([0-9]*\.?[0-9]+)\s*([a-zA-Zµμ/%]*)`)

// Quantities compares dose strings such as "500 mg" and "500mg".  When both
// parse as amount+unit with matching units the amounts are compared as
// numbers; otherwise the strings are compared.
func (s *Scorer) Quantities(a, b string) float64 {
	ma := quantityPattern.FindStringSubmatch(a)
	mb := quantityPattern.FindStringSubmatch(b)
	if ma == nil || mb == nil {
		return s.Strings(a, b)
	}
	if !strings.EqualFold(ma[2], mb[2]) {
		return s.Strings(a, b) * 0.5
	}
	fa, errA := strconv.ParseFloat(ma[1], 64)
	fb, errB := strconv.ParseFloat(mb[1], 64)
	if errA != nil || errB != nil {
		return s.Strings(a, b)
	}
	return s.Numbers(fa, fb, 0)
}

// ─────────────────────────────────────────────────────────────────────────────
// Dates
// ─────────────────────────────────────────────────────────────────────────────

// Dates returns 1 for the same calendar day (UTC) and decays linearly to 0
// at DateWindowDays apart.
func (s *Scorer) Dates(a, b time.Time) float64 {
	days := DaysApart(a, b)
	if days == 0 {
		return 1
	}
	return clamp(1 - float64(days)/float64(s.cfg.DateWindowDays))
}

// DaysApart returns the absolute number of calendar days between a and b in UTC.
func DaysApart(a, b time.Time) int {
	da := civilDay(a)
	db := civilDay(b)
	if da > db {
		return int(da - db)
	}
	return int(db - da)
}

func civilDay(t time.Time) int64 {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Unix() / 86400
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

//Personal.AI order the ending
