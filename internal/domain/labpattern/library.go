package labpattern

import (
	"sort"
	"strings"

	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
)

// Rejection records a pattern excluded from the library and why.
type Rejection struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Library is the validated, read-only pattern registry.
type Library struct {
	patterns   []Pattern
	byID       map[string]int
	byCategory map[string][]int
	categories []string
	rejected   []Rejection
}

// NewLibrary validates and copies patterns.  Invalid patterns and duplicate
// ids are logged and excluded; the first definition of an id wins.  The
// library is ordered by pattern id.
func NewLibrary(patterns []Pattern, logger logging.Logger) *Library {
	log := logging.OrNop(logger).Named("labpattern")
	lib := &Library{
		byID:       make(map[string]int, len(patterns)),
		byCategory: make(map[string][]int),
	}

	seen := make(map[string]bool, len(patterns))
	accepted := make([]Pattern, 0, len(patterns))
	for _, p := range patterns {
		if err := p.Validate(); err != nil {
			log.Warn("excluding invalid lab pattern", logging.String("pattern_id", p.ID), logging.Err(err))
			lib.rejected = append(lib.rejected, Rejection{ID: p.ID, Reason: err.Error()})
			continue
		}
		c := p.clone()
		if seen[c.ID] {
			log.Warn("excluding duplicate lab pattern id", logging.String("pattern_id", c.ID))
			lib.rejected = append(lib.rejected, Rejection{ID: c.ID, Reason: "duplicate pattern id"})
			continue
		}
		seen[c.ID] = true
		accepted = append(accepted, c)
	}

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].ID < accepted[j].ID })
	lib.patterns = accepted
	for i, p := range accepted {
		lib.byID[p.ID] = i
		cat := categoryKey(p.Category)
		if _, ok := lib.byCategory[cat]; !ok {
			lib.categories = append(lib.categories, cat)
		}
		lib.byCategory[cat] = append(lib.byCategory[cat], i)
	}
	sort.Strings(lib.categories)

	log.Info("lab pattern library loaded",
		logging.Int("patterns", len(lib.patterns)),
		logging.Int("rejected", len(lib.rejected)),
		logging.Int("categories", len(lib.categories)))
	return lib
}

// Len returns the number of usable patterns.
func (l *Library) Len() int { return len(l.patterns) }

// Get returns a copy of the pattern with the given id.
func (l *Library) Get(id string) (Pattern, bool) {
	i, ok := l.byID[strings.TrimSpace(id)]
	if !ok {
		return Pattern{}, false
	}
	return l.patterns[i].clone(), true
}

// ByCategory returns copies of the patterns in category, matched
// case-insensitively.  Unknown categories yield an empty slice.
func (l *Library) ByCategory(category string) []Pattern {
	idx := l.byCategory[categoryKey(category)]
	out := make([]Pattern, 0, len(idx))
	for _, i := range idx {
		out = append(out, l.patterns[i].clone())
	}
	return out
}

// Categories returns the sorted category keys.
func (l *Library) Categories() []string {
	return append([]string{}, l.categories...)
}

// All returns copies of every pattern ordered by id.
func (l *Library) All() []Pattern {
	out := make([]Pattern, 0, len(l.patterns))
	for _, p := range l.patterns {
		out = append(out, p.clone())
	}
	return out
}

// Rejected lists the patterns excluded at construction.
func (l *Library) Rejected() []Rejection {
	return append([]Rejection{}, l.rejected...)
}

// each iterates the shared patterns without copying.  Callers must not mutate.
func (l *Library) each(fn func(p *Pattern)) {
	for i := range l.patterns {
		fn(&l.patterns[i])
	}
}

func categoryKey(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

//Personal.AI order the ending
