// Package analysis exposes the lab pattern library and matcher to the HTTP,
// CLI and worker surfaces.  Ad-hoc analyses are cached by their input;
// analyses of the longitudinal store are kept in a short recent list.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/KeyMed-Intelligence/internal/domain/labpattern"
	"github.com/turtacn/KeyMed-Intelligence/internal/domain/record"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

// Analysis sources.
const (
	SourceAdHoc  = "ad-hoc"
	SourceStored = "stored"
)

// Analysis is one evaluation of a lab snapshot.
type Analysis struct {
	ID         string             `json:"id"`
	Source     string             `json:"source"`
	SessionID  string             `json:"session_id,omitempty"`
	LabCount   int                `json:"lab_count"`
	Matches    []labpattern.Match `json:"matches"`
	AnalyzedAt time.Time          `json:"analyzed_at"`
}

// Cache memoises ad-hoc analyses.  It matches the Redis cache's GetOrSet.
type Cache interface {
	GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, loader func(ctx context.Context) (interface{}, error)) error
}

// RecentStore keeps the latest analyses, newest first.
type RecentStore interface {
	Push(ctx context.Context, a *Analysis) error
	Recent(ctx context.Context, n int) ([]*Analysis, error)
}

// Metrics observes analyses.
type Metrics interface {
	RecordPatternAnalysis(source string, matches int, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordPatternAnalysis(string, int, time.Duration) {}

// Config tunes the service.
type Config struct {
	CacheTTL time.Duration
	Now      func() time.Time
}

const defaultCacheTTL = 10 * time.Minute

// Service is the pattern analysis surface.
type Service struct {
	matcher *labpattern.Matcher
	store   record.Store
	cache   Cache
	recent  RecentStore
	metrics Metrics
	cfg     Config
	logger  logging.Logger
}

// Option configures optional collaborators.
type Option func(*Service)

// WithStore enables AnalyzeStoredLabs.
func WithStore(store record.Store) Option { return func(s *Service) { s.store = store } }

// WithCache enables caching of ad-hoc analyses.
func WithCache(c Cache) Option { return func(s *Service) { s.cache = c } }

// WithRecentStore replaces the in-memory recent list.
func WithRecentStore(r RecentStore) Option { return func(s *Service) { s.recent = r } }

// WithMetrics records analysis metrics.
func WithMetrics(m Metrics) Option { return func(s *Service) { s.metrics = m } }

// NewService builds the service around matcher.
func NewService(matcher *labpattern.Matcher, cfg Config, logger logging.Logger, opts ...Option) (*Service, error) {
	if matcher == nil {
		return nil, errors.New(errors.ErrCodeValidation, "pattern matcher is required")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Service{
		matcher: matcher,
		metrics: noopMetrics{},
		cfg:     cfg,
		logger:  logging.OrNop(logger).Named("analysis"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.recent == nil {
		s.recent = NewMemoryRecentStore(DefaultRecentCapacity)
	}
	return s, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Patterns
// ─────────────────────────────────────────────────────────────────────────────

// GetPattern returns the pattern with id or errors.ErrCodePatternNotFound.
func (s *Service) GetPattern(id string) (*labpattern.Pattern, error) {
	p, ok := s.matcher.Library().Get(id)
	if !ok {
		return nil, errors.New(errors.ErrCodePatternNotFound, "pattern not found").WithDetail(id)
	}
	return &p, nil
}

// GetPatternsByCategory returns the patterns of category; unknown categories
// yield an empty slice.
func (s *Service) GetPatternsByCategory(category string) []labpattern.Pattern {
	return s.matcher.Library().ByCategory(category)
}

// Categories lists the known categories.
func (s *Service) Categories() []string {
	return s.matcher.Library().Categories()
}

// Patterns lists every pattern ordered by id.
func (s *Service) Patterns() []labpattern.Pattern {
	return s.matcher.Library().All()
}

// ─────────────────────────────────────────────────────────────────────────────
// Analysis
// ─────────────────────────────────────────────────────────────────────────────

// AnalyzeLabs matches labs, keyed by any spelling of the parameter, against
// the library.  Results are sorted by confidence descending then id.  An
// empty input yields an empty result.
func (s *Service) AnalyzeLabs(ctx context.Context, labs map[string]clinical.LabValue) ([]labpattern.Match, error) {
	start := time.Now()
	if len(labs) == 0 {
		return []labpattern.Match{}, nil
	}
	load := func(context.Context) (interface{}, error) { return s.matcher.Analyze(labs), nil }

	var matches []labpattern.Match
	if s.cache == nil {
		matches = s.matcher.Analyze(labs)
	} else if err := s.cache.GetOrSet(ctx, snapshotKey(labs), &matches, s.cfg.CacheTTL, load); err != nil {
		s.logger.Warn("pattern cache unavailable, analysing directly", logging.Err(err))
		matches = s.matcher.Analyze(labs)
	}
	if matches == nil {
		matches = []labpattern.Match{}
	}
	s.metrics.RecordPatternAnalysis(SourceAdHoc, len(matches), time.Since(start))
	s.remember(ctx, &Analysis{Source: SourceAdHoc, LabCount: len(labs), Matches: matches})
	return matches, nil
}

// AnalyzeStoredLabs analyses the most recent value of every lab in the
// longitudinal store.  sessionID tags the result with the import that
// triggered it and may be empty.
func (s *Service) AnalyzeStoredLabs(ctx context.Context, sessionID string) (*Analysis, error) {
	if s.store == nil {
		return nil, errors.New(errors.ErrCodeNotImplemented, "no record store configured")
	}
	start := time.Now()
	stored, err := s.store.Query(ctx, clinical.KindLab, record.Filter{})
	if err != nil {
		return nil, err
	}
	results := make([]clinical.LabResult, 0, len(stored))
	for _, r := range stored {
		if r.Record.Lab != nil {
			results = append(results, *r.Record.Lab)
		}
	}
	snap := labpattern.SnapshotFromResults(results)
	a := &Analysis{
		Source:    SourceStored,
		SessionID: sessionID,
		LabCount:  len(results),
		Matches:   s.matcher.AnalyzeSnapshot(snap),
	}
	s.metrics.RecordPatternAnalysis(SourceStored, len(a.Matches), time.Since(start))
	s.remember(ctx, a)
	s.logger.Info("stored labs analysed",
		logging.String("session_id", sessionID),
		logging.Int("labs", len(results)),
		logging.Int("matches", len(a.Matches)))
	return a, nil
}

// RecentMatches returns up to n recent analyses, newest first.
func (s *Service) RecentMatches(ctx context.Context, n int) ([]*Analysis, error) {
	if n <= 0 {
		n = DefaultRecentCapacity
	}
	return s.recent.Recent(ctx, n)
}

func (s *Service) remember(ctx context.Context, a *Analysis) {
	a.ID = uuid.NewString()
	a.AnalyzedAt = s.cfg.Now().UTC()
	if err := s.recent.Push(ctx, a); err != nil {
		s.logger.Warn("record recent analysis failed", logging.Err(err))
	}
}

// snapshotKey hashes the canonical form of labs so that spellings of the
// same parameter share a cache entry.
func snapshotKey(labs map[string]clinical.LabValue) string {
	snap := labpattern.NewSnapshot(labs)
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(snap[k].String())
		b.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return "patterns:analyze:" + hex.EncodeToString(sum[:16])
}

//Personal.AI order the ending
