// Package dedup decides whether a newly extracted clinical record already
// exists in the longitudinal store.  A candidate is compared field by field
// against every stored record of the same kind; the weighted field scores give
// one duplicate confidence per pair, and the ranked pairs drive the
// recommendation returned to the import workflow.
package dedup

import (
	"sort"

	"github.com/turtacn/KeyMed-Intelligence/internal/domain/similarity"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

// Verdict classifies one candidate/existing pair.
type Verdict string

const (
	VerdictDuplicate   Verdict = "duplicate"
	VerdictNeedsReview Verdict = "needs-review"
	VerdictDistinct    Verdict = "distinct"
)

// Recommendation is the action proposed for a candidate record.
type Recommendation string

const (
	RecommendImport Recommendation = "import"
	RecommendSkip   Recommendation = "skip"
	RecommendReview Recommendation = "needs-review"
)

const (
	// DefaultDuplicateThreshold is the confidence at or above which a pair is a duplicate.
	DefaultDuplicateThreshold = 0.90
	// DefaultReviewThreshold is the lower bound of the needs-review band.
	DefaultReviewThreshold = 0.60
	// DefaultMinCandidateConfidence drops pairs too weak to be worth listing.
	DefaultMinCandidateConfidence = 0.30
	// DefaultMatchedFieldThreshold is the field score at which a field counts as matched.
	DefaultMatchedFieldThreshold = 0.85
)

// Config holds the detector thresholds and the comparator settings.
type Config struct {
	DuplicateThreshold     float64
	ReviewThreshold        float64
	MinCandidateConfidence float64
	MatchedFieldThreshold  float64
	Similarity             similarity.Config
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		DuplicateThreshold:     DefaultDuplicateThreshold,
		ReviewThreshold:        DefaultReviewThreshold,
		MinCandidateConfidence: DefaultMinCandidateConfidence,
		MatchedFieldThreshold:  DefaultMatchedFieldThreshold,
		Similarity:             similarity.DefaultConfig(),
	}
}

// Match is one existing record scored against the candidate.
type Match struct {
	ExistingID    string             `json:"existing_id"`
	Existing      clinical.Record    `json:"existing"`
	Confidence    float64            `json:"confidence"`
	MatchedFields []string           `json:"matched_fields"`
	FieldScores   map[string]float64 `json:"field_scores"`
	Verdict       Verdict            `json:"verdict"`
}

// CheckResult is the outcome of checking one candidate.
type CheckResult struct {
	Candidate      clinical.Record `json:"candidate"`
	Matches        []Match         `json:"matches"`
	Recommendation Recommendation  `json:"recommendation"`
}

// Best returns the highest ranked match, or nil.
func (r *CheckResult) Best() *Match {
	if r == nil || len(r.Matches) == 0 {
		return nil
	}
	return &r.Matches[0]
}

// Detector scores candidates against existing records.  It holds no mutable
// state and may be shared between goroutines.
type Detector struct {
	cfg    Config
	scorer *similarity.Scorer
	logger logging.Logger
}

// NewDetector creates a Detector.  Out-of-order thresholds fall back to the defaults.
func NewDetector(cfg Config, logger logging.Logger) *Detector {
	def := DefaultConfig()
	if cfg.DuplicateThreshold <= 0 || cfg.DuplicateThreshold > 1 {
		cfg.DuplicateThreshold = def.DuplicateThreshold
	}
	if cfg.ReviewThreshold <= 0 || cfg.ReviewThreshold >= cfg.DuplicateThreshold {
		cfg.ReviewThreshold = def.ReviewThreshold
		if cfg.ReviewThreshold >= cfg.DuplicateThreshold {
			cfg.ReviewThreshold = cfg.DuplicateThreshold / 2
		}
	}
	if cfg.MinCandidateConfidence <= 0 || cfg.MinCandidateConfidence > cfg.ReviewThreshold {
		cfg.MinCandidateConfidence = def.MinCandidateConfidence
		if cfg.MinCandidateConfidence > cfg.ReviewThreshold {
			cfg.MinCandidateConfidence = cfg.ReviewThreshold
		}
	}
	if cfg.MatchedFieldThreshold <= 0 || cfg.MatchedFieldThreshold > 1 {
		cfg.MatchedFieldThreshold = def.MatchedFieldThreshold
	}
	if cfg.Similarity == (similarity.Config{}) {
		cfg.Similarity = def.Similarity
	}
	return &Detector{
		cfg:    cfg,
		scorer: similarity.NewScorer(cfg.Similarity),
		logger: logging.OrNop(logger).Named("dedup"),
	}
}

// Config returns the effective configuration.
func (d *Detector) Config() Config { return d.cfg }

// Classify maps a pair confidence to its verdict.
func (d *Detector) Classify(confidence float64) Verdict {
	switch {
	case confidence >= d.cfg.DuplicateThreshold:
		return VerdictDuplicate
	case confidence >= d.cfg.ReviewThreshold:
		return VerdictNeedsReview
	default:
		return VerdictDistinct
	}
}

// Check compares candidate with every existing record of the given kind.
// Existing records of other kinds are ignored.  The matches are ordered by
// confidence descending with ties broken by existing ID, so the result does
// not depend on the order of existing.
func (d *Detector) Check(candidate clinical.Record, existing []clinical.StoredRecord, kind clinical.RecordKind) (*CheckResult, error) {
	if candidate.Kind != kind {
		return nil, errors.New(errors.ErrCodeDuplicateKindMismatch, "candidate kind does not match requested kind").
			WithDetail(string(candidate.Kind) + " vs " + string(kind))
	}
	if err := candidate.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDuplicateKindMismatch, "candidate record is malformed")
	}

	result := &CheckResult{Candidate: candidate, Matches: []Match{}}
	for _, ex := range existing {
		if ex.Record.Kind != kind {
			continue
		}
		if err := ex.Record.Validate(); err != nil {
			d.logger.Debug("skipping malformed stored record", logging.String("id", ex.ID), logging.Err(err))
			continue
		}
		m := d.score(candidate, ex)
		if m.Confidence < d.cfg.MinCandidateConfidence {
			continue
		}
		result.Matches = append(result.Matches, m)
	}

	sort.SliceStable(result.Matches, func(i, j int) bool {
		a, b := result.Matches[i], result.Matches[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.ExistingID < b.ExistingID
	})

	result.Recommendation = RecommendImport
	if best := result.Best(); best != nil {
		switch best.Verdict {
		case VerdictDuplicate:
			result.Recommendation = RecommendSkip
		case VerdictNeedsReview:
			result.Recommendation = RecommendReview
		}
	}
	return result, nil
}

// Compare scores a single pair without thresholds.  Both records must be of
// the same kind.
func (d *Detector) Compare(a, b clinical.Record) (float64, error) {
	if a.Kind != b.Kind {
		return 0, errors.New(errors.ErrCodeDuplicateKindMismatch, "records are of different kinds")
	}
	if err := a.Validate(); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDuplicateKindMismatch, "record is malformed")
	}
	if err := b.Validate(); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDuplicateKindMismatch, "record is malformed")
	}
	conf, _ := d.pairConfidence(d.fields(a, b))
	return conf, nil
}

func (d *Detector) score(candidate clinical.Record, ex clinical.StoredRecord) Match {
	conf, scores := d.pairConfidence(d.fields(candidate, ex.Record))
	matched := make([]string, 0, len(scores))
	for name, s := range scores {
		if s >= d.cfg.MatchedFieldThreshold {
			matched = append(matched, name)
		}
	}
	sort.Strings(matched)
	return Match{
		ExistingID:    ex.ID,
		Existing:      ex.Record,
		Confidence:    conf,
		MatchedFields: matched,
		FieldScores:   scores,
		Verdict:       d.Classify(conf),
	}
}

//Personal.AI order the ending
