package importing

import (
	"strconv"
	"time"

	"github.com/turtacn/KeyMed-Intelligence/internal/domain/dedup"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

// Decision is the caller's choice for one extracted record.
type Decision string

const (
	DecisionImport Decision = "import"
	DecisionSkip   Decision = "skip"
)

// IsValid checks if the Decision is known.
func (d Decision) IsValid() bool {
	return d == DecisionImport || d == DecisionSkip
}

// Decisions maps record keys ("lab:0", "medication:2") to a decision.
type Decisions map[string]Decision

// RecordCheck is the duplicate check of one extracted record.
type RecordCheck struct {
	Key            string               `json:"key"`
	Kind           clinical.RecordKind  `json:"kind"`
	Record         clinical.Record      `json:"record"`
	Matches        []dedup.Match        `json:"matches"`
	Recommendation dedup.Recommendation `json:"recommendation"`
	Decision       Decision             `json:"decision,omitempty"`
}

// KindCount is a per-kind tally.
type KindCount map[clinical.RecordKind]int

// Total sums the tally.
func (k KindCount) Total() int {
	n := 0
	for _, v := range k {
		n += v
	}
	return n
}

// ImportSummary reports the outcome of the importing phase.  It is returned
// for partial imports too.  RecordIDs maps session record keys to the ids
// assigned by the store.
type ImportSummary struct {
	SessionID string            `json:"session_id"`
	Imported  KindCount         `json:"imported"`
	Skipped   KindCount         `json:"skipped"`
	RecordIDs map[string]string `json:"record_ids"`
	Total     int               `json:"total"`
	Failed    int               `json:"failed"`
	Complete  bool              `json:"complete"`
}

func newSummary(sessionID string, total int) *ImportSummary {
	return &ImportSummary{
		SessionID: sessionID,
		Imported:  KindCount{},
		Skipped:   KindCount{},
		RecordIDs: map[string]string{},
		Total:     total,
	}
}

// ImportedTotal is the number of records written.
func (s *ImportSummary) ImportedTotal() int { return s.Imported.Total() }

// SkippedTotal is the number of records not written by decision or
// recommendation.
func (s *ImportSummary) SkippedTotal() int { return s.Skipped.Total() }

// Status is the observable state of one import session.  It is also the
// persisted session snapshot.
type Status struct {
	SessionID     string                     `json:"session_id"`
	State         State                      `json:"state"`
	Progress      int                        `json:"progress"`
	DocumentType  clinical.DocumentType      `json:"document_type,omitempty"`
	DocumentChars int                        `json:"document_chars"`
	ArchiveKey    string                     `json:"archive_key,omitempty"`
	Extraction    *clinical.RecordExtraction `json:"extraction,omitempty"`
	Duplicates    []RecordCheck              `json:"duplicates,omitempty"`
	PendingReview []string                   `json:"pending_review,omitempty"`
	Error         string                     `json:"error,omitempty"`
	ErrorCode     string                     `json:"error_code,omitempty"`
	Summary       *ImportSummary             `json:"summary,omitempty"`
	CreatedAt     time.Time                  `json:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

// clone returns a copy safe to hand to callers.  The extraction and the
// record payloads are immutable and shared.
func (s *Status) clone() *Status {
	if s == nil {
		return nil
	}
	c := *s
	if s.Duplicates != nil {
		c.Duplicates = make([]RecordCheck, len(s.Duplicates))
		copy(c.Duplicates, s.Duplicates)
	}
	if s.PendingReview != nil {
		c.PendingReview = append([]string(nil), s.PendingReview...)
	}
	if s.Summary != nil {
		sum := *s.Summary
		sum.Imported = copyCount(s.Summary.Imported)
		sum.Skipped = copyCount(s.Summary.Skipped)
		sum.RecordIDs = make(map[string]string, len(s.Summary.RecordIDs))
		for k, v := range s.Summary.RecordIDs {
			sum.RecordIDs[k] = v
		}
		c.Summary = &sum
	}
	return &c
}

func copyCount(k KindCount) KindCount {
	out := make(KindCount, len(k))
	for kind, n := range k {
		out[kind] = n
	}
	return out
}

// keyedRecord is an extracted record with its session key.
type keyedRecord struct {
	Key    string
	Record clinical.Record
}

// recordKey builds the stable session key of the index-th record of kind.
func recordKey(kind clinical.RecordKind, index int) string {
	return string(kind) + ":" + strconv.Itoa(index)
}

// keyRecords flattens an extraction into keyed records in commit order.
func keyRecords(ext *clinical.RecordExtraction) []keyedRecord {
	recs := ext.Records()
	out := make([]keyedRecord, 0, len(recs))
	seen := map[clinical.RecordKind]int{}
	for _, r := range recs {
		out = append(out, keyedRecord{Key: recordKey(r.Kind, seen[r.Kind]), Record: r})
		seen[r.Kind]++
	}
	return out
}

//Personal.AI order the ending
