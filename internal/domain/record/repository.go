// Package record defines the longitudinal record store contract.
package record

import (
	"context"
	"strings"
	"time"

	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/common"
)

// Store is the append/query collaborator holding a patient's accumulated
// clinical records.  Implementations must serialise concurrent writes.
type Store interface {
	// Query returns the stored records of kind that satisfy filter, ordered by
	// clinical date descending and then by id.
	Query(ctx context.Context, kind clinical.RecordKind, filter Filter) ([]clinical.StoredRecord, error)

	// Append stores rec and returns its stable identifier.  The import
	// session found in ctx, if any, is kept as provenance.
	// Returns errors.ErrCodeRecordInvalid when rec does not match kind.
	Append(ctx context.Context, kind clinical.RecordKind, rec clinical.Record) (string, error)
}

// WithSession tags ctx with the import session that produced the records.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, common.ContextKeySessionID, sessionID)
}

// SessionFrom returns the import session stored by WithSession.
func SessionFrom(ctx context.Context) string {
	s, _ := ctx.Value(common.ContextKeySessionID).(string)
	return s
}

// CheckAppend validates an Append call.
func CheckAppend(kind clinical.RecordKind, rec clinical.Record) error {
	if !kind.IsValid() {
		return errors.New(errors.ErrCodeRecordKindUnknown, "unknown record kind").WithDetail(string(kind))
	}
	if rec.Kind != kind {
		return errors.New(errors.ErrCodeRecordInvalid, "record kind does not match collection").
			WithDetail(string(rec.Kind) + " vs " + string(kind))
	}
	if err := rec.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrCodeRecordInvalid, "record is malformed")
	}
	return nil
}

// Filter narrows a Query.  Zero fields do not filter.
type Filter struct {
	// Since and Until bound the clinical date (inclusive).
	Since time.Time
	Until time.Time
	// IncludeUndated keeps records without a clinical date when a date
	// bound is set.
	IncludeUndated bool
	// Name matches the record name case-insensitively.
	Name string
	// Limit caps the result size; 0 means no cap.
	Limit int
}

// Matches reports whether rec passes the filter.  Records without a
// clinical date pass a date bound only with IncludeUndated.
func (f Filter) Matches(rec clinical.Record) bool {
	if f.Name != "" && !strings.EqualFold(strings.TrimSpace(rec.Name()), strings.TrimSpace(f.Name)) {
		return false
	}
	if f.Since.IsZero() && f.Until.IsZero() {
		return true
	}
	d := rec.Date()
	if d.IsZero() {
		return f.IncludeUndated
	}
	if !f.Since.IsZero() && d.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && d.After(f.Until) {
		return false
	}
	return true
}

// CandidateWindow returns a filter covering days either side of at, plus the
// undated records, which may describe the same event.  A zero at yields an
// unbounded filter.
func CandidateWindow(at time.Time, days int) Filter {
	if at.IsZero() || days <= 0 {
		return Filter{}
	}
	span := time.Duration(days) * 24 * time.Hour
	return Filter{Since: at.Add(-span), Until: at.Add(span), IncludeUndated: true}
}

//Personal.AI order the ending
