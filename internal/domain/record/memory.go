package record

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

// MemoryStore is an in-process Store used by the CLI and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[clinical.RecordKind][]clinical.StoredRecord
	now     func() time.Time
	newID   func() string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[clinical.RecordKind][]clinical.StoredRecord{},
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Query implements Store.
func (m *MemoryStore) Query(ctx context.Context, kind clinical.RecordKind, filter Filter) ([]clinical.StoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTimeout, "query cancelled")
	}
	if !kind.IsValid() {
		return nil, errors.New(errors.ErrCodeRecordKindUnknown, "unknown record kind").WithDetail(string(kind))
	}
	m.mu.RLock()
	out := make([]clinical.StoredRecord, 0, len(m.records[kind]))
	for _, r := range m.records[kind] {
		if filter.Matches(r.Record) {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()

	sortStored(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Append implements Store.
func (m *MemoryStore) Append(ctx context.Context, kind clinical.RecordKind, rec clinical.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeRecordWriteFailed, "append cancelled")
	}
	if err := CheckAppend(kind, rec); err != nil {
		return "", err
	}
	stored := clinical.StoredRecord{
		ID:            m.newID(),
		Record:        rec,
		SourceSession: SessionFrom(ctx),
		CreatedAt:     m.now().UTC(),
	}
	m.mu.Lock()
	m.records[kind] = append(m.records[kind], stored)
	m.mu.Unlock()
	return stored.ID, nil
}

// Len returns the number of stored records of kind.
func (m *MemoryStore) Len(kind clinical.RecordKind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[kind])
}

// sortStored orders records by clinical date descending, then by id.
func sortStored(recs []clinical.StoredRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		di, dj := recs[i].Record.Date(), recs[j].Record.Date()
		if !di.Equal(dj) {
			return di.After(dj)
		}
		return recs[i].ID < recs[j].ID
	})
}

//Personal.AI order the ending
