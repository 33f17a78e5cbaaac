package importing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/KeyMed-Intelligence/internal/domain/dedup"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

// ─────────────────────────────────────────────────────────────────────────────
// Pipeline collaborators
// ─────────────────────────────────────────────────────────────────────────────

// Classifier assigns a document type to raw text.
type Classifier interface {
	Classify(rawText string) clinical.DocumentType
}

// Extractor turns raw text into a RecordExtraction.  The extraction is never
// nil; an error means the call timed out or was cancelled.
type Extractor interface {
	Extract(ctx context.Context, rawText string, docType clinical.DocumentType) (*clinical.RecordExtraction, error)
}

// DuplicateChecker ranks existing records against a candidate.
type DuplicateChecker interface {
	Check(candidate clinical.Record, existing []clinical.StoredRecord, kind clinical.RecordKind) (*dedup.CheckResult, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Session persistence
// ─────────────────────────────────────────────────────────────────────────────

// SessionStore persists session snapshots so any replica can answer status
// and confirmation calls.
type SessionStore interface {
	Save(ctx context.Context, status *Status) error
	// Load returns errors.ErrCodeSessionNotFound for unknown or expired ids.
	Load(ctx context.Context, sessionID string) (*Status, error)
}

// Lock is a held session lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker serialises confirmations of the same session.
type Locker interface {
	// Acquire returns errors.ErrCodeSessionBusy when the lock is held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// MemorySessionStore keeps snapshots in process.
type MemorySessionStore struct {
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]memorySession
}

type memorySession struct {
	status  *Status
	expires time.Time
}

// NewMemorySessionStore creates a store whose entries expire after ttl.  A
// non-positive ttl keeps entries forever.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{ttl: ttl, now: time.Now, items: map[string]memorySession{}}
}

// Save implements SessionStore.
func (m *MemorySessionStore) Save(_ context.Context, status *Status) error {
	if status == nil || status.SessionID == "" {
		return errors.New(errors.ErrCodeValidation, "session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var exp time.Time
	if m.ttl > 0 {
		exp = m.now().Add(m.ttl)
	}
	m.items[status.SessionID] = memorySession{status: status.clone(), expires: exp}
	return nil
}

// Load implements SessionStore.
func (m *MemorySessionStore) Load(_ context.Context, sessionID string) (*Status, error) {
	m.mu.RLock()
	item, ok := m.items[sessionID]
	m.mu.RUnlock()
	if !ok || (!item.expires.IsZero() && m.now().After(item.expires)) {
		return nil, errors.New(errors.ErrCodeSessionNotFound, "import session not found").WithDetail(sessionID)
	}
	return item.status.clone(), nil
}

// MemoryLocker is an in-process Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]string
}

// NewMemoryLocker creates an in-process Locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]string{}}
}

// Acquire implements Locker.  ttl is ignored.
func (l *MemoryLocker) Acquire(_ context.Context, key string, _ time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, errors.New(errors.ErrCodeSessionBusy, "import session is busy").WithDetail(key)
	}
	token := uuid.NewString()
	l.held[key] = token
	return &memoryLock{locker: l, key: key, token: token}, nil
}

type memoryLock struct {
	locker *MemoryLocker
	key    string
	token  string
}

func (h *memoryLock) Release(_ context.Context) error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()
	if h.locker.held[h.key] == h.token {
		delete(h.locker.held, h.key)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Side channels
// ─────────────────────────────────────────────────────────────────────────────

// DocumentArchive keeps the raw submitted text.
type DocumentArchive interface {
	// Archive stores text and returns its object key.
	Archive(ctx context.Context, sessionID string, text string, at time.Time) (string, error)
}

// AuditEntry is one finished import session.
type AuditEntry struct {
	SessionID    string                `json:"session_id"`
	DocumentType clinical.DocumentType `json:"document_type"`
	State        State                 `json:"state"`
	Imported     int                   `json:"imported"`
	Skipped      int                   `json:"skipped"`
	Total        int                   `json:"total"`
	Confidence   float64               `json:"confidence"`
	Error        string                `json:"error,omitempty"`
	ArchiveKey   string                `json:"archive_key,omitempty"`
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   time.Time             `json:"finished_at"`
}

// AuditLog records finished sessions.
type AuditLog interface {
	Record(ctx context.Context, entry *AuditEntry) error
	Recent(ctx context.Context, limit int) ([]*AuditEntry, error)
}

// MemoryAuditLog keeps audit entries in process.
type MemoryAuditLog struct {
	mu      sync.RWMutex
	entries []*AuditEntry
}

// NewMemoryAuditLog creates an empty in-process audit log.
func NewMemoryAuditLog() *MemoryAuditLog { return &MemoryAuditLog{} }

// Record implements AuditLog.
func (a *MemoryAuditLog) Record(_ context.Context, entry *AuditEntry) error {
	e := *entry
	a.mu.Lock()
	a.entries = append(a.entries, &e)
	a.mu.Unlock()
	return nil
}

// Recent implements AuditLog: newest first.
func (a *MemoryAuditLog) Recent(_ context.Context, limit int) ([]*AuditEntry, error) {
	a.mu.RLock()
	out := make([]*AuditEntry, len(a.entries))
	copy(out, a.entries)
	a.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Metrics observes the import workflow.
type Metrics interface {
	RecordTransition(from, to State)
	RecordDuplicateCheck(kind clinical.RecordKind, recommendation dedup.Recommendation)
	RecordImport(outcome string, imported, skipped int, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordTransition(State, State)                                  {}
func (noopMetrics) RecordDuplicateCheck(clinical.RecordKind, dedup.Recommendation) {}
func (noopMetrics) RecordImport(string, int, int, time.Duration)                   {}

//Personal.AI order the ending
