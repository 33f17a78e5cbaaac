package importing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

// ServiceConfig tunes the session surface.
type ServiceConfig struct {
	ParseTimeout        time.Duration
	CandidateWindowDays int
	LockTTL             time.Duration
	PersistTimeout      time.Duration
	Now                 func() time.Time
}

const (
	defaultLockTTL        = 2 * time.Minute
	defaultPersistTimeout = 5 * time.Second
)

// Deps are the collaborators of the Service.  Sessions, Locker, Archive,
// Events and Audit are optional: in-memory or no-op versions are used when
// nil.
type Deps struct {
	Pipeline Pipeline
	Sessions SessionStore
	Locker   Locker
	Archive  DocumentArchive
	Events   EventPublisher
	Audit    AuditLog
}

// Service exposes import sessions to the HTTP and CLI surfaces.  Parsing
// runs in the background so SubmitDocument returns immediately.
type Service struct {
	deps   Deps
	cfg    ServiceConfig
	logger logging.Logger

	mu   sync.Mutex
	live map[string]*Orchestrator

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewService validates deps and builds the service.
func NewService(deps Deps, cfg ServiceConfig, logger logging.Logger) (*Service, error) {
	p := deps.Pipeline
	if p.Classifier == nil || p.Extractor == nil || p.Checker == nil || p.Store == nil {
		return nil, errors.New(errors.ErrCodeValidation, "import pipeline requires classifier, extractor, duplicate checker and record store")
	}
	if deps.Pipeline.Metrics == nil {
		deps.Pipeline.Metrics = noopMetrics{}
	}
	if deps.Sessions == nil {
		deps.Sessions = NewMemorySessionStore(0)
	}
	if deps.Locker == nil {
		deps.Locker = NewMemoryLocker()
	}
	if deps.Events == nil {
		deps.Events = noopPublisher{}
	}
	if deps.Audit == nil {
		deps.Audit = NewMemoryAuditLog()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		deps:   deps,
		cfg:    cfg,
		logger: logging.OrNop(logger).Named("import-service"),
		live:   map[string]*Orchestrator{},
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (s *Service) orchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		ParseTimeout:        s.cfg.ParseTimeout,
		CandidateWindowDays: s.cfg.CandidateWindowDays,
		Now:                 s.cfg.Now,
	}
}

// SubmitDocument opens a session for text and starts parsing it in the
// background.  The returned id is valid even when the document turns out to
// be unusable; the session then ends in StateError.
func (s *Service) SubmitDocument(ctx context.Context, text string) (string, error) {
	id := uuid.NewString()
	o := NewOrchestrator(id, text, s.deps.Pipeline, s.orchestratorConfig(), s.logger)
	if err := s.deps.Sessions.Save(ctx, o.Status()); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeCacheError, "persist new import session")
	}
	o.OnChange(s.persist)

	if s.deps.Archive != nil && strings.TrimSpace(text) != "" {
		key, err := s.deps.Archive.Archive(ctx, id, text, s.cfg.Now())
		if err != nil {
			s.logger.Warn("raw document archive failed", logging.String("session_id", id), logging.Err(err))
		} else {
			o.update(func(st *Status) { st.ArchiveKey = key })
		}
	}

	s.mu.Lock()
	s.live[id] = o
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := o.Parse(s.ctx); err != nil {
			s.finish(s.ctx, o)
		}
	}()
	s.logger.Info("document submitted", logging.String("session_id", id), logging.Int("chars", len([]rune(text))))
	return id, nil
}

// GetStatus returns the session snapshot.
func (s *Service) GetStatus(ctx context.Context, sessionID string) (*Status, error) {
	s.mu.Lock()
	o, ok := s.live[sessionID]
	s.mu.Unlock()
	if ok {
		return o.Status(), nil
	}
	return s.deps.Sessions.Load(ctx, sessionID)
}

// ConfirmImport runs duplicate checking (first call) and the import.  When
// records still need review it returns errors.ErrCodeDecisionRequired and
// the session stays open for another call with decisions.  On a store
// failure the partial summary is returned with the error.
func (s *Service) ConfirmImport(ctx context.Context, sessionID string, decisions Decisions) (*ImportSummary, error) {
	lock, err := s.deps.Locker.Acquire(ctx, "import:"+sessionID, s.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rErr := lock.Release(context.Background()); rErr != nil {
			s.logger.Warn("release session lock failed", logging.String("session_id", sessionID), logging.Err(rErr))
		}
	}()

	o, err := s.orchestrator(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch st := o.State(); st {
	case StateReviewing:
		if err := o.CheckDuplicates(ctx); err != nil {
			s.finish(ctx, o)
			return nil, err
		}
	case StateCheckingDuplicates:
	case StateIdle, StateParsing:
		return nil, errors.New(errors.ErrCodeSessionNotConfirmable, "document is still being parsed").WithDetail(sessionID)
	default:
		return nil, errors.New(errors.ErrCodeSessionNotConfirmable, "import session is already "+string(st)).WithDetail(sessionID)
	}

	summary, err := o.Import(ctx, decisions)
	if err != nil && (errors.IsCode(err, errors.ErrCodeDecisionRequired) || errors.IsCode(err, errors.ErrCodeInvalidDecision)) {
		return nil, err
	}
	s.finish(ctx, o)
	return summary, err
}

// History returns the most recent finished sessions, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]*AuditEntry, error) {
	return s.deps.Audit.Recent(ctx, limit)
}

// Wait blocks until every background parse has finished.
func (s *Service) Wait() { s.wg.Wait() }

// Close cancels background parses and waits for them.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// orchestrator returns the live session or restores it from the store.
func (s *Service) orchestrator(ctx context.Context, sessionID string) (*Orchestrator, error) {
	s.mu.Lock()
	o, ok := s.live[sessionID]
	s.mu.Unlock()
	if ok {
		return o, nil
	}
	st, err := s.deps.Sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if st.State.IsTerminal() {
		return nil, errors.New(errors.ErrCodeSessionNotConfirmable, "import session is already "+string(st.State)).WithDetail(sessionID)
	}
	o, err = RestoreOrchestrator(st, s.deps.Pipeline, s.orchestratorConfig(), s.logger)
	if err != nil {
		return nil, err
	}
	o.OnChange(s.persist)
	s.mu.Lock()
	s.live[sessionID] = o
	s.mu.Unlock()
	return o, nil
}

// persist saves a snapshot.  Failures are logged; the live orchestrator
// stays authoritative on this replica.
func (s *Service) persist(st *Status) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
	defer cancel()
	if err := s.deps.Sessions.Save(ctx, st); err != nil {
		s.logger.Warn("persist import session failed", logging.String("session_id", st.SessionID), logging.Err(err))
	}
}

// finish records a terminal session in the audit log, announces it and
// drops it from the live set.
func (s *Service) finish(ctx context.Context, o *Orchestrator) {
	st := o.Status()
	if !st.State.IsTerminal() {
		return
	}
	entry := &AuditEntry{
		SessionID:    st.SessionID,
		DocumentType: st.DocumentType,
		State:        st.State,
		Error:        st.Error,
		ArchiveKey:   st.ArchiveKey,
		StartedAt:    st.CreatedAt,
		FinishedAt:   st.UpdatedAt,
	}
	if st.Extraction != nil {
		entry.Confidence = st.Extraction.Confidence
		entry.Total = st.Extraction.RecordCount()
	}
	if st.Summary != nil {
		entry.Imported = st.Summary.ImportedTotal()
		entry.Skipped = st.Summary.SkippedTotal()
	}
	// Outlive the request.
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
	defer cancel()
	if err := s.deps.Audit.Record(bg, entry); err != nil {
		s.logger.Warn("audit import session failed", logging.String("session_id", st.SessionID), logging.Err(err))
	}

	var err error
	if st.State == StateComplete {
		err = s.deps.Events.PublishImportCompleted(bg, st)
	} else {
		err = s.deps.Events.PublishImportFailed(bg, st)
	}
	if err != nil {
		s.logger.Warn("publish import event failed", logging.String("session_id", st.SessionID), logging.Err(err))
	}

	s.mu.Lock()
	delete(s.live, st.SessionID)
	s.mu.Unlock()
}

//Personal.AI order the ending
