// Package importing runs clinical documents through the import pipeline:
// classification, extraction, duplicate checking and the commit of accepted
// records to the longitudinal store.  Each submitted document gets its own
// Orchestrator, a small state machine whose snapshot is the session status
// exposed to callers.
package importing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/turtacn/KeyMed-Intelligence/internal/domain/dedup"
	"github.com/turtacn/KeyMed-Intelligence/internal/domain/record"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

// User-facing error messages.  They never carry internal error text.
const (
	MsgNoText            = "The document contains no extractable text."
	MsgTimeout           = "Extraction did not finish in time. Nothing was imported; try again once the extraction service responds."
	MsgExtractionFailed  = "The document could not be processed. Nothing was imported."
	MsgStoreRead         = "Existing records could not be read to check for duplicates. Nothing was imported."
	MsgDuplicateCheck    = "Duplicate checking failed. Nothing was imported."
	MsgStoreWrite        = "Imported %d of %d records before the record store failed; the remaining records were not imported."
	MsgInternal          = "An unexpected internal error stopped the import while %s."
	MsgInvalidTransition = "The import cannot move from %s to %s."
)

// Pipeline bundles the collaborators an Orchestrator drives.
type Pipeline struct {
	Classifier Classifier
	Extractor  Extractor
	Checker    DuplicateChecker
	Store      record.Store
	Metrics    Metrics
}

// OrchestratorConfig tunes one session.
type OrchestratorConfig struct {
	// ParseTimeout bounds the extraction call.  Zero leaves it to ctx.
	ParseTimeout time.Duration
	// CandidateWindowDays limits the stored records fetched for duplicate
	// checking to this many days around the candidate's date.
	CandidateWindowDays int
	// Now is the clock used for timestamps.
	Now func() time.Time
}

// DecisionFunc resolves records that need review.  It receives the pending
// checks and returns a decision per key.
type DecisionFunc func(ctx context.Context, pending []RecordCheck) (Decisions, error)

// Orchestrator is the state machine of one import session.  Status may be
// called concurrently with the phase methods; the phases themselves must be
// called in order by a single caller.
type Orchestrator struct {
	mu       sync.RWMutex
	status   *Status
	text     string
	records  []keyedRecord
	pipe     Pipeline
	cfg      OrchestratorConfig
	logger   logging.Logger
	onChange func(*Status)
}

// NewOrchestrator starts a session in StateIdle for text.
func NewOrchestrator(sessionID, text string, pipe Pipeline, cfg OrchestratorConfig, logger logging.Logger) *Orchestrator {
	o := newOrchestrator(pipe, cfg, logger)
	now := o.cfg.Now()
	o.text = text
	o.status = &Status{
		SessionID:     sessionID,
		State:         StateIdle,
		Progress:      ProgressIdle,
		DocumentChars: len([]rune(text)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	o.logger = o.logger.With(logging.String("session_id", sessionID))
	return o
}

// RestoreOrchestrator rebuilds a session from a persisted snapshot.  Only
// sessions past parsing can be restored; the raw text is not persisted.
func RestoreOrchestrator(status *Status, pipe Pipeline, cfg OrchestratorConfig, logger logging.Logger) (*Orchestrator, error) {
	if status == nil || status.SessionID == "" {
		return nil, errors.New(errors.ErrCodeSessionNotFound, "import session snapshot is empty")
	}
	switch status.State {
	case StateIdle, StateParsing:
		return nil, errors.New(errors.ErrCodeSessionNotConfirmable, "import session is still parsing").
			WithDetail(status.SessionID)
	}
	o := newOrchestrator(pipe, cfg, logger)
	o.status = status.clone()
	if status.Extraction != nil {
		o.records = keyRecords(status.Extraction)
	}
	o.logger = o.logger.With(logging.String("session_id", status.SessionID))
	return o, nil
}

func newOrchestrator(pipe Pipeline, cfg OrchestratorConfig, logger logging.Logger) *Orchestrator {
	if pipe.Metrics == nil {
		pipe.Metrics = noopMetrics{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		pipe:   pipe,
		cfg:    cfg,
		logger: logging.OrNop(logger).Named("import"),
	}
}

// OnChange registers a hook receiving a snapshot after every change.  It is
// called outside the orchestrator lock.
func (o *Orchestrator) OnChange(fn func(*Status)) {
	o.mu.Lock()
	o.onChange = fn
	o.mu.Unlock()
}

// Status returns a snapshot of the session.
func (o *Orchestrator) Status() *Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status.clone()
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status.State
}

// ─────────────────────────────────────────────────────────────────────────────
// Phases
// ─────────────────────────────────────────────────────────────────────────────

// Parse classifies and extracts the document: idle → parsing → reviewing.
// Low-confidence extractions still reach reviewing.
func (o *Orchestrator) Parse(ctx context.Context) (err error) {
	defer o.guard("parsing the document", &err)

	if err := o.transition(StateParsing, ProgressParsing); err != nil {
		return err
	}
	o.mu.Lock()
	text := strings.TrimSpace(o.text)
	o.text = ""
	o.mu.Unlock()
	if text == "" {
		return o.fail(MsgNoText, errors.New(errors.ErrCodeDocumentEmpty, "document has no text"))
	}

	docType := o.pipe.Classifier.Classify(text)
	o.update(func(s *Status) {
		s.DocumentType = docType
		s.Progress = ProgressClassified
	})

	ectx := ctx
	if o.cfg.ParseTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, o.cfg.ParseTimeout)
		defer cancel()
	}
	ext, extErr := o.pipe.Extractor.Extract(ectx, text, docType)
	if extErr != nil {
		if errors.IsCode(extErr, errors.ErrCodeExtractionTimeout) {
			return o.fail(MsgTimeout, extErr)
		}
		return o.fail(MsgExtractionFailed, extErr)
	}
	if ext == nil {
		return o.fail(MsgExtractionFailed, errors.New(errors.ErrCodeExtractionFailed, "extractor returned no result"))
	}

	records := keyRecords(ext)
	o.mu.Lock()
	o.records = records
	o.mu.Unlock()
	o.update(func(s *Status) {
		s.Extraction = ext
		s.Progress = ProgressParsed
	})
	o.logger.Info("document parsed",
		logging.String("document_type", docType.String()),
		logging.Int("records", len(records)),
		logging.Float64("confidence", ext.Confidence))
	return o.transition(StateReviewing, ProgressReviewing)
}

// CheckDuplicates compares every extracted record with the store:
// reviewing → checking-duplicates.  The store is only read.
func (o *Orchestrator) CheckDuplicates(ctx context.Context) (err error) {
	defer o.guard("checking for duplicates", &err)

	if err := o.transition(StateCheckingDuplicates, ProgressChecking); err != nil {
		return err
	}
	o.mu.RLock()
	records := o.records
	o.mu.RUnlock()

	checks := make([]RecordCheck, 0, len(records))
	var pending []string
	for _, kr := range records {
		kind := kr.Record.Kind
		existing, qErr := o.pipe.Store.Query(ctx, kind, record.CandidateWindow(kr.Record.Date(), o.cfg.CandidateWindowDays))
		if qErr != nil {
			return o.fail(MsgStoreRead, qErr)
		}
		res, cErr := o.pipe.Checker.Check(kr.Record, existing, kind)
		if cErr != nil {
			return o.fail(MsgDuplicateCheck, cErr)
		}
		checks = append(checks, RecordCheck{
			Key:            kr.Key,
			Kind:           kind,
			Record:         kr.Record,
			Matches:        res.Matches,
			Recommendation: res.Recommendation,
		})
		if res.Recommendation == dedup.RecommendReview {
			pending = append(pending, kr.Key)
		}
		o.pipe.Metrics.RecordDuplicateCheck(kind, res.Recommendation)
	}
	o.update(func(s *Status) {
		s.Duplicates = checks
		s.PendingReview = pending
	})
	o.logger.Info("duplicate check finished",
		logging.Int("records", len(checks)),
		logging.Int("pending_review", len(pending)))
	return nil
}

// Import commits the accepted records: checking-duplicates → importing →
// complete.  Records recommended for review need a decision; when any is
// missing the session stays in checking-duplicates and
// errors.ErrCodeDecisionRequired is returned.  A store failure returns the
// partial summary together with the error.
func (o *Orchestrator) Import(ctx context.Context, decisions Decisions) (summary *ImportSummary, err error) {
	defer o.guard("importing records", &err)

	o.mu.RLock()
	state := o.status.State
	checks := o.status.Duplicates
	o.mu.RUnlock()
	if state != StateCheckingDuplicates {
		return nil, o.transition(StateImporting, ProgressImporting)
	}

	byKey := make(map[string]int, len(checks))
	for i, c := range checks {
		byKey[c.Key] = i
	}
	for key, d := range decisions {
		if _, ok := byKey[key]; !ok {
			return nil, errors.New(errors.ErrCodeInvalidDecision, "decision for unknown record").WithDetail(key)
		}
		if !d.IsValid() {
			return nil, errors.New(errors.ErrCodeInvalidDecision, "decision must be import or skip").
				WithDetail(key + "=" + string(d))
		}
	}

	resolved := make([]RecordCheck, len(checks))
	var pending []string
	toImport := 0
	for i, c := range checks {
		c.Decision = decisions[c.Key]
		if c.Decision == "" {
			switch c.Recommendation {
			case dedup.RecommendSkip:
				c.Decision = DecisionSkip
			case dedup.RecommendReview:
				pending = append(pending, c.Key)
			default:
				c.Decision = DecisionImport
			}
		}
		if c.Decision == DecisionImport {
			toImport++
		}
		resolved[i] = c
	}
	if len(pending) > 0 {
		o.update(func(s *Status) { s.PendingReview = pending })
		return nil, errors.New(errors.ErrCodeDecisionRequired, "records need a review decision").
			WithDetail(strings.Join(pending, ","))
	}

	if err := o.transition(StateImporting, ProgressImporting); err != nil {
		return nil, err
	}
	o.update(func(s *Status) {
		s.Duplicates = resolved
		s.PendingReview = nil
	})

	o.mu.RLock()
	sessionID := o.status.SessionID
	o.mu.RUnlock()
	summary = newSummary(sessionID, len(resolved))
	wctx := record.WithSession(ctx, sessionID)
	start := time.Now()

	for i, c := range resolved {
		if c.Decision == DecisionSkip {
			summary.Skipped[c.Kind]++
		} else {
			id, aErr := o.pipe.Store.Append(wctx, c.Kind, c.Record)
			if aErr != nil {
				// The failed record and every later one meant for import.
				summary.Failed = toImport - summary.ImportedTotal()
				o.update(func(s *Status) { s.Summary = summary })
				o.pipe.Metrics.RecordImport("partial", summary.ImportedTotal(), summary.SkippedTotal(), time.Since(start))
				msg := fmt.Sprintf(MsgStoreWrite, summary.ImportedTotal(), toImport)
				return summary, o.fail(msg, errors.Wrap(aErr, errors.ErrCodeImportPartial, "record store append failed"))
			}
			summary.Imported[c.Kind]++
			summary.RecordIDs[c.Key] = id
		}
		done := i + 1
		o.update(func(s *Status) {
			s.Progress = ProgressImporting + (ProgressComplete-ProgressImporting)*done/len(resolved)
		})
	}

	summary.Complete = true
	o.update(func(s *Status) { s.Summary = summary })
	o.pipe.Metrics.RecordImport("complete", summary.ImportedTotal(), summary.SkippedTotal(), time.Since(start))
	o.logger.Info("import complete",
		logging.Int("imported", summary.ImportedTotal()),
		logging.Int("skipped", summary.SkippedTotal()))
	return summary, o.transition(StateComplete, ProgressComplete)
}

// Run drives a whole session: parse, check duplicates, resolve pending
// reviews through decide, import.  With a nil decide, records that need
// review stop the run with errors.ErrCodeDecisionRequired.
func (o *Orchestrator) Run(ctx context.Context, decide DecisionFunc) (*ImportSummary, error) {
	if err := o.Parse(ctx); err != nil {
		return nil, err
	}
	if err := o.CheckDuplicates(ctx); err != nil {
		return nil, err
	}
	var decisions Decisions
	if pending := o.pendingChecks(); len(pending) > 0 && decide != nil {
		d, err := decide(ctx, pending)
		if err != nil {
			return nil, err
		}
		decisions = d
	}
	return o.Import(ctx, decisions)
}

func (o *Orchestrator) pendingChecks() []RecordCheck {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []RecordCheck
	for _, c := range o.status.Duplicates {
		if c.Recommendation == dedup.RecommendReview {
			out = append(out, c)
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// State plumbing
// ─────────────────────────────────────────────────────────────────────────────

// update applies fn under the lock and publishes the new snapshot.
func (o *Orchestrator) update(fn func(*Status)) {
	o.mu.Lock()
	fn(o.status)
	o.status.UpdatedAt = o.cfg.Now()
	snap := o.status.clone()
	hook := o.onChange
	o.mu.Unlock()
	if hook != nil {
		hook(snap)
	}
}

// transition moves to `to`.  An illegal move fails the session (unless it is
// already terminal) and returns errors.ErrCodeInvalidTransition.
func (o *Orchestrator) transition(to State, progress int) error {
	o.mu.RLock()
	from := o.status.State
	o.mu.RUnlock()

	if !CanTransition(from, to) {
		cause := errors.New(errors.ErrCodeInvalidTransition, "invalid import state transition").
			WithDetail(string(from) + " -> " + string(to))
		if from.IsTerminal() {
			return cause
		}
		return o.fail(fmt.Sprintf(MsgInvalidTransition, from, to), cause)
	}
	o.update(func(s *Status) {
		s.State = to
		s.Progress = progress
	})
	o.pipe.Metrics.RecordTransition(from, to)
	o.logger.Debug("import state changed", logging.String("from", from.String()), logging.String("to", to.String()))
	return nil
}

// fail moves the session to StateError with a user-facing message and
// returns cause.
func (o *Orchestrator) fail(message string, cause error) error {
	o.mu.RLock()
	from := o.status.State
	o.mu.RUnlock()
	if from.IsTerminal() {
		return cause
	}
	o.update(func(s *Status) {
		s.State = StateError
		s.Error = message
		s.ErrorCode = errors.GetCode(cause).String()
	})
	o.pipe.Metrics.RecordTransition(from, StateError)
	o.logger.Warn("import failed",
		logging.String("state", from.String()),
		logging.String("message", message),
		logging.Err(cause))
	return cause
}

// guard turns a panic inside a phase into StateError.
func (o *Orchestrator) guard(phase string, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	cause := errors.New(errors.ErrCodeInternal, "panic during import").WithDetail(fmt.Sprint(r))
	o.logger.Error("import phase panicked", logging.String("phase", phase), logging.Any("panic", r))
	*errp = o.fail(fmt.Sprintf(MsgInternal, phase), cause)
}

//Personal.AI order the ending
