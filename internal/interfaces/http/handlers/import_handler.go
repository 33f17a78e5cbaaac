package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/KeyMed-Intelligence/internal/application/importing"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/internal/intelligence/doc_classifier"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

// ImportService is the session surface the handler drives.
type ImportService interface {
	SubmitDocument(ctx context.Context, text string) (string, error)
	GetStatus(ctx context.Context, sessionID string) (*importing.Status, error)
	ConfirmImport(ctx context.Context, sessionID string, decisions importing.Decisions) (*importing.ImportSummary, error)
	History(ctx context.Context, limit int) ([]*importing.AuditEntry, error)
}

// DocumentClassifier explains a classification.
type DocumentClassifier interface {
	Explain(rawText string) doc_classifier.Classification
}

// ImportHandler handles HTTP requests for import sessions.
type ImportHandler struct {
	svc        ImportService
	classifier DocumentClassifier
	logger     logging.Logger
}

// NewImportHandler creates a new ImportHandler.
func NewImportHandler(svc ImportService, classifier DocumentClassifier, logger logging.Logger) *ImportHandler {
	return &ImportHandler{svc: svc, classifier: classifier, logger: logging.OrNop(logger)}
}

// SubmitRequest carries a document.  Blank text is accepted; the session
// then ends in the error state.
type SubmitRequest struct {
	Text string `json:"text"`
}

// SubmitResponse is returned by Submit.
type SubmitResponse struct {
	SessionID string `json:"session_id"`
	StatusURL string `json:"status_url"`
}

// ConfirmRequest carries the review decisions.
type ConfirmRequest struct {
	Decisions map[string]string `json:"decisions" validate:"omitempty,dive,keys,required,endkeys,decision"`
}

// ClassifyRequest carries the text to classify.
type ClassifyRequest struct {
	Text string `json:"text" validate:"required"`
}

// Submit handles POST /imports.
func (h *ImportHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeAppError(w, err)
		return
	}

	id, err := h.svc.SubmitDocument(r.Context(), req.Text)
	if err != nil {
		h.logger.Error("failed to submit document", logging.Err(err))
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{SessionID: id, StatusURL: "/api/v1/imports/" + id})
}

// Status handles GET /imports/{sessionID}.
func (h *ImportHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	st, err := h.svc.GetStatus(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Confirm handles POST /imports/{sessionID}/confirm.  A decision-required
// answer carries the pending record keys in the detail.
func (h *ImportHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var req ConfirmRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeAppError(w, err)
		return
	}

	var decisions importing.Decisions
	if len(req.Decisions) > 0 {
		decisions = make(importing.Decisions, len(req.Decisions))
		for k, v := range req.Decisions {
			decisions[k] = importing.Decision(v)
		}
	}

	summary, err := h.svc.ConfirmImport(r.Context(), id, decisions)
	if err != nil {
		if !errors.IsClientError(errors.GetCode(err)) {
			h.logger.Error("import failed", logging.String("session_id", id), logging.Err(err))
		}
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// History handles GET /imports.
func (h *ImportHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	entries, err := h.svc.History(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to load import history", logging.Err(err))
		writeAppError(w, err)
		return
	}
	if entries == nil {
		entries = []*importing.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"imports": entries, "count": len(entries)})
}

// Classify handles POST /documents/classify.
func (h *ImportHandler) Classify(w http.ResponseWriter, r *http.Request) {
	if h.classifier == nil {
		writeAppError(w, errors.New(errors.ErrCodeNotImplemented, "classifier not configured"))
		return
	}
	var req ClassifyRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.classifier.Explain(req.Text))
}

//Personal.AI order the ending
