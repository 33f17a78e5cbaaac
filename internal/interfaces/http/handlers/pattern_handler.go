package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/KeyMed-Intelligence/internal/application/analysis"
	"github.com/turtacn/KeyMed-Intelligence/internal/domain/labpattern"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

// PatternService is the pattern-analysis surface the handler drives.
type PatternService interface {
	AnalyzeLabs(ctx context.Context, labs map[string]clinical.LabValue) ([]labpattern.Match, error)
	GetPattern(id string) (*labpattern.Pattern, error)
	GetPatternsByCategory(category string) []labpattern.Pattern
	Categories() []string
	Patterns() []labpattern.Pattern
	RecentMatches(ctx context.Context, n int) ([]*analysis.Analysis, error)
}

// PatternHandler handles HTTP requests for lab pattern analysis.
type PatternHandler struct {
	svc    PatternService
	logger logging.Logger
}

// NewPatternHandler creates a new PatternHandler.
func NewPatternHandler(svc PatternService, logger logging.Logger) *PatternHandler {
	return &PatternHandler{svc: svc, logger: logging.OrNop(logger)}
}

// AnalyzeRequest maps test names to values, e.g. {"Sodium": 130}.
type AnalyzeRequest struct {
	Labs map[string]clinical.LabValue `json:"labs"`
}

// AnalyzeResponse lists the matches ranked by confidence.
type AnalyzeResponse struct {
	LabCount int                `json:"lab_count"`
	Matches  []labpattern.Match `json:"matches"`
}

// Analyze handles POST /labs/analyze.
func (h *PatternHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeAppError(w, err)
		return
	}
	if len(req.Labs) == 0 {
		writeAppError(w, errors.New(errors.ErrCodeLabsEmpty, "at least one lab value is required"))
		return
	}

	matches, err := h.svc.AnalyzeLabs(r.Context(), req.Labs)
	if err != nil {
		h.logger.Error("lab analysis failed", logging.Err(err))
		writeAppError(w, err)
		return
	}
	if matches == nil {
		matches = []labpattern.Match{}
	}
	writeJSON(w, http.StatusOK, AnalyzeResponse{LabCount: len(req.Labs), Matches: matches})
}

// Recent handles GET /labs/matches/recent.
func (h *PatternHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	recent, err := h.svc.RecentMatches(r.Context(), limit)
	if err != nil {
		h.logger.Warn("recent matches unavailable", logging.Err(err))
		writeAppError(w, err)
		return
	}
	if recent == nil {
		recent = []*analysis.Analysis{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"analyses": recent, "count": len(recent)})
}

// List handles GET /patterns, optionally filtered by ?category=.
func (h *PatternHandler) List(w http.ResponseWriter, r *http.Request) {
	var patterns []labpattern.Pattern
	if category := r.URL.Query().Get("category"); category != "" {
		patterns = h.svc.GetPatternsByCategory(category)
	} else {
		patterns = h.svc.Patterns()
	}
	if patterns == nil {
		patterns = []labpattern.Pattern{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"patterns": patterns, "count": len(patterns)})
}

// Get handles GET /patterns/{patternID}.
func (h *PatternHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetPattern(chi.URLParam(r, "patternID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Categories handles GET /patterns/categories.
func (h *PatternHandler) Categories(w http.ResponseWriter, r *http.Request) {
	cats := h.svc.Categories()
	if cats == nil {
		cats = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"categories": cats})
}

//Personal.AI order the ending
