// Package record_extractor turns raw clinical document text into a typed
// RecordExtraction by prompting a local language model over HTTP.  Model and
// parse failures never escape as errors: they fold into a zero-confidence
// result carrying warnings.  Only a timeout or cancellation is returned to
// the caller.
package record_extractor

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/internal/intelligence/common"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config tunes the extractor.
type Config struct {
	// MaxDocumentChars truncates very long documents before prompting.
	MaxDocumentChars int

	// InheritDocumentDate lets lab, imaging and vital rows without their own
	// date use the document's date of service.
	InheritDocumentDate bool

	// Now is the clock used for future-date checks.  Defaults to time.Now.
	Now func() time.Time
}

// DefaultMaxDocumentChars is the default prompt text limit.
const DefaultMaxDocumentChars = 48000

// DefaultConfig returns the standard extractor settings.
func DefaultConfig() Config {
	return Config{
		MaxDocumentChars:    DefaultMaxDocumentChars,
		InheritDocumentDate: true,
		Now:                 time.Now,
	}
}

// Warnings surfaced to the user when the model cannot be used.
const (
	WarnNoText       = "The document contains no extractable text."
	WarnUnavailable  = "The extraction service is unavailable; no records were extracted."
	WarnUnusable     = "The extraction service returned an unusable answer twice; no records were extracted."
	WarnTruncated    = "The document was truncated before extraction; records near the end may be missing."
	WarnRepaired     = "The first extraction answer was malformed and was repaired on retry."
	WarnNoneSurvived = "No usable records were found in the document."
)

// ---------------------------------------------------------------------------
// Extractor
// ---------------------------------------------------------------------------

// Extractor drives one model round trip (plus at most one repair) per
// document.  It is safe for concurrent use.
type Extractor struct {
	client   LLMClient
	prompts  *PromptBuilder
	validate *validator.Validate
	cfg      Config
	logger   logging.Logger
	metrics  common.IntelligenceMetrics
}

// NewExtractor wires an extractor.  metrics may be nil.
func NewExtractor(client LLMClient, cfg Config, logger logging.Logger, metrics common.IntelligenceMetrics) (*Extractor, error) {
	if client == nil {
		return nil, errors.New(errors.ErrCodeValidation, "llm client is required")
	}
	if cfg.MaxDocumentChars <= 0 {
		cfg.MaxDocumentChars = DefaultMaxDocumentChars
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Extractor{
		client:   client,
		prompts:  NewPromptBuilder(),
		validate: validator.New(),
		cfg:      cfg,
		logger:   logging.OrNop(logger).Named("extractor"),
		metrics:  common.OrNoop(metrics),
	}, nil
}

// Extract parses rawText as a document of docType.  The returned extraction is
// never nil.  err is non-nil only with ErrCodeExtractionTimeout, when ctx
// expired or was cancelled during the model call.
func (e *Extractor) Extract(ctx context.Context, rawText string, docType clinical.DocumentType) (*clinical.RecordExtraction, error) {
	start := time.Now()
	if !docType.IsValid() {
		docType = clinical.DocumentUnknown
	}
	text := strings.TrimSpace(rawText)
	if text == "" {
		return clinical.NewEmptyExtraction(docType, WarnNoText), nil
	}

	var notes []string
	if n := len([]rune(text)); n > e.cfg.MaxDocumentChars {
		text = truncateRunes(text, e.cfg.MaxDocumentChars)
		notes = append(notes, WarnTruncated)
		e.logger.Warn("document truncated for extraction",
			logging.Int("chars", n), logging.Int("limit", e.cfg.MaxDocumentChars))
	}

	answer, d, repaired, err := e.complete(ctx, text, docType)
	if err != nil {
		outcome := common.OutcomeFallback
		if errors.IsCode(err, errors.ErrCodeExtractionTimeout) {
			outcome = common.OutcomeTimeout
		}
		res := clinical.NewEmptyExtraction(docType, append(notes, failureWarning(err))...)
		e.finish(ctx, docType, res, outcome, repaired, start)
		if errors.IsCode(err, errors.ErrCodeExtractionTimeout) {
			return res, err
		}
		return res, nil
	}

	if repaired {
		notes = append(notes, WarnRepaired)
	}
	d.Warnings = append(notes, d.Warnings...)
	res, q := newSanitizer(e.cfg.Now(), e.cfg.InheritDocumentDate, e.validate).run(d, docType)
	res.Confidence = score(q, res.RecordCount(), countUncertainty(answer))
	if res.RecordCount() == 0 {
		res.Warnings = append(res.Warnings, WarnNoneSurvived)
	}
	e.finish(ctx, docType, res, common.OutcomeSuccess, repaired, start)
	return res, nil
}

// complete runs the first attempt and, if the answer does not parse, one
// repair attempt.  Transport failures are not retried.
func (e *Extractor) complete(ctx context.Context, text string, docType clinical.DocumentType) (string, *draft, bool, error) {
	prompt, err := e.prompts.Build(docType, text)
	if err != nil {
		return "", nil, false, errors.Wrap(err, errors.ErrCodeExtractionFailed, "build prompt")
	}
	answer, err := e.call(ctx, prompt, text, docType, 1)
	if err != nil {
		return "", nil, false, err
	}
	d, parseErr := parseAnswer(answer)
	if parseErr == nil {
		return answer, d, false, nil
	}
	e.logger.Warn("extraction answer rejected, requesting repair", logging.Err(parseErr))

	prompt, err = e.prompts.BuildRepair(docType, text, answer, parseErr)
	if err != nil {
		return "", nil, true, errors.Wrap(err, errors.ErrCodeExtractionFailed, "build repair prompt")
	}
	answer, err = e.call(ctx, prompt, text, docType, 2)
	if err != nil {
		return "", nil, true, err
	}
	d, parseErr = parseAnswer(answer)
	if parseErr != nil {
		return "", nil, true, errors.Wrap(parseErr, errors.ErrCodeExtractionFailed, "repaired answer rejected")
	}
	return answer, d, true, nil
}

func (e *Extractor) call(ctx context.Context, prompt, text string, docType clinical.DocumentType, attempt int) (string, error) {
	start := time.Now()
	answer, err := e.client.Complete(ctx, &LLMRequest{
		Prompt:       prompt,
		RawText:      text,
		DocumentType: docType.String(),
	})
	outcome := common.OutcomeSuccess
	if err != nil {
		outcome = callOutcome(err)
	}
	e.metrics.RecordLLMCall(ctx, &common.LLMCallParams{
		Model:        e.client.Model(),
		DocumentType: docType.String(),
		Attempt:      attempt,
		DurationMs:   float64(time.Since(start).Microseconds()) / 1000,
		Outcome:      outcome,
	})
	if err != nil {
		if ctx.Err() != nil && !errors.IsCode(err, errors.ErrCodeExtractionTimeout) {
			err = contextError(ctx, err)
		}
		e.logger.Warn("llm call failed",
			logging.Int("attempt", attempt),
			logging.String("code", errors.GetCode(err).String()),
			logging.Err(err))
		return "", err
	}
	return answer, nil
}

func (e *Extractor) finish(ctx context.Context, docType clinical.DocumentType, res *clinical.RecordExtraction, outcome string, repaired bool, start time.Time) {
	elapsed := time.Since(start)
	e.metrics.RecordExtraction(ctx, &common.ExtractionParams{
		DocumentType: docType.String(),
		Outcome:      outcome,
		Records:      res.RecordCount(),
		Warnings:     len(res.Warnings),
		Confidence:   res.Confidence,
		Repaired:     repaired,
		DurationMs:   float64(elapsed.Microseconds()) / 1000,
	})
	e.logger.Info("extraction finished",
		logging.String("document_type", docType.String()),
		logging.String("outcome", outcome),
		logging.Int("records", res.RecordCount()),
		logging.Int("warnings", len(res.Warnings)),
		logging.Float64("confidence", res.Confidence),
		logging.Duration("elapsed", elapsed))
}

func callOutcome(err error) string {
	switch errors.GetCode(err) {
	case errors.ErrCodeExtractionTimeout:
		return common.OutcomeTimeout
	case errors.ErrCodeLLMBadStatus:
		return common.OutcomeBadStatus
	case errors.ErrCodeLLMEmptyResponse:
		return common.OutcomeEmpty
	case errors.ErrCodeLLMMalformedResponse:
		return common.OutcomeParseError
	default:
		return common.OutcomeUnavailable
	}
}

// failureWarning renders a user-facing warning for a failed extraction.
func failureWarning(err error) string {
	var appErr *errors.AppError
	detail := err.Error()
	if stderrors.As(err, &appErr) {
		detail = appErr.Message
		if appErr.Cause != nil {
			detail = appErr.Cause.Error()
		}
	}
	switch errors.GetCode(err) {
	case errors.ErrCodeExtractionTimeout:
		return "The extraction service did not answer in time."
	case errors.ErrCodeExtractionFailed:
		return fmt.Sprintf("%s (%s)", WarnUnusable, detail)
	case errors.ErrCodeLLMBadStatus, errors.ErrCodeLLMEmptyResponse, errors.ErrCodeLLMMalformedResponse:
		return fmt.Sprintf("The extraction service returned an error: %s; no records were extracted.", detail)
	default:
		return WarnUnavailable
	}
}

//Personal.AI order the ending
