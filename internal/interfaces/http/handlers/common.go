// Package handlers implements the /api/v1 endpoints over the import and
// pattern-analysis services.
package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/turtacn/KeyMed-Intelligence/internal/application/importing"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("decision", validateDecision)
}

func validateDecision(fl validator.FieldLevel) bool {
	return importing.Decision(fl.Field().String()).IsValid()
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeAppError maps err to the status of its code.  Errors without a code
// and internal failures are masked.
func writeAppError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status := errors.HTTPStatusForCode(code)

	resp := ErrorResponse{Code: code.String(), Message: errors.DefaultMessageForCode(code)}
	var ae *errors.AppError
	if status < http.StatusInternalServerError && errors.As(err, &ae) {
		resp.Message = ae.Message
		resp.Detail = ae.Detail
	}
	writeJSON(w, status, resp)
}

// decodeBody reads a JSON body into dst and validates it.  An empty body is
// accepted when allowEmpty is set.
func decodeBody(r *http.Request, dst interface{}, allowEmpty bool) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeBadRequest, "failed to read request body")
	}
	if len(data) == 0 {
		if allowEmpty {
			return nil
		}
		return errors.New(errors.ErrCodeBadRequest, "request body is required")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.Wrap(err, errors.ErrCodeBadRequest, "invalid request body").WithDetail(err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, "request validation failed").WithDetail(err.Error())
	}
	return nil
}

// parseLimit reads the limit query parameter.
func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(errors.ErrCodeBadRequest, "limit must be an integer").WithDetail(v)
	}
	if err := validate.Var(n, "min=1,max=500"); err != nil {
		return 0, errors.New(errors.ErrCodeBadRequest, "limit out of range").WithDetail(v)
	}
	return n, nil
}

//Personal.AI order the ending
