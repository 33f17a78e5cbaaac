package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
// Codes follow the "<MODULE>_<NNN>" convention.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeUnauthorized       ErrorCode = "COMMON_003"
	ErrCodeForbidden          ErrorCode = "COMMON_004"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeMessageQueueError  ErrorCode = "COMMON_015"
	ErrCodeStorageError       ErrorCode = "COMMON_016"
	ErrCodeNotImplemented     ErrorCode = "COMMON_017"
)

// Aliases used by infrastructure packages.
const (
	CodeUnknown       = ErrorCode("")
	CodeOK            = ErrorCode("OK")
	CodeInternal      = ErrCodeInternal
	CodeInvalidParam  = ErrCodeBadRequest
	CodeNotFound      = ErrCodeNotFound
	CodeConflict      = ErrCodeConflict
	CodeRateLimit     = ErrCodeTooManyRequests
	CodeDatabaseError = ErrCodeDatabaseError
	CodeCacheError    = ErrCodeCacheError
)

// Extraction Module Error Codes
const (
	ErrCodeExtractionFailed      ErrorCode = "EXT_001"
	ErrCodeExtractionTimeout     ErrorCode = "EXT_002"
	ErrCodeLLMUnavailable        ErrorCode = "EXT_003"
	ErrCodeLLMBadStatus          ErrorCode = "EXT_004"
	ErrCodeLLMEmptyResponse      ErrorCode = "EXT_005"
	ErrCodeLLMMalformedResponse  ErrorCode = "EXT_006"
	ErrCodeExtractionSchemaError ErrorCode = "EXT_007"
	ErrCodeDocumentEmpty         ErrorCode = "EXT_008"
)

// Duplicate Detection Error Codes
const (
	ErrCodeDuplicateKindMismatch ErrorCode = "DUP_001"
	ErrCodeDuplicateCheckFailed  ErrorCode = "DUP_002"
)

// Import Module Error Codes
const (
	ErrCodeSessionNotFound       ErrorCode = "IMP_001"
	ErrCodeInvalidTransition     ErrorCode = "IMP_002"
	ErrCodeDecisionRequired      ErrorCode = "IMP_003"
	ErrCodeImportPartial         ErrorCode = "IMP_004"
	ErrCodeInvalidDecision       ErrorCode = "IMP_005"
	ErrCodeSessionBusy           ErrorCode = "IMP_006"
	ErrCodeSessionNotConfirmable ErrorCode = "IMP_007"
)

// Lab Pattern Module Error Codes
const (
	ErrCodePatternNotFound   ErrorCode = "PTN_001"
	ErrCodePatternInvalid    ErrorCode = "PTN_002"
	ErrCodePatternLoadFailed ErrorCode = "PTN_003"
	ErrCodeLabsEmpty         ErrorCode = "PTN_004"
)

// Record Store Error Codes
const (
	ErrCodeRecordNotFound    ErrorCode = "REC_001"
	ErrCodeRecordInvalid     ErrorCode = "REC_002"
	ErrCodeRecordKindUnknown ErrorCode = "REC_003"
	ErrCodeRecordWriteFailed ErrorCode = "REC_004"
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeMessageQueueError:  http.StatusInternalServerError,
	ErrCodeStorageError:       http.StatusInternalServerError,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeExtractionFailed:      http.StatusBadGateway,
	ErrCodeExtractionTimeout:     http.StatusGatewayTimeout,
	ErrCodeLLMUnavailable:        http.StatusServiceUnavailable,
	ErrCodeLLMBadStatus:          http.StatusBadGateway,
	ErrCodeLLMEmptyResponse:      http.StatusBadGateway,
	ErrCodeLLMMalformedResponse:  http.StatusBadGateway,
	ErrCodeExtractionSchemaError: http.StatusUnprocessableEntity,
	ErrCodeDocumentEmpty:         http.StatusBadRequest,

	ErrCodeDuplicateKindMismatch: http.StatusBadRequest,
	ErrCodeDuplicateCheckFailed:  http.StatusInternalServerError,

	ErrCodeSessionNotFound:       http.StatusNotFound,
	ErrCodeInvalidTransition:     http.StatusConflict,
	ErrCodeDecisionRequired:      http.StatusConflict,
	ErrCodeImportPartial:         http.StatusInternalServerError,
	ErrCodeInvalidDecision:       http.StatusBadRequest,
	ErrCodeSessionBusy:           http.StatusConflict,
	ErrCodeSessionNotConfirmable: http.StatusConflict,

	ErrCodePatternNotFound:   http.StatusNotFound,
	ErrCodePatternInvalid:    http.StatusBadRequest,
	ErrCodePatternLoadFailed: http.StatusInternalServerError,
	ErrCodeLabsEmpty:         http.StatusBadRequest,

	ErrCodeRecordNotFound:    http.StatusNotFound,
	ErrCodeRecordInvalid:     http.StatusBadRequest,
	ErrCodeRecordKindUnknown: http.StatusBadRequest,
	ErrCodeRecordWriteFailed: http.StatusInternalServerError,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeUnauthorized:       "unauthorized",
	ErrCodeForbidden:          "forbidden",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeMessageQueueError:  "message queue error",
	ErrCodeStorageError:       "object storage error",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeExtractionFailed:      "document extraction failed",
	ErrCodeExtractionTimeout:     "document extraction timed out",
	ErrCodeLLMUnavailable:        "language model service unavailable",
	ErrCodeLLMBadStatus:          "language model service returned an error status",
	ErrCodeLLMEmptyResponse:      "language model service returned an empty response",
	ErrCodeLLMMalformedResponse:  "language model response is not valid JSON",
	ErrCodeExtractionSchemaError: "extraction does not match the expected schema",
	ErrCodeDocumentEmpty:         "document contains no extractable text",

	ErrCodeDuplicateKindMismatch: "record kind does not match the requested kind",
	ErrCodeDuplicateCheckFailed:  "duplicate check failed",

	ErrCodeSessionNotFound:       "import session not found",
	ErrCodeInvalidTransition:     "invalid import state transition",
	ErrCodeDecisionRequired:      "records need a review decision before import",
	ErrCodeImportPartial:         "import completed partially",
	ErrCodeInvalidDecision:       "invalid import decision",
	ErrCodeSessionBusy:           "import session is being confirmed by another request",
	ErrCodeSessionNotConfirmable: "import session cannot be confirmed in its current state",

	ErrCodePatternNotFound:   "lab pattern not found",
	ErrCodePatternInvalid:    "invalid lab pattern definition",
	ErrCodePatternLoadFailed: "failed to load lab pattern definitions",
	ErrCodeLabsEmpty:         "no lab values supplied",

	ErrCodeRecordNotFound:    "clinical record not found",
	ErrCodeRecordInvalid:     "invalid clinical record",
	ErrCodeRecordKindUnknown: "unknown clinical record kind",
	ErrCodeRecordWriteFailed: "failed to write clinical record",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}

//Personal.AI order the ending
