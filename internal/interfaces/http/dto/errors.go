package dto

import "net/http"

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
)

// Validation error codes
const (
	// ErrCodeValidation is the base code for validation errors
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeValidationRequired is used when a required field is missing
	ErrCodeValidationRequired = "ERR_VALIDATION_REQUIRED"
	// ErrCodeValidationFormat is used when a field has invalid format
	ErrCodeValidationFormat = "ERR_VALIDATION_FORMAT"
	// ErrCodeValidationRange is used when a value is out of range
	ErrCodeValidationRange = "ERR_VALIDATION_RANGE"
)

// Resource error codes
const (
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeAlreadyExists is used when trying to create a duplicate resource
	ErrCodeAlreadyExists = "ERR_ALREADY_EXISTS"
	// ErrCodeConflict is used for general resource conflicts
	ErrCodeConflict = "ERR_CONFLICT"
)

// Reconciliation error codes
const (
	// ErrCodeInvalidState is used when an operation is invalid for the record's current state
	ErrCodeInvalidState = "ERR_INVALID_STATE"
	// ErrCodeMissingLeg is used when an operation needs a leg the record does not have
	ErrCodeMissingLeg = "ERR_MISSING_LEG"
	// ErrCodeAlreadyLinked is used when a payment or email is already linked elsewhere
	ErrCodeAlreadyLinked = "ERR_ALREADY_LINKED"
	// ErrCodeSyncRunning is used when a sync cycle is already in progress
	ErrCodeSyncRunning = "ERR_SYNC_RUNNING"
)

// Input error codes
const (
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidInput is used for invalid input data
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
	// ErrCodeInvalidStatus is used when a status filter or value is not a known status
	ErrCodeInvalidStatus = "ERR_INVALID_STATUS"
	// ErrCodeInvalidFlag is used when a flag value is not a known flag
	ErrCodeInvalidFlag = "ERR_INVALID_FLAG"
	// ErrCodeInvalidSource is used when a source name is not a known source
	ErrCodeInvalidSource = "ERR_INVALID_SOURCE"
	// ErrCodeRequestTooLarge is used when the request body exceeds the size limit
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
)

// Upstream source error codes
const (
	// ErrCodeSourceUnavailable is used when an upstream source cannot be reached
	ErrCodeSourceUnavailable = "ERR_SOURCE_UNAVAILABLE"
	// ErrCodeSourceMalformed is used when an upstream source returns undecodable data
	ErrCodeSourceMalformed = "ERR_SOURCE_MALFORMED"
	// ErrCodeStoreUnavailable is used when the reconciliation store cannot be reached
	ErrCodeStoreUnavailable = "ERR_STORE_UNAVAILABLE"
)

// Rate limiting error codes
const (
	// ErrCodeRateLimited is used when rate limit is exceeded
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
	// ErrCodeTooManyRequests is an alias for rate limiting
	ErrCodeTooManyRequests = "ERR_TOO_MANY_REQUESTS"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	// General errors
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	// Validation errors -> 400 Bad Request
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeValidationRequired: http.StatusBadRequest,
	ErrCodeValidationFormat:   http.StatusBadRequest,
	ErrCodeValidationRange:    http.StatusBadRequest,

	// Resource errors
	ErrCodeNotFound:      http.StatusNotFound,
	ErrCodeAlreadyExists: http.StatusConflict,
	ErrCodeConflict:      http.StatusConflict,

	// Reconciliation errors
	ErrCodeInvalidState:  http.StatusUnprocessableEntity,
	ErrCodeMissingLeg:    http.StatusUnprocessableEntity,
	ErrCodeAlreadyLinked: http.StatusConflict,
	ErrCodeSyncRunning:   http.StatusConflict,

	// Input errors -> 400 Bad Request
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidInput:    http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodeInvalidStatus:   http.StatusBadRequest,
	ErrCodeInvalidFlag:     http.StatusBadRequest,
	ErrCodeInvalidSource:   http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,

	// Upstream source errors
	ErrCodeSourceUnavailable: http.StatusServiceUnavailable,
	ErrCodeSourceMalformed:   http.StatusBadGateway,
	ErrCodeStoreUnavailable:  http.StatusServiceUnavailable,

	// Rate limiting -> 429 Too Many Requests
	ErrCodeRateLimited:     http.StatusTooManyRequests,
	ErrCodeTooManyRequests: http.StatusTooManyRequests,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps domain-layer error codes to transport codes
// Domain errors carry bare codes like NOT_FOUND; the API exposes ERR_* codes
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":                ErrCodeNotFound,
	"ALREADY_EXISTS":           ErrCodeAlreadyExists,
	"ALREADY_LINKED":           ErrCodeAlreadyLinked,
	"INVALID_INPUT":            ErrCodeInvalidInput,
	"INVALID_STATE":            ErrCodeInvalidState,
	"MISSING_LEG":              ErrCodeMissingLeg,
	"SYNC_RUNNING":             ErrCodeSyncRunning,
	"INVALID_STATUS":           ErrCodeInvalidStatus,
	"INVALID_FLAG":             ErrCodeInvalidFlag,
	"INVALID_SOURCE":           ErrCodeInvalidSource,
	"INVALID_NVC_CODE":         ErrCodeInvalidInput,
	"INVALID_EMAIL_ID":         ErrCodeInvalidInput,
	"INVALID_RECEIVED_PAYMENT": ErrCodeInvalidInput,
	"INVALID_LEG":              ErrCodeInvalidInput,
	"SOURCE_UNAVAILABLE":       ErrCodeSourceUnavailable,
	"SOURCE_MALFORMED":         ErrCodeSourceMalformed,
	"STORE_UNAVAILABLE":        ErrCodeStoreUnavailable,
	"VALIDATION_ERROR":         ErrCodeValidation,
	"BAD_REQUEST":              ErrCodeBadRequest,
	"INTERNAL_ERROR":           ErrCodeInternal,
}

// NormalizeErrorCode converts a domain error code to the transport format
// If the code is already in the ERR_* format or unknown, returns it as-is
func NormalizeErrorCode(code string) string {
	if newCode, ok := DomainErrorCodeMapping[code]; ok {
		return newCode
	}
	return code
}
