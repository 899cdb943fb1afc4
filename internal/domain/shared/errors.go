package shared

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound          = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists     = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput      = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrInvalidState      = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
	ErrSourceUnavailable = NewDomainError("SOURCE_UNAVAILABLE", "Upstream source is unavailable")
	ErrSourceMalformed   = NewDomainError("SOURCE_MALFORMED", "Upstream record could not be decoded")
	ErrStoreUnavailable  = NewDomainError("STORE_UNAVAILABLE", "Local store is unavailable")
	ErrAlreadyLinked     = NewDomainError("ALREADY_LINKED", "Resource is already linked")
)
