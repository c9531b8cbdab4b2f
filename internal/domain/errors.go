package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError with the same code and message, so wrapped
// copies of a sentinel still satisfy errors.Is.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == e.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes. Each maps onto one kind of the public error taxonomy.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeStorage       = "STORAGE_ERROR"
	ErrCodeQueue         = "QUEUE_ERROR"
	ErrCodeWorkerFailure = "WORKER_FAILURE"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// CodeOf returns the code of the first DomainError in err's chain, or
// ErrCodeInternalError when there is none.
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrCodeInternalError
}

// HasCode reports whether err carries a DomainError with the given code.
func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// MessageOf returns the user-facing text of err: the message of the first
// DomainError in its chain plus any wrapped cause, without the code prefix.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var de *DomainError
	if !errors.As(err, &de) {
		return err.Error()
	}
	if de.Err != nil {
		return de.Message + ": " + de.Err.Error()
	}
	return de.Message
}

// Validation builds a ValidationError with a formatted message.
func Validation(format string, args ...any) *DomainError {
	return NewDomainError(ErrCodeValidation, fmt.Sprintf(format, args...))
}

// Conflict builds a ConflictError with a formatted message.
func Conflict(format string, args ...any) *DomainError {
	return NewDomainError(ErrCodeConflict, fmt.Sprintf(format, args...))
}

// StorageFailure wraps a file-storage collaborator error.
func StorageFailure(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeStorage, message, err)
}

// QueueFailure wraps a job-queue collaborator error.
func QueueFailure(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeQueue, message, err)
}

// WorkerFailure records a terminal job outcome reported by a worker.
func WorkerFailure(message string) *DomainError {
	return NewDomainError(ErrCodeWorkerFailure, message)
}

var (
	ErrMissingOrg           = NewDomainError(ErrCodeUnauthorized, "no organization resolved for request")
	ErrInvalidAPIKey        = NewDomainError(ErrCodeUnauthorized, "invalid api key")
	ErrAPIKeyRevoked        = NewDomainError(ErrCodeUnauthorized, "api key has been revoked")
	ErrInvalidWorkerToken   = NewDomainError(ErrCodeUnauthorized, "invalid worker token")
	ErrInvalidAdminToken    = NewDomainError(ErrCodeUnauthorized, "invalid admin token")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
)

var (
	ErrDocumentNotFound     = NewDomainError(ErrCodeNotFound, "document not found")
	ErrCampaignNotFound     = NewDomainError(ErrCodeNotFound, "campaign not found")
	ErrTemplateNotFound     = NewDomainError(ErrCodeNotFound, "email template not found")
	ErrJobNotFound          = NewDomainError(ErrCodeNotFound, "job not found")
	ErrOrganizationNotFound = NewDomainError(ErrCodeNotFound, "organization not found")
	ErrAPIKeyNotFound       = NewDomainError(ErrCodeNotFound, "api key not found")
	ErrFileNotFound         = NewDomainError(ErrCodeStorage, "file reference could not be resolved")
)

var (
	ErrCampaignNotDraft     = NewDomainError(ErrCodeConflict, "campaign is not in draft status")
	ErrStaleGeneration      = NewDomainError(ErrCodeConflict, "stale generation token")
	ErrIllegalTransition    = NewDomainError(ErrCodeConflict, "illegal status transition")
	ErrOfferAlreadyExists   = NewDomainError(ErrCodeConflict, "organization already has an offer document")
	ErrOrganizationExists   = NewDomainError(ErrCodeConflict, "organization already exists")
	ErrTemplateNameConflict = NewDomainError(ErrCodeConflict, "email template name already used in campaign")
)
