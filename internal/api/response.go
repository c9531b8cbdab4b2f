package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cloo-solutions/outreach/internal/domain"
)

// Public error kinds
const (
	KindValidation    = "ValidationError"
	KindAuth          = "AuthError"
	KindNotFound      = "NotFoundError"
	KindConflict      = "ConflictError"
	KindStorage       = "StorageError"
	KindQueue         = "QueueError"
	KindWorkerFailure = "WorkerFailure"
	KindInternal      = "InternalError"
)

// SuccessResponse wraps successful API responses
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// ErrorBody is the structured error returned to clients
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorResponse represents an error API response
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// Success writes a successful JSON response
func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, SuccessResponse{Data: data})
}

// Error writes an error JSON response. The kind is derived from status.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: ErrorBody{Kind: kindForStatus(status), Message: message}})
}

// DomainErrorToHTTP maps domain errors to HTTP status codes
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError
	}

	switch domainErr.Code {
	case domain.ErrCodeValidation:
		return http.StatusBadRequest
	case domain.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeConflict:
		return http.StatusConflict
	case domain.ErrCodeStorage:
		return http.StatusBadGateway
	case domain.ErrCodeQueue:
		return http.StatusServiceUnavailable
	case domain.ErrCodeWorkerFailure:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ErrorKind maps an error onto its public kind
func ErrorKind(err error) string {
	switch domain.CodeOf(err) {
	case domain.ErrCodeValidation:
		return KindValidation
	case domain.ErrCodeUnauthorized:
		return KindAuth
	case domain.ErrCodeNotFound:
		return KindNotFound
	case domain.ErrCodeConflict:
		return KindConflict
	case domain.ErrCodeStorage:
		return KindStorage
	case domain.ErrCodeQueue:
		return KindQueue
	case domain.ErrCodeWorkerFailure:
		return KindWorkerFailure
	default:
		return KindInternal
	}
}

// HandleError writes an appropriate error response based on the error type.
// Internal errors are logged and their details withheld from the client.
func HandleError(w http.ResponseWriter, err error) {
	status := DomainErrorToHTTP(err)
	kind := ErrorKind(err)

	message := err.Error()
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}
	if kind == KindInternal {
		slog.Error("internal error", "error", err)
		message = "internal server error"
	}

	JSON(w, status, ErrorResponse{Error: ErrorBody{Kind: kind, Message: message}})
}

func kindForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return KindValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	default:
		return KindInternal
	}
}
