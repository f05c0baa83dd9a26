// Package apperr defines the error taxonomy surfaced to API clients and the
// single conversion from any error into the wire envelope.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/fixmart-dev/fixmart/internal/identity"
)

// Kind classifies an error for clients. The string value is the envelope reason.
type Kind string

const (
	KindUnauthenticated     Kind = "unauthenticated"
	KindForbiddenRole       Kind = "forbidden_role"
	KindNotOwner            Kind = "not_owner"
	KindForbidden           Kind = "forbidden"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindValidationFailed    Kind = "validation_failed"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindInvalidState        Kind = "invalid_state"
	KindRateLimited         Kind = "rate_limited"
	KindUnexpected          Kind = "unexpected"
)

const unexpectedMessage = "An unexpected error occurred. Please try again later."

var kindStatus = map[Kind]int{
	KindUnauthenticated:     http.StatusUnauthorized,
	KindForbiddenRole:       http.StatusForbidden,
	KindNotOwner:            http.StatusForbidden,
	KindForbidden:           http.StatusForbidden,
	KindProviderUnavailable: http.StatusServiceUnavailable,
	KindValidationFailed:    http.StatusBadRequest,
	KindNotFound:            http.StatusNotFound,
	KindConflict:            http.StatusConflict,
	KindInvalidState:        http.StatusConflict,
	KindRateLimited:         http.StatusTooManyRequests,
	KindUnexpected:          http.StatusInternalServerError,
}

var kindMessage = map[Kind]string{
	KindUnauthenticated:     "Authentication required",
	KindForbiddenRole:       "Your account type is not allowed to perform this action",
	KindNotOwner:            "You do not have permission to access this resource",
	KindForbidden:           "You do not have permission to perform this action",
	KindProviderUnavailable: "Authentication service is temporarily unavailable. Please try again later.",
	KindValidationFailed:    "Validation failed",
	KindNotFound:            "Resource not found",
	KindConflict:            "Resource already exists",
	KindInvalidState:        "The resource is not in a state that allows this action",
	KindRateLimited:         "Too many requests. Please slow down.",
	KindUnexpected:          unexpectedMessage,
}

// Error is a classified application error
type Error struct {
	Kind    Kind
	Message string // Safe to show to end users
	Details any    // Structured, client-visible
	Err     error  // Cause, logged but never serialized
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = kindMessage[e.Kind]
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code of the error kind
func (e *Error) Status() int {
	if status, ok := kindStatus[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WithDetails attaches client-visible structured details
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// WithCause attaches the underlying error for logging
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// New creates an error of the given kind. An empty message uses the kind default.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Unauthenticated(message string) *Error { return New(KindUnauthenticated, message) }
func NotFound(message string) *Error        { return New(KindNotFound, message) }
func Conflict(message string) *Error        { return New(KindConflict, message) }
func InvalidState(message string) *Error    { return New(KindInvalidState, message) }
func Forbidden(message string) *Error       { return New(KindForbidden, message) }
func Invalid(message string) *Error         { return New(KindValidationFailed, message) }

// Unexpected wraps an internal fault; its cause never reaches the client
func Unexpected(err error) *Error {
	return &Error{Kind: KindUnexpected, Err: err}
}

// Envelope is the wire format of every error response
type Envelope struct {
	Message string  `json:"message"`
	Reason  *string `json:"reason"`
	Details any     `json:"details"`
}

// Classify converts any error into an *Error
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, identity.ErrProviderUnavailable):
		return New(KindProviderUnavailable, "").WithCause(err)
	case errors.Is(err, identity.ErrInvalidCredentials):
		return Unauthenticated("Invalid email or password").WithCause(err)
	case errors.Is(err, identity.ErrEmailTaken):
		return Conflict("An account with this email already exists").WithCause(err)
	case errors.Is(err, identity.ErrClaimsReadOnly):
		return InvalidState("The identity provider cannot apply this account change").WithCause(err)
	case errors.Is(err, identity.ErrSignUpRejected):
		return Invalid("Sign up was rejected. Check the email address and password strength.").WithCause(err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NotFound("").WithCause(err)
	case isUniqueViolation(err):
		return Conflict("").WithCause(err)
	}

	if validation := fromValidation(err); validation != nil {
		return validation
	}

	return Unexpected(err)
}

// Normalize maps err to its status code and envelope. Details of unexpected
// errors are always dropped.
func Normalize(err error) (int, Envelope) {
	appErr := Classify(err)
	if appErr == nil {
		appErr = Unexpected(errors.New("nil error normalized"))
	}

	if _, known := kindStatus[appErr.Kind]; !known {
		appErr = Unexpected(appErr)
	}

	message := appErr.Message
	if message == "" {
		message = kindMessage[appErr.Kind]
	}

	reason := string(appErr.Kind)
	env := Envelope{
		Message: message,
		Reason:  &reason,
		Details: appErr.Details,
	}

	if appErr.Kind == KindUnexpected {
		env.Message = unexpectedMessage
		env.Details = nil
	}

	return appErr.Status(), env
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
