package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

type ErrorType int

const (
	ErrorTypeInternal ErrorType = iota
	ErrorTypeValidation
	ErrorTypeNotFound
	ErrorTypeOrchestration
	ErrorTypeResourceExhausted
	ErrorTypeRateLimited
	ErrorTypeTransientBackend
	ErrorTypeTerminalBackend
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeOrchestration:
		return "orchestration"
	case ErrorTypeResourceExhausted:
		return "resource_exhausted"
	case ErrorTypeRateLimited:
		return "rate_limited"
	case ErrorTypeTransientBackend:
		return "transient_backend"
	case ErrorTypeTerminalBackend:
		return "terminal_backend"
	default:
		return "internal"
	}
}

// ParseErrorType is the inverse of ErrorType.String. Unknown names map to
// ErrorTypeInternal.
func ParseErrorType(name string) ErrorType {
	for t := ErrorTypeValidation; t <= ErrorTypeTerminalBackend; t++ {
		if t.String() == name {
			return t
		}
	}
	return ErrorTypeInternal
}

type Error struct {
	Type       ErrorType
	Message    string
	Cause      error
	RetryAfter time.Duration
	Details    map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same Type, so errors.Is(err, ErrValidation)
// works for every validation error regardless of message.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other == e || (other.Type == e.Type && other.Message == "")
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

var (
	ErrValidation        = &Error{Type: ErrorTypeValidation}
	ErrNotFound          = &Error{Type: ErrorTypeNotFound}
	ErrOrchestration     = &Error{Type: ErrorTypeOrchestration}
	ErrResourceExhausted = &Error{Type: ErrorTypeResourceExhausted}
	ErrRateLimited       = &Error{Type: ErrorTypeRateLimited}
	ErrTransientBackend  = &Error{Type: ErrorTypeTransientBackend}
	ErrTerminalBackend   = &Error{Type: ErrorTypeTerminalBackend}
	ErrInternal          = &Error{Type: ErrorTypeInternal}
)

func NewValidationError(format string, args ...interface{}) *Error {
	return &Error{Type: ErrorTypeValidation, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(kind, id string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: fmt.Sprintf("%s not found: %s", kind, id),
		Details: map[string]interface{}{"id": id},
	}
}

func NewOrchestrationError(op string, from interface{}) *Error {
	return &Error{
		Type:    ErrorTypeOrchestration,
		Message: fmt.Sprintf("cannot %s from status %v", op, from),
		Details: map[string]interface{}{"operation": op, "status": fmt.Sprint(from)},
	}
}

func NewResourceExhaustedError(class string, reason string) *Error {
	return &Error{
		Type:    ErrorTypeResourceExhausted,
		Message: fmt.Sprintf("admission denied for %s: %s", class, reason),
		Details: map[string]interface{}{"class": class},
	}
}

func NewRateLimitedError(service string, retryAfter time.Duration) *Error {
	return &Error{
		Type:       ErrorTypeRateLimited,
		Message:    fmt.Sprintf("rate limited by %s", service),
		RetryAfter: retryAfter,
		Details:    map[string]interface{}{"service": service},
	}
}

func NewTransientError(message string, cause error) *Error {
	return &Error{Type: ErrorTypeTransientBackend, Message: message, Cause: cause}
}

func NewTerminalError(message string, cause error) *Error {
	return &Error{Type: ErrorTypeTerminalBackend, Message: message, Cause: cause}
}

func NewInternalError(message string, cause error) *Error {
	return &Error{Type: ErrorTypeInternal, Message: message, Cause: cause}
}

func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsOrchestration(err error) bool {
	return errors.Is(err, ErrOrchestration)
}

func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

func IsTerminal(err error) bool {
	return errors.Is(err, ErrTerminalBackend)
}

func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// IsRetryable classifies a backend failure. Unclassified errors are treated
// as transient network trouble.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var e *Error
	if errors.As(err, &e) {
		switch e.Type {
		case ErrorTypeTransientBackend, ErrorTypeRateLimited, ErrorTypeResourceExhausted:
			return true
		case ErrorTypeInternal:
			if e.Cause != nil {
				return IsRetryable(e.Cause)
			}
			return true
		default:
			return false
		}
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	return true
}
