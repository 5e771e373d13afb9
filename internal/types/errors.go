package types

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation           ErrorKind = "validation"
	KindExternalService      ErrorKind = "external_service"
	KindTimeout              ErrorKind = "timeout"
	KindCircuitOpen          ErrorKind = "circuit_open"
	KindNotFound             ErrorKind = "not_found"
	KindRecommendationFailed ErrorKind = "recommendation_failed"
	KindUnknown              ErrorKind = "unknown"
)

// Error is the pipeline's error type. Components attach a Kind at the point
// where the failure class is known; callers branch on KindOf rather than on
// error strings.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewExternalServiceError(service string, cause error) *Error {
	return &Error{Kind: KindExternalService, Message: service + " call failed", cause: cause}
}

func NewTimeoutError(op string, cause error) *Error {
	return &Error{Kind: KindTimeout, Message: op + " timed out", cause: cause}
}

func NewCircuitOpenError(op string) *Error {
	return &Error{Kind: KindCircuitOpen, Message: op + " rejected, circuit open"}
}

func NewNotFoundError(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func NewRecommendationFailedError(message string, cause error) *Error {
	return &Error{Kind: KindRecommendationFailed, Message: message, cause: cause}
}

// KindOf reports the kind of the nearest *Error in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
