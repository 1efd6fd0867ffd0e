package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindMissingInput       Kind = "missing_input"
	KindInvalidImage       Kind = "invalid_image"
	KindUnsupportedStyle   Kind = "unsupported_style"
	KindMissingCredential  Kind = "missing_credential"
	KindNoImageProduced    Kind = "no_image_produced"
	KindProviderCallFailed Kind = "provider_call_failed"
)

// Class groups kinds by who has to act on them.
type Class string

const (
	ClassClient        Class = "client"
	ClassConfiguration Class = "configuration"
	ClassProvider      Class = "provider"
)

// Error is the structured failure returned by Transform.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Details string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Class() Class {
	switch e.Kind {
	case KindMissingInput, KindInvalidImage, KindUnsupportedStyle:
		return ClassClient
	case KindMissingCredential:
		return ClassConfiguration
	default:
		return ClassProvider
	}
}

// HTTPStatus maps client errors to 400 and everything else to 500.
func (e *Error) HTTPStatus() int {
	if e.Class() == ClassClient {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func newError(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func wrapError(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Details: cause.Error(), Cause: cause}
}

// IsKind checks whether any error in the chain matches the provided kind.
func IsKind(err error, kind Kind) bool {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind == kind
	}
	return false
}

// HTTPStatus returns the status for err; unknown errors map to 500.
func HTTPStatus(err error) int {
	var target *Error
	if errors.As(err, &target) {
		return target.HTTPStatus()
	}
	return http.StatusInternalServerError
}
