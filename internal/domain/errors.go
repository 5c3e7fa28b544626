package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is a closed classification of pipeline failures. Carrying the
// kind explicitly replaces type-sniffing at the HTTP boundary.
type ErrorKind string

// Error kinds.
const (
	KindValidation   ErrorKind = "validation_error"
	KindNotFound     ErrorKind = "not_found"
	KindPrecondition ErrorKind = "precondition_failed"
	KindContextLimit ErrorKind = "context_limit_exceeded"
	KindProvider     ErrorKind = "provider_error"
	KindAbort        ErrorKind = "aborted"
	KindInternal     ErrorKind = "internal_error"
)

// Error is a tagged pipeline error.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// ValidationError builds a validation failure.
func ValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// NotFoundError builds a not-found failure (file/model unresolvable or not
// owned by the requesting user).
func NotFoundError(message string, cause error) *Error {
	return &Error{Kind: KindNotFound, Message: message, Err: cause}
}

// PreconditionError builds a precondition failure (OCR disabled, model lacks
// vision for the requested mode).
func PreconditionError(message string) *Error {
	return &Error{Kind: KindPrecondition, Message: message}
}

// ProviderError builds an upstream completion failure.
func ProviderError(message string, cause error) *Error {
	return &Error{Kind: KindProvider, Message: message, Err: cause}
}

// AbortError marks a cancellation. Cancellation is not a failure: it is
// swallowed at every layer that observes it and never produces a trace write.
func AbortError(cause error) *Error {
	return &Error{Kind: KindAbort, Message: "request aborted", Err: cause}
}

// ContextLimitExceeded is raised when the heuristic token estimate exceeds
// the model's maximum context length, before any provider call is made.
type ContextLimitExceeded struct {
	EstimatedTokens  int
	MaxContextLength int
}

// Error implements the error interface.
func (e *ContextLimitExceeded) Error() string {
	return fmt.Sprintf("estimated %d tokens exceeds model context limit of %d",
		e.EstimatedTokens, e.MaxContextLength)
}

// KindOf classifies any error into the closed taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}

	var limit *ContextLimitExceeded
	if errors.As(err, &limit) {
		return KindContextLimit
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindAbort
	}

	return KindInternal
}

// IsAbort reports whether the error represents cancellation.
func IsAbort(err error) bool {
	return KindOf(err) == KindAbort
}
