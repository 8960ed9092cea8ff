// Package fault defines the tagged error kinds shared across the backend.
//
// Handlers map a fault to exactly one protocol error event; the kind tells
// the gateway (and tests) whether a failure was the caller's fault, an
// expected absence, or an upstream collaborator failing.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for protocol-level reporting.
type Kind string

const (
	// KindAuth covers missing, invalid or expired credentials and
	// insufficient roles.
	KindAuth Kind = "auth"
	// KindValidation covers malformed filters or parameters.
	KindValidation Kind = "validation"
	// KindNotFound covers unknown operation ids, topics and entities.
	KindNotFound Kind = "not_found"
	// KindProvider covers data provider failures.
	KindProvider Kind = "provider"
	// KindProcess covers spawn failures and non-zero exits.
	KindProcess Kind = "process"
)

// Error is a kind-tagged error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a fault with the given kind and message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or an empty Kind for untagged errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
