// Package progctl implements the uniform result, error, progress and status
// model shared by every protocol engine and by the orchestrator.
package progctl

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a failure, independent of the human
// readable message. Callers branch on Kind, never on the message string.
type Kind int

const (
	// KindInternal is the zero value: an unexpected condition that the
	// emitting code could not classify more precisely.
	KindInternal Kind = iota
	KindNotConnected
	KindBusy
	KindInvalidArgument
	KindUnsupportedOperation
	KindUnknownChip
	KindTimeout
	KindIO
	KindProtocolError
	KindVerifyMismatch
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNotConnected:
		return "NotConnected"
	case KindBusy:
		return "Busy"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindUnsupportedOperation:
		return "UnsupportedOperation"
	case KindUnknownChip:
		return "UnknownChip"
	case KindTimeout:
		return "Timeout"
	case KindIO:
		return "IO"
	case KindProtocolError:
		return "ProtocolError"
	case KindVerifyMismatch:
		return "VerifyMismatch"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Internal"
	}
}

// Error is the structured error type the adapters, protocol engines and
// orchestrator use to report failures; chipdb and the low-level ftdi
// package return plain Go errors instead. It carries a Kind for programmatic branching, a human-readable Message,
// and an optional wrapped cause forming a causal chain.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// MemoryID is populated only for KindUnknownChip, so the caller can
	// still surface the raw JEDEC id to the UI even though lookup failed.
	MemoryID fmt.Stringer
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap folds cause into a new *Error of the given kind, the way
// ftdi/handle.go's toErr prefixes every d2xx.Err with its origin before it
// reaches the caller.
func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WrapUnknownChip builds the special-cased KindUnknownChip error that still
// carries the raw memory id for display even though no descriptor matched.
func WrapUnknownChip(id fmt.Stringer) error {
	return &Error{Kind: KindUnknownChip, Message: "no descriptor matches detected memory id", MemoryID: id}
}

// KindOf extracts the Kind from err, defaulting to KindInternal if err is
// not (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
