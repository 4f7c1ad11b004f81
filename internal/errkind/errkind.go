// errkind.go - Typed error taxonomy for the settlement engine.
//
// Every failure surfaced to a caller is one of six kinds. The kind decides
// the recovery strategy: build and execution failures need different inputs,
// not-found and conflict failures need a fresh sync, proving and network
// failures are retryable as-is.

package errkind

import (
	"errors"
	"fmt"
)

// Kind classifies a settlement-engine error.
type Kind int

const (
	// Build: malformed transaction request. Non-retryable without changing inputs.
	Build Kind = iota
	// Execution: a script assertion failed. Deterministic, non-retryable with
	// the same inputs.
	Execution
	// NotFound: a referenced note or foreign account is not yet visible
	// locally. Recoverable by syncing state and retrying.
	NotFound
	// Conflict: note already consumed or account nonce advanced underneath
	// the transaction. Recoverable by rebuilding against fresh state.
	Conflict
	// Proving: local or delegated proof generation failed. Retryable,
	// possibly with a different prover.
	Proving
	// Network: submission or sync transport failure. Retryable with backoff.
	Network
)

func (k Kind) String() string {
	switch k {
	case Build:
		return "build"
	case Execution:
		return "execution"
	case NotFound:
		return "not found"
	case Conflict:
		return "conflict"
	case Proving:
		return "proving"
	case Network:
		return "network"
	default:
		return "unknown"
	}
}

// Error is a classified settlement error. Op names the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error from a message.
func New(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the kind of a classified error. Unclassified errors report
// as Network, the broadest retryable kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Network
}

func IsBuild(err error) bool     { return Is(err, Build) }
func IsExecution(err error) bool { return Is(err, Execution) }
func IsNotFound(err error) bool  { return Is(err, NotFound) }
func IsConflict(err error) bool  { return Is(err, Conflict) }
func IsProving(err error) bool   { return Is(err, Proving) }
func IsNetwork(err error) bool   { return Is(err, Network) }
