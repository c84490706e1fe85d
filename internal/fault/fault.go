// Package fault defines the closed error taxonomy for the council
// orchestrator. Every error that crosses a component boundary carries a
// Kind; unknown failures classify as KindRuntimeIO.
package fault

import (
	"errors"
	"fmt"
)

// Kind names one failure class. The set is closed: callers switch on these
// values to decide exit codes and round outcomes, so new kinds require a
// taxonomy change, not an ad-hoc string.
type Kind string

const (
	KindInvalidMission    Kind = "invalid_mission"
	KindRuntimeIO         Kind = "runtime_io"
	KindTimeout           Kind = "timeout"
	KindLocalOverload     Kind = "local_overload"
	KindBudgetExhausted   Kind = "budget_exhausted"
	KindCircuitOpen       Kind = "circuit_open"
	KindProviderError     Kind = "provider_error"
	KindContractViolation Kind = "contract_violation"
	KindDisallowedPath    Kind = "disallowed_path"
	KindVerifyFailed      Kind = "verify_failed"
	KindChainBroken       Kind = "chain_broken"
	KindStopRequested     Kind = "stop_requested"
)

// Error is a classified error. Op names the operation that failed
// ("ledger.append", "seat.launch"); Err is the underlying cause, may be nil.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Err == nil && e.Op == "":
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so
// errors.Is(err, fault.New(fault.KindTimeout, "", nil)) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from an error chain. Unclassified errors map to
// KindRuntimeIO; nil maps to the empty Kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindRuntimeIO
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
