package vm

import (
	"errors"
	"fmt"

	"github.com/oriys/wasmkernel/internal/signature"
)

// NewErrKind classifies why constructing a StateMachine failed.
type NewErrKind int

const (
	// NewErrInterpreter wraps any engine-level instantiation failure:
	// malformed binary, an unresolved import, or an import of an
	// unsupported kind (global, table, or memory — this scheduler only
	// resolves function imports).
	NewErrInterpreter NewErrKind = iota
	// NewErrMemoryIsntMemory means the module exports something named
	// "memory" that is not a linear memory.
	NewErrMemoryIsntMemory
	// NewErrMainIsntAFunction means the module exports something named
	// "main" that is not a function.
	NewErrMainIsntAFunction
)

// NewErr is returned by New when construction fails.
type NewErr struct {
	Kind NewErrKind
	Err  error
}

func (e *NewErr) Error() string {
	switch e.Kind {
	case NewErrMemoryIsntMemory:
		return "vm: \"memory\" export exists but is not a linear memory"
	case NewErrMainIsntAFunction:
		return "vm: \"main\" export exists but is not a function"
	default:
		return fmt.Sprintf("vm: interpreter error: %v", e.Err)
	}
}

func (e *NewErr) Unwrap() error { return e.Err }

// StartErrKind classifies why starting a new thread failed.
type StartErrKind int

const (
	// StartErrPoisoned means the machine is poisoned and cannot run any
	// more code.
	StartErrPoisoned StartErrKind = iota
	// StartErrSymbolNotFound means the requested function-table index is
	// out of range.
	StartErrSymbolNotFound
	// StartErrNotAFunction means the resolved export exists but is not a
	// function. FunctionAt never produces this today — kept for parity
	// with the state machine this package's scheduling model is modeled
	// on, where function-table lookups and name lookups share one error
	// type.
	StartErrNotAFunction
)

// StartErr is returned by StartThreadByID when a new thread cannot be
// started.
type StartErr struct {
	Kind StartErrKind
}

func (e *StartErr) Error() string {
	switch e.Kind {
	case StartErrPoisoned:
		return "vm: state machine is poisoned"
	case StartErrSymbolNotFound:
		return "vm: function-table index out of range"
	case StartErrNotAFunction:
		return "vm: function-table entry is not a function"
	default:
		return "vm: start error"
	}
}

// Unwrap lets errors.Is(err, ErrPoisoned) see through a StartErrPoisoned.
func (e *StartErr) Unwrap() error {
	if e.Kind == StartErrPoisoned {
		return ErrPoisoned
	}
	return nil
}

// RunErrKind classifies why running a ready thread failed.
type RunErrKind int

const (
	// RunErrBadValueTy means the value handed back to a suspended thread
	// doesn't match the type the pending host call expects.
	RunErrBadValueTy RunErrKind = iota
	// RunErrPoisoned means the machine is poisoned.
	RunErrPoisoned
)

// RunErr is returned by RunThread when the value handed back doesn't match
// what the thread's pending host call expects, or the machine is poisoned.
type RunErr struct {
	Kind     RunErrKind
	Expected []signature.ValueType
	Obtained []signature.ValueType
}

func (e *RunErr) Error() string {
	if e.Kind == RunErrPoisoned {
		return "vm: state machine is poisoned"
	}
	return fmt.Sprintf("vm: expected value(s) of type %v but got %v instead", e.Expected, e.Obtained)
}

// Unwrap lets errors.Is(err, ErrPoisoned) see through a RunErrPoisoned.
func (e *RunErr) Unwrap() error {
	if e.Kind == RunErrPoisoned {
		return ErrPoisoned
	}
	return nil
}

// ErrPoisoned is a sentinel usable with errors.Is against StartErr/RunErr's
// wrapped causes when Kind is *ErrPoisoned.
var ErrPoisoned = errors.New("vm: state machine is poisoned")
