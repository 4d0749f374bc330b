package vm

import "github.com/oriys/wasmkernel/internal/engine"

// OutcomeKind tags what RunThread produced.
type OutcomeKind int

const (
	// OutcomeThreadFinished means the thread's entry invocation returned
	// normally. The thread has already been removed from the machine.
	OutcomeThreadFinished OutcomeKind = iota
	// OutcomeInterrupted means the thread called an unresolved import and
	// is now paused awaiting ThreadRecord.SetValueBack.
	OutcomeInterrupted
	// OutcomeErrored means the thread trapped. The machine is now
	// poisoned in its entirety.
	OutcomeErrored
)

// Outcome is what RunThread returns for a single scheduling step.
type Outcome struct {
	Kind OutcomeKind

	ThreadIndex int
	ThreadID    uint64

	// Valid when Kind == OutcomeThreadFinished.
	Return []engine.Value

	// Valid when Kind == OutcomeInterrupted.
	TokenIndex int
	Params     []engine.Value

	// Valid when Kind == OutcomeErrored.
	Err error
}
