package process

import "github.com/oriys/wasmkernel/internal/engine"

// RunOutcomeKind tags what one Collection.Run call produced.
type RunOutcomeKind int

const (
	// RunIdle means no thread anywhere in the collection has a value_back
	// set — there is nothing to do until the caller resumes something.
	RunIdle RunOutcomeKind = iota
	// RunProcessFinished means a process's main thread finished, or the
	// process trapped. Either way the process no longer exists; Err is
	// set only in the trap case.
	RunProcessFinished
	// RunThreadFinished means a non-main thread finished; its process
	// lives on.
	RunThreadFinished
	// RunInterrupted means a thread called an unresolved host function
	// and is parked awaiting ThreadHandle.Resume.
	RunInterrupted
)

// DeadThread is one thread's surviving user data, reported when its
// process is torn down.
type DeadThread[TTud any] struct {
	ThreadID uint64
	UserData TTud
}

// RunOutcome is the tagged union Collection.Run returns. Only the fields
// documented for the outcome's Kind are meaningful.
type RunOutcome[TExtr, TPud, TTud any] struct {
	Kind RunOutcomeKind

	// RunProcessFinished. ReturnValue holds the main thread's return value
	// when Err is nil (the process exited normally); when the process was
	// killed by a trap, Err is set and ReturnValue is nil.
	PID          uint64
	ProcUserData TPud
	DeadThreads  []DeadThread[TTud]
	Err          error

	// RunThreadFinished and RunProcessFinished (normal exit) both set
	// ReturnValue to the finished thread's result.
	ThreadID       uint64
	ThreadUserData TTud
	Process        *ProcessHandle[TExtr, TPud, TTud]
	ReturnValue    []engine.Value

	// RunInterrupted
	Thread *ThreadHandle[TExtr, TPud, TTud]
	Token  *TExtr
	Params []engine.Value
}
