// Package vm implements the per-process VM state machine: a resumable WASM
// invocation that pauses whenever it calls an unresolved host function and
// picks back up once the caller supplies a result. It multiplexes several
// independent call stacks ("threads") over one module instance, consistent
// with running at most one of them at a time.
//
// wazero, unlike the resumable-invocation engine this scheduler's design
// descends from, has no API to suspend and later resume a single call from
// the middle. Each thread gets its own goroutine for the lifetime of its
// invocation instead; see internal/engine's Invocation for the channel
// handshake that makes that goroutine behave like a resumable call from the
// outside.
package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/oriys/wasmkernel/internal/engine"
	"github.com/oriys/wasmkernel/internal/logging"
	"github.com/oriys/wasmkernel/internal/signature"
)

// ThreadRecord is one call stack within a process: an entry point, its
// resumable invocation once started, and the value_back slot the
// post-Interrupted protocol writes into.
type ThreadRecord[TTud any] struct {
	id       uint64
	UserData TTud

	fn          *engine.Function
	initialArgs []engine.Value
	inv         *engine.Invocation
	started     bool

	ready         bool
	valueBack     []engine.Value
	awaitingTypes []signature.ValueType
}

// ID returns the thread's identifier.
func (t *ThreadRecord[TTud]) ID() uint64 { return t.id }

// Ready reports whether this thread's value_back is set — i.e. whether it
// is eligible to be picked by the scheduler's next RunThread call.
func (t *ThreadRecord[TTud]) Ready() bool { return t.ready }

// SetValueBack implements the post-Interrupted protocol: it stores the
// value to inject on this thread's next scheduling and marks it ready.
// Panics if value_back is already set — per spec this is a caller
// programming error (double resume), not a recoverable runtime condition.
func (t *ThreadRecord[TTud]) SetValueBack(value []engine.Value) {
	if t.ready {
		panic("vm: SetValueBack called on a thread whose value_back is already set")
	}
	t.valueBack = value
	t.ready = true
}

// StateMachine is one process's sandboxed program: a module instance, its
// linear memory (if any), and the set of threads currently multiplexed over
// it.
type StateMachine[TTud any] struct {
	ctx      context.Context
	instance *engine.Instance
	memory   *engine.Memory

	threads    []*ThreadRecord[TTud]
	isPoisoned bool
}

// New instantiates module on rt, resolving its imports through resolve, and
// constructs the machine. If the module exports a function named "main",
// the machine starts with one ready (but not yet started) thread at that
// entry point, called with two i32 arguments (0, 0) — reserved argc/argv
// placeholders, see DESIGN.md. If there's no "main" export the machine
// starts with zero threads; that's a valid, merely idle, machine.
//
// nextThreadID is called exactly once here (for the main thread, if any)
// and once per StartThreadByID call; the caller is expected to back it with
// a collection-wide ID allocator, since thread IDs must stay unique across
// an entire process collection, not just within one machine.
func New[TTud any](ctx context.Context, rt *engine.Runtime, module *engine.Module, mainThreadUserData TTud, nextThreadID func() uint64, resolve engine.ResolveFunc) (*StateMachine[TTud], error) {
	instance, err := engine.Instantiate(ctx, rt, module, resolve)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrMainIsntAFunction):
			return nil, &NewErr{Kind: NewErrMainIsntAFunction, Err: err}
		case errors.Is(err, engine.ErrMemoryIsntMemory):
			return nil, &NewErr{Kind: NewErrMemoryIsntMemory, Err: err}
		default:
			return nil, &NewErr{Kind: NewErrInterpreter, Err: err}
		}
	}

	sm := &StateMachine[TTud]{ctx: ctx, instance: instance}
	if mem, ok := instance.Memory(); ok {
		sm.memory = mem
	}

	mainFn, ok := instance.ExportedFunction("main")
	if !ok {
		return sm, nil
	}

	mainID := nextThreadID()
	sm.threads = append(sm.threads, &ThreadRecord[TTud]{
		id:          mainID,
		UserData:    mainThreadUserData,
		fn:          mainFn,
		initialArgs: []engine.Value{engine.I32(0), engine.I32(0)},
		ready:       true,
	})
	logging.Op().Debug("state machine constructed", "main_thread", mainID)
	return sm, nil
}

// IsExecuting reports whether this machine has any threads at all.
func (sm *StateMachine[TTud]) IsExecuting() bool { return len(sm.threads) > 0 }

// IsPoisoned reports whether a trap has permanently disabled this machine.
func (sm *StateMachine[TTud]) IsPoisoned() bool { return sm.isPoisoned }

// NumThreads returns the number of live threads.
func (sm *StateMachine[TTud]) NumThreads() int { return len(sm.threads) }

// Thread returns the thread at idx, or nil if out of range.
func (sm *StateMachine[TTud]) Thread(idx int) *ThreadRecord[TTud] {
	if idx < 0 || idx >= len(sm.threads) {
		return nil
	}
	return sm.threads[idx]
}

// StartThreadByID starts a new, non-main thread at the given function-table
// index (see engine.Instance.FunctionAt for what "index" means in this
// adapter). The new thread is appended to the machine's thread list and
// returned ready, but not yet actually invoked — its first RunThread call
// performs the real Start.
func (sm *StateMachine[TTud]) StartThreadByID(fnIndex int, params []engine.Value, userData TTud, nextThreadID func() uint64) (*ThreadRecord[TTud], error) {
	if sm.isPoisoned {
		return nil, &StartErr{Kind: StartErrPoisoned}
	}

	fn, ok := sm.instance.FunctionAt(fnIndex)
	if !ok {
		return nil, &StartErr{Kind: StartErrSymbolNotFound}
	}

	t := &ThreadRecord[TTud]{
		id:          nextThreadID(),
		UserData:    userData,
		fn:          fn,
		initialArgs: params,
		ready:       true,
	}
	sm.threads = append(sm.threads, t)
	logging.Op().Debug("thread constructed", "thread", t.id, "fn_index", fnIndex)
	return t, nil
}

// RunThread drives the thread at threadIndex one scheduling step: starting
// it (if this is its first run) or resuming it with its stored value_back,
// and running until the next suspension point. The thread must be Ready;
// calling RunThread on a thread that isn't is a programming error.
func (sm *StateMachine[TTud]) RunThread(threadIndex int) (Outcome, error) {
	if sm.isPoisoned {
		return Outcome{}, &RunErr{Kind: RunErrPoisoned}
	}

	t := sm.threads[threadIndex]
	if !t.ready {
		panic(fmt.Sprintf("vm: RunThread called on thread %d which is not ready", t.id))
	}

	valueBack := t.valueBack
	t.valueBack = nil
	t.ready = false

	var ev engine.Event
	if !t.started {
		if len(valueBack) != 0 {
			t.ready = true
			t.valueBack = valueBack
			return Outcome{}, &RunErr{Kind: RunErrBadValueTy, Obtained: typesOf(valueBack)}
		}
		t.started = true
		t.inv, ev = t.fn.Start(sm.ctx, t.initialArgs)
	} else {
		if !typesMatch(valueBack, t.awaitingTypes) {
			t.ready = true
			t.valueBack = valueBack
			return Outcome{}, &RunErr{Kind: RunErrBadValueTy, Expected: t.awaitingTypes, Obtained: typesOf(valueBack)}
		}
		ev = t.inv.Resume(valueBack)
	}

	switch ev.Kind {
	case engine.EventFinished:
		id := t.id
		sm.threads = append(sm.threads[:threadIndex], sm.threads[threadIndex+1:]...)
		return Outcome{Kind: OutcomeThreadFinished, ThreadIndex: threadIndex, ThreadID: id, Return: ev.Result}, nil

	case engine.EventSuspended:
		t.awaitingTypes = ev.ResultTypes
		return Outcome{Kind: OutcomeInterrupted, ThreadIndex: threadIndex, ThreadID: t.id, TokenIndex: ev.TokenIndex, Params: ev.Args}, nil

	case engine.EventTrapped:
		sm.isPoisoned = true
		logging.Op().Warn("state machine poisoned by trap", "thread", t.id, "error", ev.Err)
		return Outcome{Kind: OutcomeErrored, ThreadIndex: threadIndex, ThreadID: t.id, Err: ev.Err}, nil

	default:
		panic("vm: unreachable engine event kind")
	}
}

// ThreadUserData pairs a thread's identifier with its surviving user data,
// as returned by IntoUserDatas.
type ThreadUserData[TTud any] struct {
	ID       uint64
	UserData TTud
}

// IntoUserDatas consumes the machine and returns every remaining thread's
// (ID, user data) pair, main thread first. Called on process termination.
func (sm *StateMachine[TTud]) IntoUserDatas() []ThreadUserData[TTud] {
	out := make([]ThreadUserData[TTud], len(sm.threads))
	for i, t := range sm.threads {
		out[i] = ThreadUserData[TTud]{ID: t.id, UserData: t.UserData}
	}
	sm.threads = nil
	return out
}

// ReadMemory copies [offset, offset+size) out of the machine's linear
// memory. Returns false if there's no memory or the range is out of bounds.
func (sm *StateMachine[TTud]) ReadMemory(offset, size uint32) ([]byte, bool) {
	if sm.memory == nil {
		return nil, false
	}
	return sm.memory.Read(offset, size)
}

// WriteMemory writes data into the machine's linear memory starting at
// offset. Returns false if there's no memory or the range is out of
// bounds.
func (sm *StateMachine[TTud]) WriteMemory(offset uint32, data []byte) bool {
	if sm.memory == nil {
		return false
	}
	return sm.memory.Write(offset, data)
}

// Close releases the underlying module instance.
func (sm *StateMachine[TTud]) Close(ctx context.Context) error {
	logging.Op().Debug("state machine closed", "poisoned", sm.isPoisoned, "remaining_threads", len(sm.threads))
	return sm.instance.Close(ctx)
}

func typesOf(values []engine.Value) []signature.ValueType {
	out := make([]signature.ValueType, len(values))
	for i, v := range values {
		out[i] = v.Type
	}
	return out
}

func typesMatch(values []engine.Value, want []signature.ValueType) bool {
	if len(values) != len(want) {
		return false
	}
	for i, v := range values {
		if v.Type != want[i] {
			return false
		}
	}
	return true
}
