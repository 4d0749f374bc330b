package engine

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/oriys/wasmkernel/internal/signature"
)

// EventKind tags what happened to an Invocation between Start/Resume calls.
type EventKind int

const (
	// EventSuspended means the invocation called an unresolved import and is
	// blocked waiting for Resume to deliver a return value.
	EventSuspended EventKind = iota
	// EventFinished means the invocation's entry function returned normally.
	EventFinished
	// EventTrapped means wazero returned an error: an actual WASM trap, an
	// out-of-bounds memory access, a stack exhaustion, or similar.
	EventTrapped
)

// Event is what Start or Resume hands back to the scheduler.
type Event struct {
	Kind EventKind

	// Valid when Kind == EventSuspended.
	TokenIndex  int
	Args        []Value
	ResultTypes []signature.ValueType

	// Valid when Kind == EventFinished.
	Result []Value

	// Valid when Kind == EventTrapped.
	Err error
}

// Invocation is one resumable call into a WASM function, implemented as a
// goroutine parked on a channel receive instead of a real engine-native
// coroutine. wazero (unlike wasmi, which this scheduler's design was
// originally modeled on) has no downcastable host-trap payload to suspend
// and resume a call with, so every in-flight call gets its own goroutine for
// as long as it's paused at a host boundary.
type Invocation struct {
	events chan Event
	resume chan []Value
}

type invocationCtxKey struct{}

func withInvocation(ctx context.Context, inv *Invocation) context.Context {
	return context.WithValue(ctx, invocationCtxKey{}, inv)
}

func invocationFromContext(ctx context.Context) *Invocation {
	return ctx.Value(invocationCtxKey{}).(*Invocation)
}

// suspend is called from inside a host stub function, on the invocation's
// own goroutine. It hands the pending call upstream and blocks until Resume
// supplies the return values.
func (inv *Invocation) suspend(tokenIndex int, args []Value, resultTypes []signature.ValueType) []Value {
	inv.events <- Event{Kind: EventSuspended, TokenIndex: tokenIndex, Args: args, ResultTypes: resultTypes}
	return <-inv.resume
}

// Resume delivers a return value to a call parked in suspend and blocks
// until the next event. value must be nil if the resolved host function's
// signature has no result.
func (inv *Invocation) Resume(value []Value) Event {
	inv.resume <- value
	return <-inv.events
}

func startInvocation(ctx context.Context, fn api.Function, args []Value) (*Invocation, Event) {
	inv := &Invocation{
		events: make(chan Event),
		resume: make(chan []Value),
	}

	params := make([]uint64, len(args))
	for i, a := range args {
		params[i] = a.Raw()
	}

	go func() {
		result, err := fn.Call(withInvocation(ctx, inv), params...)
		if err != nil {
			inv.events <- Event{Kind: EventTrapped, Err: err}
			return
		}

		def := fn.Definition()
		resultTypes := valueTypesOf(def.ResultTypes())
		values := make([]Value, len(result))
		for i, r := range result {
			values[i] = fromRaw(resultTypes[i], r)
		}
		inv.events <- Event{Kind: EventFinished, Result: values}
	}()

	return inv, <-inv.events
}
