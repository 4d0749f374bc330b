package vm

import (
	"context"
	"errors"
	"testing"

	"github.com/oriys/wasmkernel/internal/engine"
	"github.com/oriys/wasmkernel/internal/interfaceid"
	"github.com/oriys/wasmkernel/internal/signature"
)

// noImportModule exports:
//
//	(func $main (param i32) (param i32) (result i32) i32.const 5)
//	(memory 1)
//	(export "main" (func $main))
//	(export "memory" (memory 0))
var noImportModule = []byte{
	0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7F, 0x7F, 0x01, 0x7F,
	0x03, 0x02, 0x01, 0x00,
	0x05, 0x03, 0x01, 0x00, 0x01,
	0x07, 0x11, 0x02, 0x04, 'm', 'a', 'i', 'n', 0x00, 0x00, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x0A, 0x06, 0x01, 0x04, 0x00, 0x41, 0x05, 0x0B,
}

// importModule exports:
//
//	(import "env" "host_fn" (func (result i32)))
//	(func $main (param i32) (param i32) (result i32) call 0)
//	(memory 1)
//	(export "main" (func $main))
//	(export "memory" (memory 0))
var importModule = []byte{
	0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x0B, 0x02, 0x60, 0x00, 0x01, 0x7F, 0x60, 0x02, 0x7F, 0x7F, 0x01, 0x7F,
	0x02, 0x0F, 0x01, 0x03, 'e', 'n', 'v', 0x07, 'h', 'o', 's', 't', '_', 'f', 'n', 0x00, 0x00,
	0x03, 0x02, 0x01, 0x01,
	0x05, 0x03, 0x01, 0x00, 0x01,
	0x07, 0x11, 0x02, 0x04, 'm', 'a', 'i', 'n', 0x00, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x0A, 0x06, 0x01, 0x04, 0x00, 0x10, 0x00, 0x0B,
}

func idCounter() func() uint64 {
	var next uint64
	return func() uint64 {
		next++
		return next
	}
}

func TestRunThreadFinishesWithoutAnyImports(t *testing.T) {
	ctx := context.Background()
	rt := engine.NewRuntime(ctx)
	defer rt.Close(ctx)

	mod := engine.NewModule(noImportModule)
	sm, err := New[string](ctx, rt, mod, "main-thread", idCounter(), func(interfaceid.ID, string, signature.EngineSignature) (int, error) {
		t.Fatalf("resolve should not be called: module has no imports")
		return 0, nil
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !sm.IsExecuting() {
		t.Fatalf("expected a main thread to exist")
	}

	outcome, err := sm.RunThread(0)
	if err != nil {
		t.Fatalf("RunThread: %v", err)
	}
	if outcome.Kind != OutcomeThreadFinished {
		t.Fatalf("outcome.Kind = %v, want OutcomeThreadFinished", outcome.Kind)
	}
	if len(outcome.Return) != 1 || outcome.Return[0].AsI32() != 5 {
		t.Fatalf("outcome.Return = %+v, want [i32(5)]", outcome.Return)
	}
	if sm.NumThreads() != 0 {
		t.Fatalf("NumThreads() = %d after main thread finished, want 0", sm.NumThreads())
	}
}

func TestRunThreadSuspendsOnUnresolvedImportAndResumes(t *testing.T) {
	ctx := context.Background()
	rt := engine.NewRuntime(ctx)
	defer rt.Close(ctx)

	mod := engine.NewModule(importModule)
	sm, err := New[string](ctx, rt, mod, "main-thread", idCounter(), func(iface interfaceid.ID, funcName string, sig signature.EngineSignature) (int, error) {
		if !iface.Equal(interfaceid.ParseModuleName("env")) || funcName != "host_fn" {
			t.Fatalf("unexpected import %s::%s", iface.String(), funcName)
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	outcome, err := sm.RunThread(0)
	if err != nil {
		t.Fatalf("RunThread (start): %v", err)
	}
	if outcome.Kind != OutcomeInterrupted {
		t.Fatalf("outcome.Kind = %v, want OutcomeInterrupted", outcome.Kind)
	}
	if outcome.TokenIndex != 42 {
		t.Fatalf("outcome.TokenIndex = %d, want 42", outcome.TokenIndex)
	}
	if len(outcome.Params) != 0 {
		t.Fatalf("outcome.Params = %+v, want empty", outcome.Params)
	}

	thread := sm.Thread(0)
	thread.SetValueBack([]engine.Value{engine.I32(99)})

	outcome, err = sm.RunThread(0)
	if err != nil {
		t.Fatalf("RunThread (resume): %v", err)
	}
	if outcome.Kind != OutcomeThreadFinished {
		t.Fatalf("outcome.Kind = %v, want OutcomeThreadFinished", outcome.Kind)
	}
	if len(outcome.Return) != 1 || outcome.Return[0].AsI32() != 99 {
		t.Fatalf("outcome.Return = %+v, want [i32(99)]", outcome.Return)
	}
}

// trapModule exports:
//
//	(func $main (param i32) (param i32) (result i32) unreachable)
//	(memory 1)
//	(export "main" (func $main))
//	(export "memory" (memory 0))
var trapModule = []byte{
	0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7F, 0x7F, 0x01, 0x7F,
	0x03, 0x02, 0x01, 0x00,
	0x05, 0x03, 0x01, 0x00, 0x01,
	0x07, 0x11, 0x02, 0x04, 'm', 'a', 'i', 'n', 0x00, 0x00, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x0A, 0x05, 0x01, 0x03, 0x00, 0x00, 0x0B,
}

func TestRunThreadTrapPoisonsStateMachine(t *testing.T) {
	ctx := context.Background()
	rt := engine.NewRuntime(ctx)
	defer rt.Close(ctx)

	mod := engine.NewModule(trapModule)
	sm, err := New[string](ctx, rt, mod, "main-thread", idCounter(), func(interfaceid.ID, string, signature.EngineSignature) (int, error) {
		t.Fatalf("resolve should not be called: module has no imports")
		return 0, nil
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if sm.IsPoisoned() {
		t.Fatalf("IsPoisoned() = true before running anything")
	}

	outcome, err := sm.RunThread(0)
	if err != nil {
		t.Fatalf("RunThread: %v", err)
	}
	if outcome.Kind != OutcomeErrored {
		t.Fatalf("outcome.Kind = %v, want OutcomeErrored", outcome.Kind)
	}
	if !sm.IsPoisoned() {
		t.Fatalf("IsPoisoned() = false after a trap, want true")
	}

	// Poisoning is sticky: every further attempt to run or start a thread
	// fails with the same condition, and errors.Is sees through to the
	// shared sentinel regardless of which call produced it.
	_, startErr := sm.StartThreadByID(0, nil, "extra-thread", idCounter())
	if !errors.Is(startErr, ErrPoisoned) {
		t.Fatalf("StartThreadByID after poisoning = %v, want errors.Is(_, ErrPoisoned)", startErr)
	}

	sm.threads = append(sm.threads, &ThreadRecord[string]{id: 99, ready: true})
	_, runErr := sm.RunThread(len(sm.threads) - 1)
	if !errors.Is(runErr, ErrPoisoned) {
		t.Fatalf("RunThread after poisoning = %v, want errors.Is(_, ErrPoisoned)", runErr)
	}
}

func TestMemoryReadWriteRoundTripAndOutOfBounds(t *testing.T) {
	ctx := context.Background()
	rt := engine.NewRuntime(ctx)
	defer rt.Close(ctx)

	mod := engine.NewModule(noImportModule)
	sm, err := New[string](ctx, rt, mod, "main-thread", idCounter(), func(interfaceid.ID, string, signature.EngineSignature) (int, error) {
		t.Fatalf("resolve should not be called: module has no imports")
		return 0, nil
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want := []byte("hello, wasm")
	if ok := sm.WriteMemory(0, want); !ok {
		t.Fatalf("WriteMemory(0, ...) = false, want true")
	}
	got, ok := sm.ReadMemory(0, uint32(len(want)))
	if !ok {
		t.Fatalf("ReadMemory(0, %d) = false, want true", len(want))
	}
	if string(got) != string(want) {
		t.Fatalf("ReadMemory round-trip = %q, want %q", got, want)
	}

	// The module declares one page (65536 bytes) of memory; any range that
	// runs past the end must be rejected rather than silently truncated.
	const pageSize = 1 << 16
	if _, ok := sm.ReadMemory(pageSize-4, 16); ok {
		t.Fatalf("ReadMemory past the end of linear memory succeeded, want false")
	}
	if ok := sm.WriteMemory(pageSize-4, []byte("toolong!")); ok {
		t.Fatalf("WriteMemory past the end of linear memory succeeded, want false")
	}
}

func TestSetValueBackPanicsOnDoubleResume(t *testing.T) {
	ctx := context.Background()
	rt := engine.NewRuntime(ctx)
	defer rt.Close(ctx)

	mod := engine.NewModule(importModule)
	sm, err := New[string](ctx, rt, mod, "main-thread", idCounter(), func(interfaceid.ID, string, signature.EngineSignature) (int, error) {
		return 0, nil
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// The main thread starts out ready; run it to its first host call so
	// value_back is unset before the two resumes below.
	if _, err := sm.RunThread(0); err != nil {
		t.Fatalf("RunThread: %v", err)
	}
	thread := sm.Thread(0)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on double SetValueBack")
		}
	}()
	thread.SetValueBack(nil)
	thread.SetValueBack(nil)
}
