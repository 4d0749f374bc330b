package process

import (
	"context"
	"testing"

	"github.com/oriys/wasmkernel/internal/engine"
	"github.com/oriys/wasmkernel/internal/interfaceid"
	"github.com/oriys/wasmkernel/internal/signature"
)

// noImportModule: (func $main (param i32 i32) (result i32) i32.const 5),
// exported as "main"; a 1-page memory exported as "memory".
var noImportModule = []byte{
	0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7F, 0x7F, 0x01, 0x7F,
	0x03, 0x02, 0x01, 0x00,
	0x05, 0x03, 0x01, 0x00, 0x01,
	0x07, 0x11, 0x02, 0x04, 'm', 'a', 'i', 'n', 0x00, 0x00, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x0A, 0x06, 0x01, 0x04, 0x00, 0x41, 0x05, 0x0B,
}

// importModule: imports "env"::"host_fn" () -> i32, main calls it and
// returns its result directly.
var importModule = []byte{
	0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x0B, 0x02, 0x60, 0x00, 0x01, 0x7F, 0x60, 0x02, 0x7F, 0x7F, 0x01, 0x7F,
	0x02, 0x0F, 0x01, 0x03, 'e', 'n', 'v', 0x07, 'h', 'o', 's', 't', '_', 'f', 'n', 0x00, 0x00,
	0x03, 0x02, 0x01, 0x01,
	0x05, 0x03, 0x01, 0x00, 0x01,
	0x07, 0x11, 0x02, 0x04, 'm', 'a', 'i', 'n', 0x00, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x0A, 0x06, 0x01, 0x04, 0x00, 0x10, 0x00, 0x0B,
}

func newTestCollection(t *testing.T) *Collection[int, string, string] {
	t.Helper()
	b := NewBuilder[int]()
	b.WithExtrinsic(interfaceid.ParseModuleName("env"), "host_fn", signature.New(nil, ptr(signature.I32)), 42)
	return Build[int, string, string](b)
}

func ptr[T any](v T) *T { return &v }

func TestExecuteAndRunThreadFinishesProcess(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)

	handle, err := c.Execute(ctx, engine.NewModule(noImportModule), "proc-data", "main-thread-data")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(c.Pids()) != 1 || c.Pids()[0] != handle.PID() {
		t.Fatalf("Pids() = %v, want [%d]", c.Pids(), handle.PID())
	}

	outcome := c.Run(ctx)
	if outcome.Kind != RunProcessFinished {
		t.Fatalf("outcome.Kind = %v, want RunProcessFinished", outcome.Kind)
	}
	if outcome.Err != nil {
		t.Fatalf("outcome.Err = %v, want nil", outcome.Err)
	}
	if outcome.ProcUserData != "proc-data" {
		t.Fatalf("outcome.ProcUserData = %q, want %q", outcome.ProcUserData, "proc-data")
	}
	if len(outcome.DeadThreads) != 1 || outcome.DeadThreads[0].UserData != "main-thread-data" {
		t.Fatalf("outcome.DeadThreads = %+v", outcome.DeadThreads)
	}
	if len(outcome.ReturnValue) != 1 || outcome.ReturnValue[0].AsI32() != 5 {
		t.Fatalf("outcome.ReturnValue = %+v, want [i32(5)]", outcome.ReturnValue)
	}
	if len(c.Pids()) != 0 {
		t.Fatalf("Pids() = %v after process finished, want empty", c.Pids())
	}

	if idle := c.Run(ctx); idle.Kind != RunIdle {
		t.Fatalf("Run() on empty collection = %v, want RunIdle", idle.Kind)
	}
}

func TestExecuteAndRunInterruptedRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)

	handle, err := c.Execute(ctx, engine.NewModule(importModule), "proc-data", "main-thread-data")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	outcome := c.Run(ctx)
	if outcome.Kind != RunInterrupted {
		t.Fatalf("outcome.Kind = %v, want RunInterrupted", outcome.Kind)
	}
	if outcome.Token == nil || *outcome.Token != 42 {
		t.Fatalf("outcome.Token = %v, want 42", outcome.Token)
	}
	if outcome.Thread.PID() != handle.PID() {
		t.Fatalf("outcome.Thread.PID() = %d, want %d", outcome.Thread.PID(), handle.PID())
	}

	outcome.Thread.Resume([]engine.Value{engine.I32(7)})

	final := c.Run(ctx)
	if final.Kind != RunProcessFinished {
		t.Fatalf("final.Kind = %v, want RunProcessFinished", final.Kind)
	}
	if len(final.ReturnValue) != 1 || final.ReturnValue[0].AsI32() != 7 {
		t.Fatalf("final.ReturnValue = %+v, want [i32(7)]", final.ReturnValue)
	}
}

func TestProcessHandleAbortReturnsUserData(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)

	handle, err := c.Execute(ctx, engine.NewModule(importModule), "proc-data", "main-thread-data")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	procData, dead := handle.Abort()
	if procData != "proc-data" {
		t.Fatalf("Abort() procData = %q, want %q", procData, "proc-data")
	}
	if len(dead) != 1 || dead[0].UserData != "main-thread-data" {
		t.Fatalf("Abort() dead = %+v", dead)
	}
	if len(c.Pids()) != 0 {
		t.Fatalf("Pids() = %v after Abort, want empty", c.Pids())
	}
}

func TestRunIsIdleWithNoProcesses(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)
	if outcome := c.Run(ctx); outcome.Kind != RunIdle {
		t.Fatalf("Run() on empty collection = %v, want RunIdle", outcome.Kind)
	}
}
