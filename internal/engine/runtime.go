// Package engine adapts github.com/tetratelabs/wazero to the execution
// contract a process's state machine needs: compile a module, resolve its
// imports against a caller-supplied host function table, instantiate it, and
// drive invocations that can suspend mid-call when they reach an unresolved
// host call. wazero has no built-in notion of a suspendable invocation, so
// Invocation fakes one with a dedicated goroutine per call and a pair of
// unbuffered channels; see invocation.go.
package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
)

// Runtime owns one wazero.Runtime. Every module instantiated through it
// shares a single host module namespace, so a Runtime is scoped to exactly
// one process: two processes must not share a Runtime, or their imported
// interfaces could collide by name.
type Runtime struct {
	r wazero.Runtime
}

// NewRuntime creates a fresh, empty Runtime.
func NewRuntime(ctx context.Context) *Runtime {
	return &Runtime{r: wazero.NewRuntime(ctx)}
}

// Close releases every module and compiled artifact owned by this runtime.
func (rt *Runtime) Close(ctx context.Context) error {
	return rt.r.Close(ctx)
}
