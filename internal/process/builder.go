// Package process implements ProcessCollection: the scheduler that owns
// every VMStateMachine, resolves imports against a registered host
// function table, allocates process and thread identifiers, and
// interleaves thread execution one suspension point at a time.
package process

import (
	"github.com/oriys/wasmkernel/internal/hostabi"
	"github.com/oriys/wasmkernel/internal/idpool"
	"github.com/oriys/wasmkernel/internal/interfaceid"
	"github.com/oriys/wasmkernel/internal/signature"
)

// Builder accumulates host function ("extrinsic") registrations before
// Build freezes them into a Collection. TExtr is the opaque token type the
// caller gets back on every Interrupted outcome — typically a closure or a
// small descriptor telling the caller how to actually perform the call.
type Builder[TExtr any] struct {
	pidPool           idpool.Pool
	table             *hostabi.Builder[TExtr]
	shrinkEvery       int
	shrinkMinCapacity int
}

// NewBuilder creates an empty Builder, with the default shrink policy
// (shrink check every 256 Execute calls, down to a 128-process floor).
func NewBuilder[TExtr any]() *Builder[TExtr] {
	return &Builder[TExtr]{
		table:             hostabi.NewBuilder[TExtr](),
		shrinkEvery:       shrinkEvery,
		shrinkMinCapacity: minCapacity,
	}
}

// WithShrinkPolicy overrides how often (in Execute calls) and how far down
// the process map is reallocated once it has emptied out. Both must be
// positive; see config.SchedulerConfig.
func (b *Builder[TExtr]) WithShrinkPolicy(every, minCap int) *Builder[TExtr] {
	if every > 0 {
		b.shrinkEvery = every
	}
	if minCap > 0 {
		b.shrinkMinCapacity = minCap
	}
	return b
}

// ReservePID permanently allocates a process ID that is attached to no
// process (e.g. for a well-known namespace). Execute never hands out a
// reserved ID: every process it creates gets a fresh one.
func (b *Builder[TExtr]) ReservePID() uint64 {
	return b.pidPool.Assign()
}

// WithExtrinsic registers a host function reachable by (iface, funcName),
// matched against sig, carrying token as its opaque payload. Panics on
// duplicate registration; see hostabi.Builder.Register.
func (b *Builder[TExtr]) WithExtrinsic(iface interfaceid.ID, funcName string, sig signature.Signature, token TExtr) *Builder[TExtr] {
	b.table.Register(iface, funcName, sig, token)
	return b
}

// Build freezes b into a Collection ready to run processes. TPud and TTud
// — the process- and thread-level user data types — are chosen at this
// call site since Go methods can't introduce type parameters beyond their
// receiver's.
func Build[TExtr, TPud, TTud any](b *Builder[TExtr]) *Collection[TExtr, TPud, TTud] {
	return &Collection[TExtr, TPud, TTud]{
		pidPool:           b.pidPool,
		tokens:            b.table.Build(),
		processes:         make(map[uint64]*processEntry[TPud, TTud]),
		shrinkEvery:       b.shrinkEvery,
		shrinkMinCapacity: b.shrinkMinCapacity,
	}
}
