// Package idpool allocates the monotonically increasing 64-bit identifiers
// used for process and thread IDs.
package idpool

import "sync/atomic"

// Pool hands out a strictly increasing sequence of uint64 identifiers,
// starting at 1. Zero is reserved to mean "invalid". The zero value of
// Pool is ready to use. IDs are never reclaimed; overflow of the 64-bit
// space is undefined.
type Pool struct {
	next atomic.Uint64
}

// Assign returns the next identifier in the sequence.
func (p *Pool) Assign() uint64 {
	return p.next.Add(1)
}
