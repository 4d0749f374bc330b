// Package hostabi implements the immutable, registered-at-build-time table
// that maps (interface, function name) pairs to a dense token index and the
// signature processes must match to call them.
package hostabi

import (
	"errors"
	"fmt"

	"github.com/oriys/wasmkernel/internal/interfaceid"
	"github.com/oriys/wasmkernel/internal/signature"
)

// ErrNotFound is returned by Resolve when no registered entry matches the
// (interface, function name) pair, or when one does but its signature
// doesn't match the caller's engine signature. The two cases are
// deliberately reported identically; see DESIGN.md Open Question 2.
var ErrNotFound = errors.New("host function not found")

type key struct {
	iface interfaceid.ID
	name  string
}

// entry is a registered host function.
type entry struct {
	signature  signature.Signature
	tokenIndex int
}

// Table is an immutable map from (interface, function name) to a dense
// token index, built once via Builder and never modified afterward.
type Table[TExtr any] struct {
	entries map[key]entry
	tokens  []TExtr
}

// Resolve looks up the token index for a module's import, checking that the
// caller's engine signature matches the one the function was registered
// with. It is called once per import at process-creation time.
func (t *Table[TExtr]) Resolve(iface interfaceid.ID, funcName string, engineSig signature.EngineSignature) (int, error) {
	e, ok := t.entries[key{iface: iface, name: funcName}]
	if !ok || !e.signature.MatchesEngine(engineSig) {
		return 0, fmt.Errorf("%w: %s::%s", ErrNotFound, iface.String(), funcName)
	}
	return e.tokenIndex, nil
}

// Token returns the user-supplied token registered at tokenIndex. The index
// must have come from a prior call to Resolve on this same table; out of
// range is a programming error and panics.
func (t *Table[TExtr]) Token(tokenIndex int) *TExtr {
	return &t.tokens[tokenIndex]
}

// Len reports the number of registered host functions.
func (t *Table[TExtr]) Len() int {
	return len(t.tokens)
}

// Builder accumulates host function registrations before Build freezes them
// into an immutable Table.
type Builder[TExtr any] struct {
	entries map[key]entry
	tokens  []TExtr
}

// NewBuilder creates an empty Builder.
func NewBuilder[TExtr any]() *Builder[TExtr] {
	return &Builder[TExtr]{entries: make(map[key]entry)}
}

// Register adds a host function under the given interface and name. It
// panics if an entry with the same (interface, function name) pair has
// already been registered — this is a build-time programming error, not a
// runtime condition a caller is expected to recover from.
func (b *Builder[TExtr]) Register(iface interfaceid.ID, funcName string, sig signature.Signature, token TExtr) *Builder[TExtr] {
	k := key{iface: iface, name: funcName}
	if _, exists := b.entries[k]; exists {
		panic(fmt.Sprintf("hostabi: duplicate registration for %s::%s", iface.String(), funcName))
	}

	index := len(b.tokens)
	b.entries[k] = entry{signature: sig, tokenIndex: index}
	b.tokens = append(b.tokens, token)
	return b
}

// Build freezes the builder into an immutable Table. The builder must not
// be reused afterward.
func (b *Builder[TExtr]) Build() *Table[TExtr] {
	tokens := make([]TExtr, len(b.tokens))
	copy(tokens, b.tokens)

	entries := make(map[key]entry, len(b.entries))
	for k, v := range b.entries {
		entries[k] = v
	}

	return &Table[TExtr]{entries: entries, tokens: tokens}
}
