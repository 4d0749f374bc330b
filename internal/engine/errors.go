package engine

import "errors"

// ErrMainIsntAFunction is returned by Instantiate when a module exports
// something named "main" that is not a function.
var ErrMainIsntAFunction = errors.New("engine: \"main\" export exists but is not a function")

// ErrMemoryIsntMemory is returned by Instantiate when a module exports
// something named "memory" that is not a linear memory.
var ErrMemoryIsntMemory = errors.New("engine: \"memory\" export exists but is not a linear memory")

// ErrImportNotResolved wraps a failure from the caller-supplied ResolveFunc,
// surfaced as an instantiation error.
var ErrImportNotResolved = errors.New("engine: import not resolved")
