package engine

// Module is an uninstantiated WASM module artifact: nothing more than the
// binary. Parsing, validation, and import resolution all happen at
// Instantiate time, against a particular Runtime.
type Module struct {
	binary []byte
}

// NewModule wraps a WASM binary. The bytes are copied defensively.
func NewModule(binary []byte) *Module {
	cp := make([]byte, len(binary))
	copy(cp, binary)
	return &Module{binary: cp}
}
