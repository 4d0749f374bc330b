// Package signature describes the value-level shape of a function's
// parameters and result, decoupled from the concrete execution engine's own
// signature type. Host-function registration is checked against this
// representation at process-creation time rather than at call time.
package signature

import "fmt"

// ValueType is one of the primitive numeric kinds the engine operates on.
type ValueType int

const (
	// I32 is a 32-bit integer.
	I32 ValueType = iota
	// I64 is a 64-bit integer.
	I64
	// F32 is a 32-bit float.
	F32
	// F64 is a 64-bit float.
	F64
)

// String renders the value type the way WASM text format names it.
func (v ValueType) String() string {
	switch v {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return fmt.Sprintf("valuetype(%d)", int(v))
	}
}

// Signature is the ordered list of parameter value types and an optional
// result value type of a function.
type Signature struct {
	Params []ValueType
	Result *ValueType // nil means the function returns nothing
}

// New builds a Signature from a parameter list and an optional result type.
// Passing a nil result means "no return value".
func New(params []ValueType, result *ValueType) Signature {
	return Signature{Params: append([]ValueType(nil), params...), Result: result}
}

// Equal reports whether two signatures describe the same shape.
func (s Signature) Equal(other Signature) bool {
	if len(s.Params) != len(other.Params) {
		return false
	}
	for i, p := range s.Params {
		if p != other.Params[i] {
			return false
		}
	}
	if (s.Result == nil) != (other.Result == nil) {
		return false
	}
	if s.Result != nil && *s.Result != *other.Result {
		return false
	}
	return true
}

// EngineSignature is the subset of an execution engine's function signature
// that this package needs to compare against, so that internal/signature
// never has to import the engine package directly.
type EngineSignature struct {
	Params []ValueType
	Result *ValueType
}

// MatchesEngine reports whether this signature matches a concrete engine
// signature, pointwise over parameters and the (optional) result.
func (s Signature) MatchesEngine(engineSig EngineSignature) bool {
	return s.Equal(Signature{Params: engineSig.Params, Result: engineSig.Result})
}
