package engine

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/oriys/wasmkernel/internal/signature"
)

// Value is a typed WASM value: one of the four primitive numeric kinds,
// stored internally as the raw 64-bit lane wazero's Call API operates on.
type Value struct {
	Type signature.ValueType
	bits uint64
}

// I32 builds an i32 value.
func I32(v int32) Value { return Value{Type: signature.I32, bits: api.EncodeI32(v)} }

// I64 builds an i64 value.
func I64(v int64) Value { return Value{Type: signature.I64, bits: uint64(v)} }

// F32 builds an f32 value.
func F32(v float32) Value { return Value{Type: signature.F32, bits: api.EncodeF32(v)} }

// F64 builds an f64 value.
func F64(v float64) Value { return Value{Type: signature.F64, bits: api.EncodeF64(v)} }

// AsI32 decodes the value as an i32. Only meaningful when Type == signature.I32.
func (v Value) AsI32() int32 { return api.DecodeI32(v.bits) }

// AsI64 decodes the value as an i64. Only meaningful when Type == signature.I64.
func (v Value) AsI64() int64 { return int64(v.bits) }

// AsF32 decodes the value as an f32. Only meaningful when Type == signature.F32.
func (v Value) AsF32() float32 { return api.DecodeF32(v.bits) }

// AsF64 decodes the value as an f64. Only meaningful when Type == signature.F64.
func (v Value) AsF64() float64 { return api.DecodeF64(v.bits) }

// Raw returns the bit pattern wazero's Call API exchanges.
func (v Value) Raw() uint64 { return v.bits }

// fromRaw reconstructs a typed Value from wazero's raw stack representation,
// given the value type the signature says should be there.
func fromRaw(t signature.ValueType, raw uint64) Value {
	return Value{Type: t, bits: raw}
}

func valueTypesOf(vts []api.ValueType) []signature.ValueType {
	out := make([]signature.ValueType, len(vts))
	for i, vt := range vts {
		switch vt {
		case api.ValueTypeI32:
			out[i] = signature.I32
		case api.ValueTypeI64:
			out[i] = signature.I64
		case api.ValueTypeF32:
			out[i] = signature.F32
		case api.ValueTypeF64:
			out[i] = signature.F64
		default:
			// Vector (v128) and reference types are not part of this
			// scheduler's value model; instantiation of a module importing
			// or exporting such a signature fails naturally when the host
			// stub's declared types don't match what the module expects.
			out[i] = signature.I32
		}
	}
	return out
}

func apiValueTypesOf(vts []signature.ValueType) []api.ValueType {
	out := make([]api.ValueType, len(vts))
	for i, vt := range vts {
		switch vt {
		case signature.I32:
			out[i] = api.ValueTypeI32
		case signature.I64:
			out[i] = api.ValueTypeI64
		case signature.F32:
			out[i] = api.ValueTypeF32
		case signature.F64:
			out[i] = api.ValueTypeF64
		}
	}
	return out
}
