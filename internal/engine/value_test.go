package engine

import (
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/oriys/wasmkernel/internal/signature"
)

func TestValueRoundTrip(t *testing.T) {
	if v := I32(-7); v.Type != signature.I32 || v.AsI32() != -7 {
		t.Fatalf("I32 round trip: type=%v value=%d", v.Type, v.AsI32())
	}
	if v := I64(1 << 40); v.Type != signature.I64 || v.AsI64() != 1<<40 {
		t.Fatalf("I64 round trip: type=%v value=%d", v.Type, v.AsI64())
	}
	if v := F32(3.5); v.Type != signature.F32 || v.AsF32() != 3.5 {
		t.Fatalf("F32 round trip: type=%v value=%v", v.Type, v.AsF32())
	}
	if v := F64(2.25); v.Type != signature.F64 || v.AsF64() != 2.25 {
		t.Fatalf("F64 round trip: type=%v value=%v", v.Type, v.AsF64())
	}
}

func TestValueTypesOf(t *testing.T) {
	got := valueTypesOf([]api.ValueType{api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64})
	want := []signature.ValueType{signature.I32, signature.I64, signature.F32, signature.F64}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("valueTypesOf()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestApiValueTypesOf(t *testing.T) {
	got := apiValueTypesOf([]signature.ValueType{signature.I32, signature.I64, signature.F32, signature.F64})
	want := []api.ValueType{api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("apiValueTypesOf()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
