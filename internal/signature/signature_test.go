package signature

import "testing"

func i32Result() *ValueType {
	v := I32
	return &v
}

func TestEqual(t *testing.T) {
	a := New([]ValueType{I32, I64}, i32Result())
	b := New([]ValueType{I32, I64}, i32Result())
	if !a.Equal(b) {
		t.Fatalf("expected equal signatures")
	}

	c := New([]ValueType{I32, I64}, nil)
	if a.Equal(c) {
		t.Fatalf("expected signatures with differing result to be unequal")
	}

	d := New([]ValueType{I64, I32}, i32Result())
	if a.Equal(d) {
		t.Fatalf("expected signatures with differing param order to be unequal")
	}
}

func TestMatchesEngine(t *testing.T) {
	sig := New(nil, i32Result())
	engineSig := EngineSignature{Params: nil, Result: i32Result()}
	if !sig.MatchesEngine(engineSig) {
		t.Fatalf("expected signature to match identical engine signature")
	}

	engineSig.Result = nil
	if sig.MatchesEngine(engineSig) {
		t.Fatalf("expected mismatch when engine signature drops the result")
	}
}

func TestValueTypeString(t *testing.T) {
	cases := map[ValueType]string{I32: "i32", I64: "i64", F32: "f32", F64: "f64"}
	for vt, want := range cases {
		if got := vt.String(); got != want {
			t.Fatalf("ValueType(%d).String() = %q, want %q", vt, got, want)
		}
	}
}
