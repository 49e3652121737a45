package vm

import (
	"errors"
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// Value tests
// ---------------------------------------------------------------------------

func TestNumberRoundTrip(t *testing.T) {
	tests := []float64{
		0.0,
		1.0,
		-1.0,
		3.14159265358979,
		math.MaxFloat64,
		math.SmallestNonzeroFloat64,
		math.Inf(1),
		math.Inf(-1),
	}

	for _, f := range tests {
		v := NumberValue(f)
		if !v.IsNumber() || v.IsNil() || v.IsObject() {
			t.Errorf("NumberValue(%v) kind = %s", f, v.Kind())
			continue
		}
		if got := v.Number(); got != f {
			t.Errorf("NumberValue(%v).Number() = %v", f, got)
		}
	}
}

func TestNilValue(t *testing.T) {
	if !Nil.IsNil() || Nil.Kind() != ValueNil {
		t.Errorf("Nil kind = %s", Nil.Kind())
	}
	var zero Value
	if !zero.Equal(Nil) {
		t.Error("zero Value is not Nil")
	}
	if Nil.String() != "nil" {
		t.Errorf("Nil.String() = %q", Nil.String())
	}
}

func TestValueEqual(t *testing.T) {
	ref := Ref{Index: 2, Gen: 1}
	tests := []struct {
		a, b Value
		want bool
	}{
		{NumberValue(1), NumberValue(1), true},
		{NumberValue(1), NumberValue(2), false},
		{NumberValue(0), NumberValue(math.Copysign(0, -1)), false},
		{NumberValue(math.NaN()), NumberValue(math.NaN()), true},
		{Nil, Nil, true},
		{Nil, NumberValue(0), false},
		{ObjectValue(ref), ObjectValue(ref), true},
		{ObjectValue(ref), ObjectValue(Ref{Index: 2, Gen: 2}), false},
	}
	for _, tt := range tests {
		if got := tt.a.Equal(tt.b); got != tt.want {
			t.Errorf("%v.Equal(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    float64
		want string
	}{
		{1, "1.00"},
		{3, "3.00"},
		{-23, "-23.00"},
		{3.14, "3.14"},
		{-3.14, "-3.14"},
		{0, "0.00"},
		{100, "100.00"},
		{-100, "-100.00"},
		{2.005, "2.00"},
		{1.0 / 3, "0.33"},
		{1e21, "1000000000000000000000.00"},
		{math.Inf(1), "inf"},
		{math.Inf(-1), "-inf"},
		{math.NaN(), "nan"},
	}
	for _, tt := range tests {
		if got := FormatNumber(tt.n); got != tt.want {
			t.Errorf("FormatNumber(%v) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Heap tests
// ---------------------------------------------------------------------------

func TestHeapAllocGet(t *testing.T) {
	h := NewHeap()
	fn := NewFunction("f", 1)
	ref := h.Alloc(fn)
	if ref.IsZero() {
		t.Fatal("Alloc returned the zero ref")
	}
	got, err := h.Function(ref)
	if err != nil {
		t.Fatal(err)
	}
	if got != fn {
		t.Error("Function returned a different object")
	}
	if h.Live() != 1 {
		t.Errorf("Live = %d, want 1", h.Live())
	}
}

func TestHeapStaleRefs(t *testing.T) {
	h := NewHeap()
	ref := h.Alloc(NewFunction("f", 0))

	if err := h.Free(ref); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Get(ref); !errors.Is(err, ErrStaleRef) {
		t.Errorf("Get after Free: err = %v, want ErrStaleRef", err)
	}
	if err := h.Free(ref); !errors.Is(err, ErrStaleRef) {
		t.Errorf("double Free: err = %v, want ErrStaleRef", err)
	}

	// The slot is reused with a new generation; the old handle stays stale.
	fresh := h.Alloc(NewFunction("g", 0))
	if fresh.Index != ref.Index || fresh.Gen == ref.Gen {
		t.Errorf("fresh = %+v, old = %+v", fresh, ref)
	}
	if _, err := h.Get(ref); !errors.Is(err, ErrStaleRef) {
		t.Errorf("old ref resolved after reuse: %v", err)
	}

	if _, err := h.Get(Ref{}); !errors.Is(err, ErrStaleRef) {
		t.Errorf("zero ref: err = %v", err)
	}
	if _, err := h.Get(Ref{Index: 99, Gen: 1}); !errors.Is(err, ErrStaleRef) {
		t.Errorf("unknown ref: err = %v", err)
	}
}

type notAFunction struct{}

func (notAFunction) ObjectKind() string { return "other" }

func TestHeapFunctionKindMismatch(t *testing.T) {
	h := NewHeap()
	ref := h.Alloc(notAFunction{})
	if _, err := h.Function(ref); err == nil {
		t.Error("expected kind error")
	}
}

func TestHeapRelease(t *testing.T) {
	h := NewHeap()
	refs := []Ref{
		h.Alloc(NewFunction("a", 0)),
		h.Alloc(NewFunction("b", 0)),
		h.Alloc(NewFunction("c", 0)),
	}
	h.Release()
	if h.Live() != 0 {
		t.Errorf("Live after Release = %d", h.Live())
	}
	for _, r := range refs {
		if _, err := h.Get(r); !errors.Is(err, ErrStaleRef) {
			t.Errorf("ref %+v still resolves", r)
		}
	}
	// Release is idempotent and the heap stays usable.
	h.Release()
	if r := h.Alloc(NewFunction("d", 0)); h.Live() != 1 || r.IsZero() {
		t.Errorf("heap unusable after Release: live=%d ref=%+v", h.Live(), r)
	}
}

func TestHeapReleaseAfterFree(t *testing.T) {
	h := NewHeap()
	a := h.Alloc(NewFunction("a", 0))
	h.Alloc(NewFunction("b", 0))
	h.Alloc(NewFunction("c", 0))
	if err := h.Free(a); err != nil {
		t.Fatal(err)
	}
	h.Release()

	// Every slot is reusable exactly once.
	seen := make(map[uint32]bool)
	for i := 0; i < 4; i++ {
		r := h.Alloc(NewFunction("n", 0))
		if seen[r.Index] {
			t.Fatalf("slot %d handed out twice", r.Index)
		}
		seen[r.Index] = true
	}
	if h.Live() != 4 {
		t.Errorf("Live = %d, want 4", h.Live())
	}
}

// ---------------------------------------------------------------------------
// Symbol table tests
// ---------------------------------------------------------------------------

func TestSymbolTableIntern(t *testing.T) {
	st := NewSymbolTable()
	x := st.Intern("x")
	y := st.Intern("y")
	if x == y {
		t.Fatal("distinct names share an id")
	}
	if st.Intern("x") != x {
		t.Error("re-interning changed the id")
	}
	if id, ok := st.Lookup("y"); !ok || id != y {
		t.Errorf("Lookup(y) = %d, %v", id, ok)
	}
	if _, ok := st.Lookup("z"); ok {
		t.Error("Lookup of unknown name succeeded")
	}
	if st.Name(x) != "x" || st.Name(99) != "" {
		t.Errorf("Name mismatch: %q %q", st.Name(x), st.Name(99))
	}
	if st.Len() != 2 {
		t.Errorf("Len = %d", st.Len())
	}
	all := st.All()
	all[0] = "mutated"
	if st.Name(0) != "x" {
		t.Error("All exposed internal storage")
	}
}

// ---------------------------------------------------------------------------
// Program tests
// ---------------------------------------------------------------------------

func TestProgramRelease(t *testing.T) {
	prog := newTestProgram([]byte{byte(OpNil), byte(OpReturn)})
	if prog.Heap.Live() != 1 {
		t.Fatalf("Live = %d", prog.Heap.Live())
	}
	prog.Release()
	prog.Release()
	if prog.Heap.Live() != 0 {
		t.Errorf("Live after Release = %d", prog.Heap.Live())
	}
	if !prog.Released() {
		t.Error("Released() = false")
	}
	if _, err := prog.ScriptFunction(); !errors.Is(err, ErrStaleRef) {
		t.Errorf("ScriptFunction after Release: %v", err)
	}
}
