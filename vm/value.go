package vm

import (
	"fmt"
	"math"
)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	ValueNil ValueKind = iota
	ValueNumber
	ValueObject
)

// String returns a human-readable name for ValueKind.
func (k ValueKind) String() string {
	switch k {
	case ValueNil:
		return "nil"
	case ValueNumber:
		return "number"
	case ValueObject:
		return "object"
	default:
		return fmt.Sprintf("ValueKind(%d)", k)
	}
}

// Value is a runtime value: nil, a double precision number, or a handle to
// an object in the program heap.
//
// Values are copied freely. An object Value does not own the object it
// refers to; the Heap does.
type Value struct {
	kind ValueKind
	num  float64
	ref  Ref
}

// Nil is the value returned by a function that ends without a return value.
var Nil = Value{kind: ValueNil}

// NumberValue creates a Value from a float64.
func NumberValue(n float64) Value {
	return Value{kind: ValueNumber, num: n}
}

// ObjectValue creates a Value referring to a heap object.
func ObjectValue(ref Ref) Value {
	return Value{kind: ValueObject, ref: ref}
}

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// IsNil returns true if v is nil.
func (v Value) IsNil() bool { return v.kind == ValueNil }

// IsNumber returns true if v holds a number.
func (v Value) IsNumber() bool { return v.kind == ValueNumber }

// IsObject returns true if v holds an object handle.
func (v Value) IsObject() bool { return v.kind == ValueObject }

// Number returns the numeric payload. Only meaningful when IsNumber is true.
func (v Value) Number() float64 { return v.num }

// Ref returns the object handle. Only meaningful when IsObject is true.
func (v Value) Ref() Ref { return v.ref }

// Equal compares two values. Numbers compare by bit pattern so that constant
// deduplication keeps -0 and 0 apart.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case ValueNumber:
		return math.Float64bits(v.num) == math.Float64bits(o.num)
	case ValueObject:
		return v.ref == o.ref
	}
	return true
}

// String formats the value for stack dumps and disassembly.
func (v Value) String() string {
	switch v.kind {
	case ValueNumber:
		return FormatNumber(v.num)
	case ValueObject:
		return fmt.Sprintf("<object %d.%d>", v.ref.Index, v.ref.Gen)
	}
	return "nil"
}

// FormatNumber renders a number with exactly two digits after the decimal
// point. Infinities and NaN use the lowercase C spelling.
func FormatNumber(n float64) string {
	switch {
	case math.IsNaN(n):
		return "nan"
	case math.IsInf(n, 1):
		return "inf"
	case math.IsInf(n, -1):
		return "-inf"
	}
	return fmt.Sprintf("%.2f", n)
}
