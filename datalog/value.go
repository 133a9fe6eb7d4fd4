package datalog

import (
	"cmp"
	"encoding/binary"
	"math"
	"strconv"
	"strings"
)

// Type is the type of a relation column or value.
type Type uint8

// Column types.
const (
	TypeNumber Type = iota + 1
	TypeSymbol
	TypeFloat
	TypeBool
)

func (t Type) String() string {
	switch t {
	case TypeNumber:
		return "number"
	case TypeSymbol:
		return "symbol"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	default:
		return "unknown"
	}
}

// ParseType returns the type named by s.
func ParseType(s string) (Type, bool) {
	switch s {
	case "number":
		return TypeNumber, true
	case "symbol":
		return TypeSymbol, true
	case "float":
		return TypeFloat, true
	case "bool":
		return TypeBool, true
	}
	return 0, false
}

// Value is a typed scalar. The zero Value is invalid.
type Value struct {
	typ Type
	n   int64
	f   float64
	s   string
}

// Number returns a number value.
func Number(n int64) Value { return Value{typ: TypeNumber, n: n} }

// Symbol returns a symbol value.
func Symbol(s string) Value { return Value{typ: TypeSymbol, s: s} }

// Float returns a float value.
func Float(f float64) Value { return Value{typ: TypeFloat, f: f} }

// Bool returns a bool value.
func Bool(b bool) Value {
	v := Value{typ: TypeBool}
	if b {
		v.n = 1
	}
	return v
}

// Type reports the value's type.
func (v Value) Type() Type { return v.typ }

// Int returns the number payload.
func (v Value) Int() int64 { return v.n }

// Str returns the symbol payload.
func (v Value) Str() string { return v.s }

// Float64 returns the float payload.
func (v Value) Float64() float64 { return v.f }

// Truth returns the bool payload.
func (v Value) Truth() bool { return v.n != 0 }

// Any returns the payload as a plain Go value.
func (v Value) Any() any {
	switch v.typ {
	case TypeNumber:
		return v.n
	case TypeSymbol:
		return v.s
	case TypeFloat:
		return v.f
	case TypeBool:
		return v.n != 0
	}
	return nil
}

// String renders the value as it would appear in rule text.
func (v Value) String() string {
	switch v.typ {
	case TypeNumber:
		return strconv.FormatInt(v.n, 10)
	case TypeSymbol:
		return strconv.Quote(v.s)
	case TypeFloat:
		s := strconv.FormatFloat(v.f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eENI") {
			s += ".0"
		}
		return s
	case TypeBool:
		if v.n != 0 {
			return "true"
		}
		return "false"
	}
	return "<invalid>"
}

// Compare orders two values. Values of different types order by type.
func Compare(a, b Value) int {
	if a.typ != b.typ {
		return cmp.Compare(a.typ, b.typ)
	}
	switch a.typ {
	case TypeSymbol:
		return strings.Compare(a.s, b.s)
	case TypeFloat:
		return cmp.Compare(a.f, b.f)
	default:
		return cmp.Compare(a.n, b.n)
	}
}

func (v Value) appendKey(b []byte) []byte {
	b = append(b, byte(v.typ))
	switch v.typ {
	case TypeSymbol:
		b = binary.AppendUvarint(b, uint64(len(v.s)))
		b = append(b, v.s...)
	case TypeFloat:
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v.f))
	default:
		b = binary.AppendVarint(b, v.n)
	}
	return b
}

// Tuple is an ordered list of values belonging to one relation.
type Tuple []Value

// Key returns a compact string that is equal for equal tuples.
func (t Tuple) Key() string {
	buf := make([]byte, 0, 16*len(t))
	for _, v := range t {
		buf = v.appendKey(buf)
	}
	return string(buf)
}

// String renders the tuple as an argument list.
func (t Tuple) String() string {
	parts := make([]string, len(t))
	for i, v := range t {
		parts[i] = v.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// CompareTuples orders tuples lexicographically.
func CompareTuples(a, b Tuple) int {
	for i := range min(len(a), len(b)) {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

func projectKey(t Tuple, cols []int) string {
	buf := make([]byte, 0, 16*len(cols))
	for _, c := range cols {
		buf = t[c].appendKey(buf)
	}
	return string(buf)
}
