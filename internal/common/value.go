package common

import "bytes"

// ValueKind is the on-disk type tag of a stored value.
type ValueKind byte

const (
	KindNull   ValueKind = 0
	KindAbsent ValueKind = 1
	KindBool   ValueKind = 2
	KindNumber ValueKind = 3
	KindString ValueKind = 4
	KindBytes  ValueKind = 5
	KindArray  ValueKind = 6
	KindMap    ValueKind = 7
)

func (k ValueKind) Valid() bool {
	return k <= KindMap
}

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindAbsent:
		return "absent"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	}
	return "invalid"
}

// Value is the tagged variant stored by the engine. Exactly the field that
// matches Kind is meaningful; the rest stay zero.
type Value struct {
	Kind   ValueKind
	Bool   bool
	Number float64
	Str    string
	Bytes  []byte
	Items  []Value
	Fields map[string]Value
}

func Null() Value                       { return Value{Kind: KindNull} }
func Absent() Value                     { return Value{Kind: KindAbsent} }
func BoolValue(b bool) Value            { return Value{Kind: KindBool, Bool: b} }
func NumberValue(n float64) Value       { return Value{Kind: KindNumber, Number: n} }
func StringValue(s string) Value        { return Value{Kind: KindString, Str: s} }
func BytesValue(b []byte) Value         { return Value{Kind: KindBytes, Bytes: b} }
func ArrayValue(items ...Value) Value   { return Value{Kind: KindArray, Items: items} }
func MapValue(f map[string]Value) Value { return Value{Kind: KindMap, Fields: f} }

// Equal reports deep equality of two values.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull, KindAbsent:
		return true
	case KindBool:
		return v.Bool == other.Bool
	case KindNumber:
		return v.Number == other.Number
	case KindString:
		return v.Str == other.Str
	case KindBytes:
		return bytes.Equal(v.Bytes, other.Bytes)
	case KindArray:
		if len(v.Items) != len(other.Items) {
			return false
		}
		for i := range v.Items {
			if !v.Items[i].Equal(other.Items[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Fields) != len(other.Fields) {
			return false
		}
		for k, fv := range v.Fields {
			ov, ok := other.Fields[k]
			if !ok || !fv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}
