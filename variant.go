package spatialkv

// VariantType identifies the dynamic type held by a Variant. The
// numeric tag values are part of the serialized FeatureSet format and
// must not change.
type VariantType uint8

const (
	VariantNull VariantType = iota
	VariantBool
	VariantInt
	VariantDouble
	VariantString
)

// String returns the name of the variant type.
func (t VariantType) String() string {
	switch t {
	case VariantNull:
		return "null"
	case VariantBool:
		return "bool"
	case VariantInt:
		return "int"
	case VariantDouble:
		return "double"
	case VariantString:
		return "string"
	default:
		return "unknown"
	}
}

// Variant is a tagged union holding one of: null, bool, uint64, float64
// or string. The zero value is the null variant.
type Variant struct {
	typ VariantType
	b   bool
	i   uint64
	d   float64
	s   string
}

// NullVariant returns the null variant.
func NullVariant() Variant { return Variant{} }

// BoolVariant returns a variant holding b.
func BoolVariant(b bool) Variant { return Variant{typ: VariantBool, b: b} }

// IntVariant returns a variant holding i.
func IntVariant(i uint64) Variant { return Variant{typ: VariantInt, i: i} }

// DoubleVariant returns a variant holding d.
func DoubleVariant(d float64) Variant { return Variant{typ: VariantDouble, d: d} }

// StringVariant returns a variant holding s.
func StringVariant(s string) Variant { return Variant{typ: VariantString, s: s} }

// Type returns the dynamic type of the variant.
func (v Variant) Type() VariantType { return v.typ }

// Bool returns the held bool.
// REQUIRES: Type() == VariantBool
func (v Variant) Bool() bool { return v.b }

// Int returns the held integer.
// REQUIRES: Type() == VariantInt
func (v Variant) Int() uint64 { return v.i }

// Double returns the held double.
// REQUIRES: Type() == VariantDouble
func (v Variant) Double() float64 { return v.d }

// StringValue returns the held string.
// REQUIRES: Type() == VariantString
func (v Variant) StringValue() string { return v.s }

// Equal reports whether two variants hold the same type and value.
func (v Variant) Equal(o Variant) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case VariantNull:
		return true
	case VariantBool:
		return v.b == o.b
	case VariantInt:
		return v.i == o.i
	case VariantDouble:
		return v.d == o.d
	case VariantString:
		return v.s == o.s
	default:
		return false
	}
}
