package spatialkv

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aalhour/spatialkv/internal/encoding"
)

// FeatureSet is a collection of named Variant attributes attached to a
// spatial record.
//
// The serialized form is a concatenation of entries, one per feature:
//
//	key (length-prefixed slice) type (1 byte) value (type-dependent)
//
// Null carries no value bytes, bool is a single byte, int is a
// varint64, double is 8 fixed bytes and string is a length-prefixed
// slice. Entries are written in ascending key order so equal sets
// serialize identically.
type FeatureSet struct {
	m map[string]Variant
}

// NewFeatureSet returns an empty feature set.
func NewFeatureSet() *FeatureSet {
	return &FeatureSet{m: make(map[string]Variant)}
}

// Set adds or replaces the feature named key. It returns the receiver
// so calls can be chained.
func (fs *FeatureSet) Set(key string, value Variant) *FeatureSet {
	fs.m[key] = value
	return fs
}

// Contains reports whether the feature named key exists.
func (fs *FeatureSet) Contains(key string) bool {
	_, ok := fs.m[key]
	return ok
}

// Get returns the feature named key.
// REQUIRES: Contains(key)
func (fs *FeatureSet) Get(key string) Variant {
	return fs.m[key]
}

// Find returns the feature named key and whether it exists.
func (fs *FeatureSet) Find(key string) (Variant, bool) {
	v, ok := fs.m[key]
	return v, ok
}

// Len returns the number of features in the set.
func (fs *FeatureSet) Len() int { return len(fs.m) }

// Clear removes all features from the set.
func (fs *FeatureSet) Clear() {
	fs.m = make(map[string]Variant)
}

// Keys returns the feature names in ascending order.
func (fs *FeatureSet) Keys() []string {
	keys := make([]string, 0, len(fs.m))
	for k := range fs.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether both sets contain the same features with equal
// values.
func (fs *FeatureSet) Equal(o *FeatureSet) bool {
	if len(fs.m) != len(o.m) {
		return false
	}
	for k, v := range fs.m {
		ov, ok := o.m[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Serialize appends the wire form of the set to dst and returns the
// extended slice.
func (fs *FeatureSet) Serialize(dst []byte) []byte {
	for _, key := range fs.Keys() {
		v := fs.m[key]
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte(key))
		dst = append(dst, byte(v.Type()))
		switch v.Type() {
		case VariantNull:
		case VariantBool:
			if v.Bool() {
				dst = append(dst, 1)
			} else {
				dst = append(dst, 0)
			}
		case VariantInt:
			dst = encoding.AppendVarint64(dst, v.Int())
		case VariantDouble:
			dst = encoding.AppendDouble(dst, v.Double())
		case VariantString:
			dst = encoding.AppendLengthPrefixedSlice(dst, []byte(v.StringValue()))
		}
	}
	return dst
}

// Deserialize replaces the set's contents with the features decoded
// from input. On error the set is left unchanged.
func (fs *FeatureSet) Deserialize(input []byte) error {
	m := make(map[string]Variant)
	s := encoding.NewSlice(input)
	for s.Remaining() > 0 {
		key, ok := s.GetLengthPrefixedSlice()
		if !ok {
			return fmt.Errorf("%w: feature set key", ErrCorruption)
		}
		tag, ok := s.GetBytes(1)
		if !ok {
			return fmt.Errorf("%w: feature set missing type tag", ErrCorruption)
		}
		var v Variant
		switch VariantType(tag[0]) {
		case VariantNull:
			v = NullVariant()
		case VariantBool:
			b, ok := s.GetBytes(1)
			if !ok {
				return fmt.Errorf("%w: feature set bool value", ErrCorruption)
			}
			v = BoolVariant(b[0] != 0)
		case VariantInt:
			i, ok := s.GetVarint64()
			if !ok {
				return fmt.Errorf("%w: feature set int value", ErrCorruption)
			}
			v = IntVariant(i)
		case VariantDouble:
			d, ok := s.GetDouble()
			if !ok {
				return fmt.Errorf("%w: feature set double value", ErrCorruption)
			}
			v = DoubleVariant(d)
		case VariantString:
			str, ok := s.GetLengthPrefixedSlice()
			if !ok {
				return fmt.Errorf("%w: feature set string value", ErrCorruption)
			}
			v = StringVariant(string(str))
		default:
			return fmt.Errorf("%w: feature set unknown variant type %d", ErrCorruption, tag[0])
		}
		m[string(key)] = v
	}
	fs.m = m
	return nil
}

// DebugString returns a human-readable rendering of the set.
func (fs *FeatureSet) DebugString() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, key := range fs.Keys() {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%q: ", key)
		v := fs.m[key]
		switch v.Type() {
		case VariantNull:
			sb.WriteString("null")
		case VariantBool:
			sb.WriteString(strconv.FormatBool(v.Bool()))
		case VariantInt:
			sb.WriteString(strconv.FormatUint(v.Int(), 10))
		case VariantDouble:
			sb.WriteString(strconv.FormatFloat(v.Double(), 'g', -1, 64))
		case VariantString:
			fmt.Fprintf(&sb, "%q", v.StringValue())
		}
	}
	sb.WriteByte('}')
	return sb.String()
}
