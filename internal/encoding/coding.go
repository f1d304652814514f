// Package encoding provides the binary coding primitives used by the
// spatial key and value formats. The helpers are bit-compatible with
// RocksDB's util/coding.h so that databases written here can be reopened
// by the C++ SpatialDB implementation and vice versa.
//
// Conventions:
//   - Varints use 7-bit encoding with MSB continuation.
//   - Values (doubles, varints, length prefixes) are little-endian,
//     matching RocksDB's value coding.
//   - Keys use big-endian fixed 64-bit integers so that the store's
//     bytewise comparator orders them numerically.
//
// Reference: RocksDB v10.7.5 util/coding.h, util/coding.cc
package encoding

import (
	"encoding/binary"
	"errors"
	"math"
)

// MaxVarint32Length is the maximum number of bytes a varint32 can occupy.
const MaxVarint32Length = 5

// MaxVarint64Length is the maximum number of bytes a varint64 can occupy.
const MaxVarint64Length = 10

var (
	// ErrBufferTooSmall is returned when the input ends before a full value.
	ErrBufferTooSmall = errors.New("encoding: buffer too small")

	// ErrVarintOverflow is returned when a varint exceeds the maximum value.
	ErrVarintOverflow = errors.New("encoding: varint overflow")

	// ErrVarintTermination is returned when a varint doesn't terminate properly.
	ErrVarintTermination = errors.New("encoding: varint not terminated")
)

// -----------------------------------------------------------------------------
// Fixed-width encoding
// -----------------------------------------------------------------------------

// AppendFixed64 appends a little-endian uint64 to dst and returns the
// extended slice.
func AppendFixed64(dst []byte, value uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, value)
}

// DecodeFixed64 decodes a uint64 from an 8-byte little-endian buffer.
// REQUIRES: src has at least 8 bytes.
func DecodeFixed64(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// AppendFixed64BigEndian appends a big-endian uint64 to dst and returns
// the extended slice. Big-endian fixed integers sort numerically under a
// bytewise comparator, so all spatial keys use this encoding.
func AppendFixed64BigEndian(dst []byte, value uint64) []byte {
	return binary.BigEndian.AppendUint64(dst, value)
}

// DecodeFixed64BigEndian decodes a uint64 from an 8-byte big-endian buffer.
// Returns false if src is shorter than 8 bytes.
func DecodeFixed64BigEndian(src []byte) (uint64, bool) {
	if len(src) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(src), true
}

// AppendDouble appends an IEEE-754 double as a little-endian fixed64 of
// its bit pattern.
func AppendDouble(dst []byte, value float64) []byte {
	return AppendFixed64(dst, math.Float64bits(value))
}

// -----------------------------------------------------------------------------
// Variable-length encoding (7-bit with MSB continuation)
// -----------------------------------------------------------------------------

// AppendVarint32 appends a uint32 as a varint to dst and returns the
// extended slice.
func AppendVarint32(dst []byte, value uint32) []byte {
	const b = 128
	for value >= b {
		dst = append(dst, byte(value&(b-1))|b)
		value >>= 7
	}
	return append(dst, byte(value))
}

// DecodeVarint32 decodes a varint32 from src.
// Returns the decoded value and the number of bytes consumed.
func DecodeVarint32(src []byte) (value uint32, bytesRead int, err error) {
	for shift := uint(0); shift < 32; shift += 7 {
		if bytesRead >= len(src) {
			return 0, 0, ErrVarintTermination
		}
		b := src[bytesRead]
		bytesRead++
		if b < 128 {
			value |= uint32(b) << shift
			return value, bytesRead, nil
		}
		value |= uint32(b&0x7f) << shift
	}
	return 0, 0, ErrVarintOverflow
}

// AppendVarint64 appends a uint64 as a varint to dst and returns the
// extended slice.
func AppendVarint64(dst []byte, value uint64) []byte {
	const b = 128
	for value >= b {
		dst = append(dst, byte(value&(b-1))|b)
		value >>= 7
	}
	return append(dst, byte(value))
}

// DecodeVarint64 decodes a varint64 from src.
// Returns the decoded value and the number of bytes consumed.
func DecodeVarint64(src []byte) (value uint64, bytesRead int, err error) {
	for shift := uint(0); shift < 64; shift += 7 {
		if bytesRead >= len(src) {
			return 0, 0, ErrVarintTermination
		}
		b := src[bytesRead]
		bytesRead++
		if b < 128 {
			value |= uint64(b) << shift
			return value, bytesRead, nil
		}
		value |= uint64(b&0x7f) << shift
	}
	return 0, 0, ErrVarintOverflow
}

// VarintLength returns the number of bytes needed to encode v as a varint.
func VarintLength(v uint64) int {
	length := 1
	for v >= 128 {
		v >>= 7
		length++
	}
	return length
}

// -----------------------------------------------------------------------------
// Length-prefixed slices
// -----------------------------------------------------------------------------

// AppendLengthPrefixedSlice appends a length-prefixed slice to dst.
// Format: [varint32 length][bytes]
func AppendLengthPrefixedSlice(dst []byte, value []byte) []byte {
	dst = AppendVarint32(dst, uint32(len(value)))
	return append(dst, value...)
}

// DecodeLengthPrefixedSlice decodes a length-prefixed slice from src.
// Returns the slice (pointing into src), bytes consumed, and any error.
func DecodeLengthPrefixedSlice(src []byte) (value []byte, bytesRead int, err error) {
	length, n, err := DecodeVarint32(src)
	if err != nil {
		return nil, 0, err
	}
	bytesRead = n
	if bytesRead+int(length) > len(src) {
		return nil, 0, ErrBufferTooSmall
	}
	value = src[bytesRead : bytesRead+int(length)]
	bytesRead += int(length)
	return value, bytesRead, nil
}

// -----------------------------------------------------------------------------
// Sequential reader
// -----------------------------------------------------------------------------

// Slice is a sequential reader over a byte slice, similar to RocksDB's
// Slice-based Get* functions. A failed read leaves the position
// unchanged and reports false.
type Slice struct {
	data []byte
	pos  int
}

// NewSlice creates a new Slice over data.
func NewSlice(data []byte) *Slice {
	return &Slice{data: data}
}

// Remaining returns the number of bytes remaining.
func (s *Slice) Remaining() int {
	return len(s.data) - s.pos
}

// Data returns the remaining data.
func (s *Slice) Data() []byte {
	return s.data[s.pos:]
}

// GetFixed64BigEndian reads a big-endian fixed 64-bit value.
func (s *Slice) GetFixed64BigEndian() (uint64, bool) {
	v, ok := DecodeFixed64BigEndian(s.data[s.pos:])
	if !ok {
		return 0, false
	}
	s.pos += 8
	return v, true
}

// GetDouble reads an IEEE-754 double stored as a little-endian fixed64.
func (s *Slice) GetDouble() (float64, bool) {
	if s.Remaining() < 8 {
		return 0, false
	}
	v := math.Float64frombits(DecodeFixed64(s.data[s.pos:]))
	s.pos += 8
	return v, true
}

// GetVarint32 reads a varint32.
func (s *Slice) GetVarint32() (uint32, bool) {
	v, n, err := DecodeVarint32(s.data[s.pos:])
	if err != nil {
		return 0, false
	}
	s.pos += n
	return v, true
}

// GetVarint64 reads a varint64.
func (s *Slice) GetVarint64() (uint64, bool) {
	v, n, err := DecodeVarint64(s.data[s.pos:])
	if err != nil {
		return 0, false
	}
	s.pos += n
	return v, true
}

// GetLengthPrefixedSlice reads a length-prefixed slice.
func (s *Slice) GetLengthPrefixedSlice() ([]byte, bool) {
	v, n, err := DecodeLengthPrefixedSlice(s.data[s.pos:])
	if err != nil {
		return nil, false
	}
	s.pos += n
	return v, true
}

// GetBytes reads exactly n bytes.
func (s *Slice) GetBytes(n int) ([]byte, bool) {
	if s.Remaining() < n {
		return nil, false
	}
	v := s.data[s.pos : s.pos+n]
	s.pos += n
	return v, true
}
