package spatialkv

import (
	"errors"

	"github.com/aalhour/spatialkv/store"
)

// ErrReadOnly is returned by writes against a database opened
// read-only.
var ErrReadOnly = store.ErrReadOnly

var (
	// ErrInvalidArgument is returned when a caller passes an argument
	// the operation cannot act on, such as an unknown spatial index
	// name or an empty index list on Insert.
	ErrInvalidArgument = errors.New("spatialkv: invalid argument")

	// ErrCorruption is returned when persisted data fails to decode:
	// a malformed record, a bad index entry, or a metadata value that
	// does not match the expected format.
	ErrCorruption = errors.New("spatialkv: corruption detected")

	// ErrNotFound is returned when a requested spatial index
	// definition does not exist in the metadata namespace.
	ErrNotFound = errors.New("spatialkv: not found")

	// ErrClosed is returned by operations on a closed database.
	ErrClosed = errors.New("spatialkv: database is closed")
)
