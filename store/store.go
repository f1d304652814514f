// Package store defines the narrow interface through which the spatial
// layer consumes an ordered key-value store with named namespaces
// (RocksDB "column families").
//
// The spatial layer assumes nothing about a namespace beyond
// ordered-range-scan and atomic-batch-write capability: the interface is
// deliberately limited to point reads, batched writes, forward
// iteration, and manual flush/compaction. Two implementations are
// provided: one backed by RockyardKV column families (rockyard.go) and
// an in-memory one for tests and ephemeral databases (memstore.go).
package store

import (
	"errors"

	"github.com/aalhour/spatialkv/internal/logging"
)

// Common errors returned by store implementations.
var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("store: key not found")

	// ErrNamespaceNotFound is returned when a named namespace does not exist.
	ErrNamespaceNotFound = errors.New("store: namespace not found")

	// ErrReadOnly is returned on write attempts against a read-only store.
	ErrReadOnly = errors.New("store: store is opened in read-only mode")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("store: store is closed")

	// ErrStoreExists is returned by Open with ErrorIfExists set when the
	// store already exists.
	ErrStoreExists = errors.New("store: store already exists")

	// ErrStoreNotFound is returned by Open without CreateIfMissing when
	// the store does not exist.
	ErrStoreNotFound = errors.New("store: store not found")
)

// Namespace is an opaque handle to an independently-keyed,
// independently-compactable partition of the store. Handles are created
// by the DB that owns them and must not be passed to another DB.
type Namespace interface {
	// Name returns the namespace name.
	Name() string
}

// Iterator iterates over the keys of a single namespace in ascending
// bytewise order. An Iterator observes a consistent view of the
// namespace taken when it was created.
//
// Iterators are not safe for concurrent use.
type Iterator interface {
	// Valid returns true if the iterator is positioned at a valid entry.
	Valid() bool

	// SeekToFirst positions the iterator at the first key.
	SeekToFirst()

	// SeekToLast positions the iterator at the last key.
	SeekToLast()

	// Seek positions the iterator at the first key >= target.
	Seek(target []byte)

	// Next moves the iterator to the next key.
	Next()

	// Key returns the key at the current position.
	// REQUIRES: Valid()
	Key() []byte

	// Value returns the value at the current position.
	// REQUIRES: Valid()
	Value() []byte

	// Error returns any error that has occurred during iteration.
	Error() error

	// Close releases resources associated with the iterator.
	Close() error
}

// DB is an ordered key-value store partitioned into named namespaces.
//
// Implementations are safe for concurrent use by multiple goroutines.
type DB interface {
	// Get retrieves the value for key from ns.
	// Returns ErrNotFound if the key does not exist.
	Get(opts *ReadOptions, ns Namespace, key []byte) ([]byte, error)

	// Put sets the value for key in ns.
	Put(opts *WriteOptions, ns Namespace, key, value []byte) error

	// Write applies a batch of writes atomically across namespaces.
	Write(opts *WriteOptions, batch *Batch) error

	// NewIterator creates an iterator over ns.
	NewIterator(opts *ReadOptions, ns Namespace) Iterator

	// NewIterators creates one iterator per namespace, all observing
	// the same consistent view of the store.
	NewIterators(opts *ReadOptions, nss []Namespace) ([]Iterator, error)

	// Flush persists ns's buffered writes.
	Flush(ns Namespace) error

	// CompactRange manually compacts the whole key range of ns.
	CompactRange(ns Namespace) error

	// CreateNamespace creates a new namespace.
	CreateNamespace(name string) (Namespace, error)

	// Namespace returns a handle to the named namespace.
	Namespace(name string) (Namespace, bool)

	// ListNamespaces returns the names of all namespaces.
	ListNamespaces() []string

	// Close closes the store, releasing all resources.
	Close() error
}

// Options configures opening a store.
type Options struct {
	// CreateIfMissing causes Open to create the store if it does not exist.
	CreateIfMissing bool

	// ErrorIfExists causes Open to fail if the store already exists.
	ErrorIfExists bool

	// ReadOnly opens the store in read-only mode; all write operations
	// return ErrReadOnly.
	ReadOnly bool

	// WriteBufferSize is the amount of data to buffer in memory per
	// namespace before flushing. Zero means the backend default.
	WriteBufferSize int

	// MaxWriteBufferNumber is the maximum number of in-memory write
	// buffers held per namespace. Zero means the backend default.
	MaxWriteBufferNumber int

	// MaxOpenFiles caps the number of files the backend keeps open.
	// Zero means the backend default.
	MaxOpenFiles int

	// Logger receives store-level log messages. If nil, a default
	// WARN-level logger is used.
	Logger logging.Logger
}

// ReadOptions controls read operations.
type ReadOptions struct {
	// VerifyChecksums enables checksum verification on reads where the
	// backing store supports it.
	VerifyChecksums bool
}

// WriteOptions controls write operations.
type WriteOptions struct {
	// Sync requires the write to be durable before returning.
	Sync bool
}

// Opener opens a store at path. The spatial layer is configured with an
// Opener so that backends can be swapped without touching the layer.
type Opener func(path string, opts Options) (DB, error)
