package spatialkv

import (
	"github.com/aalhour/spatialkv/internal/logging"
	"github.com/aalhour/spatialkv/store"
)

// Logger is the interface used for all logging in the package.
type Logger = logging.Logger

// ReadOptions controls read operations.
type ReadOptions = store.ReadOptions

// WriteOptions controls write operations.
type WriteOptions = store.WriteOptions

// DefaultReadOptions returns the default read options.
func DefaultReadOptions() *ReadOptions {
	return &ReadOptions{}
}

// DefaultWriteOptions returns the default write options.
func DefaultWriteOptions() *WriteOptions {
	return &WriteOptions{}
}

// SpatialIndexOptions defines a spatial index: its name, the bounding
// box it covers and the tiling granularity. Each dimension of the box
// is split into 2^TileBits tiles.
type SpatialIndexOptions struct {
	// Name identifies the index. It must be unique within a database.
	Name string

	// BBox is the area covered by the index. Records outside of it are
	// not indexed by this index.
	BBox BoundingBox[float64]

	// TileBits is the number of bits used for tile coordinates in each
	// dimension, yielding a 2^TileBits x 2^TileBits grid.
	TileBits uint32
}

// NewSpatialIndexOptions returns index options for the given name, box
// and tile bits.
func NewSpatialIndexOptions(name string, bbox BoundingBox[float64], tileBits uint32) SpatialIndexOptions {
	return SpatialIndexOptions{Name: name, BBox: bbox, TileBits: tileBits}
}

// SpatialDBOptions configures opening or creating a SpatialDB.
type SpatialDBOptions struct {
	// NumThreads is the default parallelism for Compact when the caller
	// passes zero.
	NumThreads int

	// BulkLoad tunes the underlying store for write-heavy initial
	// loading at the cost of read performance until the database is
	// compacted. Call Compact after a bulk load.
	BulkLoad bool

	// Logger receives log messages. If nil, a default WARN-level
	// logger is used.
	Logger Logger

	// OpenStore opens the backing store. If nil, a RockyardKV store
	// is used.
	OpenStore store.Opener

	// DestroyStore removes the backing store at a path; Create uses it
	// to clean up after a failed initialization. If nil, the RockyardKV
	// destroy is used.
	DestroyStore func(path string) error
}

// DefaultSpatialDBOptions returns the default SpatialDB options.
func DefaultSpatialDBOptions() SpatialDBOptions {
	return SpatialDBOptions{
		NumThreads: 16,
	}
}

const (
	// Store tuning applied at open time. Bulk loads get larger and
	// more numerous write buffers so the index namespaces can absorb
	// bursts of small entries.
	baseWriteBufferSize     = 128 * 1024 * 1024
	bulkLoadWriteBufferSize = 256 * 1024 * 1024
	baseWriteBufferNumber   = 4
	bulkWriteBufferNumber   = 8
	storeMaxOpenFiles       = 50000
)

// storeOptions translates SpatialDBOptions into the store-level open
// options.
func (o SpatialDBOptions) storeOptions() store.Options {
	opts := store.Options{
		WriteBufferSize:      baseWriteBufferSize,
		MaxWriteBufferNumber: baseWriteBufferNumber,
		MaxOpenFiles:         storeMaxOpenFiles,
		Logger:               logging.OrDefault(o.Logger),
	}
	if o.BulkLoad {
		opts.WriteBufferSize = bulkLoadWriteBufferSize
		opts.MaxWriteBufferNumber = bulkWriteBufferNumber
	}
	return opts
}

// opener returns the configured store opener, defaulting to RockyardKV.
func (o SpatialDBOptions) opener() store.Opener {
	if o.OpenStore != nil {
		return o.OpenStore
	}
	return store.OpenRockyard
}

// destroyer returns the configured store destroyer, defaulting to
// RockyardKV.
func (o SpatialDBOptions) destroyer() func(path string) error {
	if o.DestroyStore != nil {
		return o.DestroyStore
	}
	return store.DestroyRockyard
}
