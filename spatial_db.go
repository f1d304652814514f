package spatialkv

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/aalhour/spatialkv/internal/encoding"
	"github.com/aalhour/spatialkv/internal/logging"
	"github.com/aalhour/spatialkv/store"
)

// insertBatchFlushBytes bounds the memory a single Insert buffers
// before writing an intermediate batch. A record covering many tiles
// produces one index entry per tile, so the batch can grow well beyond
// the record itself.
const insertBatchFlushBytes = 1 << 20

// SpatialDB stores records with a 2-D bounding box and queries them by
// box intersection through named spatial indexes.
//
// Implementations are safe for concurrent use by multiple goroutines,
// but see Cursor for the constraints on individual cursors.
type SpatialDB interface {
	// Insert stores a record and adds it to each of the named spatial
	// indexes whose bounding box intersects bbox. The indexes must all
	// exist and at least one must be named.
	Insert(opts *WriteOptions, bbox BoundingBox[float64], blob []byte, featureSet *FeatureSet, spatialIndexes []string) error

	// Query returns a cursor over all records whose insert bounding
	// box shares at least one index tile with bbox, under the named
	// spatial index. The cursor may also return records whose box is
	// near but not intersecting bbox, since tile coverage is coarser
	// than the boxes themselves; it never misses an intersecting
	// record inside the index's bounds.
	//
	// Errors are reported through the returned cursor.
	Query(opts *ReadOptions, bbox BoundingBox[float64], spatialIndex string) Cursor

	// Compact flushes and compacts every namespace, running at most
	// numThreads compactions in parallel. numThreads <= 0 uses the
	// database's configured default. All namespaces are processed even
	// when one fails; the first error is returned.
	Compact(numThreads int) error

	// Close closes the database and its backing store.
	Close() error
}

// indexedNamespace pairs a spatial index definition with the namespace
// that stores its entries.
type indexedNamespace struct {
	opts SpatialIndexOptions
	ns   store.Namespace
}

type spatialDB struct {
	db      store.DB
	dataNS  store.Namespace
	indexes map[string]indexedNamespace

	nextID     atomic.Uint64
	numThreads int
	readOnly   bool
	closed     atomic.Bool
	logger     logging.Logger
}

var _ SpatialDB = (*spatialDB)(nil)

func (s *spatialDB) Insert(opts *WriteOptions, bbox BoundingBox[float64], blob []byte, featureSet *FeatureSet, spatialIndexes []string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(spatialIndexes) == 0 {
		return fmt.Errorf("%w: insert without spatial indexes", ErrInvalidArgument)
	}

	// Resolve every index before touching the batch so a bad name
	// cannot leave a partially indexed record behind.
	targets := make([]indexedNamespace, 0, len(spatialIndexes))
	for _, name := range spatialIndexes {
		index, ok := s.indexes[name]
		if !ok {
			return fmt.Errorf("%w: unknown spatial index %q", ErrInvalidArgument, name)
		}
		targets = append(targets, index)
	}

	id := s.nextID.Add(1) - 1
	idKey := encoding.AppendFixed64BigEndian(nil, id)

	batch := store.NewBatch()
	for _, index := range targets {
		tileBox, ok := TileBoundingBox(index.opts, bbox)
		if !ok {
			s.logger.Debugf(logging.NSInsert+"record %d outside of index %q, skipping", id, index.opts.Name)
			continue
		}
		for x := tileBox.MinX; x <= tileBox.MaxX; x++ {
			for y := tileBox.MinY; y <= tileBox.MaxY; y++ {
				var key []byte
				key = encoding.AppendFixed64BigEndian(key, QuadKeyFromTile(x, y, index.opts.TileBits))
				key = append(key, idKey...)
				batch.Put(index.ns, key, nil)

				if batch.DataSize() >= insertBatchFlushBytes {
					if err := s.db.Write(opts, batch); err != nil {
						return err
					}
					batch.Clear()
				}
			}
		}
	}

	value := encoding.AppendLengthPrefixedSlice(nil, blob)
	value = featureSet.Serialize(value)
	batch.Put(s.dataNS, idKey, value)
	return s.db.Write(opts, batch)
}

func (s *spatialDB) Query(opts *ReadOptions, bbox BoundingBox[float64], spatialIndex string) Cursor {
	if s.closed.Load() {
		return errorCursor{err: ErrClosed}
	}
	index, ok := s.indexes[spatialIndex]
	if !ok {
		return errorCursor{err: fmt.Errorf("%w: unknown spatial index %q", ErrInvalidArgument, spatialIndex)}
	}

	tileBox, ok := TileBoundingBox(index.opts, bbox)
	if !ok {
		// Nothing inside the index can intersect the query box.
		return errorCursor{}
	}

	// A read-only database cannot change underneath the cursor, so
	// per-id point reads suffice. A writable one takes the index and
	// data iterators from a single consistent view, keeping record
	// fetches coherent with the index scan under concurrent inserts.
	if s.readOnly {
		getter := newStoreValueGetter(s.db, s.dataNS, opts)
		return newSpatialIndexCursor(s.db.NewIterator(opts, index.ns), getter, tileBox, index.opts.TileBits)
	}
	iters, err := s.db.NewIterators(opts, []store.Namespace{index.ns, s.dataNS})
	if err != nil {
		return errorCursor{err: err}
	}
	return newSpatialIndexCursor(iters[0], newIteratorValueGetter(iters[1]), tileBox, index.opts.TileBits)
}

func (s *spatialDB) Compact(numThreads int) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if numThreads <= 0 {
		numThreads = s.numThreads
	}

	namespaces := make([]store.Namespace, 0, len(s.indexes)+1)
	namespaces = append(namespaces, s.dataNS)
	for _, index := range s.indexes {
		namespaces = append(namespaces, index.ns)
	}

	var g errgroup.Group
	g.SetLimit(numThreads)
	for _, ns := range namespaces {
		g.Go(func() error {
			s.logger.Infof(logging.NSCompact+"compacting namespace %q", ns.Name())
			if err := s.db.Flush(ns); err != nil {
				return fmt.Errorf("flush namespace %q: %w", ns.Name(), err)
			}
			if err := s.db.CompactRange(ns); err != nil {
				return fmt.Errorf("compact namespace %q: %w", ns.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *spatialDB) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
