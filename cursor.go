package spatialkv

import (
	"fmt"
	"sort"

	"github.com/aalhour/spatialkv/internal/encoding"
	"github.com/aalhour/spatialkv/store"
)

// Cursor iterates over the results of a spatial query. A cursor is not
// safe for concurrent use.
type Cursor interface {
	// Valid returns true if the cursor is positioned at a result.
	Valid() bool

	// Next advances the cursor to the next result.
	// REQUIRES: Valid()
	Next()

	// Blob returns the opaque blob of the current record.
	// REQUIRES: Valid()
	Blob() []byte

	// FeatureSet returns the feature set of the current record.
	// REQUIRES: Valid()
	FeatureSet() *FeatureSet

	// Err returns the first error encountered during iteration. A
	// cursor that hits an error becomes invalid.
	Err() error

	// Close releases resources held by the cursor.
	Close() error
}

const indexEntryLen = 16 // quad key (8 bytes) ++ record id (8 bytes)

// spatialIndexCursor scans the index namespace for every tile covered
// by the query box, deduplicates the record ids it finds, and fetches
// the records lazily as the caller advances.
type spatialIndexCursor struct {
	getter valueGetter
	ids    []uint64
	pos    int

	blob       []byte
	featureSet *FeatureSet
	err        error
}

// checkQuadKey reports whether iter is positioned at an entry of
// quadKey. A valid entry whose key is not exactly 16 bytes is
// corruption.
func checkQuadKey(iter store.Iterator, quadKey uint64) (bool, error) {
	if !iter.Valid() {
		return false, nil
	}
	key := iter.Key()
	if len(key) != indexEntryLen {
		return false, fmt.Errorf("%w: spatial index entry has length %d", ErrCorruption, len(key))
	}
	entryQuadKey, _ := encoding.DecodeFixed64BigEndian(key)
	return entryQuadKey == quadKey, nil
}

// newSpatialIndexCursor consumes indexIter to collect the ids of all
// records indexed under tiles in tileBox, then closes it. Ownership of
// getter passes to the cursor.
func newSpatialIndexCursor(indexIter store.Iterator, getter valueGetter, tileBox BoundingBox[uint64], tileBits uint32) *spatialIndexCursor {
	c := &spatialIndexCursor{getter: getter}

	var quadKeys []uint64
	for x := tileBox.MinX; x <= tileBox.MaxX; x++ {
		for y := tileBox.MinY; y <= tileBox.MaxY; y++ {
			quadKeys = append(quadKeys, QuadKeyFromTile(x, y, tileBits))
		}
	}
	sort.Slice(quadKeys, func(i, j int) bool { return quadKeys[i] < quadKeys[j] })

	seen := make(map[uint64]struct{})
	for _, quadKey := range quadKeys {
		// The keys are visited in ascending order, so after draining
		// one quad key the iterator often already sits on the next.
		// Only reseek when it does not.
		match, err := checkQuadKey(indexIter, quadKey)
		if err != nil {
			c.fail(err)
			indexIter.Close()
			return c
		}
		if !match {
			indexIter.Seek(encoding.AppendFixed64BigEndian(nil, quadKey))
		}

		for {
			match, err := checkQuadKey(indexIter, quadKey)
			if err != nil {
				c.fail(err)
				indexIter.Close()
				return c
			}
			if !match {
				break
			}
			id, _ := encoding.DecodeFixed64BigEndian(indexIter.Key()[8:])
			seen[id] = struct{}{}
			indexIter.Next()
		}
		if err := indexIter.Error(); err != nil {
			c.fail(err)
			indexIter.Close()
			return c
		}
	}
	if err := indexIter.Close(); err != nil {
		c.fail(err)
		return c
	}

	// A record spanning several tiles appears once per tile in the
	// index; the set above collapses the duplicates. Sort the ids so
	// iteration order is deterministic and the iterator-backed getter
	// only ever seeks forward.
	c.ids = make([]uint64, 0, len(seen))
	for id := range seen {
		c.ids = append(c.ids, id)
	}
	sort.Slice(c.ids, func(i, j int) bool { return c.ids[i] < c.ids[j] })

	if c.Valid() {
		c.extractData()
	}
	return c
}

func (c *spatialIndexCursor) fail(err error) {
	if c.err == nil {
		c.err = err
	}
	c.pos = len(c.ids)
}

// extractData fetches and decodes the record at the current position.
func (c *spatialIndexCursor) extractData() {
	id := c.ids[c.pos]
	if !c.getter.Get(id) {
		c.fail(c.getter.Err())
		return
	}

	s := encoding.NewSlice(c.getter.Value())
	blob, ok := s.GetLengthPrefixedSlice()
	if !ok {
		c.fail(fmt.Errorf("%w: record %d has malformed blob", ErrCorruption, id))
		return
	}
	featureSet := NewFeatureSet()
	if err := featureSet.Deserialize(s.Data()); err != nil {
		c.fail(fmt.Errorf("record %d: %w", id, err))
		return
	}
	c.blob = blob
	c.featureSet = featureSet
}

func (c *spatialIndexCursor) Valid() bool {
	return c.err == nil && c.pos < len(c.ids)
}

func (c *spatialIndexCursor) Next() {
	c.pos++
	if c.Valid() {
		c.extractData()
	}
}

func (c *spatialIndexCursor) Blob() []byte { return c.blob }

func (c *spatialIndexCursor) FeatureSet() *FeatureSet { return c.featureSet }

func (c *spatialIndexCursor) Err() error { return c.err }

func (c *spatialIndexCursor) Close() error {
	return c.getter.Close()
}

// errorCursor is returned when a query cannot start, for example when
// the spatial index does not exist.
type errorCursor struct {
	err error
}

func (c errorCursor) Valid() bool { return false }

func (c errorCursor) Next() {}

func (c errorCursor) Blob() []byte { return nil }

func (c errorCursor) FeatureSet() *FeatureSet { return nil }

func (c errorCursor) Err() error { return c.err }

func (c errorCursor) Close() error { return nil }
