package spatialkv

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aalhour/spatialkv/internal/encoding"
	"github.com/aalhour/spatialkv/store"
)

const (
	// primaryNamespaceName holds the record data, keyed by record id.
	primaryNamespaceName = "default"

	// metadataNamespaceName holds one entry per spatial index with its
	// definition.
	metadataNamespaceName = "metadata"

	// spatialIndexPrefix prefixes the namespace of every spatial index.
	spatialIndexPrefix = "spatial$"
)

// indexNamespaceName returns the namespace name for the spatial index
// called name.
func indexNamespaceName(name string) string {
	return spatialIndexPrefix + name
}

// spatialIndexName extracts the index name from a namespace name,
// reporting false when nsName is not a spatial index namespace.
func spatialIndexName(nsName string) (string, bool) {
	if !strings.HasPrefix(nsName, spatialIndexPrefix) {
		return "", false
	}
	return nsName[len(spatialIndexPrefix):], true
}

// metadataStorage reads and writes spatial index definitions in the
// metadata namespace. The key for an index is its namespace name and
// the value is the four bounding box doubles followed by the tile bits
// as a varint32.
type metadataStorage struct {
	db store.DB
	ns store.Namespace
}

// AddIndex persists the definition of index.
func (m metadataStorage) AddIndex(index SpatialIndexOptions) error {
	var value []byte
	value = encoding.AppendDouble(value, index.BBox.MinX)
	value = encoding.AppendDouble(value, index.BBox.MinY)
	value = encoding.AppendDouble(value, index.BBox.MaxX)
	value = encoding.AppendDouble(value, index.BBox.MaxY)
	value = encoding.AppendVarint32(value, index.TileBits)
	return m.db.Put(nil, m.ns, []byte(indexNamespaceName(index.Name)), value)
}

// GetIndex loads the definition of the index called name. It returns
// ErrNotFound when no such index exists and ErrCorruption when the
// stored definition does not decode.
func (m metadataStorage) GetIndex(name string) (SpatialIndexOptions, error) {
	value, err := m.db.Get(nil, m.ns, []byte(indexNamespaceName(name)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return SpatialIndexOptions{}, fmt.Errorf("%w: spatial index %q", ErrNotFound, name)
		}
		return SpatialIndexOptions{}, err
	}

	index := SpatialIndexOptions{Name: name}
	s := encoding.NewSlice(value)
	coords := []*float64{&index.BBox.MinX, &index.BBox.MinY, &index.BBox.MaxX, &index.BBox.MaxY}
	for _, c := range coords {
		d, ok := s.GetDouble()
		if !ok {
			return SpatialIndexOptions{}, fmt.Errorf("%w: metadata for spatial index %q", ErrCorruption, name)
		}
		*c = d
	}
	tileBits, ok := s.GetVarint32()
	if !ok {
		return SpatialIndexOptions{}, fmt.Errorf("%w: metadata for spatial index %q", ErrCorruption, name)
	}
	index.TileBits = tileBits
	return index, nil
}
