package spatialkv

// Number constrains the coordinate types a BoundingBox can use.
type Number interface {
	~uint64 | ~float64
}

// BoundingBox is an axis-aligned 2-D box with inclusive bounds.
type BoundingBox[T Number] struct {
	MinX, MinY, MaxX, MaxY T
}

// NewBoundingBox returns the box spanning (minX, minY) to (maxX, maxY).
func NewBoundingBox[T Number](minX, minY, maxX, maxY T) BoundingBox[T] {
	return BoundingBox[T]{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// Intersects reports whether two boxes overlap. Boxes that merely
// touch at an edge or corner intersect.
func (b BoundingBox[T]) Intersects(o BoundingBox[T]) bool {
	return !(o.MinX > b.MaxX || b.MinX > o.MaxX ||
		o.MinY > b.MaxY || b.MinY > o.MaxY)
}

// QuadKeyFromTile interleaves the low tileBits bits of the tile
// coordinates into a single key: bit i of x lands at bit 2i, bit i of
// y at bit 2i+1. Keys of spatially close tiles share high-order
// prefixes, so a range scan over quad keys visits nearby tiles
// together.
func QuadKeyFromTile(x, y uint64, tileBits uint32) uint64 {
	var key uint64
	for i := uint32(0); i < tileBits; i++ {
		key |= (x >> i & 1) << (2 * i)
		key |= (y >> i & 1) << (2*i + 1)
	}
	return key
}

// tileFromCoord maps a coordinate to a tile number along one axis of
// the index grid. Coordinates outside [start, end) clamp to the edge
// tiles.
func tileFromCoord(coord, start, end float64, tileBits uint32) uint64 {
	if coord < start {
		return 0
	}
	tiles := uint64(1) << tileBits
	r := uint64(((coord - start) / (end - start)) * float64(tiles))
	if r >= tiles {
		return tiles - 1
	}
	return r
}

// TileBoundingBox returns the range of index tiles covered by bbox.
// The second result is false when bbox does not intersect the index's
// own bounding box, in which case no tiles are covered.
func TileBoundingBox(index SpatialIndexOptions, bbox BoundingBox[float64]) (BoundingBox[uint64], bool) {
	if !index.BBox.Intersects(bbox) {
		return BoundingBox[uint64]{}, false
	}
	return BoundingBox[uint64]{
		MinX: tileFromCoord(bbox.MinX, index.BBox.MinX, index.BBox.MaxX, index.TileBits),
		MinY: tileFromCoord(bbox.MinY, index.BBox.MinY, index.BBox.MaxY, index.TileBits),
		MaxX: tileFromCoord(bbox.MaxX, index.BBox.MinX, index.BBox.MaxX, index.TileBits),
		MaxY: tileFromCoord(bbox.MaxY, index.BBox.MinY, index.BBox.MaxY, index.TileBits),
	}, true
}
