/*
Package spatialkv provides a spatial-index layer on top of an ordered,
namespace-partitioned key-value store such as RockyardKV.

Records carry an opaque blob, a FeatureSet of named attributes, and a
2-D bounding box. Each named spatial index tiles its registered
bounding box into a regular grid and stores one derived index entry per
covering tile, keyed by the tile's quad key. A bounding-box query turns
into a bounded set of range scans over those quad keys, deduplicated by
record id and joined back to the primary records.

# Storage format

Namespaces (store "column families") are used to store record data and
spatial indexes. The [default] namespace holds the record data:

	id (fixed 64-bit big endian) -> blob (length-prefixed slice) feature_set (serialized)

There is one additional namespace per spatial index, named
[spatial$<spatial_index_name>]:

	quad_key (fixed 64-bit big endian) id (fixed 64-bit big endian) -> ""

Index definitions live in the [metadata] namespace:

	spatial$<spatial_index_name> -> bbox (4 double encodings) tile_bits (varint32)

These encodings are bit-compatible with RocksDB's SpatialDB utility, so
a database written by either implementation can be read by the other.

# Concurrency

A SpatialDB is safe for concurrent use by multiple goroutines.
Individual Cursor instances are not; each goroutine should use its own
cursor.
*/
package spatialkv
