// batch.go implements the cross-namespace write batch.
package store

// BatchOp is a single buffered write.
type BatchOp struct {
	Namespace Namespace
	Key       []byte
	Value     []byte
}

// Batch holds a collection of writes to be applied atomically by
// DB.Write. Keys and values are copied, so callers may reuse their
// buffers after Put.
//
// A Batch can be reused by calling Clear() after Write().
type Batch struct {
	ops  []BatchOp
	size int
}

// NewBatch creates a new empty Batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Put adds a key-value pair for ns to the batch.
func (b *Batch) Put(ns Namespace, key, value []byte) {
	op := BatchOp{
		Namespace: ns,
		Key:       append([]byte(nil), key...),
		Value:     append([]byte(nil), value...),
	}
	b.ops = append(b.ops, op)
	b.size += len(key) + len(value)
}

// Count returns the number of operations in the batch.
func (b *Batch) Count() int {
	return len(b.ops)
}

// DataSize returns the total key and value bytes buffered in the batch.
// Insert uses this to bound batch memory between early flushes.
func (b *Batch) DataSize() int {
	return b.size
}

// Ops returns the buffered operations in insertion order.
// The returned slice is owned by the batch; it is valid until the next
// Put or Clear.
func (b *Batch) Ops() []BatchOp {
	return b.ops
}

// Clear resets the batch to empty, allowing it to be reused.
func (b *Batch) Clear() {
	b.ops = b.ops[:0]
	b.size = 0
}
