package spatialkv

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/aalhour/spatialkv/internal/encoding"
	"github.com/aalhour/spatialkv/store"
)

// valueGetter fetches primary records by id on behalf of a cursor. Two
// implementations exist: one issues point reads, the other seeks a
// long-lived iterator. The iterator form amortizes lookup cost when a
// cursor visits many ids in ascending order, but pins the iterator's
// snapshot for the cursor's lifetime.
type valueGetter interface {
	// Get positions the getter at the record with the given id,
	// reporting whether the record was fetched. After a false return
	// Err describes the failure.
	Get(id uint64) bool

	// Value returns the raw record value at the current position.
	// REQUIRES: the last Get returned true
	Value() []byte

	// Err returns the error from the last failed Get, if any.
	Err() error

	// Close releases resources held by the getter.
	Close() error
}

// storeValueGetter fetches records with point reads against the
// primary namespace.
type storeValueGetter struct {
	db    store.DB
	ns    store.Namespace
	opts  *store.ReadOptions
	value []byte
	err   error
}

func newStoreValueGetter(db store.DB, ns store.Namespace, opts *store.ReadOptions) *storeValueGetter {
	return &storeValueGetter{db: db, ns: ns, opts: opts}
}

func (g *storeValueGetter) Get(id uint64) bool {
	key := encoding.AppendFixed64BigEndian(nil, id)
	value, err := g.db.Get(g.opts, g.ns, key)
	if err != nil {
		// An index entry always refers to an existing record, so a
		// missing record is corruption rather than absence. Any other
		// store error passes through untouched.
		if errors.Is(err, store.ErrNotFound) {
			g.err = fmt.Errorf("%w: spatial index points to missing record %d", ErrCorruption, id)
		} else {
			g.err = err
		}
		return false
	}
	g.value = value
	g.err = nil
	return true
}

func (g *storeValueGetter) Value() []byte { return g.value }

func (g *storeValueGetter) Err() error { return g.err }

func (g *storeValueGetter) Close() error { return nil }

var _ valueGetter = (*storeValueGetter)(nil)

// iteratorValueGetter fetches records by seeking an iterator over the
// primary namespace.
type iteratorValueGetter struct {
	iter store.Iterator
	err  error
}

func newIteratorValueGetter(iter store.Iterator) *iteratorValueGetter {
	return &iteratorValueGetter{iter: iter}
}

func (g *iteratorValueGetter) Get(id uint64) bool {
	key := encoding.AppendFixed64BigEndian(nil, id)
	g.iter.Seek(key)
	if err := g.iter.Error(); err != nil {
		g.err = err
		return false
	}
	if !g.iter.Valid() || !bytes.Equal(g.iter.Key(), key) {
		g.err = fmt.Errorf("%w: spatial index points to missing record %d", ErrCorruption, id)
		return false
	}
	g.err = nil
	return true
}

func (g *iteratorValueGetter) Value() []byte { return g.iter.Value() }

func (g *iteratorValueGetter) Err() error { return g.err }

func (g *iteratorValueGetter) Close() error { return g.iter.Close() }

var _ valueGetter = (*iteratorValueGetter)(nil)
