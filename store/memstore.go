// memstore.go implements an in-memory store backend.
//
// Data lives in a process-wide registry keyed by path, so closing and
// reopening the same path within one process observes the same data.
// This mirrors a durable store closely enough for tests and ephemeral
// databases; nothing survives the process.
package store

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/aalhour/spatialkv/internal/logging"
)

const memBTreeDegree = 32

type memItem struct {
	key   []byte
	value []byte
}

func memItemLess(a, b memItem) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// memData is the registry entry for one path.
type memData struct {
	mu         sync.RWMutex
	namespaces map[string]*btree.BTreeG[memItem]
}

var (
	memRegistryMu sync.Mutex
	memRegistry   = make(map[string]*memData)
)

// DestroyMem removes the in-memory store at path from the process-wide
// registry. Open handles keep working against the detached data.
func DestroyMem(path string) error {
	memRegistryMu.Lock()
	defer memRegistryMu.Unlock()
	delete(memRegistry, path)
	return nil
}

// memNamespace is the Namespace handle for MemStore.
type memNamespace struct {
	name  string
	owner *MemStore
}

// Name returns the namespace name.
func (ns *memNamespace) Name() string { return ns.name }

// MemStore is an in-memory DB implementation backed by B-trees, one per
// namespace. It is safe for concurrent use.
type MemStore struct {
	path     string
	data     *memData
	readOnly bool
	logger   logging.Logger

	mu     sync.Mutex
	closed bool
}

var _ DB = (*MemStore)(nil)

// OpenMem opens (or creates) the in-memory store registered under path.
func OpenMem(path string, opts Options) (DB, error) {
	memRegistryMu.Lock()
	defer memRegistryMu.Unlock()

	data, exists := memRegistry[path]
	if exists && opts.ErrorIfExists {
		return nil, fmt.Errorf("%w: %q", ErrStoreExists, path)
	}
	if !exists {
		if !opts.CreateIfMissing {
			return nil, fmt.Errorf("%w: %q", ErrStoreNotFound, path)
		}
		data = &memData{namespaces: make(map[string]*btree.BTreeG[memItem])}
		memRegistry[path] = data
	}

	return &MemStore{
		path:     path,
		data:     data,
		readOnly: opts.ReadOnly,
		logger:   logging.OrDefault(opts.Logger),
	}, nil
}

var _ Opener = OpenMem

func (m *MemStore) namespaceTree(ns Namespace) (*btree.BTreeG[memItem], error) {
	h, ok := ns.(*memNamespace)
	if !ok || h.owner != m {
		return nil, fmt.Errorf("%w: foreign namespace handle", ErrNamespaceNotFound)
	}
	m.data.mu.RLock()
	tree, ok := m.data.namespaces[h.name]
	m.data.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNamespaceNotFound, h.name)
	}
	return tree, nil
}

func (m *MemStore) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Get retrieves the value for key from ns.
func (m *MemStore) Get(opts *ReadOptions, ns Namespace, key []byte) ([]byte, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	tree, err := m.namespaceTree(ns)
	if err != nil {
		return nil, err
	}
	m.data.mu.RLock()
	item, ok := tree.Get(memItem{key: key})
	m.data.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), item.value...), nil
}

// Put sets the value for key in ns.
func (m *MemStore) Put(opts *WriteOptions, ns Namespace, key, value []byte) error {
	if m.isClosed() {
		return ErrClosed
	}
	if m.readOnly {
		return ErrReadOnly
	}
	tree, err := m.namespaceTree(ns)
	if err != nil {
		return err
	}
	item := memItem{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	}
	m.data.mu.Lock()
	tree.ReplaceOrInsert(item)
	m.data.mu.Unlock()
	return nil
}

// Write applies a batch atomically. All namespace handles are resolved
// before the first mutation so an invalid handle cannot leave a partial
// batch behind.
func (m *MemStore) Write(opts *WriteOptions, batch *Batch) error {
	if m.isClosed() {
		return ErrClosed
	}
	if m.readOnly {
		return ErrReadOnly
	}
	ops := batch.Ops()
	trees := make([]*btree.BTreeG[memItem], len(ops))
	for i, op := range ops {
		tree, err := m.namespaceTree(op.Namespace)
		if err != nil {
			return err
		}
		trees[i] = tree
	}
	m.data.mu.Lock()
	for i, op := range ops {
		// Batch.Put already copied the bytes.
		trees[i].ReplaceOrInsert(memItem{key: op.Key, value: op.Value})
	}
	m.data.mu.Unlock()
	return nil
}

// NewIterator creates an iterator over a point-in-time view of ns.
func (m *MemStore) NewIterator(opts *ReadOptions, ns Namespace) Iterator {
	if m.isClosed() {
		return &errorIterator{err: ErrClosed}
	}
	tree, err := m.namespaceTree(ns)
	if err != nil {
		return &errorIterator{err: err}
	}
	// Materialize a snapshot under the read lock. Items are immutable
	// once inserted, so sharing their byte slices is safe.
	m.data.mu.RLock()
	items := make([]memItem, 0, tree.Len())
	tree.Ascend(func(item memItem) bool {
		items = append(items, item)
		return true
	})
	m.data.mu.RUnlock()
	return &memIterator{items: items, pos: -1}
}

// NewIterators creates iterators for multiple namespaces. All
// snapshots are taken while holding the read lock once, so the
// iterators observe a single consistent view.
func (m *MemStore) NewIterators(opts *ReadOptions, nss []Namespace) ([]Iterator, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	trees := make([]*btree.BTreeG[memItem], len(nss))
	for i, ns := range nss {
		tree, err := m.namespaceTree(ns)
		if err != nil {
			return nil, err
		}
		trees[i] = tree
	}

	m.data.mu.RLock()
	iters := make([]Iterator, len(nss))
	for i, tree := range trees {
		items := make([]memItem, 0, tree.Len())
		tree.Ascend(func(item memItem) bool {
			items = append(items, item)
			return true
		})
		iters[i] = &memIterator{items: items, pos: -1}
	}
	m.data.mu.RUnlock()
	return iters, nil
}

// Flush is a no-op: the memstore has no write buffer.
func (m *MemStore) Flush(ns Namespace) error {
	if m.isClosed() {
		return ErrClosed
	}
	_, err := m.namespaceTree(ns)
	return err
}

// CompactRange is a no-op: the memstore has no levels to compact.
func (m *MemStore) CompactRange(ns Namespace) error {
	if m.isClosed() {
		return ErrClosed
	}
	_, err := m.namespaceTree(ns)
	return err
}

// CreateNamespace creates a new namespace.
func (m *MemStore) CreateNamespace(name string) (Namespace, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	if m.readOnly {
		return nil, ErrReadOnly
	}
	m.data.mu.Lock()
	defer m.data.mu.Unlock()
	if _, exists := m.data.namespaces[name]; exists {
		return nil, fmt.Errorf("store: namespace %q already exists", name)
	}
	m.data.namespaces[name] = btree.NewG(memBTreeDegree, memItemLess)
	return &memNamespace{name: name, owner: m}, nil
}

// Namespace returns a handle to the named namespace.
func (m *MemStore) Namespace(name string) (Namespace, bool) {
	m.data.mu.RLock()
	defer m.data.mu.RUnlock()
	if _, ok := m.data.namespaces[name]; !ok {
		return nil, false
	}
	return &memNamespace{name: name, owner: m}, true
}

// ListNamespaces returns all namespace names in sorted order.
func (m *MemStore) ListNamespaces() []string {
	m.data.mu.RLock()
	names := make([]string, 0, len(m.data.namespaces))
	for name := range m.data.namespaces {
		names = append(names, name)
	}
	m.data.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Close closes the handle. The data stays in the registry so the path
// can be reopened.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.closed = true
	return nil
}

// memIterator iterates over a materialized snapshot.
type memIterator struct {
	items []memItem
	pos   int
}

func (it *memIterator) Valid() bool {
	return it.pos >= 0 && it.pos < len(it.items)
}

func (it *memIterator) SeekToFirst() {
	it.pos = 0
}

func (it *memIterator) SeekToLast() {
	it.pos = len(it.items) - 1
}

func (it *memIterator) Seek(target []byte) {
	it.pos = sort.Search(len(it.items), func(i int) bool {
		return bytes.Compare(it.items[i].key, target) >= 0
	})
}

func (it *memIterator) Next() {
	if it.pos < len(it.items) {
		it.pos++
	}
}

// Key returns the key at the current position.
// REQUIRES: Valid()
func (it *memIterator) Key() []byte {
	return it.items[it.pos].key
}

// Value returns the value at the current position.
// REQUIRES: Valid()
func (it *memIterator) Value() []byte {
	return it.items[it.pos].value
}

func (it *memIterator) Error() error { return nil }
func (it *memIterator) Close() error { return nil }

// errorIterator is an iterator that always reports an error.
type errorIterator struct {
	err error
}

func (it *errorIterator) Valid() bool         { return false }
func (it *errorIterator) SeekToFirst()        {}
func (it *errorIterator) SeekToLast()         {}
func (it *errorIterator) Seek(target []byte)  {}
func (it *errorIterator) Next()               {}
func (it *errorIterator) Key() []byte         { return nil }
func (it *errorIterator) Value() []byte       { return nil }
func (it *errorIterator) Error() error        { return it.err }
func (it *errorIterator) Close() error        { return nil }
