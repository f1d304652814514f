// rockyard.go implements the RockyardKV-backed store.
//
// Namespaces map 1:1 onto RockyardKV column families. Flush and
// CompactRange are not column-family-scoped in RockyardKV, so the
// per-namespace calls flush and compact the whole database; that is a
// superset of what the caller asked for and preserves the contract.
package store

import (
	"errors"
	"fmt"
	"os"

	"github.com/aalhour/rockyardkv"

	"github.com/aalhour/spatialkv/internal/logging"
)

// rockyardNamespace is the Namespace handle for RockyardStore.
type rockyardNamespace struct {
	name  string
	cf    rockyardkv.ColumnFamilyHandle
	owner *RockyardStore
}

// Name returns the namespace name.
func (ns *rockyardNamespace) Name() string { return ns.name }

// RockyardStore is a DB implementation backed by a RockyardKV database.
type RockyardStore struct {
	db       rockyardkv.DB
	readOnly bool
	logger   logging.Logger
}

var _ DB = (*RockyardStore)(nil)

// fatalfLogger adapts the spatial logger to RockyardKV's Logger
// interface, which additionally requires Fatalf.
type fatalfLogger struct {
	logging.Logger
}

func (l fatalfLogger) Fatalf(format string, args ...any) {
	l.Errorf("FATAL "+format, args...)
}

// OpenRockyard opens (or creates) a RockyardKV database at path.
func OpenRockyard(path string, opts Options) (DB, error) {
	logger := logging.OrDefault(opts.Logger)

	kvOpts := rockyardkv.DefaultOptions()
	kvOpts.CreateIfMissing = opts.CreateIfMissing
	kvOpts.ErrorIfExists = opts.ErrorIfExists
	kvOpts.Logger = fatalfLogger{logger}
	if opts.WriteBufferSize > 0 {
		kvOpts.WriteBufferSize = opts.WriteBufferSize
	}
	if opts.MaxWriteBufferNumber > 0 {
		kvOpts.MaxWriteBufferNumber = opts.MaxWriteBufferNumber
	}
	if opts.MaxOpenFiles > 0 {
		kvOpts.MaxOpenFiles = opts.MaxOpenFiles
	}

	var (
		db  rockyardkv.DB
		err error
	)
	if opts.ReadOnly {
		db, err = rockyardkv.OpenForReadOnly(path, kvOpts, false)
	} else {
		db, err = rockyardkv.Open(path, kvOpts)
	}
	if err != nil {
		return nil, fmt.Errorf("store: open rockyardkv at %q: %w", path, err)
	}

	return &RockyardStore{db: db, readOnly: opts.ReadOnly, logger: logger}, nil
}

var _ Opener = OpenRockyard

// DestroyRockyard removes the database directory at path. All handles
// must be closed first.
func DestroyRockyard(path string) error {
	return os.RemoveAll(path)
}

func (r *RockyardStore) handle(ns Namespace) (*rockyardNamespace, error) {
	h, ok := ns.(*rockyardNamespace)
	if !ok || h.owner != r {
		return nil, fmt.Errorf("%w: foreign namespace handle", ErrNamespaceNotFound)
	}
	return h, nil
}

func (r *RockyardStore) readOptions(opts *ReadOptions) *rockyardkv.ReadOptions {
	if opts == nil {
		return nil
	}
	kv := rockyardkv.DefaultReadOptions()
	kv.VerifyChecksums = opts.VerifyChecksums
	return kv
}

func (r *RockyardStore) writeOptions(opts *WriteOptions) *rockyardkv.WriteOptions {
	if opts == nil {
		return nil
	}
	kv := rockyardkv.DefaultWriteOptions()
	kv.Sync = opts.Sync
	return kv
}

// Get retrieves the value for key from ns.
func (r *RockyardStore) Get(opts *ReadOptions, ns Namespace, key []byte) ([]byte, error) {
	h, err := r.handle(ns)
	if err != nil {
		return nil, err
	}
	value, err := r.db.GetCF(r.readOptions(opts), h.cf, key)
	if err != nil {
		if errors.Is(err, rockyardkv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

// Put sets the value for key in ns.
func (r *RockyardStore) Put(opts *WriteOptions, ns Namespace, key, value []byte) error {
	if r.readOnly {
		return ErrReadOnly
	}
	h, err := r.handle(ns)
	if err != nil {
		return err
	}
	return r.db.PutCF(r.writeOptions(opts), h.cf, key, value)
}

// Write applies a batch atomically through a RockyardKV write batch.
func (r *RockyardStore) Write(opts *WriteOptions, batch *Batch) error {
	if r.readOnly {
		return ErrReadOnly
	}
	wb := rockyardkv.NewWriteBatch()
	for _, op := range batch.Ops() {
		h, err := r.handle(op.Namespace)
		if err != nil {
			return err
		}
		wb.PutCF(h.cf.ID(), op.Key, op.Value)
	}
	return r.db.Write(r.writeOptions(opts), wb)
}

// NewIterator creates an iterator over ns.
func (r *RockyardStore) NewIterator(opts *ReadOptions, ns Namespace) Iterator {
	h, err := r.handle(ns)
	if err != nil {
		return &errorIterator{err: err}
	}
	return &rockyardIterator{it: r.db.NewIteratorCF(r.readOptions(opts), h.cf)}
}

// NewIterators creates iterators over several namespaces from one
// consistent view of the database.
func (r *RockyardStore) NewIterators(opts *ReadOptions, nss []Namespace) ([]Iterator, error) {
	cfs := make([]rockyardkv.ColumnFamilyHandle, len(nss))
	for i, ns := range nss {
		h, err := r.handle(ns)
		if err != nil {
			return nil, err
		}
		cfs[i] = h.cf
	}
	kvIters, err := r.db.NewIterators(r.readOptions(opts), cfs)
	if err != nil {
		return nil, err
	}
	iters := make([]Iterator, len(kvIters))
	for i, it := range kvIters {
		iters[i] = &rockyardIterator{it: it}
	}
	return iters, nil
}

// Flush persists buffered writes. RockyardKV flushes the whole database.
func (r *RockyardStore) Flush(ns Namespace) error {
	if r.readOnly {
		return ErrReadOnly
	}
	if _, err := r.handle(ns); err != nil {
		return err
	}
	return r.db.Flush(rockyardkv.DefaultFlushOptions())
}

// CompactRange manually compacts ns. RockyardKV compacts the whole
// database key range.
func (r *RockyardStore) CompactRange(ns Namespace) error {
	if r.readOnly {
		return ErrReadOnly
	}
	h, err := r.handle(ns)
	if err != nil {
		return err
	}
	r.logger.Debugf(logging.NSStore+"compacting column family %q", h.name)
	return r.db.CompactRange(nil, nil, nil)
}

// CreateNamespace creates a new column family. The default column
// family always exists; asking for it returns its handle.
func (r *RockyardStore) CreateNamespace(name string) (Namespace, error) {
	if r.readOnly {
		return nil, ErrReadOnly
	}
	if name == rockyardkv.DefaultColumnFamilyName {
		return &rockyardNamespace{name: name, cf: r.db.DefaultColumnFamily(), owner: r}, nil
	}
	cf, err := r.db.CreateColumnFamily(rockyardkv.DefaultColumnFamilyOptions(), name)
	if err != nil {
		return nil, fmt.Errorf("store: create column family %q: %w", name, err)
	}
	return &rockyardNamespace{name: name, cf: cf, owner: r}, nil
}

// Namespace returns a handle to the named column family.
func (r *RockyardStore) Namespace(name string) (Namespace, bool) {
	if name == rockyardkv.DefaultColumnFamilyName {
		return &rockyardNamespace{name: name, cf: r.db.DefaultColumnFamily(), owner: r}, true
	}
	cf := r.db.GetColumnFamily(name)
	if cf == nil {
		return nil, false
	}
	return &rockyardNamespace{name: name, cf: cf, owner: r}, true
}

// ListNamespaces returns the names of all column families.
func (r *RockyardStore) ListNamespaces() []string {
	return r.db.ListColumnFamilies()
}

// Close closes the underlying database.
func (r *RockyardStore) Close() error {
	return r.db.Close()
}

// rockyardIterator adapts a RockyardKV iterator to the store Iterator.
type rockyardIterator struct {
	it rockyardkv.Iterator
}

func (it *rockyardIterator) Valid() bool        { return it.it.Valid() }
func (it *rockyardIterator) SeekToFirst()       { it.it.SeekToFirst() }
func (it *rockyardIterator) SeekToLast()        { it.it.SeekToLast() }
func (it *rockyardIterator) Seek(target []byte) { it.it.Seek(target) }
func (it *rockyardIterator) Next()              { it.it.Next() }
func (it *rockyardIterator) Key() []byte        { return it.it.Key() }
func (it *rockyardIterator) Value() []byte      { return it.it.Value() }
func (it *rockyardIterator) Error() error       { return it.it.Error() }
func (it *rockyardIterator) Close() error       { return it.it.Close() }
