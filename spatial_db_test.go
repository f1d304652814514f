package spatialkv

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/aalhour/spatialkv/internal/logging"
	"github.com/aalhour/spatialkv/store"
)

func testOptions(t *testing.T) (SpatialDBOptions, string) {
	t.Helper()
	path := fmt.Sprintf("mem://%s", t.Name())
	t.Cleanup(func() { store.DestroyMem(path) })
	opts := DefaultSpatialDBOptions()
	opts.Logger = logging.Discard
	opts.OpenStore = store.OpenMem
	opts.DestroyStore = store.DestroyMem
	return opts, path
}

// openTestDB creates a fresh spatial database with the given indexes
// and opens it for writing.
func openTestDB(t *testing.T, indexes ...SpatialIndexOptions) SpatialDB {
	t.Helper()
	opts, path := testOptions(t)
	if err := Create(opts, path, indexes...); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	db, err := Open(opts, path, false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustInsert(t *testing.T, db SpatialDB, bbox BoundingBox[float64], blob string, indexes ...string) {
	t.Helper()
	fs := NewFeatureSet().Set("name", StringVariant(blob))
	if err := db.Insert(nil, bbox, []byte(blob), fs, indexes); err != nil {
		t.Fatalf("Insert(%s) failed: %v", blob, err)
	}
}

// collectBlobs drains the cursor and returns the blobs it produced.
func collectBlobs(t *testing.T, c Cursor) []string {
	t.Helper()
	defer c.Close()
	var blobs []string
	for ; c.Valid(); c.Next() {
		blobs = append(blobs, string(c.Blob()))
		if c.FeatureSet() == nil {
			t.Fatal("cursor returned nil feature set")
		}
	}
	if err := c.Err(); err != nil {
		t.Fatalf("cursor error: %v", err)
	}
	return blobs
}

func defaultIndex() SpatialIndexOptions {
	return NewSpatialIndexOptions("index", NewBoundingBox[float64](-10, -10, 10, 10), 4)
}

func TestSpatialDBInsertAndQuery(t *testing.T) {
	db := openTestDB(t, defaultIndex())

	mustInsert(t, db, NewBoundingBox[float64](0.5, 0.5, 0.5, 0.5), "one", "index")
	mustInsert(t, db, NewBoundingBox[float64](7, 7, 9, 9), "two", "index")

	got := collectBlobs(t, db.Query(nil, NewBoundingBox[float64](0, 0, 1, 1), "index"))
	if len(got) != 1 || got[0] != "one" {
		t.Errorf("query near origin = %v, want [one]", got)
	}

	got = collectBlobs(t, db.Query(nil, NewBoundingBox[float64](-10, -10, 10, 10), "index"))
	if len(got) != 2 {
		t.Errorf("full query = %v, want both records", got)
	}
}

func TestSpatialDBQueryFeatureSet(t *testing.T) {
	db := openTestDB(t, defaultIndex())

	fs := NewFeatureSet().
		Set("name", StringVariant("pub")).
		Set("beers", IntVariant(7)).
		Set("open", BoolVariant(true))
	if err := db.Insert(nil, NewBoundingBox[float64](1, 1, 2, 2), []byte("blob"), fs, []string{"index"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	c := db.Query(nil, NewBoundingBox[float64](0, 0, 3, 3), "index")
	defer c.Close()
	if !c.Valid() {
		t.Fatalf("cursor invalid, err: %v", c.Err())
	}
	if string(c.Blob()) != "blob" {
		t.Errorf("Blob = %q", c.Blob())
	}
	if !c.FeatureSet().Equal(fs) {
		t.Errorf("FeatureSet = %s, want %s", c.FeatureSet().DebugString(), fs.DebugString())
	}
}

func TestSpatialDBQueryDeduplicates(t *testing.T) {
	db := openTestDB(t, defaultIndex())

	// Spans many tiles, so the index holds many entries for it.
	mustInsert(t, db, NewBoundingBox[float64](-8, -8, 8, 8), "big", "index")

	got := collectBlobs(t, db.Query(nil, NewBoundingBox[float64](-9, -9, 9, 9), "index"))
	if len(got) != 1 || got[0] != "big" {
		t.Errorf("query = %v, want [big] exactly once", got)
	}
}

func TestSpatialDBQueryOutsideIndex(t *testing.T) {
	db := openTestDB(t, defaultIndex())
	mustInsert(t, db, NewBoundingBox[float64](0, 0, 1, 1), "one", "index")

	c := db.Query(nil, NewBoundingBox[float64](50, 50, 60, 60), "index")
	defer c.Close()
	if c.Valid() {
		t.Error("cursor should be empty for a query outside of the index")
	}
	if err := c.Err(); err != nil {
		t.Errorf("empty cursor Err = %v, want nil", err)
	}
}

func TestSpatialDBQueryUnknownIndex(t *testing.T) {
	db := openTestDB(t, defaultIndex())

	c := db.Query(nil, NewBoundingBox[float64](0, 0, 1, 1), "unknown")
	defer c.Close()
	if c.Valid() {
		t.Error("cursor for unknown index should be invalid")
	}
	if err := c.Err(); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Err = %v, want ErrInvalidArgument", err)
	}
}

func TestSpatialDBMultipleIndexes(t *testing.T) {
	coarse := NewSpatialIndexOptions("coarse", NewBoundingBox[float64](-10, -10, 10, 10), 2)
	fine := NewSpatialIndexOptions("fine", NewBoundingBox[float64](-10, -10, 10, 10), 6)
	db := openTestDB(t, coarse, fine)

	mustInsert(t, db, NewBoundingBox[float64](1, 1, 2, 2), "both", "coarse", "fine")
	mustInsert(t, db, NewBoundingBox[float64](3, 3, 4, 4), "fine-only", "fine")

	got := collectBlobs(t, db.Query(nil, NewBoundingBox[float64](-10, -10, 10, 10), "fine"))
	if len(got) != 2 {
		t.Errorf("fine query = %v, want both records", got)
	}

	got = collectBlobs(t, db.Query(nil, NewBoundingBox[float64](3.2, 3.2, 3.8, 3.8), "coarse"))
	for _, blob := range got {
		if blob == "fine-only" {
			t.Error("record indexed only under fine leaked into coarse query")
		}
	}
}

func TestSpatialDBInsertValidation(t *testing.T) {
	db := openTestDB(t, defaultIndex())

	fs := NewFeatureSet()
	if err := db.Insert(nil, NewBoundingBox[float64](0, 0, 1, 1), []byte("x"), fs, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Insert with no indexes = %v, want ErrInvalidArgument", err)
	}
	if err := db.Insert(nil, NewBoundingBox[float64](0, 0, 1, 1), []byte("x"), fs, []string{"index", "bogus"}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Insert with unknown index = %v, want ErrInvalidArgument", err)
	}

	// The failed inserts must not have stored anything.
	got := collectBlobs(t, db.Query(nil, NewBoundingBox[float64](-10, -10, 10, 10), "index"))
	if len(got) != 0 {
		t.Errorf("query after failed inserts = %v, want empty", got)
	}
}

func TestSpatialDBInsertOutsideIndexBounds(t *testing.T) {
	db := openTestDB(t, defaultIndex())

	// Stored but not indexed: its box does not intersect the index's.
	mustInsert(t, db, NewBoundingBox[float64](100, 100, 101, 101), "faraway", "index")
	mustInsert(t, db, NewBoundingBox[float64](0, 0, 1, 1), "near", "index")

	got := collectBlobs(t, db.Query(nil, NewBoundingBox[float64](-10, -10, 10, 10), "index"))
	if len(got) != 1 || got[0] != "near" {
		t.Errorf("query = %v, want [near]", got)
	}
}

func TestSpatialDBNextIDRecovery(t *testing.T) {
	opts, path := testOptions(t)
	index := defaultIndex()
	if err := Create(opts, path, index); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	db, err := Open(opts, path, false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		mustInsert(t, db, NewBoundingBox[float64](0, 0, 1, 1), fmt.Sprintf("first-%d", i), "index")
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db, err = Open(opts, path, false)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()
	for i := 0; i < 3; i++ {
		mustInsert(t, db, NewBoundingBox[float64](0, 0, 1, 1), fmt.Sprintf("second-%d", i), "index")
	}

	got := collectBlobs(t, db.Query(nil, NewBoundingBox[float64](0, 0, 1, 1), "index"))
	if len(got) != 6 {
		t.Errorf("query after reopen = %v, want all 6 records", got)
	}
}

func TestSpatialDBOpenCorruptRecordKey(t *testing.T) {
	opts, path := testOptions(t)
	if err := Create(opts, path, defaultIndex()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Plant a key that cannot be a record id.
	kv, err := store.OpenMem(path, store.Options{})
	if err != nil {
		t.Fatalf("OpenMem failed: %v", err)
	}
	ns, ok := kv.Namespace(primaryNamespaceName)
	if !ok {
		t.Fatal("missing default namespace")
	}
	if err := kv.Put(nil, ns, []byte{0xff, 0xff}, nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := kv.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := Open(opts, path, false); !errors.Is(err, ErrCorruption) {
		t.Fatalf("Open = %v, want ErrCorruption", err)
	}
}

func TestSpatialDBQueryCorruptRecordValue(t *testing.T) {
	opts, path := testOptions(t)
	if err := Create(opts, path, defaultIndex()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	db, err := Open(opts, path, false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	mustInsert(t, db, NewBoundingBox[float64](0, 0, 1, 1), "victim", "index")
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Truncate the record value underneath the spatial layer.
	kv, err := store.OpenMem(path, store.Options{})
	if err != nil {
		t.Fatalf("OpenMem failed: %v", err)
	}
	ns, _ := kv.Namespace(primaryNamespaceName)
	key := []byte{0, 0, 0, 0, 0, 0, 0, 1} // record id 1: ids start at 1 in a fresh database
	if err := kv.Put(nil, ns, key, []byte{0xff}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	kv.Close()

	db, err = Open(opts, path, false)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()

	c := db.Query(nil, NewBoundingBox[float64](0, 0, 1, 1), "index")
	defer c.Close()
	if c.Valid() {
		t.Error("cursor over a corrupt record should be invalid")
	}
	if err := c.Err(); !errors.Is(err, ErrCorruption) {
		t.Errorf("Err = %v, want ErrCorruption", err)
	}
}

func TestSpatialDBReadOnly(t *testing.T) {
	opts, path := testOptions(t)
	if err := Create(opts, path, defaultIndex()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	rw, err := Open(opts, path, false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	mustInsert(t, rw, NewBoundingBox[float64](0, 0, 1, 1), "one", "index")
	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ro, err := Open(opts, path, true)
	if err != nil {
		t.Fatalf("read-only Open failed: %v", err)
	}
	defer ro.Close()

	got := collectBlobs(t, ro.Query(nil, NewBoundingBox[float64](0, 0, 1, 1), "index"))
	if len(got) != 1 || got[0] != "one" {
		t.Errorf("read-only query = %v, want [one]", got)
	}

	err = ro.Insert(nil, NewBoundingBox[float64](0, 0, 1, 1), []byte("two"), NewFeatureSet(), []string{"index"})
	if !errors.Is(err, ErrReadOnly) {
		t.Errorf("Insert on read-only database = %v, want ErrReadOnly", err)
	}
}

func TestSpatialDBClosed(t *testing.T) {
	db := openTestDB(t, defaultIndex())
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}

	err := db.Insert(nil, NewBoundingBox[float64](0, 0, 1, 1), nil, NewFeatureSet(), []string{"index"})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Insert after Close = %v, want ErrClosed", err)
	}
	if err := db.Query(nil, NewBoundingBox[float64](0, 0, 1, 1), "index").Err(); !errors.Is(err, ErrClosed) {
		t.Errorf("Query after Close = %v, want ErrClosed", err)
	}
	if err := db.Compact(1); !errors.Is(err, ErrClosed) {
		t.Errorf("Compact after Close = %v, want ErrClosed", err)
	}
}

// Pins the persisted record and index entry layouts, including the id
// sequence starting at 1.
func TestSpatialDBPersistedFormatGolden(t *testing.T) {
	opts, path := testOptions(t)
	if err := Create(opts, path, defaultIndex()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	db, err := Open(opts, path, false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	fs := NewFeatureSet().Set("k", IntVariant(1))
	if err := db.Insert(nil, NewBoundingBox[float64](0.5, 0.5, 0.5, 0.5), []byte("pt"), fs, []string{"index"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	kv, err := store.OpenMem(path, store.Options{})
	if err != nil {
		t.Fatalf("OpenMem failed: %v", err)
	}
	defer kv.Close()

	// Record: fixed64 BE id 1 -> length-prefixed blob ++ feature set.
	dataNS, _ := kv.Namespace(primaryNamespaceName)
	recordKey := []byte{0, 0, 0, 0, 0, 0, 0, 1}
	record, err := kv.Get(nil, dataNS, recordKey)
	if err != nil {
		t.Fatalf("record id 1 not found: %v", err)
	}
	wantRecord := []byte{
		0x02, 'p', 't', // blob
		0x01, 'k', 0x02, 0x01, // feature "k" = int 1
	}
	if !bytes.Equal(record, wantRecord) {
		t.Errorf("record value =\n% x\nwant\n% x", record, wantRecord)
	}

	// Index entry: tile (8, 8) interleaves to quad key 192; the key is
	// quad key ++ id, both fixed64 BE, with an empty value.
	indexNS, _ := kv.Namespace(indexNamespaceName("index"))
	iter := kv.NewIterator(nil, indexNS)
	defer iter.Close()
	iter.SeekToFirst()
	if !iter.Valid() {
		t.Fatal("index namespace is empty")
	}
	wantKey := []byte{0, 0, 0, 0, 0, 0, 0, 0xc0, 0, 0, 0, 0, 0, 0, 0, 1}
	if !bytes.Equal(iter.Key(), wantKey) {
		t.Errorf("index entry key =\n% x\nwant\n% x", iter.Key(), wantKey)
	}
	if len(iter.Value()) != 0 {
		t.Errorf("index entry value = % x, want empty", iter.Value())
	}
	iter.Next()
	if iter.Valid() {
		t.Errorf("unexpected extra index entry % x", iter.Key())
	}
}

func TestSpatialDBQueryGetterPerOpenMode(t *testing.T) {
	opts, path := testOptions(t)
	if err := Create(opts, path, defaultIndex()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rw, err := Open(opts, path, false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	c := rw.Query(nil, NewBoundingBox[float64](0, 0, 1, 1), "index")
	sc, ok := c.(*spatialIndexCursor)
	if !ok {
		t.Fatalf("writable query cursor = %T", c)
	}
	// A writable database serves the query from one consistent view,
	// so record fetches go through the iterator-backed getter.
	if _, ok := sc.getter.(*iteratorValueGetter); !ok {
		t.Errorf("writable query getter = %T, want iterator-backed", sc.getter)
	}
	c.Close()
	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ro, err := Open(opts, path, true)
	if err != nil {
		t.Fatalf("read-only Open failed: %v", err)
	}
	defer ro.Close()
	c = ro.Query(nil, NewBoundingBox[float64](0, 0, 1, 1), "index")
	sc, ok = c.(*spatialIndexCursor)
	if !ok {
		t.Fatalf("read-only query cursor = %T", c)
	}
	if _, ok := sc.getter.(*storeValueGetter); !ok {
		t.Errorf("read-only query getter = %T, want store-backed", sc.getter)
	}
	c.Close()
}

// failingGetStore fails point reads against the record namespace while
// leaving everything else working.
type failingGetStore struct {
	store.DB
	err error
}

func (s *failingGetStore) Get(opts *store.ReadOptions, ns store.Namespace, key []byte) ([]byte, error) {
	if ns.Name() == primaryNamespaceName {
		return nil, s.err
	}
	return s.DB.Get(opts, ns, key)
}

func TestSpatialDBQueryStoreErrorPassthrough(t *testing.T) {
	opts, path := testOptions(t)
	if err := Create(opts, path, defaultIndex()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	rw, err := Open(opts, path, false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	mustInsert(t, rw, NewBoundingBox[float64](0, 0, 1, 1), "one", "index")
	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ioErr := errors.New("store: simulated io error")
	opts.OpenStore = func(path string, storeOpts store.Options) (store.DB, error) {
		inner, err := store.OpenMem(path, storeOpts)
		if err != nil {
			return nil, err
		}
		return &failingGetStore{DB: inner, err: ioErr}, nil
	}

	ro, err := Open(opts, path, true)
	if err != nil {
		t.Fatalf("read-only Open failed: %v", err)
	}
	defer ro.Close()

	c := ro.Query(nil, NewBoundingBox[float64](0, 0, 1, 1), "index")
	defer c.Close()
	if c.Valid() {
		t.Error("cursor should be invalid after a store read error")
	}
	// The store's own error surfaces untouched; it is not corruption.
	if err := c.Err(); !errors.Is(err, ioErr) {
		t.Errorf("Err = %v, want the store error", err)
	}
	if errors.Is(c.Err(), ErrCorruption) {
		t.Errorf("Err = %v, store errors must not be relabeled as corruption", c.Err())
	}
}

// trackingStore wraps a store.DB to observe Flush and CompactRange
// calls and optionally fail one namespace.
type trackingStore struct {
	store.DB

	mu            sync.Mutex
	inFlight      int
	maxInFlight   int
	flushed       []string
	compacted     []string
	failNamespace string
}

func (s *trackingStore) enter() {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	s.mu.Unlock()
}

func (s *trackingStore) exit() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
}

func (s *trackingStore) Flush(ns store.Namespace) error {
	s.enter()
	defer s.exit()
	s.mu.Lock()
	s.flushed = append(s.flushed, ns.Name())
	fail := ns.Name() == s.failNamespace
	s.mu.Unlock()
	if fail {
		return errors.New("flush exploded")
	}
	return s.DB.Flush(ns)
}

func (s *trackingStore) CompactRange(ns store.Namespace) error {
	s.enter()
	defer s.exit()
	s.mu.Lock()
	s.compacted = append(s.compacted, ns.Name())
	s.mu.Unlock()
	return s.DB.CompactRange(ns)
}

func openTrackingDB(t *testing.T, tracker *trackingStore, indexes ...SpatialIndexOptions) SpatialDB {
	t.Helper()
	opts, path := testOptions(t)
	if err := Create(opts, path, indexes...); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	opts.OpenStore = func(path string, storeOpts store.Options) (store.DB, error) {
		inner, err := store.OpenMem(path, storeOpts)
		if err != nil {
			return nil, err
		}
		tracker.DB = inner
		return tracker, nil
	}
	db, err := Open(opts, path, false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSpatialDBCompact(t *testing.T) {
	indexes := []SpatialIndexOptions{
		NewSpatialIndexOptions("a", NewBoundingBox[float64](0, 0, 1, 1), 2),
		NewSpatialIndexOptions("b", NewBoundingBox[float64](0, 0, 1, 1), 2),
		NewSpatialIndexOptions("c", NewBoundingBox[float64](0, 0, 1, 1), 2),
	}
	tracker := &trackingStore{}
	db := openTrackingDB(t, tracker, indexes...)

	if err := db.Compact(2); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}

	// default plus the three index namespaces.
	if len(tracker.flushed) != 4 || len(tracker.compacted) != 4 {
		t.Errorf("flushed %v, compacted %v, want 4 namespaces each", tracker.flushed, tracker.compacted)
	}
	if tracker.maxInFlight > 2 {
		t.Errorf("max in-flight compactions = %d, want <= 2", tracker.maxInFlight)
	}
}

func TestSpatialDBCompactRunsToCompletion(t *testing.T) {
	indexes := []SpatialIndexOptions{
		NewSpatialIndexOptions("a", NewBoundingBox[float64](0, 0, 1, 1), 2),
		NewSpatialIndexOptions("b", NewBoundingBox[float64](0, 0, 1, 1), 2),
	}
	tracker := &trackingStore{failNamespace: indexNamespaceName("a")}
	db := openTrackingDB(t, tracker, indexes...)

	err := db.Compact(1)
	if err == nil {
		t.Fatal("Compact should report the flush failure")
	}

	// Every namespace was still flushed despite the failure.
	if len(tracker.flushed) != 3 {
		t.Errorf("flushed %v, want all 3 namespaces", tracker.flushed)
	}
}
