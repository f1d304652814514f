package spatialkv

import (
	"fmt"
	"sort"

	"github.com/aalhour/spatialkv/internal/encoding"
	"github.com/aalhour/spatialkv/internal/logging"
	"github.com/aalhour/spatialkv/store"
)

// maxTileBits keeps the interleaved quad key within 64 bits.
const maxTileBits = 32

func validateIndex(index SpatialIndexOptions) error {
	if index.Name == "" {
		return fmt.Errorf("%w: spatial index with empty name", ErrInvalidArgument)
	}
	if index.TileBits == 0 || index.TileBits > maxTileBits {
		return fmt.Errorf("%w: spatial index %q: tile bits must be in [1, %d], got %d",
			ErrInvalidArgument, index.Name, maxTileBits, index.TileBits)
	}
	if index.BBox.MinX >= index.BBox.MaxX || index.BBox.MinY >= index.BBox.MaxY {
		return fmt.Errorf("%w: spatial index %q: bounding box is empty", ErrInvalidArgument, index.Name)
	}
	return nil
}

// Create initializes a new spatial database at path with the given
// spatial indexes. The set of indexes is fixed at creation time. It
// fails if a database already exists at path.
func Create(opts SpatialDBOptions, path string, indexes ...SpatialIndexOptions) error {
	logger := logging.OrDefault(opts.Logger)

	seen := make(map[string]struct{}, len(indexes))
	for _, index := range indexes {
		if err := validateIndex(index); err != nil {
			return err
		}
		if _, dup := seen[index.Name]; dup {
			return fmt.Errorf("%w: duplicate spatial index %q", ErrInvalidArgument, index.Name)
		}
		seen[index.Name] = struct{}{}
	}

	storeOpts := opts.storeOptions()
	storeOpts.CreateIfMissing = true
	storeOpts.ErrorIfExists = true

	db, err := opts.opener()(path, storeOpts)
	if err != nil {
		return err
	}

	if err := createNamespaces(db, indexes); err != nil {
		// Remove the half-built store so a later Open cannot find a
		// partially initialized database.
		db.Close()
		if derr := opts.destroyer()(path); derr != nil {
			logger.Warnf(logging.NSOpen+"cleanup of failed create at %q: %v", path, derr)
		}
		return err
	}
	logger.Infof(logging.NSOpen+"created spatial database at %q with %d indexes", path, len(indexes))
	return db.Close()
}

func createNamespaces(db store.DB, indexes []SpatialIndexOptions) error {
	if _, err := db.CreateNamespace(primaryNamespaceName); err != nil {
		return fmt.Errorf("create namespace %q: %w", primaryNamespaceName, err)
	}
	metaNS, err := db.CreateNamespace(metadataNamespaceName)
	if err != nil {
		return fmt.Errorf("create namespace %q: %w", metadataNamespaceName, err)
	}

	metadata := metadataStorage{db: db, ns: metaNS}
	for _, index := range indexes {
		if _, err := db.CreateNamespace(indexNamespaceName(index.Name)); err != nil {
			return fmt.Errorf("create namespace for spatial index %q: %w", index.Name, err)
		}
		if err := metadata.AddIndex(index); err != nil {
			return fmt.Errorf("store metadata for spatial index %q: %w", index.Name, err)
		}
	}
	return nil
}

// Open opens an existing spatial database at path. A read-only open
// cannot Insert and serves queries from an on-disk snapshot.
func Open(opts SpatialDBOptions, path string, readOnly bool) (SpatialDB, error) {
	logger := logging.OrDefault(opts.Logger)

	storeOpts := opts.storeOptions()
	storeOpts.ReadOnly = readOnly

	db, err := opts.opener()(path, storeOpts)
	if err != nil {
		return nil, err
	}

	s := &spatialDB{
		db:         db,
		indexes:    make(map[string]indexedNamespace),
		numThreads: opts.NumThreads,
		readOnly:   readOnly,
		logger:     logger,
	}
	if s.numThreads <= 0 {
		s.numThreads = DefaultSpatialDBOptions().NumThreads
	}
	// Record ids start at 1 in a fresh database.
	s.nextID.Store(1)

	if err := s.loadNamespaces(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.recoverNextID(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Infof(logging.NSOpen+"opened spatial database at %q: %d indexes, next record id %d",
		path, len(s.indexes), s.nextID.Load())
	return s, nil
}

// ListIndexes returns the definitions of all spatial indexes in the
// database at path, sorted by name, without opening it for queries.
func ListIndexes(path string, opts SpatialDBOptions) ([]SpatialIndexOptions, error) {
	storeOpts := opts.storeOptions()
	storeOpts.ReadOnly = true

	db, err := opts.opener()(path, storeOpts)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	metaNS, ok := db.Namespace(metadataNamespaceName)
	if !ok {
		return nil, fmt.Errorf("%w: missing namespace %q", ErrCorruption, metadataNamespaceName)
	}
	metadata := metadataStorage{db: db, ns: metaNS}

	var indexes []SpatialIndexOptions
	for _, nsName := range db.ListNamespaces() {
		name, ok := spatialIndexName(nsName)
		if !ok {
			continue
		}
		index, err := metadata.GetIndex(name)
		if err != nil {
			return nil, fmt.Errorf("load spatial index %q: %w", name, err)
		}
		indexes = append(indexes, index)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i].Name < indexes[j].Name })
	return indexes, nil
}

// loadNamespaces resolves the primary namespace and discovers the
// spatial indexes from their namespaces and metadata entries.
func (s *spatialDB) loadNamespaces() error {
	dataNS, ok := s.db.Namespace(primaryNamespaceName)
	if !ok {
		return fmt.Errorf("%w: missing namespace %q", ErrCorruption, primaryNamespaceName)
	}
	s.dataNS = dataNS

	metaNS, ok := s.db.Namespace(metadataNamespaceName)
	if !ok {
		return fmt.Errorf("%w: missing namespace %q", ErrCorruption, metadataNamespaceName)
	}
	metadata := metadataStorage{db: s.db, ns: metaNS}

	for _, nsName := range s.db.ListNamespaces() {
		name, ok := spatialIndexName(nsName)
		if !ok {
			continue
		}
		index, err := metadata.GetIndex(name)
		if err != nil {
			return fmt.Errorf("load spatial index %q: %w", name, err)
		}
		ns, ok := s.db.Namespace(nsName)
		if !ok {
			return fmt.Errorf("%w: missing namespace %q", ErrCorruption, nsName)
		}
		s.indexes[name] = indexedNamespace{opts: index, ns: ns}
		s.logger.Debugf(logging.NSOpen+"loaded spatial index %q: tile bits %d", name, index.TileBits)
	}
	return nil
}

// recoverNextID seeds the record id counter from the largest id in the
// primary namespace.
func (s *spatialDB) recoverNextID() error {
	iter := s.db.NewIterator(nil, s.dataNS)
	defer iter.Close()

	iter.SeekToLast()
	if err := iter.Error(); err != nil {
		return err
	}
	if !iter.Valid() {
		return nil
	}
	key := iter.Key()
	lastID, ok := encoding.DecodeFixed64BigEndian(key)
	if !ok || len(key) != 8 {
		return fmt.Errorf("%w: undecodable record key in namespace %q", ErrCorruption, primaryNamespaceName)
	}
	s.nextID.Store(lastID + 1)
	return nil
}
