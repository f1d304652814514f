// Package main provides the spatialdump CLI tool for inspecting a
// spatial database.
//
// Usage:
//
//	spatialdump --db=<path> [options]
//
// Commands:
//
//	indexes         List the spatial indexes and their definitions
//	query           Run a bounding box query against one index
//	scan            Dump every record in the database
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/aalhour/spatialkv"
	"github.com/aalhour/spatialkv/internal/logging"
)

var (
	dbPath    = flag.String("db", "", "Path to the spatial database (required)")
	command   = flag.String("command", "indexes", "Command: indexes, query, scan")
	indexName = flag.String("index", "", "Spatial index to query (required for query and scan)")
	minX      = flag.Float64("minx", 0, "Query bounding box min x")
	minY      = flag.Float64("miny", 0, "Query bounding box min y")
	maxX      = flag.Float64("maxx", 0, "Query bounding box max x")
	maxY      = flag.Float64("maxy", 0, "Query bounding box max y")
	limit     = flag.Int("limit", 0, "Limit number of records (0 = unlimited)")
	showBlobs = flag.Bool("blobs", false, "Print record blobs as quoted strings")
	verbose   = flag.Bool("v", false, "Verbose logging")
	help      = flag.Bool("help", false, "Print help")
)

func main() {
	flag.Parse()

	if *help {
		printUsage()
		return
	}
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --db flag is required")
		printUsage()
		os.Exit(1)
	}

	opts := spatialkv.DefaultSpatialDBOptions()
	if *verbose {
		opts.Logger = logging.NewDefaultLogger(logging.LevelDebug)
	}

	var err error
	switch *command {
	case "indexes":
		err = cmdIndexes(opts)
	case "query":
		err = cmdQuery(opts, spatialkv.NewBoundingBox(*minX, *minY, *maxX, *maxY))
	case "scan":
		err = cmdScan(opts)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", *command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func cmdIndexes(opts spatialkv.SpatialDBOptions) error {
	indexes, err := spatialkv.ListIndexes(*dbPath, opts)
	if err != nil {
		return err
	}
	if len(indexes) == 0 {
		fmt.Println("no spatial indexes")
		return nil
	}
	for _, index := range indexes {
		tiles := uint64(1) << index.TileBits
		fmt.Printf("%s: bbox (%g, %g)-(%g, %g), %d bits (%dx%d tiles)\n",
			index.Name, index.BBox.MinX, index.BBox.MinY, index.BBox.MaxX, index.BBox.MaxY,
			index.TileBits, tiles, tiles)
	}
	return nil
}

func cmdQuery(opts spatialkv.SpatialDBOptions, bbox spatialkv.BoundingBox[float64]) error {
	if *indexName == "" {
		return fmt.Errorf("--index is required for query")
	}
	db, err := spatialkv.Open(opts, *dbPath, true)
	if err != nil {
		return err
	}
	defer db.Close()
	return dump(db.Query(nil, bbox, *indexName))
}

// cmdScan queries the whole bounding box of one index, reaching every
// record that index knows about.
func cmdScan(opts spatialkv.SpatialDBOptions) error {
	if *indexName == "" {
		return fmt.Errorf("--index is required for scan")
	}
	indexes, err := spatialkv.ListIndexes(*dbPath, opts)
	if err != nil {
		return err
	}
	for _, index := range indexes {
		if index.Name == *indexName {
			db, err := spatialkv.Open(opts, *dbPath, true)
			if err != nil {
				return err
			}
			defer db.Close()
			return dump(db.Query(nil, index.BBox, *indexName))
		}
	}
	return fmt.Errorf("unknown spatial index %q", *indexName)
}

func dump(c spatialkv.Cursor) error {
	defer c.Close()
	count := 0
	for ; c.Valid(); c.Next() {
		if *limit > 0 && count >= *limit {
			break
		}
		if *showBlobs {
			fmt.Printf("%q %s\n", c.Blob(), c.FeatureSet().DebugString())
		} else {
			fmt.Printf("blob (%d bytes) %s\n", len(c.Blob()), c.FeatureSet().DebugString())
		}
		count++
	}
	if err := c.Err(); err != nil {
		return err
	}
	fmt.Printf("%d records\n", count)
	return nil
}

func printUsage() {
	fmt.Println(`spatialdump - inspect a spatial database

Usage:
  spatialdump --db=<path> [options]

Commands (via --command):
  indexes         List the spatial indexes and their definitions
  query           Run a bounding box query against one index
  scan            Dump every record reachable through one index

Options:`)
	flag.PrintDefaults()
}
