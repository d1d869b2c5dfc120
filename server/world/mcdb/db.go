// Package mcdb implements storage of chunk structure data in a LevelDB database, in a layout that allows
// reading the structure section of a chunk without reading the rest of it.
package mcdb

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
	"github.com/df-mc/goleveldb/leveldb/storage"
	"github.com/df-mc/strata/server/world"
)

// Config holds the settings used to open a DB.
type Config struct {
	// Log is the Logger used to report problems with the database. If nil, Log is set to slog.Default().
	Log *slog.Logger
	// Compression is the compression used for LevelDB blocks. If left as the default, flate compression is
	// used.
	Compression opt.Compression
	// BlockSize is the size of LevelDB blocks. If 0, 16 KiB is used.
	BlockSize int
	// ReadOnly specifies if the DB should never be written to. Writes to a read only DB are discarded.
	ReadOnly bool
}

// DB is a world database holding the chunk structure data of every dimension of a world, along with the
// saved data files of each dimension.
type DB struct {
	conf Config
	ldb  *leveldb.DB
	dir  string

	mu        sync.Mutex
	providers map[int]*Provider
}

// Open opens the world database in the directory passed, creating it if it does not yet exist.
func (conf Config) Open(dir string) (*DB, error) {
	conf = conf.withDefaults()
	if err := os.MkdirAll(filepath.Join(dir, "db"), 0777); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	ldb, err := leveldb.OpenFile(filepath.Join(dir, "db"), &opt.Options{
		Compression: conf.Compression,
		BlockSize:   conf.BlockSize,
	})
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &DB{conf: conf, ldb: ldb, dir: dir, providers: make(map[int]*Provider)}, nil
}

// OpenMemory opens a DB that only lives in memory. Nothing written to it persists after it is closed.
func (conf Config) OpenMemory() (*DB, error) {
	conf = conf.withDefaults()
	ldb, err := leveldb.Open(storage.NewMemStorage(), &opt.Options{Compression: opt.NoCompression})
	if err != nil {
		return nil, fmt.Errorf("open memory leveldb: %w", err)
	}
	return &DB{conf: conf, ldb: ldb, providers: make(map[int]*Provider)}, nil
}

func (conf Config) withDefaults() Config {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Compression == opt.DefaultCompression {
		conf.Compression = opt.FlateCompression
	}
	if conf.BlockSize == 0 {
		conf.BlockSize = 16 * opt.KiB
	}
	return conf
}

// Provider returns the Provider for chunks of the Dimension passed. The same Provider is returned for
// every call with the same Dimension.
func (db *DB) Provider(dim world.Dimension) *Provider {
	db.mu.Lock()
	defer db.mu.Unlock()

	id := dim.EncodeDimension()
	if p, ok := db.providers[id]; ok {
		return p
	}
	dataDir := ""
	if db.dir != "" {
		dataDir = filepath.Join(db.dir, dimensionFolder(dim), "data")
	}
	p := &Provider{
		db:   db,
		dim:  dim,
		data: NewDataStorage(dataDir, db.conf.Log, db.conf.ReadOnly),
	}
	db.providers[id] = p
	return p
}

// Dir returns the directory the DB was opened in. Dir is empty for DBs opened with OpenMemory.
func (db *DB) Dir() string {
	return db.dir
}

// Close saves the saved data of every dimension and closes the database.
func (db *DB) Close() error {
	db.mu.Lock()
	providers := make([]*Provider, 0, len(db.providers))
	for _, p := range db.providers {
		providers = append(providers, p)
	}
	db.mu.Unlock()

	for _, p := range providers {
		if err := p.data.Save(); err != nil {
			db.conf.Log.Error("save data: "+err.Error(), "dimension", p.dim)
		}
	}
	return db.ldb.Close()
}

// dimensionFolder returns the folder that saved data files of a dimension are stored in, relative to the
// world directory.
func dimensionFolder(dim world.Dimension) string {
	switch dim {
	case world.Overworld:
		return "."
	case world.Nether:
		return "DIM-1"
	case world.End:
		return "DIM1"
	}
	return filepath.Join("dimensions", fmt.Sprint(dim.EncodeDimension()))
}
