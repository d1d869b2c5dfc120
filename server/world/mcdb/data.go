package mcdb

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/df-mc/strata/server/internal/nbtconv"
	"github.com/df-mc/strata/server/world/datafix"
	"github.com/klauspost/compress/gzip"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
)

// SavedData is a value that is stored in its own file in the data directory of a dimension.
type SavedData interface {
	// Encode encodes the SavedData to the compound stored under the data key of its file.
	Encode() map[string]any
	// Dirty returns true if the SavedData changed since it was last saved.
	Dirty() bool
	// SetDirty changes the dirty state of the SavedData.
	SetDirty(dirty bool)
}

// ErrNoData is returned by DataStorage.ReadTag if no file with the name passed exists.
var ErrNoData = errors.New("saved data does not exist")

// DataStorage stores SavedData values as gzip compressed NBT files named <name>.dat. A DataStorage with an
// empty directory keeps its files in memory.
type DataStorage struct {
	dir      string
	log      *slog.Logger
	readOnly bool

	mu    sync.Mutex
	cache map[string]SavedData
	mem   map[string][]byte
}

// NewDataStorage creates a DataStorage that stores files in the directory passed. If dir is empty, files
// are only kept in memory.
func NewDataStorage(dir string, log *slog.Logger, readOnly bool) *DataStorage {
	if log == nil {
		log = slog.Default()
	}
	return &DataStorage{
		dir:      dir,
		log:      log,
		readOnly: readOnly,
		cache:    make(map[string]SavedData),
		mem:      make(map[string][]byte),
	}
}

// Compute returns the SavedData with the name passed. The value is read from the cache of the DataStorage,
// then from its file using decode, and otherwise created using create. The value returned is cached, so
// following calls with the same name return the same value.
func Compute[T SavedData](s *DataStorage, name string, decode func(data map[string]any) (T, error), create func() T) T {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.cache[name]; ok {
		if t, ok := v.(T); ok {
			return t
		}
		s.log.Error("saved data has unexpected type", "name", name, "type", fmt.Sprintf("%T", v))
	}
	var v T
	tag, err := s.readTag(name)
	switch {
	case errors.Is(err, ErrNoData):
		v = create()
	case err != nil:
		s.log.Error("read saved data: "+err.Error(), "name", name)
		v = create()
	default:
		data, _ := nbtconv.Compound(tag, "data")
		if v, err = decode(data); err != nil {
			s.log.Error("decode saved data: "+err.Error(), "name", name)
			v = create()
		}
	}
	s.cache[name] = v
	return v
}

// Set stores a SavedData value under a name, replacing any value previously cached.
func (s *DataStorage) Set(name string, v SavedData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[name] = v
}

// ReadTag reads the full compound stored in the file with the name passed, without caching it. ErrNoData
// is returned if the file does not exist.
func (s *DataStorage) ReadTag(name string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readTag(name)
}

// WriteTag writes a compound to the file with the name passed.
func (s *DataStorage) WriteTag(name string, tag map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeTag(name, tag)
}

// Save writes all cached SavedData that is dirty to its file. Errors encountered for separate files are
// joined and returned after all files have been attempted.
func (s *DataStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, name := range slices.Sorted(maps.Keys(s.cache)) {
		v := s.cache[name]
		if !v.Dirty() {
			continue
		}
		tag := map[string]any{"data": v.Encode(), "DataVersion": int32(datafix.CurrentVersion)}
		if err := s.writeTag(name, tag); err != nil {
			errs = append(errs, fmt.Errorf("save %v: %w", name, err))
			continue
		}
		v.SetDirty(false)
	}
	return errors.Join(errs...)
}

func (s *DataStorage) readTag(name string) (map[string]any, error) {
	var r io.Reader
	if s.dir == "" {
		data, ok := s.mem[name]
		if !ok {
			return nil, ErrNoData
		}
		r = bytes.NewReader(data)
	} else {
		f, err := os.Open(s.path(name))
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoData
		} else if err != nil {
			return nil, fmt.Errorf("open %v: %w", name, err)
		}
		defer f.Close()
		r = f
	}
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("read gzip header of %v: %w", name, err)
	}
	defer zr.Close()

	var tag map[string]any
	if err := nbt.NewDecoderWithEncoding(zr, nbt.BigEndian).Decode(&tag); err != nil {
		return nil, fmt.Errorf("decode %v: %w", name, err)
	}
	return tag, nil
}

func (s *DataStorage) writeTag(name string, tag map[string]any) error {
	if s.readOnly {
		return nil
	}
	buf := bytes.NewBuffer(nil)
	zw := gzip.NewWriter(buf)
	if err := nbt.NewEncoderWithEncoding(zw, nbt.BigEndian).Encode(tag); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	if s.dir == "" {
		s.mem[name] = buf.Bytes()
		return nil
	}
	if err := os.MkdirAll(s.dir, 0777); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	tmp := s.path(name) + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := os.Rename(tmp, s.path(name)); err != nil {
		return fmt.Errorf("replace: %w", err)
	}
	return nil
}

func (s *DataStorage) path(name string) string {
	return filepath.Join(s.dir, name+".dat")
}
