// Package check answers whether a structure starts in a chunk, without loading the chunk where possible.
//
// A Check first consults the structure data of chunks that were loaded or scanned before. If a chunk is
// not known, only its structure section is read from storage. Chunks that were never generated fall back
// to checking whether the structure could generate in the chunk at all.
package check

import (
	"log/slog"
	"sync"

	"github.com/df-mc/strata/server/internal/nbtconv"
	"github.com/df-mc/strata/server/world"
	"github.com/df-mc/strata/server/world/datafix"
	"github.com/df-mc/strata/server/world/generator"
	"github.com/df-mc/strata/server/world/structure"
)

// Result is the outcome of Check.CheckStart.
type Result uint8

const (
	// StartPresent means a start of the structure is present in the chunk.
	StartPresent Result = iota
	// StartNotPresent means no start of the structure is present in the chunk.
	StartNotPresent
	// ChunkLoadNeeded means the chunk must be loaded fully to find out if a start is present.
	ChunkLoadNeeded
)

// String ...
func (r Result) String() string {
	switch r {
	case StartPresent:
		return "start present"
	case StartNotPresent:
		return "start not present"
	case ChunkLoadNeeded:
		return "chunk load needed"
	}
	return "unknown"
}

// Storage provides the structure section of stored chunks.
type Storage interface {
	// ScanStructures reads the DataVersion and Structures fields of the chunk at a position. A nil map and
	// nil error are returned if no chunk is stored there.
	ScanStructures(pos world.ChunkPos) (map[string]any, error)
}

// Config holds the settings of a Check.
type Config struct {
	// Log is the Logger used to report failed scans. If nil, Log is set to slog.Default().
	Log *slog.Logger
	// Storage is the chunk storage scanned for structure data.
	Storage Storage
	// Fixer updates scanned structure data to the current version. If nil, datafix.Default() is used.
	Fixer datafix.Fixer
	// Structures is the Registry that structure ids in chunks are resolved with.
	Structures *structure.Registry
	// Seed is the world seed passed to placements.
	Seed int64
	// Biomes is the BiomeSource structures check their biomes against. It may be nil.
	Biomes generator.BiomeSource
	// Dimension is the dimension of the chunks checked.
	Dimension world.Dimension
	// Metrics optionally records counters of the lookups done.
	Metrics *Metrics
}

// Check caches which structures start in which chunks. A Check is safe for concurrent use.
type Check struct {
	conf Config

	loadedMu sync.RWMutex
	loaded   map[world.ChunkPos]map[*structure.Structure]int

	featureMu sync.Mutex
	features  map[*structure.Structure]map[world.ChunkPos]bool
}

// New creates a Check using the Config.
func (conf Config) New() *Check {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Fixer == nil {
		conf.Fixer = datafix.Default()
	}
	if conf.Dimension == nil {
		conf.Dimension = world.Overworld
	}
	if conf.Structures == nil {
		panic("check: Config.Structures must not be nil")
	}
	return &Check{
		conf:     conf,
		loaded:   make(map[world.ChunkPos]map[*structure.Structure]int),
		features: make(map[*structure.Structure]map[world.ChunkPos]bool),
	}
}

// CheckStart checks if a start of the Structure passed is present in the chunk at pos. If skipKnown is
// true, starts that were already referenced are reported as not present. CheckStart may block on reading
// from storage.
func (c *Check) CheckStart(pos world.ChunkPos, s *structure.Structure, skipKnown bool) Result {
	c.loadedMu.RLock()
	refs, ok := c.loaded[pos]
	var res Result
	if ok {
		res = checkStructureInfo(refs, s, skipKnown)
	}
	c.loadedMu.RUnlock()
	if ok {
		c.conf.Metrics.IncHits()
		return res
	}

	if res, ok := c.tryLoadFromStorage(pos, s, skipKnown); ok {
		if res == ChunkLoadNeeded {
			c.conf.Metrics.IncLoadsNeeded()
		}
		return res
	}

	c.conf.Metrics.IncFallbacks()
	if !c.canCreateStructure(pos, s) {
		return StartNotPresent
	}
	c.conf.Metrics.IncLoadsNeeded()
	return ChunkLoadNeeded
}

// tryLoadFromStorage scans the structure section of a chunk. The bool returned is false if the chunk has no
// structure section.
func (c *Check) tryLoadFromStorage(pos world.ChunkPos, s *structure.Structure, skipKnown bool) (Result, bool) {
	if c.conf.Storage == nil {
		return 0, false
	}
	c.conf.Metrics.IncScans(pos)
	tag, err := c.conf.Storage.ScanStructures(pos)
	if err != nil {
		c.conf.Metrics.IncScanFailures()
		c.conf.Log.Warn("scan chunk: "+err.Error(), "X", pos[0], "Z", pos[1])
		return ChunkLoadNeeded, true
	}
	if tag == nil {
		return 0, false
	}
	version := datafix.Version(tag)
	if version <= datafix.VersionLegacyStructures {
		return ChunkLoadNeeded, true
	}
	fixed, err := datafix.UpdateToCurrent(c.conf.Fixer, datafix.Chunk, tag, version)
	if err != nil {
		c.conf.Log.Warn("update scanned chunk: "+err.Error(), "X", pos[0], "Z", pos[1])
		return ChunkLoadNeeded, true
	}
	refs, ok := c.loadStructures(fixed)
	if !ok {
		return 0, false
	}
	c.storeFullResults(pos, refs)
	return checkStructureInfo(refs, s, skipKnown), true
}

// loadStructures reads the reference counts of all valid starts in the structure section of a chunk. The
// bool returned is false if the chunk has no structure section or the section has no Starts compound.
func (c *Check) loadStructures(tag map[string]any) (map[*structure.Structure]int, bool) {
	structures, ok := nbtconv.Compound(tag, "Structures")
	if !ok {
		return nil, false
	}
	starts, ok := nbtconv.Compound(structures, "Starts")
	if !ok {
		return nil, false
	}
	refs := make(map[*structure.Structure]int, len(starts))
	for id, v := range starts {
		s, ok := c.conf.Structures.ByID(id)
		if !ok {
			continue
		}
		start, ok := v.(map[string]any)
		if !ok || len(start) == 0 || nbtconv.String(start, "id") == "INVALID" {
			continue
		}
		refs[s] = int(nbtconv.Int32(start, "references"))
	}
	return refs, true
}

// canCreateStructure returns whether the Structure could generate in the chunk passed. Results are cached.
func (c *Check) canCreateStructure(pos world.ChunkPos, s *structure.Structure) bool {
	c.featureMu.Lock()
	v, ok := c.features[s][pos]
	c.featureMu.Unlock()
	if ok {
		return v
	}

	v = s.ValidGenerationPoint(c.conf.Seed, c.conf.Biomes, pos, c.conf.Dimension.Range())

	c.featureMu.Lock()
	defer c.featureMu.Unlock()
	c.loadedMu.RLock()
	_, loaded := c.loaded[pos]
	c.loadedMu.RUnlock()
	if loaded {
		// The chunk was loaded while the check ran.
		return v
	}
	m, ok := c.features[s]
	if !ok {
		m = make(map[world.ChunkPos]bool)
		c.features[s] = m
	}
	m[pos] = v
	return v
}

// storeFullResults records the reference counts of the starts in a chunk and drops the cached generation
// checks of the chunk.
func (c *Check) storeFullResults(pos world.ChunkPos, refs map[*structure.Structure]int) {
	c.loadedMu.Lock()
	c.loaded[pos] = refs
	c.loadedMu.Unlock()

	c.featureMu.Lock()
	for _, m := range c.features {
		delete(m, pos)
	}
	c.featureMu.Unlock()
}

// OnStructureLoad records the starts of a chunk after it was fully loaded or generated. Starts that are not
// valid are left out.
func (c *Check) OnStructureLoad(pos world.ChunkPos, starts map[*structure.Structure]*structure.Start) {
	refs := make(map[*structure.Structure]int, len(starts))
	for s, start := range starts {
		if start != nil && start.Valid() {
			refs[s] = start.References()
		}
	}
	c.storeFullResults(pos, refs)
}

// IncrementReference increments the reference count of the start of a Structure in a chunk.
func (c *Check) IncrementReference(pos world.ChunkPos, s *structure.Structure) {
	c.loadedMu.Lock()
	defer c.loadedMu.Unlock()
	m, ok := c.loaded[pos]
	if !ok {
		m = make(map[*structure.Structure]int)
		c.loaded[pos] = m
	}
	m[s]++
}

// Forget drops all cached data of a chunk. It should be called after a chunk was changed without going
// through OnStructureLoad, for example when it was deleted.
func (c *Check) Forget(pos world.ChunkPos) {
	c.loadedMu.Lock()
	delete(c.loaded, pos)
	c.loadedMu.Unlock()

	c.featureMu.Lock()
	for _, m := range c.features {
		delete(m, pos)
	}
	c.featureMu.Unlock()
}

// checkStructureInfo classifies the presence of a start of s from the reference counts of a chunk.
func checkStructureInfo(refs map[*structure.Structure]int, s *structure.Structure, skipKnown bool) Result {
	n, ok := refs[s]
	if !ok || (skipKnown && n != 0) {
		return StartNotPresent
	}
	return StartPresent
}
