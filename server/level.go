package server

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/strata/server/block/cube"
	"github.com/df-mc/strata/server/internal/nbtconv"
	"github.com/df-mc/strata/server/world"
	"github.com/df-mc/strata/server/world/datafix"
	"github.com/df-mc/strata/server/world/generator"
	"github.com/df-mc/strata/server/world/mcdb"
	"github.com/df-mc/strata/server/world/structure"
	"github.com/df-mc/strata/server/world/structure/check"
	"github.com/df-mc/strata/server/world/structure/legacy"
	"github.com/segmentio/fasthash/fnv1a"
)

// referenceRadius is the maximum chessboard distance in chunks between a
// chunk and the starts it references.
const referenceRadius = 8

// Level manages the structure data of the chunks of a single dimension. It
// loads and saves the starts and references of chunks, generates new starts
// and places them. A Level is safe for concurrent use.
type Level struct {
	conf     Config
	log      *slog.Logger
	dim      world.Dimension
	provider *mcdb.Provider
	biomes   generator.BiomeSource
	ctx      structure.Context
	metrics  *check.Metrics
	check    *check.Check

	mu     sync.Mutex
	legacy *legacy.Handler
	chunks map[world.ChunkPos]*chunkData
}

// chunkData holds the structure data of a loaded chunk.
type chunkData struct {
	starts     map[*structure.Structure]*structure.Start
	references map[*structure.Structure][]world.ChunkPos
	// generated is true once the starts of the chunk were generated.
	generated bool
	// modified is true if the chunk changed since it was loaded.
	modified bool
}

func newChunkData() *chunkData {
	return &chunkData{
		starts:     make(map[*structure.Structure]*structure.Start),
		references: make(map[*structure.Structure][]world.ChunkPos),
	}
}

// addReference adds a reference to the start of s in the chunk at pos. It
// returns false if the reference already existed.
func (c *chunkData) addReference(s *structure.Structure, pos world.ChunkPos) bool {
	if slices.Contains(c.references[s], pos) {
		return false
	}
	c.references[s] = append(c.references[s], pos)
	return true
}

// newLevel creates a Level for the Dimension passed.
func (conf Config) newLevel(dim world.Dimension) *Level {
	l := &Level{
		conf:     conf,
		log:      conf.Log.With("dimension", dim),
		dim:      dim,
		provider: conf.Database.Provider(dim),
		biomes:   conf.Biomes(dim),
		chunks:   make(map[world.ChunkPos]*chunkData),
	}
	l.ctx = structure.Context{
		Structures: conf.Structures,
		Pieces:     conf.Pieces,
		Templates:  conf.Templates,
		Log:        l.log,
	}
	if conf.CheckMetrics {
		l.metrics = check.NewMetrics()
	}
	l.check = check.Config{
		Log:        l.log,
		Storage:    l.provider,
		Fixer:      conf.Fixer,
		Structures: conf.Structures,
		Seed:       conf.Seed,
		Biomes:     l.biomes,
		Dimension:  dim,
		Metrics:    l.metrics,
	}.New()
	return l
}

// Dimension returns the world.Dimension of the Level.
func (l *Level) Dimension() world.Dimension {
	return l.dim
}

// Check returns the check.Check that answers whether structures start in
// chunks of the Level.
func (l *Level) Check() *check.Check {
	return l.check
}

// Metrics returns a snapshot of the lookups done by the check.Check of the
// Level. The snapshot is empty unless Config.CheckMetrics was set.
func (l *Level) Metrics() check.Snapshot {
	return l.metrics.Snapshot()
}

// LoadChunk loads the structure data of the chunk at pos from storage. Chunks
// written before structure data was stored per chunk are first updated using
// the legacy structure data of the dimension. The bool returned is false if no
// chunk is stored at pos. LoadChunk does nothing for chunks already loaded.
func (l *Level) LoadChunk(pos world.ChunkPos) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok, err := l.loadChunk(pos)
	return ok, err
}

// loadChunk returns the loaded chunk at pos, reading it from storage if it was
// not yet loaded. l.mu must be held.
func (l *Level) loadChunk(pos world.ChunkPos) (*chunkData, bool, error) {
	if c, ok := l.chunks[pos]; ok {
		return c, true, nil
	}
	col, err := l.provider.LoadColumn(pos)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("load chunk %v: %w", pos, err)
	}

	var tag map[string]any
	upgraded := false
	if col.Legacy != nil {
		tag = col.Legacy
		level, _ := nbtconv.Compound(tag, "Level")
		if col.Version < datafix.VersionLegacyStructures && nbtconv.Bool(level, "hasLegacyStructureData") {
			if h := l.legacyHandler(); h != nil {
				tag = h.UpdateFromLegacy(tag)
			}
		}
		upgraded = true
	} else {
		tag = map[string]any{}
		if col.Structures != nil {
			tag["Structures"] = col.Structures
		}
	}
	tag, err = datafix.UpdateToCurrent(l.conf.Fixer, datafix.Chunk, tag, col.Version)
	if err != nil {
		return nil, false, fmt.Errorf("update chunk %v: %w", pos, err)
	}

	c := l.decodeChunk(pos, tag)
	structures, _ := nbtconv.Compound(tag, "Structures")
	_, hasStarts := nbtconv.Compound(structures, "Starts")
	// Chunks that only hold references were stored before their starts were
	// generated.
	c.generated = hasStarts || col.Legacy != nil
	c.modified = upgraded || col.Version < datafix.CurrentVersion
	l.chunks[pos] = c
	if c.generated {
		l.check.OnStructureLoad(pos, c.starts)
	}
	return c, true, nil
}

// decodeChunk reads the starts and references from the structure section of a
// chunk that was updated to the current version. Starts and references of
// structures that are not registered are discarded, as are references to
// starts too far away from the chunk.
func (l *Level) decodeChunk(pos world.ChunkPos, tag map[string]any) *chunkData {
	c := newChunkData()
	structures, _ := nbtconv.Compound(tag, "Structures")
	starts, _ := nbtconv.Compound(structures, "Starts")
	for _, id := range slices.Sorted(maps.Keys(starts)) {
		s, ok := l.conf.Structures.ByID(id)
		if !ok {
			l.log.Error("Unknown structure start.", "id", id, "X", pos[0], "Z", pos[1])
			continue
		}
		m, ok := starts[id].(map[string]any)
		if !ok {
			continue
		}
		if start := structure.LoadStart(l.ctx, m); start != nil {
			c.starts[s] = start
		}
	}

	references, _ := nbtconv.Compound(structures, "References")
	for _, id := range slices.Sorted(maps.Keys(references)) {
		s, ok := l.conf.Structures.ByID(id)
		if !ok {
			l.log.Warn("Unknown structure reference.", "id", id, "X", pos[0], "Z", pos[1])
			continue
		}
		for _, v := range nbtconv.Int64s(references, id) {
			ref := world.UnpackChunkPos(v)
			if ref.ChessboardDistance(pos) > referenceRadius {
				l.log.Warn("Invalid structure reference.", "id", id, "ref", ref, "X", pos[0], "Z", pos[1])
				continue
			}
			c.addReference(s, ref)
		}
	}
	return c
}

// legacyHandler returns the legacy.Handler of the dimension, creating it the
// first time it is needed. nil is returned for dimensions that have no legacy
// structure data. l.mu must be held.
func (l *Level) legacyHandler() *legacy.Handler {
	if l.legacy != nil {
		return l.legacy
	}
	switch l.dim {
	case world.Overworld, world.Nether, world.End:
		l.legacy = legacy.ForDimension(l.dim, l.provider.Data(), l.log)
	}
	return l.legacy
}

// GenerateStarts generates the starts of all registered structures that may
// start in the chunk at pos. The chunk is created if it is not stored.
// GenerateStarts does nothing for chunks that already had their starts
// generated.
func (l *Level) GenerateStarts(pos world.ChunkPos) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.generateStarts(pos)
	return err
}

// generateStarts generates the starts of the chunk at pos and returns the
// chunk. l.mu must be held.
func (l *Level) generateStarts(pos world.ChunkPos) (*chunkData, error) {
	c, ok, err := l.loadChunk(pos)
	if err != nil {
		return nil, err
	}
	if !ok {
		c = newChunkData()
		l.chunks[pos] = c
	}
	if c.generated {
		return c, nil
	}
	c.generated, c.modified = true, true
	for id, s := range l.conf.Structures.All() {
		if !s.ValidGenerationPoint(l.conf.Seed, l.biomes, pos, l.dim.Range()) {
			continue
		}
		start := s.GenerateStart(structure.GenerationContext{
			Seed:      l.conf.Seed,
			Chunk:     pos,
			Biomes:    l.biomes,
			Range:     l.dim.Range(),
			Random:    generator.ChunkRandom(l.conf.Seed, pos, int32(fnv1a.HashString32(id))),
			Templates: l.conf.Templates,
			Log:       l.log,
		})
		if !start.Valid() {
			l.log.Debug("Structure generated no pieces.", "id", id, "X", pos[0], "Z", pos[1])
		}
		c.starts[s] = start
	}
	l.check.OnStructureLoad(pos, c.starts)
	return c, nil
}

// CreateReferences adds references to the chunk at pos for every valid start
// within 8 chunks whose bounding box overlaps the chunk. Neighbouring chunks
// that are not stored are skipped, so their starts should be generated first.
func (l *Level) CreateReferences(pos world.ChunkPos) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok, err := l.loadChunk(pos)
	if err != nil {
		return err
	}
	if !ok {
		c = newChunkData()
		l.chunks[pos] = c
	}
	minX, minZ := int(pos[0])<<4, int(pos[1])<<4
	for x := pos[0] - referenceRadius; x <= pos[0]+referenceRadius; x++ {
		for z := pos[1] - referenceRadius; z <= pos[1]+referenceRadius; z++ {
			n := world.ChunkPos{x, z}
			other, ok, err := l.loadChunk(n)
			if err != nil {
				return err
			} else if !ok {
				continue
			}
			for s, start := range other.starts {
				if !start.Valid() || !start.BoundingBox().IntersectsXZ(minX, minZ, minX+15, minZ+15) {
					continue
				}
				if c.addReference(s, n) {
					c.modified = true
				}
			}
		}
	}
	return nil
}

// PlaceStructures places the parts of all starts referenced by the chunk at pos
// that lie within the chunk.
func (l *Level) PlaceStructures(tx world.Accessor, pos world.ChunkPos) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok, err := l.loadChunk(pos)
	if err != nil || !ok {
		return err
	}
	r := tx.Range()
	box := cube.ChunkBox(pos[0], pos[1], r.Min(), r.Max())
	for id, s := range l.conf.Structures.All() {
		for _, ref := range c.references[s] {
			other, ok, err := l.loadChunk(ref)
			if err != nil {
				return err
			} else if !ok {
				continue
			}
			start, ok := other.starts[s]
			if !ok || !start.Valid() {
				continue
			}
			start.PlaceInChunk(structure.PlaceContext{
				Tx:        tx,
				Templates: l.conf.Templates,
				Random:    generator.ChunkRandom(l.conf.Seed, pos, int32(fnv1a.HashString32(id))),
				Log:       l.log,
			}, box, pos)
		}
	}
	return nil
}

// Locate finds the nearest start of s to origin, searching up to radius
// placement regions away. Chunks that the check.Check cannot answer for are
// loaded, and generated if they were not stored. If skipKnown is true, only
// starts that accept another reference are returned and a reference is added
// to the start found. The bool returned is false if no start was found.
func (l *Level) Locate(origin world.ChunkPos, s *structure.Structure, radius int, skipKnown bool) (world.ChunkPos, bool, error) {
	if s.Placement == nil {
		return world.ChunkPos{}, false, nil
	}
	r := l.dim.Range()
	from := origin.Box(r).Vec3Centre()
	dist := func(pos world.ChunkPos) float64 {
		return pos.Box(r).Vec3Centre().Sub(from).Len()
	}
	for ring := 0; ring <= radius; ring++ {
		candidates := slices.SortedStableFunc(s.Placement.Candidates(l.conf.Seed, origin, ring), func(a, b world.ChunkPos) int {
			return cmp.Compare(dist(a), dist(b))
		})
		for _, pos := range candidates {
			ok, err := l.startAt(pos, s, skipKnown)
			if err != nil {
				return world.ChunkPos{}, false, err
			}
			if ok {
				return pos, true, nil
			}
		}
	}
	return world.ChunkPos{}, false, nil
}

// startAt checks if a start of s is present in the chunk at pos, adding a
// reference to it if skipKnown is true.
func (l *Level) startAt(pos world.ChunkPos, s *structure.Structure, skipKnown bool) (bool, error) {
	switch l.check.CheckStart(pos, s, skipKnown) {
	case check.StartNotPresent:
		return false, nil
	case check.StartPresent:
		if !skipKnown {
			return true, nil
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.generateStarts(pos)
	if err != nil {
		return false, err
	}
	start, ok := c.starts[s]
	if !ok || !start.Valid() {
		return false, nil
	}
	return !skipKnown || l.addReference(start), nil
}

// Start returns the start of s in the chunk at pos, if the chunk is loaded and
// has one. The start returned may not be valid.
func (l *Level) Start(pos world.ChunkPos, s *structure.Structure) (*structure.Start, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chunks[pos]
	if !ok {
		return nil, false
	}
	start, ok := c.starts[s]
	return start, ok
}

// References returns the chunks of the starts of s that the chunk at pos
// references, if the chunk is loaded.
func (l *Level) References(pos world.ChunkPos, s *structure.Structure) []world.ChunkPos {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.chunks[pos]; ok {
		return slices.Clone(c.references[s])
	}
	return nil
}

// AddReference adds a reference to the Start passed if it accepts another
// one. The bool returned is false if it did not.
func (l *Level) AddReference(start *structure.Start) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addReference(start)
}

// addReference adds a reference to a Start. l.mu must be held.
func (l *Level) addReference(start *structure.Start) bool {
	if !start.Valid() || !start.CanBeReferenced() {
		return false
	}
	start.AddReference()
	l.check.IncrementReference(start.Chunk(), start.Structure())
	if c, ok := l.chunks[start.Chunk()]; ok {
		c.modified = true
	}
	return true
}

// SaveChunk writes the structure data of the chunk at pos to storage if it was
// modified since it was loaded.
func (l *Level) SaveChunk(pos world.ChunkPos) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveChunk(pos)
}

// saveChunk writes the chunk at pos to storage. l.mu must be held.
func (l *Level) saveChunk(pos world.ChunkPos) error {
	c, ok := l.chunks[pos]
	if !ok || !c.modified {
		return nil
	}
	if err := l.provider.StoreColumn(pos, &mcdb.Column{
		Version:    datafix.CurrentVersion,
		Structures: l.encodeChunk(pos, c),
	}); err != nil {
		return fmt.Errorf("save chunk %v: %w", pos, err)
	}
	if l.legacy != nil {
		l.legacy.RemoveIndex(pos)
	}
	c.modified = false
	return nil
}

// encodeChunk encodes the starts and references of a chunk to its structure
// section. The Starts compound is left out if the starts of the chunk were not
// generated yet.
func (l *Level) encodeChunk(pos world.ChunkPos, c *chunkData) map[string]any {
	m := make(map[string]any, 2)
	if c.generated {
		starts := make(map[string]any, len(c.starts))
		for s, start := range c.starts {
			id, _ := l.conf.Structures.IDOf(s)
			starts[id] = start.Encode(l.ctx, pos)
		}
		m["Starts"] = starts
	}
	references := make(map[string]any, len(c.references))
	for s, refs := range c.references {
		id, _ := l.conf.Structures.IDOf(s)
		packed := make([]int64, len(refs))
		for i, ref := range refs {
			packed[i] = ref.Pack()
		}
		references[id] = nbtconv.LongArray(packed)
	}
	m["References"] = references
	return m
}

// UnloadChunk saves the chunk at pos and removes it from memory.
func (l *Level) UnloadChunk(pos world.ChunkPos) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.saveChunk(pos); err != nil {
		return err
	}
	delete(l.chunks, pos)
	return nil
}

// Save writes all modified chunks and the saved data of the dimension, such as
// legacy structure indexes, to storage.
func (l *Level) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, pos := range slices.SortedFunc(maps.Keys(l.chunks), func(a, b world.ChunkPos) int {
		return cmp.Compare(a.Pack(), b.Pack())
	}) {
		if err := l.saveChunk(pos); err != nil {
			errs = append(errs, err)
		}
	}
	if err := l.provider.Data().Save(); err != nil {
		errs = append(errs, fmt.Errorf("save data: %w", err))
	}
	return errors.Join(errs...)
}
