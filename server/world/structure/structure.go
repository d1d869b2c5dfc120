// Package structure implements structure starts and the pieces they are made of, along with the encoding
// of both to the structure section of a chunk.
package structure

import (
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/df-mc/strata/server/block/cube"
	"github.com/df-mc/strata/server/world"
	"github.com/df-mc/strata/server/world/generator"
	"github.com/segmentio/fasthash/fnv1a"
)

// Structure is a type of structure, such as a village or a desert pyramid. Structures are compared by
// identity: the id a Structure is saved with is the id it was registered with in a Registry.
type Structure struct {
	// Placement decides the chunks that a start of the Structure may be generated in. A Structure with a
	// nil Placement is never generated, but starts of it may still be loaded.
	Placement generator.Placement
	// Biomes holds the biomes that the Structure may start in. If empty, it may start in any biome.
	Biomes []string
	// MaxReferences is the amount of chunks that may reference a single start of the Structure. If 0, a
	// start accepts a single reference.
	MaxReferences int
	// Generate creates the pieces of a new start. If Generate is nil or returns no pieces, the start is
	// invalid.
	Generate func(ctx GenerationContext) []Piece
	// AdjustBox may change the bounding box computed from the pieces of a start. It is optional.
	AdjustBox func(box cube.BoundingBox, pieces []Piece) cube.BoundingBox
	// AfterPlace is called after all pieces of a start that intersect a chunk were placed in it. It is
	// optional.
	AfterPlace func(ctx PlaceContext, box cube.BoundingBox, chunk world.ChunkPos, pieces []Piece)
}

// GenerationContext holds the state needed to generate the pieces of a new start.
type GenerationContext struct {
	Seed      int64
	Chunk     world.ChunkPos
	Biomes    generator.BiomeSource
	Range     cube.Range
	Random    *rand.Rand
	Templates *TemplateManager
	Log       *slog.Logger
}

// maxReferences returns the maximum amount of references a start of the Structure accepts.
func (s *Structure) maxReferences() int {
	if s.MaxReferences <= 0 {
		return 1
	}
	return s.MaxReferences
}

// ValidGenerationPoint checks if a start of the Structure could be generated in the chunk passed. It only
// depends on the seed, the biomes and the position of the chunk, so the result may be cached.
func (s *Structure) ValidGenerationPoint(seed int64, biomes generator.BiomeSource, pos world.ChunkPos, r cube.Range) bool {
	if s.Placement == nil || !s.Placement.IsStartChunk(seed, pos) {
		return false
	}
	if len(s.Biomes) == 0 || biomes == nil {
		return true
	}
	p := pos.MiddleBlockPos(min(max(64, r.Min()), r.Max()))
	return slices.Contains(s.Biomes, biomes.Biome(p[0], p[1], p[2]))
}

// GenerateStart generates a new start of the Structure in the chunk of the context. InvalidStart is
// returned if no pieces were generated.
func (s *Structure) GenerateStart(ctx GenerationContext) *Start {
	if s.Generate == nil {
		return InvalidStart
	}
	pieces := s.Generate(ctx)
	if len(pieces) == 0 {
		return InvalidStart
	}
	return NewStart(s, ctx.Chunk, 0, pieces)
}

// Registry maps structure ids to Structures. A Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*Structure
	ids   map[*Structure]string
	order []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Structure), ids: make(map[*Structure]string)}
}

// Register registers a Structure under the id passed. A RandomSpread placement without a salt is given one
// derived from the id. Register panics if the id or the Structure is already registered, or if its
// placement is invalid.
func (r *Registry) Register(id string, s *Structure) {
	if spread, ok := s.Placement.(generator.RandomSpread); ok {
		if err := spread.Validate(); err != nil {
			panic(fmt.Sprintf("register structure %v: %v", id, err))
		}
		if spread.Salt == 0 {
			spread.Salt = int32(fnv1a.HashString32(id))
			s.Placement = spread
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; ok {
		panic("structure " + id + " registered twice")
	}
	if other, ok := r.ids[s]; ok {
		panic("structure " + id + " already registered as " + other)
	}
	r.byID[id] = s
	r.ids[s] = id
	r.order = append(r.order, id)
}

// ByID returns the Structure registered with the id passed.
func (r *Registry) ByID(id string) (*Structure, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// IDOf returns the id that the Structure passed was registered with.
func (r *Registry) IDOf(s *Structure) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[s]
	return id, ok
}

// All returns a sequence of all registered Structures and their ids, in the order they were registered.
func (r *Registry) All() iter.Seq2[string, *Structure] {
	r.mu.RLock()
	order := slices.Clone(r.order)
	r.mu.RUnlock()

	return func(yield func(string, *Structure) bool) {
		for _, id := range order {
			s, _ := r.ByID(id)
			if !yield(id, s) {
				return
			}
		}
	}
}

// Vanilla returns a Registry holding the structures of vanilla worlds with their placements. The
// structures do not generate pieces, but their starts can be loaded, saved and referenced.
func Vanilla() *Registry {
	r := NewRegistry()
	for _, v := range vanillaStructures {
		r.Register(v.id, &Structure{Placement: v.placement})
	}
	return r
}

var vanillaStructures = []struct {
	id        string
	placement generator.Placement
}{
	{"minecraft:pillager_outpost", generator.RandomSpread{Spacing: 32, Separation: 8, Salt: 165745296, Frequency: 0.2}},
	{"minecraft:mineshaft", generator.RandomSpread{Spacing: 1, Separation: 0, Frequency: 0.004}},
	{"minecraft:mansion", generator.RandomSpread{Spacing: 80, Separation: 20, Salt: 10387319, Spread: generator.SpreadTriangular}},
	{"minecraft:jungle_pyramid", generator.RandomSpread{Spacing: 32, Separation: 8, Salt: 14357619}},
	{"minecraft:desert_pyramid", generator.RandomSpread{Spacing: 32, Separation: 8, Salt: 14357617}},
	{"minecraft:igloo", generator.RandomSpread{Spacing: 32, Separation: 8, Salt: 14357618}},
	{"minecraft:shipwreck", generator.RandomSpread{Spacing: 24, Separation: 4, Salt: 165745295}},
	{"minecraft:swamp_hut", generator.RandomSpread{Spacing: 32, Separation: 8, Salt: 14357620}},
	// Strongholds are placed in rings around the origin of the world, which no placement here models.
	{"minecraft:stronghold", nil},
	{"minecraft:monument", generator.RandomSpread{Spacing: 32, Separation: 5, Salt: 10387313, Spread: generator.SpreadTriangular}},
	{"minecraft:ocean_ruin", generator.RandomSpread{Spacing: 20, Separation: 8, Salt: 14357621}},
	{"minecraft:fortress", generator.RandomSpread{Spacing: 27, Separation: 4, Salt: 30084232}},
	{"minecraft:nether_fossil", generator.RandomSpread{Spacing: 2, Separation: 1, Salt: 14357921}},
	{"minecraft:end_city", generator.RandomSpread{Spacing: 20, Separation: 11, Salt: 10387313, Spread: generator.SpreadTriangular}},
	{"minecraft:buried_treasure", generator.RandomSpread{Spacing: 1, Separation: 0, Frequency: 0.01}},
	{"minecraft:bastion_remnant", generator.RandomSpread{Spacing: 27, Separation: 4, Salt: 30084232}},
	{"minecraft:village", generator.RandomSpread{Spacing: 34, Separation: 8, Salt: 10387312}},
	{"minecraft:ruined_portal", generator.RandomSpread{Spacing: 40, Separation: 15, Salt: 34222645}},
	{"minecraft:ancient_city", generator.RandomSpread{Spacing: 24, Separation: 8, Salt: 20083232}},
}
