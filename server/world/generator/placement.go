package generator

import (
	"encoding/binary"
	"errors"
	"iter"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
	"github.com/df-mc/strata/server/world"
)

// Placement decides in which chunks a structure may start, independent of biomes and terrain.
type Placement interface {
	// IsStartChunk checks if a structure using the Placement may start in the chunk passed.
	IsStartChunk(seed int64, pos world.ChunkPos) bool
	// Candidates returns the potential start chunks on the square ring at distance ring around origin, in
	// units of placement regions. Ring 0 holds only the region origin lies in.
	Candidates(seed int64, origin world.ChunkPos, ring int) iter.Seq[world.ChunkPos]
}

// SpreadType is the distribution of the offset of a start chunk within its placement region.
type SpreadType uint8

const (
	// SpreadLinear spreads start chunks uniformly over their region.
	SpreadLinear SpreadType = iota
	// SpreadTriangular biases start chunks towards the centre of their region.
	SpreadTriangular
)

// RandomSpread is a Placement that divides the world into square regions of Spacing chunks, each holding a
// single potential start chunk at a random offset that keeps starts of neighbouring regions at least
// Separation chunks apart.
type RandomSpread struct {
	Spacing    int32
	Separation int32
	Salt       int32
	Spread     SpreadType
	// Frequency is the chance in the range (0, 1] that a potential start chunk is actually used. Zero is
	// treated as 1.
	Frequency float64
}

// Validate checks if the spacing and separation of the placement are usable.
func (r RandomSpread) Validate() error {
	if r.Spacing <= 0 {
		return errors.New("spacing must be positive")
	}
	if r.Separation < 0 || r.Separation >= r.Spacing {
		return errors.New("separation must be at least 0 and smaller than spacing")
	}
	return nil
}

// PotentialStart returns the potential start chunk of the region that the chunk passed lies in.
func (r RandomSpread) PotentialStart(seed int64, pos world.ChunkPos) world.ChunkPos {
	rx, rz := floorDiv(pos[0], r.Spacing), floorDiv(pos[1], r.Spacing)
	return r.regionStart(seed, rx, rz)
}

func (r RandomSpread) regionStart(seed int64, rx, rz int32) world.ChunkPos {
	rnd := regionRandom(seed, rx, rz, r.Salt)
	n := r.Spacing - r.Separation
	offX, offZ := r.offset(rnd, n), r.offset(rnd, n)
	return world.ChunkPos{rx*r.Spacing + offX, rz*r.Spacing + offZ}
}

func (r RandomSpread) offset(rnd *rand.Rand, n int32) int32 {
	if r.Spread == SpreadTriangular {
		return (rnd.Int32N(n) + rnd.Int32N(n)) / 2
	}
	return rnd.Int32N(n)
}

// IsStartChunk ...
func (r RandomSpread) IsStartChunk(seed int64, pos world.ChunkPos) bool {
	if r.PotentialStart(seed, pos) != pos {
		return false
	}
	if r.Frequency <= 0 || r.Frequency >= 1 {
		return true
	}
	return regionRandom(seed, pos[0], pos[1], ^r.Salt).Float64() < r.Frequency
}

// Candidates ...
func (r RandomSpread) Candidates(seed int64, origin world.ChunkPos, ring int) iter.Seq[world.ChunkPos] {
	return func(yield func(world.ChunkPos) bool) {
		ox, oz := floorDiv(origin[0], r.Spacing), floorDiv(origin[1], r.Spacing)
		d := int32(ring)
		for dx := -d; dx <= d; dx++ {
			for dz := -d; dz <= d; dz++ {
				if max(abs(dx), abs(dz)) != d {
					// Only the outer edge of the square makes up the ring.
					continue
				}
				pos := r.regionStart(seed, ox+dx, oz+dz)
				if !r.IsStartChunk(seed, pos) {
					continue
				}
				if !yield(pos) {
					return
				}
			}
		}
	}
}

// regionRandom returns a random source seeded with the world seed, region coordinates and salt passed.
func regionRandom(seed int64, rx, rz, salt int32) *rand.Rand {
	var buf [20]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seed))
	binary.LittleEndian.PutUint32(buf[8:], uint32(rx))
	binary.LittleEndian.PutUint32(buf[12:], uint32(rz))
	binary.LittleEndian.PutUint32(buf[16:], uint32(salt))
	h := xxhash.Sum64(buf[:])
	return rand.New(rand.NewPCG(h, h^0x9e3779b97f4a7c15))
}

func floorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// ChunkRandom returns a random source that is deterministic for the seed, chunk and salt passed. It is
// used for the generation and placement of structure starts in a chunk.
func ChunkRandom(seed int64, pos world.ChunkPos, salt int32) *rand.Rand {
	return regionRandom(seed, pos[0], pos[1], salt)
}
