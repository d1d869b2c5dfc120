package world

import (
	"fmt"

	"github.com/df-mc/strata/server/block/cube"
)

// ChunkPos holds the position of a chunk. The type is provided as a utility struct for keeping track of a
// chunk's position. Chunks do not themselves keep track of that. Chunk positions are different from block
// positions in the way that increasing the X/Z by one means increasing the absolute value on the X/Z axis in
// terms of blocks by 16.
type ChunkPos [2]int32

// String implements fmt.Stringer and returns (x, z).
func (p ChunkPos) String() string {
	return fmt.Sprintf("(%v, %v)", p[0], p[1])
}

// X returns the X coordinate of the chunk position.
func (p ChunkPos) X() int32 {
	return p[0]
}

// Z returns the Z coordinate of the chunk position.
func (p ChunkPos) Z() int32 {
	return p[1]
}

// Pack returns the chunk position packed into a single int64, with X in the low and Z in the high 32 bits.
// This is the form chunk positions are saved in when referenced from other chunks.
func (p ChunkPos) Pack() int64 {
	return PackChunkPos(p[0], p[1])
}

// PackChunkPos packs the chunk coordinates passed into a single int64.
func PackChunkPos(x, z int32) int64 {
	return int64(uint32(x)) | int64(uint32(z))<<32
}

// UnpackChunkPos returns the ChunkPos held by the packed value passed.
func UnpackChunkPos(v int64) ChunkPos {
	return ChunkPos{int32(v), int32(v >> 32)}
}

// ChessboardDistance returns the largest of the X and Z distances between p and o, in chunks.
func (p ChunkPos) ChessboardDistance(o ChunkPos) int32 {
	return max(abs(p[0]-o[0]), abs(p[1]-o[1]))
}

// Box returns the BoundingBox of the chunk column in the height range passed.
func (p ChunkPos) Box(r cube.Range) cube.BoundingBox {
	return cube.ChunkBox(p[0], p[1], r.Min(), r.Max())
}

// MiddleBlockPos returns the block position at the centre of the chunk at height y.
func (p ChunkPos) MiddleBlockPos(y int) cube.Pos {
	return cube.Pos{int(p[0])<<4 + 8, y, int(p[1])<<4 + 8}
}

// ChunkPosFromBlock returns the position of the chunk that contains the block position passed.
func ChunkPosFromBlock(p cube.Pos) ChunkPos {
	return ChunkPos{int32(p[0] >> 4), int32(p[2] >> 4)}
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
