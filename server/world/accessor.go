package world

import (
	"iter"
	"maps"

	"github.com/df-mc/strata/server/block/cube"
)

// Accessor is the part of a world that structure pieces write to when they are placed. Implementations are
// expected to ignore positions outside the chunks they hold.
type Accessor interface {
	// Block returns the block state at the position passed, or Air if no block was set there.
	Block(pos cube.Pos) BlockState
	// SetBlock sets the block state at the position passed. nbt holds the block entity data of the block
	// and may be nil.
	SetBlock(pos cube.Pos, b BlockState, nbt map[string]any)
	// Range returns the height range of the world.
	Range() cube.Range
}

// Buffer is an Accessor that holds blocks in memory. A Buffer is not safe for concurrent use, in line with
// chunks only ever being written by the worker that owns them.
type Buffer struct {
	r      cube.Range
	blocks map[cube.Pos]BlockState
	nbt    map[cube.Pos]map[string]any
}

// NewBuffer returns an empty Buffer with the height range passed.
func NewBuffer(r cube.Range) *Buffer {
	return &Buffer{r: r, blocks: make(map[cube.Pos]BlockState), nbt: make(map[cube.Pos]map[string]any)}
}

// Block ...
func (b *Buffer) Block(pos cube.Pos) BlockState {
	if s, ok := b.blocks[pos]; ok {
		return s
	}
	return Air
}

// BlockNBT returns the block entity data set at the position passed, if any.
func (b *Buffer) BlockNBT(pos cube.Pos) (map[string]any, bool) {
	m, ok := b.nbt[pos]
	return m, ok
}

// SetBlock ...
func (b *Buffer) SetBlock(pos cube.Pos, s BlockState, nbt map[string]any) {
	if pos[1] < b.r.Min() || pos[1] > b.r.Max() {
		return
	}
	b.blocks[pos] = s
	if nbt == nil {
		delete(b.nbt, pos)
		return
	}
	b.nbt[pos] = nbt
}

// Range ...
func (b *Buffer) Range() cube.Range {
	return b.r
}

// Len returns the amount of positions that had a block set.
func (b *Buffer) Len() int {
	return len(b.blocks)
}

// All returns a sequence of all positions that had a block set and their block states.
func (b *Buffer) All() iter.Seq2[cube.Pos, BlockState] {
	return maps.All(b.blocks)
}
