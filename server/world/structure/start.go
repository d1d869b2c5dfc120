package structure

import (
	"slices"

	"github.com/df-mc/strata/server/block/cube"
	"github.com/df-mc/strata/server/internal/nbtconv"
	"github.com/df-mc/strata/server/world"
)

// invalidID is the id that invalid starts are saved with.
const invalidID = "INVALID"

// InvalidStart is the start recorded for chunks in which a structure was attempted, but no pieces were
// generated. It is never placed and never valid.
var InvalidStart = &Start{}

// Start is a single occurrence of a structure, anchored in a chunk and made up of pieces. A Start is owned by
// the worker handling its chunk and is not safe for concurrent use.
type Start struct {
	structure  *Structure
	chunk      world.ChunkPos
	references int
	pieces     []Piece

	box    cube.BoundingBox
	hasBox bool
}

// NewStart creates a Start of a Structure in the chunk passed.
func NewStart(s *Structure, chunk world.ChunkPos, references int, pieces []Piece) *Start {
	return &Start{structure: s, chunk: chunk, references: references, pieces: pieces}
}

// Structure returns the Structure of the Start. It is nil for InvalidStart.
func (s *Start) Structure() *Structure {
	return s.structure
}

// Chunk returns the chunk that the Start is anchored in.
func (s *Start) Chunk() world.ChunkPos {
	return s.chunk
}

// Pieces returns the pieces of the Start.
func (s *Start) Pieces() []Piece {
	return s.pieces
}

// Valid checks if the Start has any pieces. Starts that are not valid must never be placed.
func (s *Start) Valid() bool {
	return len(s.pieces) != 0
}

// BoundingBox returns the box that encloses all pieces of the Start. The box is computed on the first call
// and cached afterwards. A Start that is not valid has an empty box.
func (s *Start) BoundingBox() cube.BoundingBox {
	if s.hasBox {
		return s.box
	}
	box, ok := cube.EncapsulatingBoxes(func(yield func(cube.BoundingBox) bool) {
		for _, p := range s.pieces {
			if !yield(p.BoundingBox()) {
				return
			}
		}
	})
	if !ok {
		return cube.BoundingBox{}
	}
	if s.structure != nil && s.structure.AdjustBox != nil {
		box = s.structure.AdjustBox(box, s.pieces)
	}
	s.box, s.hasBox = box, true
	return box
}

// PlaceInChunk places all pieces of the Start that intersect box. All pieces are passed the same reference
// position: the centre of the first piece, at the bottom of that piece.
func (s *Start) PlaceInChunk(ctx PlaceContext, box cube.BoundingBox, chunk world.ChunkPos) {
	if len(s.pieces) == 0 {
		return
	}
	first := s.pieces[0].BoundingBox()
	centre := first.Center()
	ref := cube.Pos{centre.X(), first.MinY(), centre.Z()}

	for _, p := range s.pieces {
		if p.BoundingBox().Intersects(box) {
			p.PostProcess(ctx, box, chunk, ref)
		}
	}
	if s.structure != nil && s.structure.AfterPlace != nil {
		s.structure.AfterPlace(ctx, box, chunk, s.pieces)
	}
}

// References returns the amount of chunks that reference the Start.
func (s *Start) References() int {
	return s.references
}

// MaxReferences returns the amount of references after which the Start no longer accepts new ones.
func (s *Start) MaxReferences() int {
	if s.structure == nil {
		return 1
	}
	return s.structure.maxReferences()
}

// CanBeReferenced checks if the Start accepts another reference.
func (s *Start) CanBeReferenced() bool {
	return s.references < s.MaxReferences()
}

// AddReference adds a reference to the Start.
func (s *Start) AddReference() {
	s.references++
}

// Encode encodes the Start to the compound it is stored with in the chunk passed. Encode panics if the
// Structure of the Start is not registered in the Registry of the Context, since the start could otherwise
// not be loaded again.
func (s *Start) Encode(ctx Context, chunk world.ChunkPos) map[string]any {
	if !s.Valid() {
		return map[string]any{"id": invalidID}
	}
	id, ok := ctx.Structures.IDOf(s.structure)
	if !ok {
		panic("encode structure start: structure has no registered id")
	}
	children := make([]any, 0, len(s.pieces))
	for _, p := range s.pieces {
		children = append(children, p.Save())
	}
	return map[string]any{
		"id":         id,
		"ChunkX":     chunk[0],
		"ChunkZ":     chunk[1],
		"references": int32(s.references),
		"Children":   children,
	}
}

// LoadStart decodes a Start from the compound passed. A start saved with the INVALID id is loaded as
// InvalidStart. If the structure id is unknown or a piece could not be loaded, the error is logged and nil
// is returned, so that the start can be skipped.
func LoadStart(ctx Context, tag map[string]any) *Start {
	id := nbtconv.String(tag, "id")
	if id == invalidID {
		return InvalidStart
	}
	log := logger(ctx.Log)
	s, ok := ctx.Structures.ByID(id)
	if !ok {
		log.Error("unknown structure id", "id", id)
		return nil
	}
	children := nbtconv.Compounds(tag, "Children")
	pieces := make([]Piece, 0, len(children))
	for _, child := range children {
		p, err := LoadPiece(ctx, child)
		if err != nil {
			log.Error("load structure start: "+err.Error(), "id", id)
			return nil
		}
		pieces = append(pieces, p)
	}
	chunk := world.ChunkPos{nbtconv.Int32(tag, "ChunkX"), nbtconv.Int32(tag, "ChunkZ")}
	return NewStart(s, chunk, int(nbtconv.Int32(tag, "references")), slices.Clip(pieces))
}
