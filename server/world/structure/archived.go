package structure

import (
	"github.com/df-mc/strata/server/block/cube"
	"github.com/df-mc/strata/server/internal/nbtconv"
	"github.com/df-mc/strata/server/world"
)

// ArchivedPieceType returns a PieceType for ArchivedPieces saved with the id passed.
func ArchivedPieceType(id string) *PieceType {
	t := &PieceType{ID: id}
	t.Load = func(_ Context, base BasePiece, tag map[string]any) (Piece, error) {
		return &ArchivedPiece{BasePiece: base, typ: t, tag: nbtconv.Clone(tag)}, nil
	}
	return t
}

// ArchivedPiece is a Piece of a type that is only ever loaded from existing worlds and not generated. It
// keeps its saved compound so that it is saved unchanged. An ArchivedPiece occupies its bounding box, but
// placing it places nothing.
type ArchivedPiece struct {
	BasePiece
	typ *PieceType
	tag map[string]any
}

// Type ...
func (p *ArchivedPiece) Type() *PieceType {
	return p.typ
}

// PostProcess ...
func (p *ArchivedPiece) PostProcess(PlaceContext, cube.BoundingBox, world.ChunkPos, cube.Pos) {}

// Save returns the compound the piece was loaded from, with the base fields updated.
func (p *ArchivedPiece) Save() map[string]any {
	m := nbtconv.Clone(p.tag)
	for k, v := range p.encode(p.typ.ID) {
		m[k] = v
	}
	return m
}

// archivedPieceIDs holds the ids of vanilla pieces that are loaded as ArchivedPieces.
var archivedPieceIDs = []string{
	// Temples and igloos.
	"tedp", "tejp", "tesh", "iglu",
	// Mineshafts.
	"mscorridor", "mscrossing", "msroom", "msstairs",
	// Ocean monuments.
	"omb", "omcr", "omdxr", "omdxyr", "omdyr", "omdyzr", "omdzr", "omentry", "omp", "omsimple", "omsimplet", "omwr",
	// Nether fortresses.
	"nebcr", "nebef", "nebs", "neccs", "nectb", "nece", "nescsc", "nesclt", "nesc", "nescrt", "necsr", "nemt", "nerc", "nestart",
	// Strongholds.
	"shcc", "shfc", "sh5c", "shlt", "shli", "shpr", "shph", "shrt", "shrc", "shsd", "shstart", "shs", "shssd",
	// Other structures.
	"ecp", "wmp", "shipwreck", "orp", "btp", "nefos", "rupo",
}
