package structure

import (
	"fmt"

	"github.com/df-mc/strata/server/block/cube"
	"github.com/df-mc/strata/server/internal/nbtconv"
	"github.com/df-mc/strata/server/world"
)

// PoolElementPieceType is the PieceType of PoolElementPieces.
var PoolElementPieceType = &PieceType{ID: "minecraft:jigsaw", Load: loadPoolElementPiece}

// JigsawJunction is a connection between a PoolElementPiece and a neighbouring piece of the same start.
type JigsawJunction struct {
	// SourceX, SourceGroundY and SourceZ are the position of the connection in the source piece, with the Y
	// coordinate at the ground level of the source piece.
	SourceX, SourceGroundY, SourceZ int32
	// DeltaY is the height difference between the connected pieces.
	DeltaY int32
	// DestProjection is the Projection of the piece connected to.
	DestProjection Projection
}

func (j JigsawJunction) encode() map[string]any {
	return map[string]any{
		"source_x":        j.SourceX,
		"source_ground_y": j.SourceGroundY,
		"source_z":        j.SourceZ,
		"delta_y":         j.DeltaY,
		"dest_proj":       string(j.DestProjection),
	}
}

func decodeJunction(m map[string]any) JigsawJunction {
	return JigsawJunction{
		SourceX:        nbtconv.Int32(m, "source_x"),
		SourceGroundY:  nbtconv.Int32(m, "source_ground_y"),
		SourceZ:        nbtconv.Int32(m, "source_z"),
		DeltaY:         nbtconv.Int32(m, "delta_y"),
		DestProjection: Projection(nbtconv.String(m, "dest_proj")),
	}
}

// PoolElementPiece is a Piece of a jigsaw structure that places an Element of a template pool.
type PoolElementPiece struct {
	BasePiece
	Element Element
	// Position is the position the Element is placed at. It is moved along with the bounding box.
	Position         cube.Pos
	GroundLevelDelta int32
	Rotation         cube.Rotation
	Junctions        []JigsawJunction
}

// NewPoolElementPiece creates a PoolElementPiece that places e at pos with the rotation passed. The bounding
// box of the piece is that of the Element.
func NewPoolElementPiece(templates *TemplateManager, e Element, pos cube.Pos, groundLevelDelta int32, rot cube.Rotation) (*PoolElementPiece, error) {
	box, err := e.BoundingBox(templates, pos, rot)
	if err != nil {
		return nil, fmt.Errorf("new pool element piece: %w", err)
	}
	return &PoolElementPiece{
		BasePiece:        BasePiece{Box: box},
		Element:          e,
		Position:         pos,
		GroundLevelDelta: groundLevelDelta,
		Rotation:         rot,
	}, nil
}

func loadPoolElementPiece(_ Context, base BasePiece, tag map[string]any) (Piece, error) {
	elementTag, ok := nbtconv.Compound(tag, "pool_element")
	if !ok {
		return nil, fmt.Errorf("pool element piece has no pool_element")
	}
	e, err := DecodeElement(elementTag)
	if err != nil {
		return nil, err
	}
	rot, err := cube.ParseRotation(nbtconv.String(tag, "rotation"))
	if err != nil {
		return nil, err
	}
	p := &PoolElementPiece{
		BasePiece:        base,
		Element:          e,
		Position:         cube.Pos{int(nbtconv.Int32(tag, "PosX")), int(nbtconv.Int32(tag, "PosY")), int(nbtconv.Int32(tag, "PosZ"))},
		GroundLevelDelta: nbtconv.Int32(tag, "ground_level_delta"),
		Rotation:         rot,
	}
	for _, j := range nbtconv.Compounds(tag, "junctions") {
		p.Junctions = append(p.Junctions, decodeJunction(j))
	}
	return p, nil
}

// Type ...
func (p *PoolElementPiece) Type() *PieceType {
	return PoolElementPieceType
}

// Move moves both the bounding box and the position of the piece.
func (p *PoolElementPiece) Move(dx, dy, dz int) {
	p.BasePiece.Move(dx, dy, dz)
	p.Position = p.Position.Add(cube.Pos{dx, dy, dz})
}

// PostProcess ...
func (p *PoolElementPiece) PostProcess(ctx PlaceContext, box cube.BoundingBox, _ world.ChunkPos, ref cube.Pos) {
	p.Element.Place(ctx, p.Position, ref, p.Rotation, box)
}

// AddJunction adds a JigsawJunction to the piece.
func (p *PoolElementPiece) AddJunction(j JigsawJunction) {
	p.Junctions = append(p.Junctions, j)
}

// Save ...
func (p *PoolElementPiece) Save() map[string]any {
	m := p.encode(PoolElementPieceType.ID)
	m["PosX"], m["PosY"], m["PosZ"] = int32(p.Position[0]), int32(p.Position[1]), int32(p.Position[2])
	m["ground_level_delta"] = p.GroundLevelDelta
	m["pool_element"] = p.Element.Encode()
	m["rotation"] = p.Rotation.String()
	if len(p.Junctions) == 0 {
		return m
	}
	junctions := make([]any, 0, len(p.Junctions))
	for _, j := range p.Junctions {
		junctions = append(junctions, j.encode())
	}
	m["junctions"] = junctions
	return m
}
