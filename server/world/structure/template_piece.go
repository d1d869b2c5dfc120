package structure

import (
	"fmt"

	"github.com/df-mc/strata/server/block/cube"
	"github.com/df-mc/strata/server/internal/nbtconv"
	"github.com/df-mc/strata/server/world"
)

// DataMarkerFunc handles a data marker of a template piece: a structure block in DATA mode, which marks a
// position where a structure places something that is not part of its template, such as a chest or mob.
// pos is the world position of the marker and box the box the piece is being placed in.
type DataMarkerFunc func(ctx PlaceContext, marker string, pos cube.Pos, box cube.BoundingBox)

// TemplatePieceType returns a PieceType for TemplatePieces with the id passed. Data markers of pieces of
// the type are passed to markers, which may be nil.
func TemplatePieceType(id string, markers DataMarkerFunc) *PieceType {
	t := &PieceType{ID: id, markers: markers}
	t.Load = func(ctx Context, base BasePiece, tag map[string]any) (Piece, error) {
		return loadTemplatePiece(ctx, t, base, tag)
	}
	return t
}

// TemplatePiece is a Piece that stamps a Template into the world.
type TemplatePiece struct {
	BasePiece
	typ *PieceType

	// Name is the name of the Template, such as minecraft:igloo/top.
	Name string
	// Origin is the world position that the origin of the Template is placed at.
	Origin   cube.Pos
	Settings PlaceSettings

	template *Template
}

// NewTemplatePiece creates a TemplatePiece of the type passed that places the Template with the name passed
// at origin. t should be a PieceType returned by TemplatePieceType.
func NewTemplatePiece(t *PieceType, depth int32, templates *TemplateManager, name string, origin cube.Pos, s PlaceSettings) (*TemplatePiece, error) {
	tmpl, err := templates.Get(name)
	if err != nil {
		return nil, err
	}
	return &TemplatePiece{
		BasePiece: BasePiece{Box: tmpl.BoundingBox(s, origin), Depth: depth},
		typ:       t,
		Name:      templateName(name),
		Origin:    origin,
		Settings:  s,
		template:  tmpl,
	}, nil
}

func loadTemplatePiece(ctx Context, t *PieceType, base BasePiece, tag map[string]any) (Piece, error) {
	rot, err := cube.ParseRotation(nbtconv.String(tag, "Rot"))
	if err != nil {
		return nil, err
	}
	mirror, err := cube.ParseMirror(nbtconv.String(tag, "Mirror"))
	if err != nil {
		return nil, err
	}
	p := &TemplatePiece{
		BasePiece: base,
		typ:       t,
		Name:      nbtconv.String(tag, "Template"),
		Origin:    cube.Pos{int(nbtconv.Int32(tag, "TPX")), int(nbtconv.Int32(tag, "TPY")), int(nbtconv.Int32(tag, "TPZ"))},
		Settings: PlaceSettings{
			Rotation: rot,
			Mirror:   mirror,
			Pivot:    cube.Pos{int(nbtconv.Int32(tag, "PX")), int(nbtconv.Int32(tag, "PY")), int(nbtconv.Int32(tag, "PZ"))},
		},
	}
	if p.Name == "" {
		return nil, fmt.Errorf("template piece has no template name")
	}
	if tmpl, err := ctx.Templates.Get(p.Name); err == nil {
		p.template = tmpl
	}
	return p, nil
}

// Type ...
func (p *TemplatePiece) Type() *PieceType {
	return p.typ
}

// Move ...
func (p *TemplatePiece) Move(dx, dy, dz int) {
	p.BasePiece.Move(dx, dy, dz)
	p.Origin = p.Origin.Add(cube.Pos{dx, dy, dz})
}

// PostProcess places the part of the Template that lies within box. Data markers inside the box are passed
// to the DataMarkerFunc of the piece type and jigsaw blocks are replaced with their final state.
func (p *TemplatePiece) PostProcess(ctx PlaceContext, box cube.BoundingBox, _ world.ChunkPos, ref cube.Pos) {
	log := logger(ctx.Log)
	if p.template == nil {
		tmpl, err := ctx.Templates.Get(p.Name)
		if err != nil {
			log.Error("place template piece: "+err.Error(), "template", p.Name)
			return
		}
		p.template = tmpl
	}
	p.Settings = p.Settings.WithClip(box)
	p.Box = p.template.BoundingBox(p.Settings, p.Origin)

	if !p.template.Place(ctx.Tx, p.Origin, p.Settings, ProcessContext{Random: ctx.Random, Ref: ref}) {
		return
	}
	for _, b := range p.template.Filter(p.Origin, p.Settings, "minecraft:structure_block") {
		if b.NBT == nil || nbtconv.String(b.NBT, "mode") != "DATA" {
			continue
		}
		if p.typ.markers != nil {
			p.typ.markers(ctx, nbtconv.String(b.NBT, "metadata"), b.Pos, box)
		}
	}
	for _, b := range p.template.Filter(p.Origin, p.Settings, "minecraft:jigsaw") {
		if b.NBT == nil {
			continue
		}
		finalState := nbtconv.String(b.NBT, "final_state")
		state, err := world.ParseBlockState(finalState)
		if err != nil {
			log.Error("parse jigsaw final state: "+err.Error(), "state", finalState, "pos", b.Pos)
			state = world.Air
		}
		ctx.Tx.SetBlock(b.Pos, state, nil)
	}
}

// Save ...
func (p *TemplatePiece) Save() map[string]any {
	m := p.encode(p.typ.ID)
	m["Template"] = p.Name
	m["TPX"], m["TPY"], m["TPZ"] = int32(p.Origin[0]), int32(p.Origin[1]), int32(p.Origin[2])
	m["PX"], m["PY"], m["PZ"] = int32(p.Settings.Pivot[0]), int32(p.Settings.Pivot[1]), int32(p.Settings.Pivot[2])
	m["Rot"] = p.Settings.Rotation.String()
	m["Mirror"] = p.Settings.Mirror.String()
	return m
}
