package structure

import (
	"errors"
	"fmt"

	"github.com/df-mc/strata/server/block/cube"
	"github.com/df-mc/strata/server/internal/nbtconv"
)

// Projection decides how a pool element is placed relative to the terrain.
type Projection string

const (
	// ProjectionRigid places the element as is.
	ProjectionRigid Projection = "rigid"
	// ProjectionTerrainMatching places each column of the element at the height of the terrain.
	ProjectionTerrainMatching Projection = "terrain_matching"
)

// Element is an element of a template pool: the content that a PoolElementPiece places.
type Element interface {
	// Projection returns the Projection of the Element.
	Projection() Projection
	// BoundingBox returns the box the Element occupies when placed at pos with the rotation passed.
	BoundingBox(templates *TemplateManager, pos cube.Pos, rot cube.Rotation) (cube.BoundingBox, error)
	// Place places the part of the Element that lies within box. It returns false if nothing could be placed.
	Place(ctx PlaceContext, pos, ref cube.Pos, rot cube.Rotation, box cube.BoundingBox) bool
	// Encode encodes the Element, including its element_type field.
	Encode() map[string]any
}

// SingleElement is an Element that places a single Template.
type SingleElement struct {
	// Location is the name of the Template placed.
	Location   string
	Processors []Processor
	Proj       Projection
}

// Projection ...
func (e SingleElement) Projection() Projection {
	return e.Proj
}

// BoundingBox ...
func (e SingleElement) BoundingBox(templates *TemplateManager, pos cube.Pos, rot cube.Rotation) (cube.BoundingBox, error) {
	t, err := templates.Get(e.Location)
	if err != nil {
		return cube.BoundingBox{}, err
	}
	return t.BoundingBox(PlaceSettings{Rotation: rot}, pos), nil
}

// Place places the Template of the element with its processors. Jigsaw blocks are replaced with their final
// state.
func (e SingleElement) Place(ctx PlaceContext, pos, ref cube.Pos, rot cube.Rotation, box cube.BoundingBox) bool {
	t, err := ctx.Templates.Get(e.Location)
	if err != nil {
		logger(ctx.Log).Error("place pool element: "+err.Error(), "location", e.Location)
		return false
	}
	s := PlaceSettings{
		Rotation:   rot,
		Clip:       &box,
		Processors: append(append([]Processor(nil), e.Processors...), JigsawReplacement{}),
	}
	return t.Place(ctx.Tx, pos, s, ProcessContext{Random: ctx.Random, Ref: ref})
}

// Encode ...
func (e SingleElement) Encode() map[string]any {
	return map[string]any{
		"element_type": "minecraft:single_pool_element",
		"location":     templateName(e.Location),
		"processors":   encodeProcessors(e.Processors),
		"projection":   string(e.Proj),
	}
}

// ListElement is an Element that places all of its Elements at the same position.
type ListElement struct {
	Elements []Element
	Proj     Projection
}

// Projection ...
func (e ListElement) Projection() Projection {
	return e.Proj
}

// BoundingBox returns the box enclosing the boxes of all Elements in the list.
func (e ListElement) BoundingBox(templates *TemplateManager, pos cube.Pos, rot cube.Rotation) (cube.BoundingBox, error) {
	if len(e.Elements) == 0 {
		return cube.BoundingBox{}, errors.New("list pool element has no elements")
	}
	var box cube.BoundingBox
	for i, el := range e.Elements {
		b, err := el.BoundingBox(templates, pos, rot)
		if err != nil {
			return cube.BoundingBox{}, err
		}
		if i == 0 {
			box = b
			continue
		}
		box = box.Encapsulate(b)
	}
	return box, nil
}

// Place places all Elements in the list, stopping at the first one that fails.
func (e ListElement) Place(ctx PlaceContext, pos, ref cube.Pos, rot cube.Rotation, box cube.BoundingBox) bool {
	for _, el := range e.Elements {
		if !el.Place(ctx, pos, ref, rot, box) {
			return false
		}
	}
	return true
}

// Encode ...
func (e ListElement) Encode() map[string]any {
	elements := make([]any, 0, len(e.Elements))
	for _, el := range e.Elements {
		elements = append(elements, el.Encode())
	}
	return map[string]any{
		"element_type": "minecraft:list_pool_element",
		"elements":     elements,
		"projection":   string(e.Proj),
	}
}

// EmptyElement is an Element that places nothing. It is used to end a branch of a jigsaw structure.
type EmptyElement struct{}

// Projection ...
func (EmptyElement) Projection() Projection {
	return ProjectionRigid
}

// BoundingBox always returns an error: an EmptyElement occupies no space.
func (EmptyElement) BoundingBox(*TemplateManager, cube.Pos, cube.Rotation) (cube.BoundingBox, error) {
	return cube.BoundingBox{}, errors.New("empty pool element has no bounding box")
}

// Place ...
func (EmptyElement) Place(PlaceContext, cube.Pos, cube.Pos, cube.Rotation, cube.BoundingBox) bool {
	return true
}

// Encode ...
func (EmptyElement) Encode() map[string]any {
	return map[string]any{"element_type": "minecraft:empty_pool_element"}
}

// DecodeElement decodes an Element from its compound form.
func DecodeElement(tag map[string]any) (Element, error) {
	proj := Projection(nbtconv.String(tag, "projection"))
	if proj == "" {
		proj = ProjectionRigid
	}
	switch t := nbtconv.String(tag, "element_type"); t {
	case "minecraft:single_pool_element", "minecraft:legacy_single_pool_element":
		location := nbtconv.String(tag, "location")
		if location == "" {
			return nil, errors.New("single pool element has no location")
		}
		processors, err := decodeProcessors(tag["processors"])
		if err != nil {
			return nil, fmt.Errorf("decode processors: %w", err)
		}
		return SingleElement{Location: location, Processors: processors, Proj: proj}, nil
	case "minecraft:list_pool_element":
		list := ListElement{Proj: proj}
		for _, el := range nbtconv.Compounds(tag, "elements") {
			e, err := DecodeElement(el)
			if err != nil {
				return nil, fmt.Errorf("decode list element: %w", err)
			}
			list.Elements = append(list.Elements, e)
		}
		return list, nil
	case "minecraft:empty_pool_element":
		return EmptyElement{}, nil
	default:
		return nil, fmt.Errorf("unknown pool element type %q", t)
	}
}
