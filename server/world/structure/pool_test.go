package structure

import (
	"reflect"
	"testing"

	"github.com/df-mc/strata/server/block/cube"
	"github.com/df-mc/strata/server/world"
)

func TestPoolElementPieceMoveKeepsPositionInSync(t *testing.T) {
	templates := NewTemplateManager("", nil)
	templates.Register("test:hut", hutTemplate())

	p, err := NewPoolElementPiece(templates, SingleElement{Location: "test:hut", Proj: ProjectionRigid}, cube.Pos{0, 64, 0}, 1, cube.RotationNone)
	if err != nil {
		t.Fatalf("new pool element piece: %v", err)
	}
	p.Move(16, 2, 16)
	if p.Position != (cube.Pos{16, 66, 16}) {
		t.Fatalf("unexpected position %v", p.Position)
	}
	if p.BoundingBox().Min() != p.Position {
		t.Fatalf("box %v out of sync with position %v", p.BoundingBox(), p.Position)
	}
}

func TestPoolElementPiecePostProcess(t *testing.T) {
	templates := NewTemplateManager("", nil)
	templates.Register("test:hut", hutTemplate())

	element := SingleElement{
		Location:   "test:hut",
		Processors: []Processor{BlockIgnore{Blocks: []string{"minecraft:structure_block"}}},
		Proj:       ProjectionRigid,
	}
	p, err := NewPoolElementPiece(templates, element, cube.Pos{16, 64, 16}, 0, cube.RotationNone)
	if err != nil {
		t.Fatalf("new pool element piece: %v", err)
	}
	buf := world.NewBuffer(world.Overworld.Range())
	chunk := world.ChunkPos{1, 1}
	p.PostProcess(PlaceContext{Tx: buf, Templates: templates}, chunk.Box(buf.Range()), chunk, cube.Pos{})

	if !buf.Block(cube.Pos{18, 64, 18}).Equal(planks) {
		t.Fatalf("expected jigsaw to be replaced by its final state, got %v", buf.Block(cube.Pos{18, 64, 18}))
	}
	if !buf.Block(cube.Pos{17, 64, 17}).Equal(world.Air) {
		t.Fatal("ignored block was placed")
	}
	if !buf.Block(cube.Pos{16, 64, 16}).Equal(stone) {
		t.Fatal("expected stone to be placed")
	}
}

func TestPoolElementPieceRoundTrip(t *testing.T) {
	ctx, _ := testContext()
	ctx.Templates.Register("test:hut", hutTemplate())

	element := ListElement{Proj: ProjectionTerrainMatching, Elements: []Element{
		SingleElement{Location: "test:hut", Processors: []Processor{BlockRot{Integrity: 0.5}}, Proj: ProjectionTerrainMatching},
		EmptyElement{},
	}}
	p := &PoolElementPiece{
		BasePiece:        BasePiece{Box: cube.Box(0, 64, 0, 2, 65, 2), Depth: 2},
		Element:          element,
		Position:         cube.Pos{0, 64, 0},
		GroundLevelDelta: 1,
		Rotation:         cube.CounterClockwise90,
	}
	p.AddJunction(JigsawJunction{SourceX: 4, SourceGroundY: 63, SourceZ: -2, DeltaY: 1, DestProjection: ProjectionRigid})

	loaded, err := LoadPiece(ctx, p.Save())
	if err != nil {
		t.Fatalf("load pool element piece: %v", err)
	}
	lp := loaded.(*PoolElementPiece)
	if lp.Position != p.Position || lp.Rotation != p.Rotation || lp.GroundLevelDelta != 1 || lp.Depth != 2 {
		t.Fatalf("unexpected loaded piece %+v", lp)
	}
	if !reflect.DeepEqual(lp.Junctions, p.Junctions) {
		t.Fatalf("unexpected junctions %v", lp.Junctions)
	}
	if !reflect.DeepEqual(lp.Element, element) {
		t.Fatalf("unexpected element %#v", lp.Element)
	}
}

func TestEmptyElementHasNoBox(t *testing.T) {
	if _, err := NewPoolElementPiece(nil, EmptyElement{}, cube.Pos{}, 0, cube.RotationNone); err == nil {
		t.Fatal("expected error creating a piece for an empty element")
	}
}
