package structure

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/df-mc/strata/server/block/cube"
	"github.com/df-mc/strata/server/world"
	"github.com/klauspost/compress/gzip"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
)

func hutTemplate() *Template {
	return &Template{
		Size: cube.Pos{3, 2, 3},
		Blocks: []TemplateBlock{
			{Pos: cube.Pos{0, 0, 0}, State: world.BlockState{Name: "minecraft:stone"}},
			{Pos: cube.Pos{2, 0, 0}, State: world.BlockState{Name: "minecraft:stone"}},
			{Pos: cube.Pos{1, 0, 1}, State: world.BlockState{Name: "minecraft:structure_block"}, NBT: map[string]any{"mode": "DATA", "metadata": "chest"}},
			{Pos: cube.Pos{0, 1, 2}, State: world.BlockState{Name: "minecraft:structure_block"}, NBT: map[string]any{"mode": "SAVE"}},
			{Pos: cube.Pos{2, 0, 2}, State: world.BlockState{Name: "minecraft:jigsaw"}, NBT: map[string]any{"final_state": "oak_planks"}},
			{Pos: cube.Pos{0, 1, 0}, State: world.BlockState{Name: "minecraft:jigsaw"}, NBT: map[string]any{"final_state": "minecraft:bad["}},
		},
	}
}

var (
	stone  = world.BlockState{Name: "minecraft:stone"}
	planks = world.BlockState{Name: "minecraft:oak_planks"}
)

func TestTemplatePiecePostProcess(t *testing.T) {
	templates := NewTemplateManager("", nil)
	templates.Register("test:hut", hutTemplate())

	var markers []string
	typ := TemplatePieceType("test:hut_piece", func(ctx PlaceContext, marker string, pos cube.Pos, _ cube.BoundingBox) {
		markers = append(markers, marker)
		ctx.Tx.SetBlock(pos, world.BlockState{Name: "minecraft:chest"}, nil)
	})
	p, err := NewTemplatePiece(typ, 0, templates, "test:hut", cube.Pos{16, 64, 16}, PlaceSettings{})
	if err != nil {
		t.Fatalf("new template piece: %v", err)
	}
	if p.BoundingBox() != cube.Box(16, 64, 16, 18, 65, 18) {
		t.Fatalf("unexpected piece box %v", p.BoundingBox())
	}

	buf := world.NewBuffer(world.Overworld.Range())
	chunk := world.ChunkPos{1, 1}
	p.PostProcess(PlaceContext{Tx: buf, Templates: templates}, chunk.Box(buf.Range()), chunk, cube.Pos{})

	tests := map[cube.Pos]string{
		{16, 64, 16}: "minecraft:stone",
		{18, 64, 16}: "minecraft:stone",
		{17, 64, 17}: "minecraft:chest",
		{16, 65, 18}: "minecraft:structure_block",
		{18, 64, 18}: "minecraft:oak_planks",
		{16, 65, 16}: "minecraft:air",
	}
	for pos, want := range tests {
		if got := buf.Block(pos).Name; got != want {
			t.Errorf("block at %v: got %v, want %v", pos, got, want)
		}
	}
	if len(markers) != 1 || markers[0] != "chest" {
		t.Fatalf("unexpected data markers %v", markers)
	}
}

func TestTemplatePieceClipsToBox(t *testing.T) {
	templates := NewTemplateManager("", nil)
	templates.Register("test:hut", hutTemplate())

	var markers int
	typ := TemplatePieceType("test:hut_piece", func(PlaceContext, string, cube.Pos, cube.BoundingBox) { markers++ })
	p, err := NewTemplatePiece(typ, 0, templates, "test:hut", cube.Pos{16, 64, 16}, PlaceSettings{})
	if err != nil {
		t.Fatalf("new template piece: %v", err)
	}
	buf := world.NewBuffer(world.Overworld.Range())
	p.PostProcess(PlaceContext{Tx: buf, Templates: templates}, cube.Box(16, -64, 16, 16, 319, 31), world.ChunkPos{1, 1}, cube.Pos{})

	if !buf.Block(cube.Pos{16, 64, 16}).Equal(stone) {
		t.Fatal("expected block inside the clip box to be placed")
	}
	if !buf.Block(cube.Pos{18, 64, 16}).Equal(world.Air) {
		t.Fatal("block outside the clip box was placed")
	}
	if markers != 0 {
		t.Fatalf("data marker outside the clip box was handled %v times", markers)
	}
}

func TestTemplatePieceRoundTrip(t *testing.T) {
	ctx, _ := testContext()
	ctx.Templates.Register("test:hut", hutTemplate())
	typ := TemplatePieceType("test:hut_piece", nil)
	ctx.Pieces.Register(typ)

	p, err := NewTemplatePiece(typ, 3, ctx.Templates, "test:hut", cube.Pos{0, 70, 0}, PlaceSettings{Rotation: cube.Clockwise180, Mirror: cube.MirrorLeftRight})
	if err != nil {
		t.Fatalf("new template piece: %v", err)
	}
	loaded, err := LoadPiece(ctx, p.Save())
	if err != nil {
		t.Fatalf("load template piece: %v", err)
	}
	lp := loaded.(*TemplatePiece)
	if lp.Name != "test:hut" || lp.Origin != p.Origin || lp.Settings.Rotation != cube.Clockwise180 || lp.Settings.Mirror != cube.MirrorLeftRight {
		t.Fatalf("unexpected loaded piece %+v", lp)
	}
	if lp.BoundingBox() != p.BoundingBox() || lp.Depth != 3 {
		t.Fatalf("unexpected loaded box %v or depth %v", lp.BoundingBox(), lp.Depth)
	}
}

func TestTemplateBoundingBoxRotates(t *testing.T) {
	box := hutTemplate().BoundingBox(PlaceSettings{Rotation: cube.Clockwise90}, cube.Pos{})
	if box != cube.Box(-2, 0, 0, 0, 1, 2) {
		t.Fatalf("unexpected rotated box %v", box)
	}
}

func TestTemplateManagerLoadsFiles(t *testing.T) {
	dir := t.TempDir()
	buf := bytes.NewBuffer(nil)
	zw := gzip.NewWriter(buf)
	if err := nbt.NewEncoderWithEncoding(zw, nbt.BigEndian).Encode(hutTemplate().Encode()); err != nil {
		t.Fatalf("encode template: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close gzip writer: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "test"), 0777); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "test", "hut.nbt"), buf.Bytes(), 0644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	m := NewTemplateManager(dir, nil)
	tmpl, err := m.Get("test:hut")
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if tmpl.Size != (cube.Pos{3, 2, 3}) || len(tmpl.Blocks) != len(hutTemplate().Blocks) {
		t.Fatalf("unexpected loaded template %+v", tmpl)
	}
	if tmpl.Blocks[2].State.Name != "minecraft:structure_block" || tmpl.Blocks[2].NBT["metadata"] != "chest" {
		t.Fatalf("unexpected loaded block %+v", tmpl.Blocks[2])
	}
	if _, err := m.Get("test:missing"); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestDecodeTemplateBedrockPalette(t *testing.T) {
	tmpl, err := DecodeTemplate(map[string]any{
		"size":    []any{int32(1), int32(1), int32(1)},
		"palette": []any{map[string]any{"name": "minecraft:stone", "states": map[string]any{}}},
		"blocks":  []any{map[string]any{"pos": []any{int32(0), int32(0), int32(0)}, "state": int32(0)}},
	})
	if err != nil {
		t.Fatalf("decode template: %v", err)
	}
	if !tmpl.Blocks[0].State.Equal(stone) {
		t.Fatalf("unexpected state %v", tmpl.Blocks[0].State)
	}
	if _, err := DecodeTemplate(map[string]any{"size": []int32{1, 1, 1}, "blocks": []any{map[string]any{"pos": []int32{0, 0, 0}, "state": int32(4)}}}); err == nil {
		t.Fatal("expected error for state outside the palette")
	}
}
