package server

import (
	"io"
	"iter"
	"log/slog"
	"slices"
	"testing"

	"github.com/df-mc/strata/server/block/cube"
	"github.com/df-mc/strata/server/internal/nbtconv"
	"github.com/df-mc/strata/server/world"
	"github.com/df-mc/strata/server/world/datafix"
	"github.com/df-mc/strata/server/world/mcdb"
	"github.com/df-mc/strata/server/world/structure"
	"github.com/df-mc/strata/server/world/structure/check"
)

// gridPlacement allows starts in chunks whose coordinates are both multiples of 4.
type gridPlacement struct{}

func (gridPlacement) IsStartChunk(_ int64, pos world.ChunkPos) bool {
	return pos[0]%4 == 0 && pos[1]%4 == 0
}

func (gridPlacement) Candidates(_ int64, origin world.ChunkPos, ring int) iter.Seq[world.ChunkPos] {
	rx, rz := region(origin[0]), region(origin[1])
	r := int32(ring)
	return func(yield func(world.ChunkPos) bool) {
		for dx := -r; dx <= r; dx++ {
			for dz := -r; dz <= r; dz++ {
				if max(abs(dx), abs(dz)) != r {
					continue
				}
				if !yield(world.ChunkPos{(rx + dx) * 4, (rz + dz) * 4}) {
					return
				}
			}
		}
	}
}

func region(v int32) int32 {
	if v < 0 {
		return (v - 3) / 4
	}
	return v / 4
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

var stone = world.BlockState{Name: "minecraft:stone"}

// towerConfig returns a Config with a single structure, test:tower, which starts in every chunk of the
// grid and places a 20 block long template that reaches into the chunk east of its start.
func towerConfig(db *mcdb.DB) (Config, *structure.Structure) {
	templates := structure.NewTemplateManager("", nil)
	templates.Register("test:tower", &structure.Template{
		Size: cube.Pos{20, 3, 2},
		Blocks: []structure.TemplateBlock{
			{Pos: cube.Pos{0, 0, 0}, State: stone},
			{Pos: cube.Pos{19, 0, 0}, State: stone},
		},
	})
	tower := &structure.Structure{
		Placement:     gridPlacement{},
		MaxReferences: 2,
		Generate: func(ctx structure.GenerationContext) []structure.Piece {
			origin := cube.Pos{int(ctx.Chunk[0]) << 4, 64, int(ctx.Chunk[1]) << 4}
			p, err := structure.NewPoolElementPiece(ctx.Templates, structure.SingleElement{Location: "test:tower", Proj: structure.ProjectionRigid}, origin, 0, cube.RotationNone)
			if err != nil {
				return nil
			}
			return []structure.Piece{p}
		},
	}
	r := structure.NewRegistry()
	r.Register("test:tower", tower)
	return Config{
		Log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Database:   db,
		Dimensions: []world.Dimension{world.Overworld},
		Structures: r,
		Templates:  templates,
	}, tower
}

func overworld(t *testing.T, srv *Server) *Level {
	t.Helper()
	l, ok := srv.Level(world.Overworld)
	if !ok {
		t.Fatal("expected overworld level")
	}
	return l
}

func TestGenerateSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	db, err := mcdb.Config{}.Open(dir)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	conf, tower := towerConfig(db)
	srv := conf.New()
	l := overworld(t, srv)

	for _, pos := range []world.ChunkPos{{0, 0}, {1, 0}} {
		if err := l.GenerateStarts(pos); err != nil {
			t.Fatalf("generate starts: %v", err)
		}
	}
	start, ok := l.Start(world.ChunkPos{0, 0}, tower)
	if !ok || !start.Valid() {
		t.Fatal("expected a valid start in chunk 0, 0")
	}
	if start.BoundingBox() != cube.Box(0, 64, 0, 19, 66, 1) {
		t.Fatalf("unexpected start box %v", start.BoundingBox())
	}
	if _, ok := l.Start(world.ChunkPos{1, 0}, tower); ok {
		t.Fatal("expected no start in chunk 1, 0")
	}
	if err := l.CreateReferences(world.ChunkPos{1, 0}); err != nil {
		t.Fatalf("create references: %v", err)
	}
	if !l.AddReference(start) {
		t.Fatal("expected start to accept a reference")
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err = mcdb.Config{}.Open(dir)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	conf, tower = towerConfig(db)
	srv = conf.New()
	t.Cleanup(func() { _ = srv.Close() })
	l = overworld(t, srv)

	for _, pos := range []world.ChunkPos{{0, 0}, {1, 0}} {
		if ok, err := l.LoadChunk(pos); err != nil || !ok {
			t.Fatalf("load chunk %v: %v (%v)", pos, ok, err)
		}
	}
	start, ok = l.Start(world.ChunkPos{0, 0}, tower)
	if !ok || len(start.Pieces()) != 1 || start.References() != 1 {
		t.Fatalf("start not restored: %v", start)
	}
	if start.BoundingBox() != cube.Box(0, 64, 0, 19, 66, 1) {
		t.Fatalf("unexpected restored box %v", start.BoundingBox())
	}
	if refs := l.References(world.ChunkPos{1, 0}, tower); !slices.Equal(refs, []world.ChunkPos{{0, 0}}) {
		t.Fatalf("unexpected references %v", refs)
	}
}

func TestReferencesBeforeStartsAreGenerated(t *testing.T) {
	conf, tower := towerConfig(nil)
	conf.Templates.Register("test:tower", &structure.Template{
		Size: cube.Pos{80, 3, 2},
		Blocks: []structure.TemplateBlock{
			{Pos: cube.Pos{0, 0, 0}, State: stone},
			{Pos: cube.Pos{79, 0, 0}, State: stone},
		},
	})
	srv := conf.New()
	t.Cleanup(func() { _ = srv.Close() })
	l := overworld(t, srv)

	pos := world.ChunkPos{4, 0}
	if err := l.GenerateStarts(world.ChunkPos{0, 0}); err != nil {
		t.Fatalf("generate starts: %v", err)
	}
	if err := l.CreateReferences(pos); err != nil {
		t.Fatalf("create references: %v", err)
	}
	if refs := l.References(pos, tower); !slices.Equal(refs, []world.ChunkPos{{0, 0}}) {
		t.Fatalf("unexpected references %v", refs)
	}
	if err := l.UnloadChunk(pos); err != nil {
		t.Fatalf("unload chunk: %v", err)
	}
	col, err := srv.Database().Provider(world.Overworld).LoadColumn(pos)
	if err != nil {
		t.Fatalf("load column: %v", err)
	}
	if _, ok := col.Structures["Starts"]; ok {
		t.Fatal("starts written for a chunk that never generated them")
	}
	if res := l.Check().CheckStart(pos, tower, false); res != check.ChunkLoadNeeded {
		t.Fatalf("expected a chunk with references only to need a load, got %v", res)
	}

	if err := l.GenerateStarts(pos); err != nil {
		t.Fatalf("generate starts: %v", err)
	}
	start, ok := l.Start(pos, tower)
	if !ok || !start.Valid() {
		t.Fatal("expected a start to be generated after reloading the chunk")
	}
	if refs := l.References(pos, tower); !slices.Equal(refs, []world.ChunkPos{{0, 0}}) {
		t.Fatalf("references lost on reload: %v", refs)
	}
	if res := l.Check().CheckStart(pos, tower, false); res != check.StartPresent {
		t.Fatalf("expected start present after generation, got %v", res)
	}
}

func TestPlaceStructures(t *testing.T) {
	conf, _ := towerConfig(nil)
	srv := conf.New()
	t.Cleanup(func() { _ = srv.Close() })
	l := overworld(t, srv)

	if err := l.GenerateStarts(world.ChunkPos{0, 0}); err != nil {
		t.Fatalf("generate starts: %v", err)
	}
	buf := world.NewBuffer(world.Overworld.Range())
	if err := l.CreateReferences(world.ChunkPos{1, 0}); err != nil {
		t.Fatalf("create references: %v", err)
	}
	if err := l.PlaceStructures(buf, world.ChunkPos{1, 0}); err != nil {
		t.Fatalf("place structures: %v", err)
	}
	if b := buf.Block(cube.Pos{19, 64, 0}); !b.Equal(stone) {
		t.Fatalf("expected stone in the referencing chunk, got %v", b)
	}
	if b := buf.Block(cube.Pos{0, 64, 0}); b.Equal(stone) {
		t.Fatal("placing a chunk wrote outside of it")
	}

	if err := l.CreateReferences(world.ChunkPos{0, 0}); err != nil {
		t.Fatalf("create references: %v", err)
	}
	if err := l.PlaceStructures(buf, world.ChunkPos{0, 0}); err != nil {
		t.Fatalf("place structures: %v", err)
	}
	if b := buf.Block(cube.Pos{0, 64, 0}); !b.Equal(stone) {
		t.Fatalf("expected stone in the start chunk, got %v", b)
	}
}

func TestCreateReferencesSkipsDistantStarts(t *testing.T) {
	conf, tower := towerConfig(nil)
	srv := conf.New()
	t.Cleanup(func() { _ = srv.Close() })
	l := overworld(t, srv)

	if err := l.GenerateStarts(world.ChunkPos{0, 0}); err != nil {
		t.Fatalf("generate starts: %v", err)
	}
	for _, pos := range []world.ChunkPos{{0, 1}, {2, 0}} {
		if err := l.CreateReferences(pos); err != nil {
			t.Fatalf("create references: %v", err)
		}
		if refs := l.References(pos, tower); len(refs) != 0 {
			t.Fatalf("chunk %v references a start it does not overlap: %v", pos, refs)
		}
	}
}

func TestLocate(t *testing.T) {
	conf, tower := towerConfig(nil)
	conf.CheckMetrics = true
	srv := conf.New()
	t.Cleanup(func() { _ = srv.Close() })
	l := overworld(t, srv)

	origin := world.ChunkPos{6, 5}
	pos, ok, err := l.Locate(origin, tower, 3, false)
	if err != nil || !ok || pos != (world.ChunkPos{4, 4}) {
		t.Fatalf("expected start at 4, 4, got %v (%v, %v)", pos, ok, err)
	}
	if l.Metrics().LoadsNeeded == 0 {
		t.Fatal("expected the chunk to be loaded to answer the lookup")
	}

	pos, ok, err = l.Locate(origin, tower, 3, true)
	if err != nil || !ok || pos != (world.ChunkPos{4, 4}) {
		t.Fatalf("expected unreferenced start at 4, 4, got %v (%v, %v)", pos, ok, err)
	}
	start, _ := l.Start(world.ChunkPos{4, 4}, tower)
	if start.References() != 1 {
		t.Fatalf("expected locating with skipKnown to add a reference, got %v", start.References())
	}

	pos, ok, err = l.Locate(origin, tower, 3, true)
	if err != nil || !ok || pos != (world.ChunkPos{8, 4}) {
		t.Fatalf("expected referenced start to be skipped for 8, 4, got %v (%v, %v)", pos, ok, err)
	}
	if _, ok, _ := l.Locate(origin, &structure.Structure{}, 3, false); ok {
		t.Fatal("structure without placement located")
	}
}

func TestLoadChunkDropsUnknownAndDistantData(t *testing.T) {
	conf, tower := towerConfig(nil)
	srv := conf.New()
	t.Cleanup(func() { _ = srv.Close() })

	pos := world.ChunkPos{1, 0}
	err := srv.Database().Provider(world.Overworld).StoreColumn(pos, &mcdb.Column{
		Version: datafix.CurrentVersion,
		Structures: map[string]any{
			"Starts": map[string]any{
				"test:gone": map[string]any{"id": "test:gone"},
			},
			"References": map[string]any{
				"test:gone":  nbtconv.LongArray([]int64{world.PackChunkPos(0, 0)}),
				"test:tower": nbtconv.LongArray([]int64{world.PackChunkPos(0, 0), world.PackChunkPos(20, 20)}),
			},
		},
	})
	if err != nil {
		t.Fatalf("store column: %v", err)
	}
	l := overworld(t, srv)
	if ok, err := l.LoadChunk(pos); err != nil || !ok {
		t.Fatalf("load chunk: %v (%v)", ok, err)
	}
	if refs := l.References(pos, tower); !slices.Equal(refs, []world.ChunkPos{{0, 0}}) {
		t.Fatalf("unexpected references %v", refs)
	}
	if ok, err := l.LoadChunk(world.ChunkPos{9, 9}); err != nil || ok {
		t.Fatalf("expected missing chunk, got %v (%v)", ok, err)
	}
}

func TestLegacyChunkUpgrade(t *testing.T) {
	srv := Config{
		Log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Dimensions: []world.Dimension{world.Overworld},
	}.New()
	t.Cleanup(func() { _ = srv.Close() })

	provider := srv.Database().Provider(world.Overworld)
	err := provider.Data().WriteTag("Temple", map[string]any{"data": map[string]any{"Features": map[string]any{
		"[4,4]": map[string]any{
			"id":     "Temple",
			"ChunkX": int32(4),
			"ChunkZ": int32(4),
			"Children": []any{map[string]any{
				"id": "TeDP",
				"BB": nbtconv.IntArray([]int32{64, 64, 64, 84, 80, 84}),
				"GD": int32(0),
				"O":  int32(2),
			}},
		},
	}}})
	if err != nil {
		t.Fatalf("write legacy data: %v", err)
	}
	pos := world.ChunkPos{4, 4}
	err = provider.StoreColumn(pos, &mcdb.Column{
		Version: 1343,
		Legacy: map[string]any{"Level": map[string]any{
			"xPos":                   int32(4),
			"zPos":                   int32(4),
			"hasLegacyStructureData": uint8(1),
		}},
	})
	if err != nil {
		t.Fatalf("store legacy column: %v", err)
	}

	l := overworld(t, srv)
	if ok, err := l.LoadChunk(pos); err != nil || !ok {
		t.Fatalf("load chunk: %v (%v)", ok, err)
	}
	pyramid, _ := srv.conf.Structures.ByID("minecraft:desert_pyramid")
	start, ok := l.Start(pos, pyramid)
	if !ok || !start.Valid() {
		t.Fatal("expected legacy desert pyramid start to be moved into the chunk")
	}
	if start.BoundingBox() != cube.Box(64, 64, 64, 84, 80, 84) {
		t.Fatalf("unexpected start box %v", start.BoundingBox())
	}
	if refs := l.References(pos, pyramid); !slices.Equal(refs, []world.ChunkPos{pos}) {
		t.Fatalf("unexpected references %v", refs)
	}

	if err := l.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	col, err := provider.LoadColumn(pos)
	if err != nil {
		t.Fatalf("load column: %v", err)
	}
	if col.Legacy != nil || col.Structures == nil || col.Version != datafix.CurrentVersion {
		t.Fatalf("chunk not written in the current format: %+v", col)
	}
	index, err := provider.Data().ReadTag("Temple_index")
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	data, _ := nbtconv.Compound(index, "data")
	if all, remaining := nbtconv.Int64s(data, "All"), nbtconv.Int64s(data, "Remaining"); len(all) != 1 || len(remaining) != 0 {
		t.Fatalf("expected handled legacy start to be removed from the index, got %v/%v", all, remaining)
	}
}
