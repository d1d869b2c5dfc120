package legacy

import (
	"errors"
	"testing"

	"github.com/df-mc/strata/server/internal/nbtconv"
	"github.com/df-mc/strata/server/world"
	"github.com/df-mc/strata/server/world/mcdb"
)

// templeStorage returns a DataStorage holding a Temple legacy file with a desert pyramid at chunk 4, 4.
func templeStorage(t *testing.T) *mcdb.DataStorage {
	t.Helper()
	s := mcdb.NewDataStorage("", nil, false)
	err := s.WriteTag("Temple", map[string]any{"data": map[string]any{"Features": map[string]any{
		"[4,4]": map[string]any{
			"id":       "Temple",
			"ChunkX":   int32(4),
			"ChunkZ":   int32(4),
			"BB":       [6]int32{64, 64, 64, 84, 78, 84},
			"Children": []any{map[string]any{"id": "TeDP", "BB": [6]int32{64, 64, 64, 84, 78, 84}}},
		},
	}}})
	if err != nil {
		t.Fatalf("write legacy data: %v", err)
	}
	return s
}

func legacyChunk(x, z int32) map[string]any {
	return map[string]any{"DataVersion": int32(1343), "Level": map[string]any{"xPos": x, "zPos": z}}
}

func TestPopulateRemapsLegacyPieceIDs(t *testing.T) {
	h := ForDimension(world.Overworld, templeStorage(t), nil)
	if !h.HasLegacyData() {
		t.Fatal("expected legacy data")
	}
	if !h.HasLegacyStart(world.ChunkPos{4, 4}, "Desert_Pyramid") {
		t.Fatal("expected desert pyramid start at 4, 4")
	}
	if h.HasLegacyStart(world.ChunkPos{4, 4}, "Igloo") {
		t.Fatal("igloo reported at the chunk of a desert pyramid")
	}
	if h.HasLegacyStart(world.ChunkPos{4, 5}, "Desert_Pyramid") {
		t.Fatal("desert pyramid reported at the wrong chunk")
	}
	if !h.IsUnhandledStructureStart(world.ChunkPos{4, 4}) {
		t.Fatal("expected unhandled start at 4, 4")
	}
}

func TestSynthesisedIndexIsSaved(t *testing.T) {
	s := templeStorage(t)
	h := ForDimension(world.Overworld, s, nil)
	if err := h.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	tag, err := s.ReadTag("Temple_index")
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	data, _ := nbtconv.Compound(tag, "data")
	if got := nbtconv.Int64s(data, "Remaining"); len(got) != 1 || got[0] != world.PackChunkPos(4, 4) {
		t.Fatalf("unexpected saved index %v", data)
	}
}

func TestUpdateFromLegacy(t *testing.T) {
	h := ForDimension(world.Overworld, templeStorage(t), nil)

	tag := h.UpdateFromLegacy(legacyChunk(4, 4))
	level, _ := nbtconv.Compound(tag, "Level")
	structures, _ := nbtconv.Compound(level, "Structures")
	starts, _ := nbtconv.Compound(structures, "Starts")
	start, ok := nbtconv.Compound(starts, "Desert_Pyramid")
	if !ok || nbtconv.String(start, "id") != "Desert_Pyramid" {
		t.Fatalf("expected spliced desert pyramid start, got %v", starts)
	}
	refs, _ := nbtconv.Compound(structures, "References")
	if got := nbtconv.Int64s(refs, "Desert_Pyramid"); len(got) != 1 || got[0] != world.PackChunkPos(4, 4) {
		t.Fatalf("unexpected desert pyramid references %v", got)
	}
	if got, ok := refs["Igloo"]; !ok || len(nbtconv.Int64s(refs, "Igloo")) != 0 {
		t.Fatalf("expected empty igloo references, got %v", got)
	}

	tag = h.UpdateFromLegacy(legacyChunk(12, -4))
	level, _ = nbtconv.Compound(tag, "Level")
	structures, _ = nbtconv.Compound(level, "Structures")
	refs, _ = nbtconv.Compound(structures, "References")
	if got := nbtconv.Int64s(refs, "Desert_Pyramid"); len(got) != 1 {
		t.Fatalf("expected reference from a chunk 8 chunks away, got %v", got)
	}
	starts, _ = nbtconv.Compound(structures, "Starts")
	if len(starts) != 0 {
		t.Fatalf("start spliced into the wrong chunk: %v", starts)
	}

	tag = h.UpdateFromLegacy(legacyChunk(13, 4))
	level, _ = nbtconv.Compound(tag, "Level")
	structures, _ = nbtconv.Compound(level, "Structures")
	refs, _ = nbtconv.Compound(structures, "References")
	if got := nbtconv.Int64s(refs, "Desert_Pyramid"); len(got) != 0 {
		t.Fatalf("expected no references from 9 chunks away, got %v", got)
	}
}

func TestUpdateFromLegacyKeepsExistingReferences(t *testing.T) {
	h := ForDimension(world.Overworld, templeStorage(t), nil)
	tag := legacyChunk(4, 4)
	tag["Level"].(map[string]any)["Structures"] = map[string]any{
		"References": map[string]any{"Desert_Pyramid": nbtconv.LongArray([]int64{7})},
	}
	tag = h.UpdateFromLegacy(tag)
	structures, _ := nbtconv.Compound(tag["Level"].(map[string]any), "Structures")
	refs, _ := nbtconv.Compound(structures, "References")
	if got := nbtconv.Int64s(refs, "Desert_Pyramid"); len(got) != 1 || got[0] != 7 {
		t.Fatalf("existing references were replaced: %v", got)
	}
}

func TestRemoveIndexMarksStartHandled(t *testing.T) {
	h := ForDimension(world.Overworld, templeStorage(t), nil)
	pos := world.ChunkPos{4, 4}
	h.RemoveIndex(pos)
	h.RemoveIndex(pos)
	if h.IsUnhandledStructureStart(pos) {
		t.Fatal("start still unhandled after RemoveIndex")
	}
	if !h.HasLegacyStart(pos, "Desert_Pyramid") {
		t.Fatal("RemoveIndex must not remove the start from the history")
	}
	tag := h.UpdateFromLegacy(legacyChunk(4, 4))
	structures, _ := nbtconv.Compound(tag["Level"].(map[string]any), "Structures")
	if starts, _ := nbtconv.Compound(structures, "Starts"); len(starts) != 0 {
		t.Fatalf("handled start spliced again: %v", starts)
	}
}

func TestNoLegacyData(t *testing.T) {
	handlers := []*Handler{
		ForDimension(world.Overworld, nil, nil),
		ForDimension(world.Nether, mcdb.NewDataStorage("", nil, false), nil),
	}
	for _, h := range handlers {
		if h.HasLegacyData() {
			t.Fatal("expected no legacy data")
		}
		for x := int32(-10); x <= 10; x++ {
			for z := int32(-10); z <= 10; z++ {
				if h.IsUnhandledStructureStart(world.ChunkPos{x, z}) {
					t.Fatalf("unhandled start reported at %v, %v without legacy data", x, z)
				}
			}
		}
	}
}

func TestCorruptLegacyFileIsIgnored(t *testing.T) {
	s := mcdb.NewDataStorage("", nil, false)
	if err := s.WriteTag("Fortress", map[string]any{"data": int32(3)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if h := ForDimension(world.Nether, s, nil); h.HasLegacyData() {
		t.Fatal("expected malformed legacy file to be treated as absent")
	}
	if _, err := s.ReadTag("Fortress_index"); !errors.Is(err, mcdb.ErrNoData) {
		t.Fatalf("index should only be written on save, got %v", err)
	}
}

func TestForDimensionPanicsForCustomDimension(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for a custom dimension")
		}
	}()
	ForDimension(world.CustomDimension{Name: "moon", ID: 7}, nil, nil)
}
