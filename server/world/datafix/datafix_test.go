package datafix

import (
	"reflect"
	"testing"

	"github.com/df-mc/strata/server/internal/nbtconv"
)

func legacyChunk() map[string]any {
	return map[string]any{
		"DataVersion": VersionLegacyStructures,
		"Level": map[string]any{
			"xPos":                   int32(4),
			"zPos":                   int32(4),
			"hasLegacyStructureData": uint8(1),
			"Structures": map[string]any{
				"Starts": map[string]any{
					"Desert_Pyramid": map[string]any{
						"id":       "Desert_Pyramid",
						"ChunkX":   int32(4),
						"ChunkZ":   int32(4),
						"Children": []any{map[string]any{"id": "TeDP"}},
					},
					"EndCity": map[string]any{"id": "INVALID"},
				},
				"References": map[string]any{"Desert_Pyramid": nbtconv.LongArray([]int64{4 | 4<<32})},
			},
		},
	}
}

func TestUpdateToCurrent(t *testing.T) {
	src := legacyChunk()
	out, err := UpdateToCurrent(Default(), Chunk, src, VersionLegacyStructures)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, ok := out["Level"]; ok {
		t.Fatal("expected Level to be unwrapped")
	}
	if _, ok := out["hasLegacyStructureData"]; ok {
		t.Fatal("expected hasLegacyStructureData to be dropped")
	}
	if Version(out) != CurrentVersion {
		t.Fatalf("unexpected version %v", Version(out))
	}
	structures, _ := nbtconv.Compound(out, "Structures")
	starts, _ := nbtconv.Compound(structures, "Starts")
	pyramid, ok := nbtconv.Compound(starts, "minecraft:desert_pyramid")
	if !ok {
		t.Fatalf("expected namespaced start key, got %v", starts)
	}
	if id := nbtconv.String(pyramid, "id"); id != "minecraft:desert_pyramid" {
		t.Fatalf("unexpected start id %q", id)
	}
	if id := nbtconv.String(nbtconv.Compounds(pyramid, "Children")[0], "id"); id != "minecraft:tedp" {
		t.Fatalf("unexpected piece id %q", id)
	}
	if invalid, _ := nbtconv.Compound(starts, "minecraft:end_city"); nbtconv.String(invalid, "id") != "INVALID" {
		t.Fatalf("INVALID start id must be kept, got %v", invalid)
	}
	refs, _ := nbtconv.Compound(structures, "References")
	if got := nbtconv.Int64s(refs, "minecraft:desert_pyramid"); len(got) != 1 {
		t.Fatalf("unexpected references %v", refs)
	}

	if _, ok := src["Level"]; !ok {
		t.Fatal("Update must not modify the compound passed")
	}
}

func TestUpdateIsIdempotent(t *testing.T) {
	once, err := UpdateToCurrent(Default(), Chunk, legacyChunk(), VersionLegacyStructures)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	twice, err := UpdateToCurrent(Default(), Chunk, once, Version(once))
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("updating current data changed it:\n%v\n%v", once, twice)
	}
	again, err := Default().Update(Chunk, nbtconv.Clone(once), 0, CurrentVersion)
	if err != nil {
		t.Fatalf("full update: %v", err)
	}
	if !reflect.DeepEqual(once, again) {
		t.Fatal("applying all fixes to upgraded data changed it")
	}
}

func TestUpdateRangeIsHalfOpen(t *testing.T) {
	var applied []int32
	r := NewRegistry(
		Fix{Name: "b", Kind: Chunk, Version: 20, Apply: func(map[string]any) error { applied = append(applied, 20); return nil }},
		Fix{Name: "a", Kind: Chunk, Version: 10, Apply: func(map[string]any) error { applied = append(applied, 10); return nil }},
		Fix{Name: "c", Kind: SavedData, Version: 15, Apply: func(map[string]any) error { applied = append(applied, 15); return nil }},
	)
	if _, err := r.Update(Chunk, map[string]any{}, 10, 20); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !reflect.DeepEqual(applied, []int32{20}) {
		t.Fatalf("unexpected fixes applied: %v", applied)
	}
}

func TestStructureID(t *testing.T) {
	tests := map[string]string{
		"Village":           "minecraft:village",
		"EndCity":           "minecraft:end_city",
		"minecraft:village": "minecraft:village",
		"Swamp_Hut":         "minecraft:swamp_hut",
	}
	for in, want := range tests {
		if got := StructureID(in); got != want {
			t.Fatalf("StructureID(%q) = %q, want %q", in, got, want)
		}
	}
}
