package datafix

import (
	"fmt"
	"strings"

	"github.com/df-mc/strata/server/internal/nbtconv"
)

func chunkFixes() []Fix {
	return []Fix{
		{Name: "level_unwrap", Kind: Chunk, Version: VersionLevelUnwrap, Apply: unwrapLevel},
		{Name: "namespaced_structures", Kind: Chunk, Version: VersionNamespacedStructures, Apply: namespaceStructures},
		{Name: "namespaced_pieces", Kind: Chunk, Version: VersionNamespacedPieces, Apply: namespacePieces},
	}
}

// structureRenames holds the structure ids that did not survive lower-casing unchanged.
var structureRenames = map[string]string{
	"endcity": "end_city",
}

// StructureID returns the namespaced id of a structure saved under a legacy key such as Desert_Pyramid.
// Ids that already hold a namespace are returned unchanged.
func StructureID(key string) string {
	if strings.Contains(key, ":") || key == "" {
		return key
	}
	lower := strings.ToLower(key)
	if renamed, ok := structureRenames[lower]; ok {
		lower = renamed
	}
	return "minecraft:" + lower
}

// PieceID returns the namespaced id of a structure piece saved under a legacy id such as TeDP.
func PieceID(id string) string {
	if strings.Contains(id, ":") || id == "" {
		return id
	}
	return "minecraft:" + strings.ToLower(id)
}

// unwrapLevel moves the contents of the Level compound to the root of the chunk.
func unwrapLevel(tag map[string]any) error {
	level, ok := nbtconv.Compound(tag, "Level")
	if !ok {
		return nil
	}
	delete(tag, "Level")
	delete(level, "hasLegacyStructureData")
	for k, v := range level {
		if _, exists := tag[k]; exists {
			continue
		}
		tag[k] = v
	}
	return nil
}

// namespaceStructures renames the keys of the Starts and References compounds and the id of every start.
func namespaceStructures(tag map[string]any) error {
	structures, ok := nbtconv.Compound(tag, "Structures")
	if !ok {
		return nil
	}
	if starts, ok := nbtconv.Compound(structures, "Starts"); ok {
		renamed := make(map[string]any, len(starts))
		for k, v := range starts {
			start, ok := v.(map[string]any)
			if !ok {
				return fmt.Errorf("start %v is not a compound but %T", k, v)
			}
			if id := nbtconv.String(start, "id"); id != "INVALID" {
				start["id"] = StructureID(id)
			}
			renamed[StructureID(k)] = start
		}
		structures["Starts"] = renamed
	}
	if refs, ok := nbtconv.Compound(structures, "References"); ok {
		renamed := make(map[string]any, len(refs))
		for k, v := range refs {
			renamed[StructureID(k)] = v
		}
		structures["References"] = renamed
	}
	return nil
}

// namespacePieces renames the id of every piece of every start.
func namespacePieces(tag map[string]any) error {
	structures, ok := nbtconv.Compound(tag, "Structures")
	if !ok {
		return nil
	}
	starts, _ := nbtconv.Compound(structures, "Starts")
	for _, v := range starts {
		start, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for _, child := range nbtconv.Compounds(start, "Children") {
			child["id"] = PieceID(nbtconv.String(child, "id"))
		}
	}
	return nil
}
