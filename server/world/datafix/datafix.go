// Package datafix brings saved data written by older versions up to the current schema. Fixes are keyed by
// the data version that introduced them and are only ever applied forwards.
package datafix

import (
	"fmt"
	"slices"

	"github.com/df-mc/strata/server/internal/nbtconv"
)

// Kind is the kind of saved data a fix applies to.
type Kind uint8

const (
	// Chunk is the data of a single chunk, or the fragment of it read when scanning for structures.
	Chunk Kind = iota
	// SavedData is a world-level saved data file.
	SavedData
)

// String ...
func (k Kind) String() string {
	switch k {
	case Chunk:
		return "chunk"
	case SavedData:
		return "saved_data"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

const (
	// VersionLegacyStructures is the last data version in which structures were saved in per-family files
	// instead of in the chunks they start in. Chunks at or below this version need the legacy structure
	// handler when loaded.
	VersionLegacyStructures int32 = 1493
	// VersionLevelUnwrap moved the contents of the Level compound of a chunk to its root.
	VersionLevelUnwrap int32 = 1494
	// VersionNamespacedStructures changed structure keys and start ids to namespaced lower case ids.
	VersionNamespacedStructures int32 = 1500
	// VersionNamespacedPieces changed the ids of structure pieces to namespaced lower case ids.
	VersionNamespacedPieces int32 = 2000
	// CurrentVersion is the data version written with every chunk saved.
	CurrentVersion int32 = 3120
)

// Fixer applies all fixes between two data versions to a compound. Implementations must not modify the
// compound passed, must be forward-only and must be idempotent: updating data that is already at version
// to leaves it unchanged.
type Fixer interface {
	Update(kind Kind, tag map[string]any, from, to int32) (map[string]any, error)
}

// Fix is a single transformation of saved data, introduced in data version Version.
type Fix struct {
	Name    string
	Kind    Kind
	Version int32
	Apply   func(tag map[string]any) error
}

// Registry is a Fixer holding a list of fixes ordered by version. A Registry is immutable once created
// and may be shared by any amount of goroutines.
type Registry struct {
	fixes []Fix
}

// NewRegistry returns a Registry holding the fixes passed.
func NewRegistry(fixes ...Fix) *Registry {
	fixes = slices.Clone(fixes)
	slices.SortStableFunc(fixes, func(a, b Fix) int {
		return int(a.Version) - int(b.Version)
	})
	return &Registry{fixes: fixes}
}

// Default returns a Registry holding all fixes of this package.
func Default() *Registry {
	return defaultRegistry
}

var defaultRegistry = NewRegistry(chunkFixes()...)

// Update applies all fixes of the kind passed with a version in the range (from, to] to a copy of tag and
// returns the copy.
func (r *Registry) Update(kind Kind, tag map[string]any, from, to int32) (map[string]any, error) {
	if from >= to {
		return tag, nil
	}
	tag = nbtconv.Clone(tag)
	for _, fix := range r.fixes {
		if fix.Kind != kind || fix.Version <= from || fix.Version > to {
			continue
		}
		if err := fix.Apply(tag); err != nil {
			return nil, fmt.Errorf("fix %v (%v): %w", fix.Name, fix.Version, err)
		}
	}
	return tag, nil
}

// UpdateToCurrent applies all fixes from the version passed up to CurrentVersion and stores CurrentVersion
// in the DataVersion field of the result.
func UpdateToCurrent(f Fixer, kind Kind, tag map[string]any, from int32) (map[string]any, error) {
	tag, err := f.Update(kind, tag, from, CurrentVersion)
	if err != nil {
		return nil, err
	}
	if tag == nil {
		tag = map[string]any{}
	}
	if from < CurrentVersion {
		tag["DataVersion"] = CurrentVersion
	}
	return tag, nil
}

// Version returns the DataVersion stored in a compound. Compounds without one were written before data
// versions existed and are treated as version 0.
func Version(tag map[string]any) int32 {
	return nbtconv.Int32(tag, "DataVersion")
}
