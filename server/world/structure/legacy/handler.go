// Package legacy moves structure data of worlds written before structures were stored in chunks into the
// chunks that hold them.
//
// Such worlds store all starts of a structure family, such as Temple, in a single saved data file. The
// Handler reads these files once and splices the starts and references into chunks as they are loaded.
package legacy

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/df-mc/strata/server/internal/nbtconv"
	"github.com/df-mc/strata/server/world"
	"github.com/df-mc/strata/server/world/mcdb"
)

// currentToLegacy maps structure keys to the legacy family key their starts were saved under.
var currentToLegacy = map[string]string{
	"Village":        "Village",
	"Mineshaft":      "Mineshaft",
	"Mansion":        "Mansion",
	"Igloo":          "Temple",
	"Desert_Pyramid": "Temple",
	"Jungle_Pyramid": "Temple",
	"Swamp_Hut":      "Temple",
	"Stronghold":     "Stronghold",
	"Monument":       "Monument",
	"Fortress":       "Fortress",
	"EndCity":        "EndCity",
}

// legacyToCurrent maps the id of the first piece of a legacy start to the structure key of the start.
var legacyToCurrent = map[string]string{
	"Iglu": "Igloo",
	"TeDP": "Desert_Pyramid",
	"TeJP": "Jungle_Pyramid",
	"TeSH": "Swamp_Hut",
}

// oldStructureKeys holds the lower case keys of structures that existed when starts were still stored in
// family files. References are only reconstructed for these structures.
var oldStructureKeys = map[string]struct{}{
	"pillager_outpost": {}, "mineshaft": {}, "mansion": {}, "jungle_pyramid": {}, "desert_pyramid": {},
	"igloo": {}, "ruined_portal": {}, "shipwreck": {}, "swamp_hut": {}, "stronghold": {}, "monument": {},
	"ocean_ruin": {}, "fortress": {}, "endcity": {}, "buried_treasure": {}, "village": {},
	"nether_fossil": {}, "bastion_remnant": {},
}

// referenceRadius is the radius in chunks around a chunk that is searched for legacy starts when
// reconstructing its references.
const referenceRadius = 8

// Handler moves legacy structure data into chunks. It is created per dimension.
type Handler struct {
	legacyKeys  []string
	currentKeys []string
	log         *slog.Logger
	storage     *mcdb.DataStorage

	data          map[string]map[int64]map[string]any
	indexes       map[string]*FeatureIndex
	hasLegacyData bool
}

// ForDimension returns a Handler with the keys of the structures that existed in the Dimension passed. It
// panics for dimensions other than the Overworld, Nether and End, since no legacy data exists for those.
func ForDimension(dim world.Dimension, storage *mcdb.DataStorage, log *slog.Logger) *Handler {
	switch dim {
	case world.Overworld:
		return New(storage,
			[]string{"Monument", "Stronghold", "Village", "Mineshaft", "Temple", "Mansion"},
			[]string{"Village", "Mineshaft", "Mansion", "Igloo", "Desert_Pyramid", "Jungle_Pyramid", "Swamp_Hut", "Stronghold", "Monument"},
			log)
	case world.Nether:
		return New(storage, []string{"Fortress"}, []string{"Fortress"}, log)
	case world.End:
		return New(storage, []string{"EndCity"}, []string{"EndCity"}, log)
	}
	panic(fmt.Sprintf("no legacy structure data exists for dimension %v", dim))
}

// New creates a Handler for the legacy family keys and structure keys passed, reading the legacy data
// files and indexes from storage. storage may be nil, in which case the Handler has no legacy data.
func New(storage *mcdb.DataStorage, legacyKeys, currentKeys []string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		legacyKeys:  legacyKeys,
		currentKeys: currentKeys,
		log:         log,
		storage:     storage,
		data:        make(map[string]map[int64]map[string]any),
		indexes:     make(map[string]*FeatureIndex),
	}
	if storage != nil {
		h.populateCaches(storage)
	}
	for _, key := range currentKeys {
		if h.data[key] != nil {
			h.hasLegacyData = true
		}
	}
	return h
}

// populateCaches reads the legacy data file and index of every legacy key.
func (h *Handler) populateCaches(storage *mcdb.DataStorage) {
	for _, legacyKey := range h.legacyKeys {
		features := h.readFeatures(storage, legacyKey)
		for _, k := range slices.Sorted(maps.Keys(features)) {
			feature, ok := features[k].(map[string]any)
			if !ok {
				continue
			}
			pos := world.PackChunkPos(nbtconv.Int32(feature, "ChunkX"), nbtconv.Int32(feature, "ChunkZ"))
			if children := nbtconv.Compounds(feature, "Children"); len(children) > 0 {
				if current, ok := legacyToCurrent[nbtconv.String(children[0], "id")]; ok {
					feature["id"] = current
				}
			}
			id := nbtconv.String(feature, "id")
			if h.data[id] == nil {
				h.data[id] = make(map[int64]map[string]any)
			}
			h.data[id][pos] = feature
		}

		name := legacyKey + "_index"
		idx := mcdb.Compute(storage, name, DecodeFeatureIndex, NewFeatureIndex)
		if idx.Empty() {
			idx = NewFeatureIndex()
			for _, v := range features {
				if feature, ok := v.(map[string]any); ok {
					idx.AddIndex(world.ChunkPos{nbtconv.Int32(feature, "ChunkX"), nbtconv.Int32(feature, "ChunkZ")})
				}
			}
			idx.SetDirty(true)
			storage.Set(name, idx)
		}
		h.indexes[legacyKey] = idx
	}
}

// readFeatures reads the Features compound of the legacy data file of a legacy key. A nil map is returned
// if the file does not exist or could not be read.
func (h *Handler) readFeatures(storage *mcdb.DataStorage, legacyKey string) map[string]any {
	tag, err := storage.ReadTag(legacyKey)
	if errors.Is(err, mcdb.ErrNoData) {
		h.log.Debug("no legacy structure data", "key", legacyKey)
		return nil
	} else if err != nil {
		h.log.Warn("read legacy structure data: "+err.Error(), "key", legacyKey)
		return nil
	}
	data, _ := nbtconv.Compound(tag, "data")
	features, _ := nbtconv.Compound(data, "Features")
	return features
}

// HasLegacyData checks if any legacy starts were found for the structures of the Handler.
func (h *Handler) HasLegacyData() bool {
	return h.hasLegacyData
}

// index returns the FeatureIndex of the legacy family that the structure key passed belongs to.
func (h *Handler) index(key string) *FeatureIndex {
	return h.indexes[currentToLegacy[key]]
}

// IsUnhandledStructureStart checks if any structure of the Handler has a legacy start in the chunk passed
// that was not yet moved into the chunk.
func (h *Handler) IsUnhandledStructureStart(pos world.ChunkPos) bool {
	if !h.hasLegacyData {
		return false
	}
	for _, key := range h.currentKeys {
		if h.data[key] == nil {
			continue
		}
		if idx := h.index(key); idx != nil && idx.HasUnhandledIndex(pos) {
			return true
		}
	}
	return false
}

// UpdateStructureStart adds the unhandled legacy starts of the chunk passed to the Starts of the chunk
// compound. The compound must still have its Level wrapper. The compound passed is changed and returned.
func (h *Handler) UpdateStructureStart(tag map[string]any, pos world.ChunkPos) map[string]any {
	level := child(tag, "Level")
	structures := child(level, "Structures")
	starts := child(structures, "Starts")
	for _, key := range h.currentKeys {
		features := h.data[key]
		if features == nil {
			continue
		}
		if idx := h.index(key); idx == nil || !idx.HasUnhandledIndex(pos) {
			continue
		}
		if feature, ok := features[pos.Pack()]; ok {
			starts[key] = nbtconv.Clone(feature)
		}
	}
	return tag
}

// UpdateFromLegacy updates a chunk compound with its Level wrapper using the legacy data of the Handler. The
// legacy starts of the chunk are added to it and, for every structure of the Handler that the chunk has
// no references for, references to all legacy starts within 8 chunks are added. The compound passed is
// changed and returned.
func (h *Handler) UpdateFromLegacy(tag map[string]any) map[string]any {
	level := child(tag, "Level")
	pos := world.ChunkPos{nbtconv.Int32(level, "xPos"), nbtconv.Int32(level, "zPos")}
	if h.IsUnhandledStructureStart(pos) {
		tag = h.UpdateStructureStart(tag, pos)
	}
	references := child(child(child(tag, "Level"), "Structures"), "References")
	for _, key := range h.currentKeys {
		if _, ok := oldStructureKeys[strings.ToLower(key)]; !ok {
			continue
		}
		if _, ok := references[key]; ok {
			continue
		}
		var refs []int64
		for x := pos[0] - referenceRadius; x <= pos[0]+referenceRadius; x++ {
			for z := pos[1] - referenceRadius; z <= pos[1]+referenceRadius; z++ {
				if h.HasLegacyStart(world.ChunkPos{x, z}, key) {
					refs = append(refs, world.PackChunkPos(x, z))
				}
			}
		}
		references[key] = nbtconv.LongArray(refs)
	}
	return tag
}

// HasLegacyStart checks if the structure with the key passed had a legacy start in the chunk passed.
func (h *Handler) HasLegacyStart(pos world.ChunkPos, key string) bool {
	if !h.hasLegacyData || h.data[key] == nil {
		return false
	}
	idx := h.index(key)
	return idx != nil && idx.HasStartIndex(pos)
}

// RemoveIndex marks the legacy starts of the chunk passed as handled, after the chunk was saved with them.
func (h *Handler) RemoveIndex(pos world.ChunkPos) {
	for _, key := range h.legacyKeys {
		idx := h.indexes[key]
		if idx != nil && idx.HasUnhandledIndex(pos) {
			idx.RemoveIndex(pos)
			idx.SetDirty(true)
		}
	}
}

// Save writes the indexes changed by RemoveIndex to the storage of the Handler.
func (h *Handler) Save() error {
	if h.storage == nil {
		return nil
	}
	return h.storage.Save()
}

// child returns the compound stored under key in m, creating and storing an empty one if m does not hold
// one.
func child(m map[string]any, key string) map[string]any {
	c, ok := nbtconv.Compound(m, key)
	if !ok {
		c = make(map[string]any)
		m[key] = c
	}
	return c
}
