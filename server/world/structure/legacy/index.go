package legacy

import (
	"slices"
	"sync"

	"github.com/brentp/intintmap"
	"github.com/df-mc/strata/server/internal/nbtconv"
	"github.com/df-mc/strata/server/world"
)

// FeatureIndex records the chunks holding a legacy start of one legacy structure family. All holds every
// chunk that ever had such a start, Remaining the chunks whose start was not yet moved into the chunk
// itself. A FeatureIndex is safe for concurrent use.
type FeatureIndex struct {
	mu        sync.Mutex
	all       *intintmap.Map
	remaining *intintmap.Map
	dirty     bool
}

// NewFeatureIndex returns an empty FeatureIndex.
func NewFeatureIndex() *FeatureIndex {
	return &FeatureIndex{all: intintmap.New(64, 0.6), remaining: intintmap.New(64, 0.6)}
}

// DecodeFeatureIndex decodes a FeatureIndex from the compound it is saved as.
func DecodeFeatureIndex(m map[string]any) (*FeatureIndex, error) {
	idx := NewFeatureIndex()
	for _, v := range nbtconv.Int64s(m, "All") {
		idx.all.Put(v, 1)
	}
	for _, v := range nbtconv.Int64s(m, "Remaining") {
		idx.remaining.Put(v, 1)
	}
	return idx, nil
}

// AddIndex records a legacy start at the chunk passed, both in the history and as unhandled.
func (idx *FeatureIndex) AddIndex(pos world.ChunkPos) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.all.Put(pos.Pack(), 1)
	idx.remaining.Put(pos.Pack(), 1)
}

// HasStartIndex checks if the chunk passed ever had a legacy start.
func (idx *FeatureIndex) HasStartIndex(pos world.ChunkPos) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, ok := idx.all.Get(pos.Pack())
	return ok
}

// HasUnhandledIndex checks if the legacy start of the chunk passed was not yet moved into the chunk.
func (idx *FeatureIndex) HasUnhandledIndex(pos world.ChunkPos) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, ok := idx.remaining.Get(pos.Pack())
	return ok
}

// RemoveIndex marks the legacy start of the chunk passed as handled. The history of the index is not
// changed.
func (idx *FeatureIndex) RemoveIndex(pos world.ChunkPos) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.remaining.Del(pos.Pack())
}

// Empty checks if the index never recorded any chunk.
func (idx *FeatureIndex) Empty() bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.all.Size() == 0
}

// Encode encodes the index to two sorted long arrays.
func (idx *FeatureIndex) Encode() map[string]any {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return map[string]any{
		"All":       nbtconv.LongArray(sortedKeys(idx.all)),
		"Remaining": nbtconv.LongArray(sortedKeys(idx.remaining)),
	}
}

// Dirty ...
func (idx *FeatureIndex) Dirty() bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.dirty
}

// SetDirty ...
func (idx *FeatureIndex) SetDirty(dirty bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.dirty = dirty
}

func sortedKeys(m *intintmap.Map) []int64 {
	keys := make([]int64, 0, m.Size())
	for k := range m.Keys() {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
