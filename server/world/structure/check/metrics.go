package check

import (
	"sync"

	"github.com/df-mc/strata/server/world"
)

// maxTrackedChunks is the maximum amount of chunks that scans are counted for individually. The counts are
// reset once it is reached, but the chunk scanned most often so far is kept.
const maxTrackedChunks = 4096

// Metrics tracks counters of the lookups done by a Check. A nil *Metrics discards all counts.
type Metrics struct {
	mu sync.Mutex

	hits         uint64
	scans        uint64
	scanFailures uint64
	loadsNeeded  uint64
	fallbacks    uint64
	scansByChunk map[world.ChunkPos]uint64
	mostScanned  world.ChunkPos
	mostCount    uint64
}

// Snapshot holds the values of the counters of Metrics at one point in time.
type Snapshot struct {
	// Hits is the amount of lookups answered from loaded structure data.
	Hits uint64
	// Scans is the amount of chunks scanned in storage, and ScanFailures the amount of those that failed.
	Scans, ScanFailures uint64
	// LoadsNeeded is the amount of lookups that required the chunk to be loaded.
	LoadsNeeded uint64
	// Fallbacks is the amount of lookups answered by checking if a structure could generate.
	Fallbacks uint64
	// MostScanned is the chunk scanned most often, and MostScannedCount the amount of times it was.
	MostScanned      world.ChunkPos
	MostScannedCount uint64
}

// NewMetrics creates an empty metrics registry.
func NewMetrics() *Metrics {
	return &Metrics{scansByChunk: make(map[world.ChunkPos]uint64)}
}

// IncHits increments the cache hit counter.
func (m *Metrics) IncHits() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
}

// IncScans increments the scan counter for a chunk.
func (m *Metrics) IncScans(pos world.ChunkPos) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.scans++
	n, ok := m.scansByChunk[pos]
	if !ok && len(m.scansByChunk) >= maxTrackedChunks {
		clear(m.scansByChunk)
	}
	n++
	m.scansByChunk[pos] = n
	if n > m.mostCount || (n == m.mostCount && pos.Pack() < m.mostScanned.Pack()) {
		m.mostScanned, m.mostCount = pos, n
	}
	m.mu.Unlock()
}

// IncScanFailures increments the scan failure counter.
func (m *Metrics) IncScanFailures() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.scanFailures++
	m.mu.Unlock()
}

// IncLoadsNeeded increments the counter of lookups that needed a chunk load.
func (m *Metrics) IncLoadsNeeded() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.loadsNeeded++
	m.mu.Unlock()
}

// IncFallbacks increments the counter of lookups answered by the generation check.
func (m *Metrics) IncFallbacks() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.fallbacks++
	m.mu.Unlock()
}

// Snapshot returns the current values of all counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Hits:             m.hits,
		Scans:            m.scans,
		ScanFailures:     m.scanFailures,
		LoadsNeeded:      m.loadsNeeded,
		Fallbacks:        m.fallbacks,
		MostScanned:      m.mostScanned,
		MostScannedCount: m.mostCount,
	}
}
