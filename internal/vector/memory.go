package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/effctx/internal/errs"
)

// entry is one indexed vector. seq orders entries by first insertion; retrieved is the search
// tick that last returned the entry (0 = never).
type entry struct {
	id        string
	vector    []float32
	seq       uint64
	retrieved uint64
}

// MemoryIndex is an in-memory vector index using brute-force search. When bounded, inserting
// past capacity evicts the least recently retrieved entry; never-retrieved entries go first,
// oldest insertion first.
type MemoryIndex struct {
	dimensions int
	metric     Metric
	maxSize    int
	entries    []*entry
	byID       map[string]int
	nextSeq    uint64
	tick       uint64
	mu         sync.Mutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int, metric Metric, maxSize int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, errs.Configf("retrieval", "dimensions", "must be positive, got %d", dimensions)
	}
	if metric == "" {
		metric = MetricCosine
	}
	return &MemoryIndex{
		dimensions: dimensions,
		metric:     metric,
		maxSize:    maxSize,
		byID:       make(map[string]int),
	}, nil
}

// Metric returns the index similarity metric.
func (m *MemoryIndex) Metric() Metric {
	return m.metric
}

// Add inserts vectors with the given IDs; an existing ID has its vector replaced in place.
// The whole batch is validated before anything is written.
func (m *MemoryIndex) Add(ctx context.Context, ids []string, vectors [][]float32) ([]string, error) {
	if len(ids) != len(vectors) {
		return nil, fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	for _, v := range vectors {
		if len(v) != m.dimensions {
			return nil, errs.DimensionMismatch("index add", len(v), m.dimensions)
		}
	}
	batch := make(map[string]bool, len(ids))
	for _, id := range ids {
		batch[id] = true
	}
	if m.maxSize > 0 && len(batch) > m.maxSize {
		return nil, &errs.CapacityError{Requested: len(batch), Capacity: m.maxSize}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var evicted []string
	for i, id := range ids {
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		if pos, ok := m.byID[id]; ok {
			m.entries[pos].vector = vec
			continue
		}
		if m.maxSize > 0 && len(m.entries) >= m.maxSize {
			victim := m.victimLocked(batch)
			evicted = append(evicted, m.entries[victim].id)
			m.removeAtLocked(victim)
		}
		m.nextSeq++
		m.byID[id] = len(m.entries)
		m.entries = append(m.entries, &entry{id: id, vector: vec, seq: m.nextSeq})
	}
	return evicted, nil
}

// victimLocked picks the least recently retrieved entry outside the current batch.
func (m *MemoryIndex) victimLocked(batch map[string]bool) int {
	victim := -1
	for i, e := range m.entries {
		if batch[e.id] {
			continue
		}
		if victim < 0 {
			victim = i
			continue
		}
		v := m.entries[victim]
		if e.retrieved < v.retrieved || (e.retrieved == v.retrieved && e.seq < v.seq) {
			victim = i
		}
	}
	return victim
}

func (m *MemoryIndex) removeAtLocked(i int) {
	last := len(m.entries) - 1
	delete(m.byID, m.entries[i].id)
	if i != last {
		m.entries[i] = m.entries[last]
		m.byID[m.entries[i].id] = i
	}
	m.entries[last] = nil
	m.entries = m.entries[:last]
}

// Search returns the top-k vectors by score, ties broken by insertion order. Returned entries
// are marked as retrieved for eviction purposes.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, errs.DimensionMismatch("index search", len(query), m.dimensions)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if k <= 0 || len(m.entries) == 0 {
		return nil, nil
	}
	type scored struct {
		e     *entry
		score float64
	}
	scores := make([]scored, len(m.entries))
	for i, e := range m.entries {
		scores[i] = scored{e: e, score: m.metric.Score(query, e.vector)}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].e.seq < scores[j].e.seq
	})
	if k > len(scores) {
		k = len(scores)
	}
	m.tick++
	result := make([]*VectorResult, k)
	for i := 0; i < k; i++ {
		scores[i].e.retrieved = m.tick
		result[i] = &VectorResult{ID: scores[i].e.id, Score: scores[i].score}
	}
	return result, nil
}

// Remove deletes vectors by ID; unknown IDs are ignored.
func (m *MemoryIndex) Remove(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if pos, ok := m.byID[id]; ok {
			m.removeAtLocked(pos)
		}
	}
	return nil
}

// Contains reports whether id is indexed.
func (m *MemoryIndex) Contains(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byID[id]
	return ok
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
