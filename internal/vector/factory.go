package vector

import (
	"strings"

	"github.com/hyperjump/effctx/internal/errs"
)

// IndexType selects the index implementation.
type IndexType string

const (
	// IndexTypeMemory is the brute-force in-memory index.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeFAISS runs search in FAISS. Requires the FAISS C library and -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
)

// ParseMetric resolves a configured metric name; empty selects cosine.
func ParseMetric(name string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(name))); m {
	case "":
		return MetricCosine, nil
	case MetricCosine, MetricDot, MetricEuclidean:
		return m, nil
	default:
		return "", errs.Configf("retrieval", "similarity_metric", "unknown metric %q (supported: cosine, dot, euclidean)", name)
	}
}

// ParseIndexType resolves a configured index type; empty selects memory.
func ParseIndexType(name string) (IndexType, error) {
	switch t := IndexType(strings.ToLower(strings.TrimSpace(name))); t {
	case "":
		return IndexTypeMemory, nil
	case IndexTypeMemory, IndexTypeFAISS:
		return t, nil
	default:
		return "", errs.Configf("retrieval", "index_type", "unknown index type %q (supported: memory, faiss)", name)
	}
}

// NewVectorIndex creates an index of the given type and metric holding at most maxSize
// vectors (unbounded when maxSize <= 0).
func NewVectorIndex(indexType, metric string, dimensions, maxSize int) (VectorIndex, error) {
	t, err := ParseIndexType(indexType)
	if err != nil {
		return nil, err
	}
	m, err := ParseMetric(metric)
	if err != nil {
		return nil, err
	}
	if t == IndexTypeFAISS {
		idx, err := NewFAISSIndex(dimensions, m, maxSize)
		if err != nil {
			return nil, err
		}
		return idx, nil
	}
	return NewMemoryIndex(dimensions, m, maxSize)
}

// IsFAISSAvailable reports whether FAISS support is compiled in.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1, MetricCosine, 0)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}

var (
	_ VectorIndex = (*MemoryIndex)(nil)
	_ VectorIndex = (*FAISSIndex)(nil)
)
