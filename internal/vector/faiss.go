//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/MetaIndexes_c.h>
#include <faiss/c_api/impl/AuxIndexStructures_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/hyperjump/effctx/internal/errs"
	"github.com/hyperjump/effctx/pkg/utils"
)

// FAISSIndex is a vector index backed by a FAISS flat index wrapped in an IndexIDMap.
// Cosine and dot use inner product (cosine on normalized copies); euclidean uses L2.
// Eviction follows the same least-recently-retrieved order as MemoryIndex.
type FAISSIndex struct {
	flat       *C.FaissIndex
	index      *C.FaissIndex
	dimensions int
	metric     Metric
	maxSize    int
	labels     *labelTable
	mu         sync.Mutex
}

// NewFAISSIndex creates a FAISS index with the given dimension and metric.
func NewFAISSIndex(dimensions int, metric Metric, maxSize int) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, errs.Configf("retrieval", "dimensions", "must be positive, got %d", dimensions)
	}
	if metric == "" {
		metric = MetricCosine
	}

	var flat *C.FaissIndex
	var ret C.int
	if metric == MetricEuclidean {
		var l2 *C.FaissIndexFlatL2
		ret = C.faiss_IndexFlatL2_new_with(&l2, C.idx_t(dimensions))
		flat = l2
	} else {
		var ip *C.FaissIndexFlatIP
		ret = C.faiss_IndexFlatIP_new_with(&ip, C.idx_t(dimensions))
		flat = ip
	}
	if ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}

	var idmap *C.FaissIndexIDMap
	if C.faiss_IndexIDMap_new(&idmap, flat) != 0 {
		C.faiss_Index_free(flat)
		return nil, fmt.Errorf("failed to create FAISS id map: %s", faissLastError())
	}

	return &FAISSIndex{
		flat:       flat,
		index:      idmap,
		dimensions: dimensions,
		metric:     metric,
		maxSize:    maxSize,
		labels:     newLabelTable(),
	}, nil
}

func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Metric returns the index similarity metric.
func (f *FAISSIndex) Metric() Metric {
	return f.metric
}

func (f *FAISSIndex) prepare(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	if f.metric == MetricCosine {
		utils.NormalizeL2(out)
	}
	return out
}

// Add inserts vectors; an existing ID has its vector replaced. The batch is validated
// before anything is written.
func (f *FAISSIndex) Add(ctx context.Context, ids []string, vectors [][]float32) ([]string, error) {
	if len(ids) != len(vectors) {
		return nil, fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	for _, v := range vectors {
		if len(v) != f.dimensions {
			return nil, errs.DimensionMismatch("index add", len(v), f.dimensions)
		}
	}
	batch := make(map[string]bool, len(ids))
	order := make([]string, 0, len(ids))
	latest := make(map[string][]float32, len(ids))
	for i, id := range ids {
		if !batch[id] {
			batch[id] = true
			order = append(order, id)
		}
		latest[id] = vectors[i]
	}
	if f.maxSize > 0 && len(batch) > f.maxSize {
		return nil, &errs.CapacityError{Requested: len(batch), Capacity: f.maxSize}
	}
	if len(order) == 0 {
		return nil, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var stale []int64
	var evicted []string
	fresh := 0
	for _, id := range order {
		if _, ok := f.labels.get(id); !ok {
			fresh++
		}
	}
	for f.maxSize > 0 && f.labels.len()+fresh > f.maxSize {
		v := f.labels.victim(batch)
		stale = append(stale, v.value)
		evicted = append(evicted, v.id)
		f.labels.drop(v)
	}

	data := make([]float32, 0, len(order)*f.dimensions)
	values := make([]C.idx_t, 0, len(order))
	for _, id := range order {
		l, ok := f.labels.get(id)
		if ok {
			stale = append(stale, l.value)
			f.labels.relabel(l)
		} else {
			l = f.labels.assign(id)
		}
		data = append(data, f.prepare(latest[id])...)
		values = append(values, C.idx_t(l.value))
	}

	if err := f.removeLabels(stale); err != nil {
		return nil, err
	}
	ret := C.faiss_Index_add_with_ids(f.index, C.idx_t(len(order)),
		(*C.float)(unsafe.Pointer(&data[0])), (*C.idx_t)(unsafe.Pointer(&values[0])))
	if ret != 0 {
		return nil, fmt.Errorf("failed to add vectors to FAISS: %s", faissLastError())
	}
	return evicted, nil
}

func (f *FAISSIndex) removeLabels(values []int64) error {
	if len(values) == 0 {
		return nil
	}
	ids := make([]C.idx_t, len(values))
	for i, v := range values {
		ids[i] = C.idx_t(v)
	}
	var sel *C.FaissIDSelectorBatch
	if C.faiss_IDSelectorBatch_new(&sel, C.size_t(len(ids)), (*C.idx_t)(unsafe.Pointer(&ids[0]))) != 0 {
		return fmt.Errorf("failed to build FAISS id selector: %s", faissLastError())
	}
	defer C.faiss_IDSelector_free((*C.FaissIDSelector)(sel))
	var removed C.size_t
	if C.faiss_Index_remove_ids(f.index, (*C.FaissIDSelector)(sel), &removed) != 0 {
		return fmt.Errorf("failed to remove vectors from FAISS: %s", faissLastError())
	}
	return nil
}

// Search returns the top-k vectors by score, ties broken by insertion order. Returned entries
// are marked as retrieved for eviction purposes.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != f.dimensions {
		return nil, errs.DimensionMismatch("index search", len(query), f.dimensions)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.labels.len()
	if k <= 0 || n == 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	q := f.prepare(query)
	distances := make([]float32, k)
	found := make([]C.idx_t, k)
	ret := C.faiss_Index_search(f.index, 1, (*C.float)(unsafe.Pointer(&q[0])), C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])), (*C.idx_t)(unsafe.Pointer(&found[0])))
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	values := make([]int64, k)
	scores := make([]float64, k)
	for i := 0; i < k; i++ {
		values[i] = int64(found[i])
		scores[i] = float64(distances[i])
		if f.metric == MetricEuclidean {
			scores[i] = -math.Sqrt(math.Max(scores[i], 0))
		}
	}
	return f.labels.hits(values, scores), nil
}

// Remove deletes vectors by ID; unknown IDs are ignored.
func (f *FAISSIndex) Remove(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var values []int64
	for _, id := range ids {
		if l, ok := f.labels.get(id); ok {
			values = append(values, l.value)
			f.labels.drop(l)
		}
	}
	return f.removeLabels(values)
}

// Contains reports whether id is indexed.
func (f *FAISSIndex) Contains(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.labels.get(id)
	return ok
}

// Size returns the number of vectors in the index.
func (f *FAISSIndex) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.labels.len()
}

// Close frees the FAISS indexes.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	if f.flat != nil {
		C.faiss_Index_free(f.flat)
		f.flat = nil
	}
	return nil
}
