// Package vector provides the bounded vector indexes behind chunk retrieval: a brute-force
// in-memory index and a FAISS-backed one built with -tags=faiss.
package vector

import "context"

// VectorIndex defines vector storage and similarity search.
type VectorIndex interface {
	// Add inserts or replaces vectors and returns the ids evicted to make room.
	Add(ctx context.Context, ids []string, vectors [][]float32) (evicted []string, err error)
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Contains(id string) bool
	Size() int
	Close() error
}

// VectorResult is a single vector search hit (ID is the chunk ID).
type VectorResult struct {
	ID    string
	Score float64 // higher is more similar under the index metric
}
