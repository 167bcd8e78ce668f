//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/effctx/internal/errs"
)

var errFAISSUnavailable = fmt.Errorf("FAISS not available")

// FAISSIndex is a stub that returns an error when FAISS is not available.
// Build with -tags=faiss to enable FAISS support.
type FAISSIndex struct{}

// NewFAISSIndex returns a configuration error because FAISS is not compiled in.
func NewFAISSIndex(dimensions int, metric Metric, maxSize int) (*FAISSIndex, error) {
	return nil, errs.Configf("retrieval", "index_type", "faiss requires building with -tags=faiss and the FAISS C library")
}

// Add is not implemented without FAISS.
func (f *FAISSIndex) Add(ctx context.Context, ids []string, vectors [][]float32) ([]string, error) {
	return nil, errFAISSUnavailable
}

// Search is not implemented without FAISS.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	return nil, errFAISSUnavailable
}

// Remove is not implemented without FAISS.
func (f *FAISSIndex) Remove(ctx context.Context, ids []string) error {
	return errFAISSUnavailable
}

// Contains is always false without FAISS.
func (f *FAISSIndex) Contains(id string) bool {
	return false
}

// Size returns 0 without FAISS.
func (f *FAISSIndex) Size() int {
	return 0
}

// Close is a no-op without FAISS.
func (f *FAISSIndex) Close() error {
	return nil
}
