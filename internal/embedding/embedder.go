// Package embedding provides text embedding providers: a lightweight hashing embedder, an
// ONNX embedder, and an LRU caching decorator.
package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/effctx/internal/errs"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// EmbedTexts embeds texts in batches of batchSize (one batch when batchSize <= 0) and checks
// every vector against the embedder's dimensionality. Failures are EmbeddingErrors.
func EmbedTexts(ctx context.Context, e Embedder, texts []string, batchSize int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batchSize <= 0 || batchSize > len(texts) {
		batchSize = len(texts)
	}
	dims := e.Dimensions()
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+batchSize, len(texts))
		vecs, err := e.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, errs.Embedding("embed batch", err)
		}
		if len(vecs) != end-start {
			return nil, errs.Embedding("embed batch", fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), end-start))
		}
		for _, v := range vecs {
			if len(v) != dims {
				return nil, errs.DimensionMismatch("embed batch", len(v), dims)
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedOne embeds a single text and checks its dimensionality.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	v, err := e.Embed(ctx, text)
	if err != nil {
		return nil, errs.Embedding("embed", err)
	}
	if len(v) != e.Dimensions() {
		return nil, errs.DimensionMismatch("embed", len(v), e.Dimensions())
	}
	return v, nil
}
