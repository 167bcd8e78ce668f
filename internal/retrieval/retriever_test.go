package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperjump/effctx/internal/embedding"
	"github.com/hyperjump/effctx/internal/errs"
	"github.com/hyperjump/effctx/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	embedding.Embedder
	batches int
	failOn  string
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.failOn != "" && text == c.failOn {
		return nil, errors.New("provider unavailable")
	}
	return c.Embedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batches++
	for _, t := range texts {
		if c.failOn != "" && t == c.failOn {
			return nil, errors.New("provider unavailable")
		}
	}
	return c.Embedder.EmbedBatch(ctx, texts)
}

func newEmbedder() *countingEmbedder {
	return &countingEmbedder{Embedder: embedding.NewHashEmbedder(128)}
}

func corpus() []*models.Chunk {
	texts := []string{
		"solar panels convert sunlight into electricity",
		"wind turbines harvest kinetic energy from air",
		"battery storage smooths renewable supply",
		"hydroelectric dams use falling water",
		"geothermal plants tap heat below the crust",
		"solar farms need large areas of land",
	}
	out := make([]*models.Chunk, len(texts))
	for i, t := range texts {
		out[i] = &models.Chunk{ID: fmt.Sprintf("doc_%d", i), DocumentID: "doc", Content: t, Position: i}
	}
	return out
}

func ids(results []models.ScoredChunk) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.ID
	}
	return out
}

func TestRetrieve_EmptyIndex(t *testing.T) {
	r, err := New(Config{}, newEmbedder())
	require.NoError(t, err)
	res, err := r.Retrieve(context.Background(), "query", 5)
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Empty(t, res)
}

func TestRetrieve_TopKSortedAndDeterministic(t *testing.T) {
	ctx := context.Background()
	r, err := New(Config{SimilarityMetric: "cosine", UseBatching: true, BatchSize: 4}, newEmbedder())
	require.NoError(t, err)
	require.NoError(t, r.IndexChunks(ctx, corpus()))
	assert.Equal(t, 6, r.Size())

	res, err := r.Retrieve(ctx, "solar electricity", 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "doc_0", res[0].Chunk.ID)
	for i := 1; i < len(res); i++ {
		assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
	}
	again, err := r.Retrieve(ctx, "solar electricity", 3)
	require.NoError(t, err)
	assert.Equal(t, ids(res), ids(again))

	all, err := r.Retrieve(ctx, "solar electricity", 50)
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestIndexChunks_Idempotent(t *testing.T) {
	ctx := context.Background()
	r, _ := New(Config{}, newEmbedder())
	chunks := corpus()
	require.NoError(t, r.IndexChunks(ctx, chunks))
	require.NoError(t, r.IndexChunks(ctx, chunks[:2]))
	assert.Equal(t, 6, r.Size())

	replacement := &models.Chunk{ID: "doc_1", DocumentID: "doc", Content: "tidal generators follow the moon", Position: 1}
	require.NoError(t, r.IndexChunks(ctx, []*models.Chunk{replacement}))
	got, ok := r.Chunk("doc_1")
	require.True(t, ok)
	assert.Equal(t, replacement.Content, got.Content)
	assert.Equal(t, 6, r.Size())
}

func TestIndexChunks_EvictsLeastRecentlyRetrieved(t *testing.T) {
	ctx := context.Background()
	r, err := New(Config{MaxIndexSize: 3}, newEmbedder())
	require.NoError(t, err)
	chunks := corpus()
	require.NoError(t, r.IndexChunks(ctx, chunks[:3]))

	res, err := r.Retrieve(ctx, "solar panels convert sunlight into electricity", 1)
	require.NoError(t, err)
	require.Equal(t, "doc_0", res[0].Chunk.ID)

	require.NoError(t, r.IndexChunks(ctx, chunks[3:4]))
	assert.Equal(t, 3, r.Size())
	_, ok := r.Chunk("doc_1")
	assert.False(t, ok, "oldest never-retrieved chunk is evicted first")
	_, ok = r.Chunk("doc_0")
	assert.True(t, ok, "recently retrieved chunk survives")

	for _, ch := range chunks[4:] {
		require.NoError(t, r.IndexChunks(ctx, []*models.Chunk{ch}))
		assert.LessOrEqual(t, r.Size(), 3)
	}
}

func TestIndexChunks_CapacityError(t *testing.T) {
	r, _ := New(Config{MaxIndexSize: 2}, newEmbedder())
	err := r.IndexChunks(context.Background(), corpus()[:3])
	assert.True(t, errs.IsCapacity(err))
	assert.Zero(t, r.Size())
}

func TestIndexChunks_EmbeddingFailureIndexesNothing(t *testing.T) {
	e := newEmbedder()
	chunks := corpus()
	e.failOn = chunks[2].Content
	r, _ := New(Config{UseBatching: true, BatchSize: 2}, e)
	err := r.IndexChunks(context.Background(), chunks)
	assert.True(t, errs.IsEmbedding(err))
	assert.Zero(t, r.Size())
}

func TestRetrieve_QueryEmbeddingFailure(t *testing.T) {
	e := newEmbedder()
	r, _ := New(Config{}, e)
	require.NoError(t, r.IndexChunks(context.Background(), corpus()))
	e.failOn = "bad query"
	_, err := r.Retrieve(context.Background(), "bad query", 3)
	assert.True(t, errs.IsEmbedding(err))
}

func TestBatchingOnlyChangesCallCount(t *testing.T) {
	ctx := context.Background()
	plain := newEmbedder()
	batched := newEmbedder()
	a, _ := New(Config{UseBatching: false}, plain)
	b, _ := New(Config{UseBatching: true, BatchSize: 4}, batched)
	require.NoError(t, a.IndexChunks(ctx, corpus()))
	require.NoError(t, b.IndexChunks(ctx, corpus()))
	assert.Equal(t, 6, plain.batches)
	assert.Equal(t, 2, batched.batches)

	ra, _ := a.Retrieve(ctx, "renewable energy storage", 4)
	rb, _ := b.Retrieve(ctx, "renewable energy storage", 4)
	assert.Equal(t, ids(ra), ids(rb))
	for i := range ra {
		assert.InDelta(t, ra[i].Score, rb[i].Score, 1e-12)
	}
}

func TestBatchSizer(t *testing.T) {
	e := newEmbedder()
	r, _ := New(Config{UseBatching: true, BatchSize: 6}, e, WithBatchSizer(func(n int) int { return n / 2 }))
	require.NoError(t, r.IndexChunks(context.Background(), corpus()))
	assert.Equal(t, 2, e.batches)
}

func TestChunksOrdered(t *testing.T) {
	r, _ := New(Config{}, newEmbedder())
	chunks := corpus()
	require.NoError(t, r.IndexChunks(context.Background(), []*models.Chunk{chunks[3], chunks[0], chunks[5]}))
	listed := r.Chunks()
	require.Len(t, listed, 3)
	assert.Equal(t, []int{0, 3, 5}, []int{listed[0].Position, listed[1].Position, listed[2].Position})
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{SimilarityMetric: "jaccard"}, newEmbedder())
	assert.True(t, errs.IsConfiguration(err))
	_, err = New(Config{IndexType: "hnsw"}, newEmbedder())
	assert.True(t, errs.IsConfiguration(err))
	_, err = New(Config{UseBatching: true}, newEmbedder())
	assert.True(t, errs.IsConfiguration(err))
	_, err = New(Config{}, nil)
	assert.True(t, errs.IsConfiguration(err))
}

func TestRetrieve_DimensionMismatchOnIndex(t *testing.T) {
	r, _ := New(Config{}, newEmbedder())
	err := r.IndexChunks(context.Background(), []*models.Chunk{{ID: "x", Content: "x", Embedding: []float32{1, 2}}})
	assert.True(t, errs.IsEmbedding(err))
}
