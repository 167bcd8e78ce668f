// Package retrieval indexes chunk embeddings and answers top-k similarity queries.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/effctx/internal/embedding"
	"github.com/hyperjump/effctx/internal/errs"
	"github.com/hyperjump/effctx/internal/models"
	"github.com/hyperjump/effctx/internal/vector"
	"go.uber.org/zap"
)

// Config holds retrieval index parameters.
type Config struct {
	EmbeddingModel   string
	SimilarityMetric string
	// IndexType selects the vector index: memory (default) or faiss.
	IndexType   string
	UseBatching bool
	BatchSize   int
	// MaxIndexSize bounds the number of indexed chunks; <= 0 is unbounded.
	MaxIndexSize int
}

// Validate rejects invalid parameters.
func (c Config) Validate() error {
	if _, err := vector.ParseMetric(c.SimilarityMetric); err != nil {
		return err
	}
	if _, err := vector.ParseIndexType(c.IndexType); err != nil {
		return err
	}
	if c.UseBatching && c.BatchSize <= 0 {
		return errs.Configf("retrieval", "batch_size", "must be positive when batching, got %d", c.BatchSize)
	}
	return nil
}

// Retriever owns indexed chunks and their vectors. Index mutation and retrieval are
// serialized, so an insert with its evictions is never observed half-applied.
type Retriever struct {
	cfg       Config
	embedder  embedding.Embedder
	index     vector.VectorIndex
	chunks    map[string]*models.Chunk
	batchSize func(int) int
	logger    *zap.Logger
	mu        sync.RWMutex
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// WithBatchSizer scales the configured batch size, typically memory.Budgeter.BatchSize.
func WithBatchSizer(f func(int) int) Option {
	return func(r *Retriever) { r.batchSize = f }
}

// New creates a retriever over a fresh vector index sized to the embedder's dimensionality.
func New(cfg Config, embedder embedding.Embedder, opts ...Option) (*Retriever, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, errs.Configf("retrieval", "embedding_model", "no embedder for %q", cfg.EmbeddingModel)
	}
	index, err := vector.NewVectorIndex(cfg.IndexType, cfg.SimilarityMetric, embedder.Dimensions(), cfg.MaxIndexSize)
	if err != nil {
		return nil, err
	}
	r := &Retriever{
		cfg:       cfg,
		embedder:  embedder,
		index:     index,
		chunks:    make(map[string]*models.Chunk),
		batchSize: func(n int) int { return n },
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config returns the retriever's configuration.
func (r *Retriever) Config() Config {
	return r.cfg
}

// Embed attaches embeddings to chunks that lack one, in batches when batching is enabled.
// Existing embeddings are checked against the provider's dimensionality.
func (r *Retriever) Embed(ctx context.Context, chunks []*models.Chunk) error {
	var missing []*models.Chunk
	for _, ch := range chunks {
		if ch.Embedding == nil {
			missing = append(missing, ch)
			continue
		}
		if len(ch.Embedding) != r.embedder.Dimensions() {
			return errs.DimensionMismatch("index chunks", len(ch.Embedding), r.embedder.Dimensions())
		}
	}
	if len(missing) == 0 {
		return nil
	}
	texts := make([]string, len(missing))
	for i, ch := range missing {
		texts[i] = ch.Content
	}
	batch := 1
	if r.cfg.UseBatching {
		batch = max(r.batchSize(r.cfg.BatchSize), 1)
	}
	vecs, err := embedding.EmbedTexts(ctx, r.embedder, texts, batch)
	if err != nil {
		return err
	}
	for i, ch := range missing {
		ch.Embedding = vecs[i]
	}
	return nil
}

// IndexChunks embeds and indexes chunks; re-indexing an id replaces it. Nothing is indexed
// when embedding fails. Chunks evicted to make room leave the index with their vectors.
func (r *Retriever) IndexChunks(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := r.Embed(ctx, chunks); err != nil {
		return err
	}
	ids := make([]string, len(chunks))
	vecs := make([][]float32, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
		vecs[i] = ch.Embedding
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted, err := r.index.Add(ctx, ids, vecs)
	if err != nil {
		return err
	}
	for _, id := range evicted {
		delete(r.chunks, id)
	}
	for _, ch := range chunks {
		r.chunks[ch.ID] = ch
	}
	if len(evicted) > 0 {
		r.logger.Debug("evicted chunks from retrieval index",
			zap.Int("evicted", len(evicted)),
			zap.Int("size", len(r.chunks)))
	}
	return nil
}

// Retrieve returns up to topK chunks most similar to query, by score descending with ties in
// insertion order. An empty index yields an empty result.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]models.ScoredChunk, error) {
	if topK <= 0 || r.Size() == 0 {
		return []models.ScoredChunk{}, nil
	}
	qvec, err := embedding.EmbedOne(ctx, r.embedder, query)
	if err != nil {
		return nil, err
	}

	// Search updates retrieval recency, so it shares the writer lock with IndexChunks.
	r.mu.Lock()
	defer r.mu.Unlock()
	hits, err := r.index.Search(ctx, qvec, topK)
	if err != nil {
		return nil, err
	}
	out := make([]models.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		ch, ok := r.chunks[h.ID]
		if !ok {
			return nil, fmt.Errorf("index returned unknown chunk %s", h.ID)
		}
		out = append(out, models.ScoredChunk{Chunk: ch, Score: h.Score})
	}
	return out, nil
}

// Chunk returns the indexed chunk with id.
func (r *Retriever) Chunk(id string) (*models.Chunk, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.chunks[id]
	return ch, ok
}

// Chunks returns every indexed chunk, ordered by document then position.
func (r *Retriever) Chunks() []*models.Chunk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Chunk, 0, len(r.chunks))
	for _, ch := range r.chunks {
		out = append(out, ch)
	}
	sortChunks(out)
	return out
}

// Size returns the number of indexed chunks.
func (r *Retriever) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chunks)
}

// Close releases the index and the embedder.
func (r *Retriever) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.index.Close(); err != nil {
		return err
	}
	return r.embedder.Close()
}

func sortChunks(chunks []*models.Chunk) {
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].DocumentID != chunks[j].DocumentID {
			return chunks[i].DocumentID < chunks[j].DocumentID
		}
		if chunks[i].Position != chunks[j].Position {
			return chunks[i].Position < chunks[j].Position
		}
		return chunks[i].ID < chunks[j].ID
	})
}
