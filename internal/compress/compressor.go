// Package compress removes near-duplicate chunks and sentences by embedding similarity,
// keeping the more important unit of each redundant pair.
package compress

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/effctx/internal/chunker"
	"github.com/hyperjump/effctx/internal/embedding"
	"github.com/hyperjump/effctx/internal/errs"
	"github.com/hyperjump/effctx/internal/importance"
	"github.com/hyperjump/effctx/internal/models"
	"github.com/hyperjump/effctx/internal/tokens"
	"go.uber.org/zap"
)

// Config holds deduplication parameters.
type Config struct {
	// Threshold is the cosine similarity above which two units are redundant. 1.0 disables
	// deduplication.
	Threshold float64
	// EmbeddingModel names the provider the caller resolved the embedder from.
	EmbeddingModel string
	// MinSentenceLength is the word count below which a unit is never compared.
	MinSentenceLength int
	// ImportanceWeight balances importance against non-redundancy in a unit's score.
	ImportanceWeight float64
}

// Validate rejects out-of-range parameters.
func (c Config) Validate() error {
	switch {
	case c.Threshold <= 0 || c.Threshold > 1:
		return errs.Configf("compression", "threshold", "must lie in (0, 1], got %g", c.Threshold)
	case c.MinSentenceLength < 0:
		return errs.Configf("compression", "min_sentence_length", "cannot be negative, got %d", c.MinSentenceLength)
	case c.ImportanceWeight < 0 || c.ImportanceWeight > 1:
		return errs.Configf("compression", "importance_weight", "must lie in [0, 1], got %g", c.ImportanceWeight)
	}
	return nil
}

// Compressor deduplicates chunks and sentences.
type Compressor struct {
	cfg       Config
	embedder  embedding.Embedder
	scorer    importance.Scorer
	counter   tokens.Counter
	batchSize func(int) int
	logger    *zap.Logger
}

// Option configures a Compressor.
type Option func(*Compressor)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(c *Compressor) { c.logger = l }
}

// WithBatchSizer scales the embedding batch size, typically memory.Budgeter.BatchSize.
func WithBatchSizer(f func(int) int) Option {
	return func(c *Compressor) { c.batchSize = f }
}

const defaultBatchSize = 32

// New creates a compressor. A nil scorer defaults to position scoring and a nil counter to
// word counting.
func New(cfg Config, embedder embedding.Embedder, scorer importance.Scorer, counter tokens.Counter, opts ...Option) (*Compressor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, errs.Configf("compression", "embedding_model", "no embedder for %q", cfg.EmbeddingModel)
	}
	if scorer == nil {
		scorer = importance.PositionScorer{Floor: 0.5}
	}
	if counter == nil {
		counter = tokens.WordCounter{}
	}
	c := &Compressor{
		cfg:       cfg,
		embedder:  embedder,
		scorer:    scorer,
		counter:   counter,
		batchSize: func(n int) int { return n },
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the compressor's configuration.
func (c *Compressor) Config() Config {
	return c.cfg
}

// CompressChunks drops redundant chunks, most redundant pair first, until the total token count
// is within targetSize (no target when targetSize <= 0). Survivors keep their input order and
// always carry an importance score. Missing embeddings are computed and attached to the inputs.
func (c *Compressor) CompressChunks(ctx context.Context, chunks []*models.Chunk, targetSize int) ([]*models.Chunk, error) {
	return c.CompressChunksForQuery(ctx, chunks, targetSize, "")
}

// CompressChunksForQuery is CompressChunks with chunks lacking a stored importance scored
// against query, so query-aware scorers favor the chunks that answer it.
func (c *Compressor) CompressChunksForQuery(ctx context.Context, chunks []*models.Chunk, targetSize int, query string) ([]*models.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	units := make([]*unit, len(chunks))
	var missing []*models.Chunk
	for i, ch := range chunks {
		u := &unit{text: ch.Content, tokens: c.counter.Count(ch.Content)}
		u.candidate = c.isCandidate(ch.Content)
		if ch.HasImportance {
			u.importance = importance.Clamp(ch.Importance)
		} else {
			u.importance = importance.Clamp(c.scorer.Score(ch.Content, importance.Context{Position: i, Total: len(chunks), Query: query}))
		}
		if u.candidate && ch.Embedding == nil {
			missing = append(missing, ch)
		}
		units[i] = u
	}
	if len(missing) > 0 && c.cfg.Threshold < 1 {
		texts := make([]string, len(missing))
		for i, ch := range missing {
			texts[i] = ch.Content
		}
		vecs, err := embedding.EmbedTexts(ctx, c.embedder, texts, c.batchSize(defaultBatchSize))
		if err != nil {
			return nil, err
		}
		for i, ch := range missing {
			ch.Embedding = vecs[i]
		}
	}
	for i, ch := range chunks {
		units[i].vector = ch.Embedding
	}

	keep := c.reduce(units, targetSize)
	out := make([]*models.Chunk, 0, len(chunks))
	for i, ch := range chunks {
		if !keep[i] {
			c.logger.Debug("dropped redundant chunk", zap.String("chunk_id", ch.ID))
			continue
		}
		if !ch.HasImportance {
			cp := *ch
			cp.SetImportance(units[i].importance)
			ch = &cp
		}
		out = append(out, ch)
	}
	return out, nil
}

// CompressText deduplicates the sentences of text and rejoins the survivors.
func (c *Compressor) CompressText(ctx context.Context, text string, targetSize int) (string, error) {
	sentences := chunker.SplitSentences(text)
	keep, _, err := c.compressSentences(ctx, sentences, targetSize)
	if err != nil {
		return "", err
	}
	return joinKept(sentences, keep), nil
}

// CompressChunk deduplicates sentences within one chunk. When sentences are dropped it returns
// a new chunk derived from the input (Metadata["derived_from"] names the source); otherwise the
// input chunk itself.
func (c *Compressor) CompressChunk(ctx context.Context, chunk *models.Chunk, targetSize int) (*models.Chunk, error) {
	sentences := chunker.SplitSentences(chunk.Content)
	keep, units, err := c.compressSentences(ctx, sentences, targetSize)
	if err != nil {
		return nil, err
	}
	var kept int
	var imp float64
	for i, k := range keep {
		if k {
			kept++
			imp += units[i].importance
		}
	}
	if kept == len(sentences) {
		if !chunk.HasImportance && kept > 0 {
			cp := *chunk
			cp.SetImportance(imp / float64(kept))
			return &cp, nil
		}
		return chunk, nil
	}
	content := joinKept(sentences, keep)
	md := models.CloneMetadata(chunk.Metadata)
	md["derived_from"] = chunk.ID
	derived := &models.Chunk{
		ID:         fmt.Sprintf("%s_c", chunk.ID),
		DocumentID: chunk.DocumentID,
		Content:    content,
		TokenCount: len(strings.Fields(content)),
		Position:   chunk.Position,
		Metadata:   md,
	}
	if chunk.HasImportance {
		derived.SetImportance(chunk.Importance)
	} else {
		derived.SetImportance(imp / float64(max(kept, 1)))
	}
	c.logger.Debug("compressed chunk",
		zap.String("chunk_id", chunk.ID),
		zap.Int("sentences", len(sentences)),
		zap.Int("kept", kept))
	return derived, nil
}

func (c *Compressor) compressSentences(ctx context.Context, sentences []string, targetSize int) ([]bool, []*unit, error) {
	units := make([]*unit, len(sentences))
	var texts []string
	var idx []int
	for i, s := range sentences {
		u := &unit{
			text:       s,
			tokens:     c.counter.Count(s),
			candidate:  c.isCandidate(s),
			importance: importance.Clamp(c.scorer.Score(s, importance.Context{Position: i, Total: len(sentences)})),
		}
		if u.candidate {
			texts = append(texts, s)
			idx = append(idx, i)
		}
		units[i] = u
	}
	if len(texts) > 1 && c.cfg.Threshold < 1 {
		vecs, err := embedding.EmbedTexts(ctx, c.embedder, texts, c.batchSize(defaultBatchSize))
		if err != nil {
			return nil, nil, err
		}
		for j, i := range idx {
			units[i].vector = vecs[j]
		}
	}
	return c.reduce(units, targetSize), units, nil
}

func (c *Compressor) isCandidate(text string) bool {
	return len(strings.Fields(text)) >= c.cfg.MinSentenceLength
}

func joinKept(sentences []string, keep []bool) string {
	kept := make([]string, 0, len(sentences))
	for i, s := range sentences {
		if keep[i] {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, " ")
}
