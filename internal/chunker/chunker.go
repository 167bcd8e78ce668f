// Package chunker splits documents into overlapping, size-bounded chunks.
package chunker

import (
	"fmt"
	"strings"

	"github.com/hyperjump/effctx/internal/errs"
	"github.com/hyperjump/effctx/internal/models"
	"go.uber.org/zap"
)

// Config holds chunking parameters. Sizes are in word tokens.
type Config struct {
	ChunkSize         int
	ChunkOverlap      int
	RespectParagraphs bool
	MinChunkSize      int
	MaxChunkSize      int
}

// Validate rejects parameter combinations the chunker cannot honor.
func (c Config) Validate() error {
	switch {
	case c.ChunkSize <= 0:
		return errs.Configf("chunker", "chunk_size", "must be positive, got %d", c.ChunkSize)
	case c.ChunkOverlap < 0:
		return errs.Configf("chunker", "chunk_overlap", "cannot be negative, got %d", c.ChunkOverlap)
	case c.ChunkOverlap >= c.ChunkSize:
		return errs.Configf("chunker", "chunk_overlap", "%d must be smaller than chunk_size %d", c.ChunkOverlap, c.ChunkSize)
	case c.MinChunkSize < 0:
		return errs.Configf("chunker", "min_chunk_size", "cannot be negative, got %d", c.MinChunkSize)
	case c.MinChunkSize > c.MaxChunkSize:
		return errs.Configf("chunker", "min_chunk_size", "%d exceeds max_chunk_size %d", c.MinChunkSize, c.MaxChunkSize)
	case c.ChunkSize < c.MinChunkSize || c.ChunkSize > c.MaxChunkSize:
		return errs.Configf("chunker", "chunk_size", "%d must lie within [%d, %d]", c.ChunkSize, c.MinChunkSize, c.MaxChunkSize)
	}
	return nil
}

// Chunker splits text into overlapping word-based chunks.
type Chunker struct {
	cfg    Config
	logger *zap.Logger
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(c *Chunker) { c.logger = l }
}

// New creates a chunker; it fails with a ConfigurationError for invalid configuration.
func New(cfg Config, opts ...Option) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Chunker{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the chunker's configuration.
func (c *Chunker) Config() Config {
	return c.cfg
}

// window is a chunk under construction. lead counts the leading tokens copied from the
// previous chunk.
type window struct {
	tokens []string
	lead   int
}

// Chunk splits content into chunks for documentID. Output is deterministic for identical input.
func (c *Chunker) Chunk(content, documentID string, metadata map[string]interface{}) []*models.Chunk {
	var windows []window
	if c.cfg.RespectParagraphs {
		windows = c.semanticWindows(c.units(content))
	} else {
		windows = c.fixedWindows(strings.Fields(content))
	}
	windows = c.mergeTrailing(windows)
	if len(windows) == 0 {
		return nil
	}
	chunks := make([]*models.Chunk, len(windows))
	for i, w := range windows {
		md := models.CloneMetadata(metadata)
		md["position"] = i
		md["document_id"] = documentID
		chunks[i] = &models.Chunk{
			ID:         fmt.Sprintf("%s_%d", documentID, i),
			DocumentID: documentID,
			Content:    strings.Join(w.tokens, " "),
			TokenCount: len(w.tokens),
			Position:   i,
			Metadata:   md,
		}
	}
	c.logger.Debug("chunker split document",
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)),
		zap.Bool("respect_paragraphs", c.cfg.RespectParagraphs))
	return chunks
}

// fixedWindows slides a ChunkSize window with step ChunkSize-ChunkOverlap.
func (c *Chunker) fixedWindows(words []string) []window {
	if len(words) == 0 {
		return nil
	}
	step := c.cfg.ChunkSize - c.cfg.ChunkOverlap
	var out []window
	for i := 0; i < len(words); i += step {
		end := i + c.cfg.ChunkSize
		if end > len(words) {
			end = len(words)
		}
		lead := 0
		if i > 0 {
			lead = min(c.cfg.ChunkOverlap, end-i)
		}
		out = append(out, window{tokens: words[i:end], lead: lead})
		if end >= len(words) {
			break
		}
	}
	return out
}

// units segments content into sentences.
func (c *Chunker) units(content string) [][]string {
	var out [][]string
	for _, p := range Paragraphs(content) {
		out = append(out, Sentences(p)...)
	}
	return out
}

// semanticWindows greedily packs sentence units into windows of at most ChunkSize tokens.
// A unit longer than ChunkSize is split into fixed windows that carry ChunkOverlap tokens, and
// its last window stays open for the units that follow. When the carried overlap plus the next
// unit cannot fit, the overlap is trimmed from the front.
func (c *Chunker) semanticWindows(units [][]string) []window {
	size := c.cfg.ChunkSize
	var out []window
	var cur []string
	lead := 0
	for _, unit := range units {
		if len(cur)+len(unit) > size && len(cur) > lead {
			out = append(out, window{tokens: cur, lead: lead})
			n := min(c.cfg.ChunkOverlap, len(cur))
			cur = append([]string(nil), cur[len(cur)-n:]...)
			lead = n
		}
		if len(unit) > size {
			seq := make([]string, 0, len(cur)+len(unit))
			seq = append(append(seq, cur...), unit...)
			split := c.fixedWindows(seq)
			split[0].lead = lead
			out = append(out, split[:len(split)-1]...)
			last := split[len(split)-1]
			cur = append([]string(nil), last.tokens...)
			lead = last.lead
			continue
		}
		if len(cur)+len(unit) > size && lead > 0 {
			keep := max(size-len(unit), 0)
			if keep < lead {
				cur = cur[lead-keep:]
				lead = keep
			}
		}
		cur = append(cur, unit...)
	}
	if len(cur) > lead {
		out = append(out, window{tokens: cur, lead: lead})
	}
	return out
}

// mergeTrailing folds an undersized last window into its predecessor when the result stays
// within MaxChunkSize.
func (c *Chunker) mergeTrailing(ws []window) []window {
	if len(ws) < 2 {
		return ws
	}
	last := ws[len(ws)-1]
	if len(last.tokens) >= c.cfg.MinChunkSize {
		return ws
	}
	prev := ws[len(ws)-2]
	fresh := last.tokens[last.lead:]
	if len(prev.tokens)+len(fresh) > c.cfg.MaxChunkSize {
		return ws
	}
	merged := make([]string, 0, len(prev.tokens)+len(fresh))
	merged = append(merged, prev.tokens...)
	merged = append(merged, fresh...)
	ws[len(ws)-2] = window{tokens: merged, lead: prev.lead}
	return ws[:len(ws)-1]
}
