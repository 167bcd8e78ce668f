// Package contextmgr wires chunking, deduplication, retrieval and the memory budget into
// document ingestion and bounded context generation.
package contextmgr

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/effctx/internal/chunker"
	"github.com/hyperjump/effctx/internal/compress"
	"github.com/hyperjump/effctx/internal/errs"
	"github.com/hyperjump/effctx/internal/memory"
	"github.com/hyperjump/effctx/internal/models"
	"github.com/hyperjump/effctx/internal/retrieval"
	"github.com/hyperjump/effctx/internal/tokens"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrEmptyDocument is returned when a document has no text to chunk.
	ErrEmptyDocument = errors.New("document has no content")
	// ErrDuplicateDocument is returned when a document id is added twice.
	ErrDuplicateDocument = errors.New("document already exists")
)

// Config holds orchestration parameters.
type Config struct {
	// MaxContextSize is the default token ceiling of a generated context.
	MaxContextSize int
	// TopK is the number of candidate chunks retrieved per query.
	TopK int
	// Separator joins chunks in the assembled context.
	Separator string
	// DedupeOnIngest drops redundant chunks within each document before indexing.
	DedupeOnIngest bool
	// Parallelism bounds concurrent document preparation; <= 0 uses GOMAXPROCS.
	Parallelism int
}

// Validate rejects invalid parameters.
func (c Config) Validate() error {
	switch {
	case c.MaxContextSize <= 0:
		return errs.Configf("context", "max_context_size", "must be positive, got %d", c.MaxContextSize)
	case c.TopK <= 0:
		return errs.Configf("context", "top_k", "must be positive, got %d", c.TopK)
	}
	return nil
}

// Deps are the components a Manager orchestrates. Budgeter and Counter are optional.
type Deps struct {
	Chunker    *chunker.Chunker
	Compressor *compress.Compressor
	Retriever  *retrieval.Retriever
	Budgeter   *memory.Budgeter
	Counter    tokens.Counter
}

// Manager ingests documents and generates bounded contexts. Documents are append-only.
type Manager struct {
	cfg        Config
	chunker    *chunker.Chunker
	compressor *compress.Compressor
	retriever  *retrieval.Retriever
	budget     *memory.Budgeter
	counter    tokens.Counter
	logger     *zap.Logger

	mu    sync.RWMutex
	docs  map[string]*models.Document
	order []string
	// ingest serializes index writes across AddDocuments calls.
	ingest sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a manager over deps.
func New(cfg Config, deps Deps, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Chunker == nil || deps.Compressor == nil || deps.Retriever == nil {
		return nil, errs.Configf("context", "", "chunker, compressor and retriever are required")
	}
	if cfg.Separator == "" {
		cfg.Separator = "\n\n"
	}
	counter := deps.Counter
	if counter == nil {
		counter = tokens.WordCounter{}
	}
	m := &Manager{
		cfg:        cfg,
		chunker:    deps.Chunker,
		compressor: deps.Compressor,
		retriever:  deps.Retriever,
		budget:     deps.Budgeter,
		counter:    counter,
		logger:     zap.NewNop(),
		docs:       make(map[string]*models.Document),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// prepared is a chunked and embedded document awaiting its index write.
type prepared struct {
	doc    *models.Document
	chunks []*models.Chunk
}

// AddDocument chunks, embeds and indexes text, returning the new document id.
func (m *Manager) AddDocument(ctx context.Context, text string, metadata map[string]interface{}) (string, error) {
	ids, err := m.AddDocuments(ctx, []models.DocumentInput{{Content: text, Metadata: metadata}})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// AddDocuments prepares documents concurrently, then indexes the whole batch in one write, in
// input order. The batch is atomic: a preparation failure, a repeated or existing id, or an
// index failure leaves nothing indexed.
func (m *Manager) AddDocuments(ctx context.Context, inputs []models.DocumentInput) ([]string, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	restore := m.guard(ctx)
	defer restore()

	limit := m.cfg.Parallelism
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	if m.budget.Optimized() {
		limit = 1
	}
	batch := make([]*prepared, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range inputs {
		i := i
		g.Go(func() error {
			p, err := m.prepare(gctx, inputs[i])
			if err != nil {
				return err
			}
			batch[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m.ingest.Lock()
	defer m.ingest.Unlock()
	if err := m.commit(ctx, batch); err != nil {
		return nil, err
	}
	ids := make([]string, len(batch))
	for i, p := range batch {
		ids[i] = p.doc.ID
	}
	return ids, nil
}

func (m *Manager) prepare(ctx context.Context, in models.DocumentInput) (*prepared, error) {
	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, id)
	}
	doc := &models.Document{
		ID:        id,
		Content:   in.Content,
		Metadata:  models.CloneMetadata(in.Metadata),
		CreatedAt: time.Now(),
	}
	chunks := m.chunker.Chunk(doc.Content, doc.ID, doc.Metadata)
	if err := m.retriever.Embed(ctx, chunks); err != nil {
		return nil, fmt.Errorf("failed to embed document %s: %w", id, err)
	}
	if m.cfg.DedupeOnIngest {
		deduped, err := m.compressor.CompressChunks(ctx, chunks, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to deduplicate document %s: %w", id, err)
		}
		m.logger.Debug("deduplicated document on ingest",
			zap.String("document_id", id),
			zap.Int("chunks", len(chunks)),
			zap.Int("kept", len(deduped)))
		chunks = deduped
	}
	return &prepared{doc: doc, chunks: chunks}, nil
}

// commit checks every id before writing, then indexes all chunks of the batch at once so the
// retriever admits or rejects them together. The caller holds m.ingest.
func (m *Manager) commit(ctx context.Context, batch []*prepared) error {
	seen := make(map[string]bool, len(batch))
	var chunks []*models.Chunk
	m.mu.RLock()
	for _, p := range batch {
		_, exists := m.docs[p.doc.ID]
		if exists || seen[p.doc.ID] {
			m.mu.RUnlock()
			return fmt.Errorf("%w: %s", ErrDuplicateDocument, p.doc.ID)
		}
		seen[p.doc.ID] = true
		chunks = append(chunks, p.chunks...)
	}
	m.mu.RUnlock()

	if err := m.retriever.IndexChunks(ctx, chunks); err != nil {
		return fmt.Errorf("failed to index %d documents: %w", len(batch), err)
	}
	m.mu.Lock()
	for _, p := range batch {
		m.docs[p.doc.ID] = p.doc
		m.order = append(m.order, p.doc.ID)
	}
	m.mu.Unlock()
	m.logger.Debug("documents indexed",
		zap.Int("documents", len(batch)),
		zap.Int("chunks", len(chunks)))
	return nil
}

// GenerateContext retrieves candidates for query, deduplicates them against the token ceiling,
// and concatenates survivors in score order until the next one would overflow. maxContextSize
// <= 0 uses the configured ceiling. The bundle never exceeds the ceiling as measured by the
// manager's token counter.
func (m *Manager) GenerateContext(ctx context.Context, query string, maxContextSize int) (*models.ContextBundle, error) {
	return m.Generate(ctx, models.ContextRequest{Query: query, MaxContextSize: maxContextSize})
}

// Generate is GenerateContext with per-request overrides of the ceiling and candidate count.
func (m *Manager) Generate(ctx context.Context, req models.ContextRequest) (*models.ContextBundle, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	query := req.Query
	maxContextSize := req.MaxContextSize
	if maxContextSize <= 0 {
		maxContextSize = m.cfg.MaxContextSize
	}
	topK := req.TopK
	if topK <= 0 {
		topK = m.cfg.TopK
	}
	restore := m.guard(ctx)
	defer restore()

	results, err := m.retriever.Retrieve(ctx, query, m.budget.BatchSize(topK))
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve candidates: %w", err)
	}
	candidates := make([]*models.Chunk, len(results))
	for i, r := range results {
		candidates[i] = r.Chunk
	}
	survivors, err := m.compressor.CompressChunksForQuery(ctx, candidates, maxContextSize, query)
	if err != nil {
		return nil, fmt.Errorf("failed to compress candidates: %w", err)
	}

	bundle := &models.ContextBundle{
		Query:            query,
		Candidates:       len(results),
		IncludedChunkIDs: []string{},
	}
	var parts []string
	for _, ch := range survivors {
		next := strings.Join(append(parts[:len(parts):len(parts)], ch.Content), m.cfg.Separator)
		if m.counter.Count(next) > maxContextSize {
			m.logger.Debug("context assembly reached ceiling",
				zap.String("next_chunk", ch.ID),
				zap.Int("max_context_size", maxContextSize))
			break
		}
		parts = append(parts, ch.Content)
		bundle.IncludedChunkIDs = append(bundle.IncludedChunkIDs, ch.ID)
	}
	bundle.Text = strings.Join(parts, m.cfg.Separator)
	bundle.TotalTokens = m.counter.Count(bundle.Text)
	bundle.ElapsedTime = time.Since(start).Milliseconds()
	m.logger.Debug("generated context",
		zap.Int("candidates", len(results)),
		zap.Int("survivors", len(survivors)),
		zap.Int("included", len(bundle.IncludedChunkIDs)),
		zap.Int("tokens", bundle.TotalTokens))
	return bundle, nil
}

// guard enters optimized memory mode for the duration of a call when the process is over its
// memory target, relieving pressure on the way out.
func (m *Manager) guard(ctx context.Context) func() {
	if m.budget == nil || !m.budget.UnderPressure(ctx) {
		return func() {}
	}
	restore := m.budget.Optimize()
	return func() {
		restore()
		m.budget.Relieve()
	}
}

// Document returns the document with id.
func (m *Manager) Document(id string) (*models.Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	return doc, ok
}

// Documents returns every added document in insertion order.
func (m *Manager) Documents() []*models.Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Document, len(m.order))
	for i, id := range m.order {
		out[i] = m.docs[id]
	}
	return out
}

// Chunks returns every indexed chunk.
func (m *Manager) Chunks() []*models.Chunk {
	return m.retriever.Chunks()
}

// Snapshot reports current memory usage.
func (m *Manager) Snapshot(ctx context.Context) (models.MemorySnapshot, error) {
	return m.budget.Snapshot(ctx)
}

// Close releases the retriever and its embedder.
func (m *Manager) Close() error {
	return m.retriever.Close()
}
