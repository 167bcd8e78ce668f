// Package server provides the HTTP API for the context pipeline.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/effctx/internal/config"
	"github.com/hyperjump/effctx/internal/models"
	"github.com/hyperjump/effctx/internal/tokens"
	"go.uber.org/zap"
)

// Pipeline is the document and context surface served over HTTP. *contextmgr.Manager
// implements it.
type Pipeline interface {
	AddDocuments(ctx context.Context, inputs []models.DocumentInput) ([]string, error)
	Generate(ctx context.Context, req models.ContextRequest) (*models.ContextBundle, error)
	Document(id string) (*models.Document, bool)
	Documents() []*models.Document
	Chunks() []*models.Chunk
	Snapshot(ctx context.Context) (models.MemorySnapshot, error)
}

// TextCompressor deduplicates free text. *compress.Compressor implements it.
type TextCompressor interface {
	CompressText(ctx context.Context, text string, targetSize int) (string, error)
}

// WatchService lists watched directories.
type WatchService interface {
	Directories() []string
}

// Server is the HTTP server for the context API.
type Server struct {
	pipeline   Pipeline
	compressor TextCompressor
	watch      WatchService
	counter    tokens.Counter
	config     *config.ServerConfig
	logger     *zap.Logger
	server     *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithWatch exposes the watched directories.
func WithWatch(w WatchService) Option {
	return func(s *Server) { s.watch = w }
}

// WithCounter sets the token counter used for compression statistics. Defaults to word counting.
func WithCounter(c tokens.Counter) Option {
	return func(s *Server) {
		if c != nil {
			s.counter = c
		}
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(pipeline Pipeline, compressor TextCompressor, cfg *config.ServerConfig, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		pipeline:   pipeline,
		compressor: compressor,
		counter:    tokens.WordCounter{},
		config:     cfg,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the API router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents", s.handleAddDocuments)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Get("/chunks", s.handleListChunks)
		r.Post("/context", s.handleContext)
		r.Post("/compress", s.handleCompress)
		r.Get("/memory", s.handleMemory)
		r.Get("/watch/directories", s.handleWatchDirectories)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
