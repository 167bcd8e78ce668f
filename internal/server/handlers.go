package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/effctx/internal/contextmgr"
	"github.com/hyperjump/effctx/internal/errs"
	"github.com/hyperjump/effctx/internal/models"
	"go.uber.org/zap"
)

// addDocumentsRequest accepts a single document or a batch under "documents".
type addDocumentsRequest struct {
	models.DocumentInput
	Documents []models.DocumentInput `json:"documents,omitempty"`
}

type documentSummary struct {
	ID        string                 `json:"id"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	Length    int                    `json:"length"`
}

type compressRequest struct {
	Text       string `json:"text"`
	TargetSize int    `json:"target_size,omitempty"`
}

type compressResponse struct {
	Text         string `json:"text"`
	TokensBefore int    `json:"tokens_before"`
	TokensAfter  int    `json:"tokens_after"`
}

func (s *Server) handleAddDocuments(w http.ResponseWriter, r *http.Request) {
	var req addDocumentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	inputs := req.Documents
	if len(inputs) == 0 {
		inputs = []models.DocumentInput{req.DocumentInput}
	}
	s.logger.Debug("add documents request", zap.Int("documents", len(inputs)))
	ids, err := s.pipeline.AddDocuments(r.Context(), inputs)
	if err != nil {
		s.logger.Error("adding documents failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"ids": ids, "status": "indexed"})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs := s.pipeline.Documents()
	out := make([]documentSummary, len(docs))
	for i, d := range docs {
		out[i] = documentSummary{ID: d.ID, Metadata: d.Metadata, CreatedAt: d.CreatedAt, Length: len(d.Content)}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": out})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.pipeline.Document(chi.URLParam(r, "id"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleListChunks(w http.ResponseWriter, r *http.Request) {
	docID := r.URL.Query().Get("document_id")
	chunks := []*models.Chunk{}
	for _, ch := range s.pipeline.Chunks() {
		if docID == "" || ch.DocumentID == docID {
			chunks = append(chunks, ch)
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"chunks": chunks, "total": len(chunks)})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req models.ContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("context request", zap.String("query", req.Query), zap.Int("max_context_size", req.MaxContextSize))
	bundle, err := s.pipeline.Generate(r.Context(), req)
	if err != nil {
		s.logger.Error("context generation failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	var req compressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" || req.TargetSize < 0 {
		s.respondError(w, http.StatusBadRequest, "text is required and target_size cannot be negative")
		return
	}
	out, err := s.compressor.CompressText(r.Context(), req.Text, req.TargetSize)
	if err != nil {
		s.logger.Error("compression failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, compressResponse{
		Text:         out,
		TokensBefore: s.counter.Count(req.Text),
		TokensAfter:  s.counter.Count(out),
	})
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	snap, err := s.pipeline.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("memory snapshot failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleWatchDirectories(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errs.IsConfiguration(err), errors.Is(err, contextmgr.ErrEmptyDocument):
		return http.StatusBadRequest
	case errors.Is(err, contextmgr.ErrDuplicateDocument):
		return http.StatusConflict
	case errs.IsCapacity(err):
		return http.StatusInsufficientStorage
	case errs.IsEmbedding(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
