package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/effctx/internal/chunker"
	"github.com/hyperjump/effctx/internal/compress"
	"github.com/hyperjump/effctx/internal/config"
	"github.com/hyperjump/effctx/internal/contextmgr"
	"github.com/hyperjump/effctx/internal/embedding"
	"github.com/hyperjump/effctx/internal/errs"
	"github.com/hyperjump/effctx/internal/models"
	"github.com/hyperjump/effctx/internal/retrieval"
)

type fakePipeline struct {
	err error
}

func (f *fakePipeline) AddDocuments(context.Context, []models.DocumentInput) ([]string, error) {
	return nil, f.err
}

func (f *fakePipeline) Generate(context.Context, models.ContextRequest) (*models.ContextBundle, error) {
	return nil, f.err
}

func (f *fakePipeline) Document(string) (*models.Document, bool) { return nil, false }

func (f *fakePipeline) Documents() []*models.Document { return nil }

func (f *fakePipeline) Chunks() []*models.Chunk { return nil }

func (f *fakePipeline) Snapshot(context.Context) (models.MemorySnapshot, error) {
	return models.MemorySnapshot{}, f.err
}

type staticWatch []string

func (s staticWatch) Directories() []string { return s }

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	embedder := embedding.NewHashEmbedder(64)
	ch, err := chunker.New(chunker.Config{ChunkSize: 12, ChunkOverlap: 2, RespectParagraphs: true, MinChunkSize: 1, MaxChunkSize: 24})
	if err != nil {
		t.Fatal(err)
	}
	comp, err := compress.New(compress.Config{Threshold: 0.85, MinSentenceLength: 1, ImportanceWeight: 0.7}, embedder, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	ret, err := retrieval.New(retrieval.Config{UseBatching: true, BatchSize: 8, MaxIndexSize: 1000}, embedder)
	if err != nil {
		t.Fatal(err)
	}
	m, err := contextmgr.New(contextmgr.Config{MaxContextSize: 200, TopK: 5}, contextmgr.Deps{Chunker: ch, Compressor: comp, Retriever: ret})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return NewServer(m, comp, &config.ServerConfig{Host: "localhost", Port: 8080}, nil, opts...)
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHealth(t *testing.T) {
	w := do(t, newTestServer(t).Routes(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Errorf("health: %d %s", w.Code, w.Body.String())
	}
}

func TestAddDocumentsAndGenerateContext(t *testing.T) {
	h := newTestServer(t).Routes()

	w := do(t, h, http.MethodPost, "/api/v1/documents", map[string]interface{}{
		"documents": []models.DocumentInput{
			{ID: "solar", Content: "Solar panels convert sunlight into electricity on rooftops."},
			{ID: "wind", Content: "Wind turbines spin blades that drive offshore generators."},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("add documents: %d %s", w.Code, w.Body.String())
	}
	var added struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(w.Body).Decode(&added); err != nil {
		t.Fatal(err)
	}
	if strings.Join(added.IDs, ",") != "solar,wind" {
		t.Errorf("ids = %v", added.IDs)
	}

	w = do(t, h, http.MethodPost, "/api/v1/documents", models.DocumentInput{ID: "hydro", Content: "Dams release water through turbines."})
	if w.Code != http.StatusCreated {
		t.Fatalf("add single document: %d %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodPost, "/api/v1/context", models.ContextRequest{Query: "solar sunlight", MaxContextSize: 10})
	if w.Code != http.StatusOK {
		t.Fatalf("context: %d %s", w.Code, w.Body.String())
	}
	var bundle models.ContextBundle
	if err := json.NewDecoder(w.Body).Decode(&bundle); err != nil {
		t.Fatal(err)
	}
	if bundle.TotalTokens > 10 {
		t.Errorf("bundle exceeds ceiling: %d tokens", bundle.TotalTokens)
	}
	if len(bundle.IncludedChunkIDs) == 0 || bundle.IncludedChunkIDs[0] != "solar_0" {
		t.Errorf("included = %v", bundle.IncludedChunkIDs)
	}
}

func TestDocumentsAndChunks(t *testing.T) {
	h := newTestServer(t).Routes()
	do(t, h, http.MethodPost, "/api/v1/documents", models.DocumentInput{ID: "a", Content: "First sentence here. Second sentence follows it."})
	do(t, h, http.MethodPost, "/api/v1/documents", models.DocumentInput{ID: "b", Content: "Another document entirely."})

	w := do(t, h, http.MethodGet, "/api/v1/documents/a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get document: %d", w.Code)
	}
	if w = do(t, h, http.MethodGet, "/api/v1/documents/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing document: got %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/v1/documents", nil)
	var list struct {
		Documents []documentSummary `json:"documents"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Documents) != 2 || list.Documents[0].ID != "a" {
		t.Errorf("documents = %+v", list.Documents)
	}

	w = do(t, h, http.MethodGet, "/api/v1/chunks?document_id=b", nil)
	var chunks struct {
		Chunks []models.Chunk `json:"chunks"`
		Total  int            `json:"total"`
	}
	if err := json.NewDecoder(w.Body).Decode(&chunks); err != nil {
		t.Fatal(err)
	}
	if chunks.Total != 1 || chunks.Chunks[0].DocumentID != "b" {
		t.Errorf("chunks = %+v", chunks)
	}
}

func TestCompress(t *testing.T) {
	h := newTestServer(t).Routes()
	text := "The reactor cooled overnight. The reactor cooled overnight. Operators logged the readings."
	w := do(t, h, http.MethodPost, "/api/v1/compress", compressRequest{Text: text, TargetSize: 9})
	if w.Code != http.StatusOK {
		t.Fatalf("compress: %d %s", w.Code, w.Body.String())
	}
	var out compressResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.TokensBefore != 12 || out.TokensAfter != 8 {
		t.Errorf("tokens %d -> %d, text %q", out.TokensBefore, out.TokensAfter, out.Text)
	}

	if w = do(t, h, http.MethodPost, "/api/v1/compress", compressRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty text: got %d", w.Code)
	}
}

// charCounter counts runes so its totals differ from word counts.
type charCounter struct{}

func (charCounter) Count(text string) int { return len([]rune(text)) }

func TestCompress_UsesConfiguredCounter(t *testing.T) {
	h := newTestServer(t, WithCounter(charCounter{})).Routes()
	text := "The reactor cooled overnight. The reactor cooled overnight. Operators logged the readings."
	w := do(t, h, http.MethodPost, "/api/v1/compress", compressRequest{Text: text})
	if w.Code != http.StatusOK {
		t.Fatalf("compress: %d %s", w.Code, w.Body.String())
	}
	var out compressResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.TokensBefore != len(text) || out.TokensAfter != len(out.Text) {
		t.Errorf("tokens %d -> %d, want %d -> %d", out.TokensBefore, out.TokensAfter, len(text), len(out.Text))
	}
}

func TestBadRequests(t *testing.T) {
	h := newTestServer(t).Routes()
	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
	}{
		{"malformed document", "/api/v1/documents", "{", http.StatusBadRequest},
		{"empty document", "/api/v1/documents", models.DocumentInput{Content: "  "}, http.StatusBadRequest},
		{"malformed context", "/api/v1/context", "not json", http.StatusBadRequest},
		{"empty query", "/api/v1/context", models.ContextRequest{}, http.StatusBadRequest},
		{"negative ceiling", "/api/v1/context", models.ContextRequest{Query: "q", MaxContextSize: -1}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, h, http.MethodPost, tt.path, tt.body); w.Code != tt.status {
				t.Errorf("got %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
		})
	}
}

func TestDuplicateDocumentConflict(t *testing.T) {
	h := newTestServer(t).Routes()
	doc := models.DocumentInput{ID: "dup", Content: "Some content."}
	do(t, h, http.MethodPost, "/api/v1/documents", doc)
	if w := do(t, h, http.MethodPost, "/api/v1/documents", doc); w.Code != http.StatusConflict {
		t.Errorf("duplicate: got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errs.Configf("retrieval", "similarity_metric", "bad"), http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", &errs.CapacityError{Requested: 5, Capacity: 2}), http.StatusInsufficientStorage},
		{errs.Embedding("embed", errors.New("provider down")), http.StatusBadGateway},
		{fmt.Errorf("x: %w", contextmgr.ErrDuplicateDocument), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestPipelineErrorsMapped(t *testing.T) {
	srv := NewServer(&fakePipeline{err: errs.Embedding("embed", errors.New("down"))}, nil, &config.ServerConfig{}, nil)
	h := srv.Routes()
	if w := do(t, h, http.MethodPost, "/api/v1/context", models.ContextRequest{Query: "q"}); w.Code != http.StatusBadGateway {
		t.Errorf("context: got %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/memory", nil); w.Code != http.StatusInternalServerError {
		t.Errorf("memory: got %d", w.Code)
	}
}

func TestMemory(t *testing.T) {
	w := do(t, newTestServer(t).Routes(), http.MethodGet, "/api/v1/memory", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("memory: %d %s", w.Code, w.Body.String())
	}
	var snap models.MemorySnapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if time.Since(snap.TakenAt) > time.Minute {
		t.Errorf("snapshot should be fresh: %v", snap.TakenAt)
	}
}

func TestWatchDirectories(t *testing.T) {
	if w := do(t, newTestServer(t).Routes(), http.MethodGet, "/api/v1/watch/directories", nil); w.Code != http.StatusNotImplemented {
		t.Errorf("without watch: got %d", w.Code)
	}
	h := newTestServer(t, WithWatch(staticWatch{"/tmp/docs"})).Routes()
	w := do(t, h, http.MethodGet, "/api/v1/watch/directories", nil)
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Directories) != 1 || out.Directories[0] != "/tmp/docs" {
		t.Errorf("directories = %v", out.Directories)
	}
}
