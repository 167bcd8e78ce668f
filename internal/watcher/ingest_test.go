package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/effctx/internal/contextmgr"
	"github.com/hyperjump/effctx/internal/loader"
	"github.com/hyperjump/effctx/internal/models"
)

type memorySink struct {
	mu   sync.Mutex
	docs map[string]*models.Document
	fail error
}

func newMemorySink() *memorySink {
	return &memorySink{docs: make(map[string]*models.Document)}
}

func (s *memorySink) AddDocuments(_ context.Context, inputs []models.DocumentInput) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	var ids []string
	for _, in := range inputs {
		if _, ok := s.docs[in.ID]; ok {
			return ids, contextmgr.ErrDuplicateDocument
		}
		s.docs[in.ID] = &models.Document{ID: in.ID, Content: in.Content, Metadata: in.Metadata}
		ids = append(ids, in.ID)
	}
	return ids, nil
}

func (s *memorySink) Document(id string) (*models.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	return d, ok
}

func TestIngester_Ingest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := writeFile(path, "Alpha beta gamma."); err != nil {
		t.Fatal(err)
	}
	sink := newMemorySink()
	in := NewIngester(loader.New(), sink, nil)

	added, err := in.Ingest(context.Background(), path)
	if err != nil || !added {
		t.Fatalf("Ingest = %v, %v", added, err)
	}
	doc, ok := sink.Document(loader.DocumentID(path))
	if !ok || doc.Content != "Alpha beta gamma." {
		t.Fatalf("document not stored: %+v", doc)
	}
	if doc.Metadata["source_path"] != path {
		t.Errorf("source_path = %v", doc.Metadata["source_path"])
	}

	if err := writeFile(path, "Rewritten."); err != nil {
		t.Fatal(err)
	}
	added, err = in.Ingest(context.Background(), path)
	if err != nil || added {
		t.Errorf("a second ingest of the same path should be skipped, got %v, %v", added, err)
	}
}

func TestIngester_IngestErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := writeFile(path, "text"); err != nil {
		t.Fatal(err)
	}
	sink := newMemorySink()
	sink.fail = errors.New("index full")
	in := NewIngester(loader.New(), sink, nil)
	if _, err := in.Ingest(context.Background(), path); err == nil {
		t.Error("expected sink failure to surface")
	}
	if _, err := in.Ingest(context.Background(), filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for a missing file")
	}
	in.Handle(context.Background(), path)
}

func TestIngester_IngestDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.md", "sub/c.txt"} {
		if err := writeFile(filepath.Join(dir, name), "content of "+name); err != nil {
			t.Fatal(err)
		}
	}
	sink := newMemorySink()
	in := NewIngester(loader.New(), sink, nil)
	if _, err := in.Ingest(context.Background(), filepath.Join(dir, "a.txt")); err != nil {
		t.Fatal(err)
	}

	ids, err := in.IngestDir(context.Background(), dir, true)
	if err != nil {
		t.Fatalf("IngestDir: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected the two new files, got %v", ids)
	}
	ids, err = in.IngestDir(context.Background(), dir, true)
	if err != nil || len(ids) != 0 {
		t.Errorf("second pass should add nothing, got %v, %v", ids, err)
	}
}

func TestIngester_WithWatcher(t *testing.T) {
	dir := t.TempDir()
	sink := newMemorySink()
	in := NewIngester(loader.New(), sink, nil)
	w := New([]string{dir}, true, in.Accepts, in.Handle, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "notes.md")
	if err := writeFile(path, "# Notes\n\nWatched content."); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := sink.Document(loader.DocumentID(path)); ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("watched file should be ingested")
}
