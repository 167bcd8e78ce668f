package watcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/effctx/internal/contextmgr"
	"github.com/hyperjump/effctx/internal/loader"
	"github.com/hyperjump/effctx/internal/models"
	"go.uber.org/zap"
)

// DocumentSink receives loaded documents. *contextmgr.Manager implements it.
type DocumentSink interface {
	AddDocuments(ctx context.Context, inputs []models.DocumentInput) ([]string, error)
	Document(id string) (*models.Document, bool)
}

// Ingester loads files and adds each as a document, once per path.
type Ingester struct {
	loader *loader.Loader
	sink   DocumentSink
	logger *zap.Logger
}

// NewIngester creates an ingester reading files with ld into sink.
func NewIngester(ld *loader.Loader, sink DocumentSink, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{loader: ld, sink: sink, logger: logger}
}

// Accepts reports whether the ingester reads path.
func (in *Ingester) Accepts(path string) bool {
	return in.loader.Accepts(path)
}

// Ingest adds the file at path. It reports added=false without error when a document for the
// path already exists, since documents are immutable once added.
func (in *Ingester) Ingest(ctx context.Context, path string) (added bool, err error) {
	if _, ok := in.sink.Document(loader.DocumentID(path)); ok {
		in.logger.Debug("file already ingested", zap.String("path", path))
		return false, nil
	}
	doc, err := in.loader.Load(path)
	if err != nil {
		return false, err
	}
	if _, err := in.sink.AddDocuments(ctx, []models.DocumentInput{doc}); err != nil {
		if errors.Is(err, contextmgr.ErrDuplicateDocument) {
			return false, nil
		}
		return false, fmt.Errorf("ingest %s: %w", path, err)
	}
	in.logger.Info("ingested file", zap.String("path", path), zap.String("document_id", doc.ID))
	return true, nil
}

// Handle is a Handler that logs ingestion failures.
func (in *Ingester) Handle(ctx context.Context, path string) {
	if _, err := in.Ingest(ctx, path); err != nil {
		in.logger.Warn("failed to ingest file", zap.String("path", path), zap.Error(err))
	}
}

// IngestDir loads every accepted file under root that is not yet ingested and adds them as one
// batch. It returns the new document ids.
func (in *Ingester) IngestDir(ctx context.Context, root string, recursive bool) ([]string, error) {
	docs, err := in.loader.LoadDir(ctx, root, recursive)
	if err != nil {
		return nil, err
	}
	fresh := docs[:0]
	for _, d := range docs {
		if _, ok := in.sink.Document(d.ID); !ok {
			fresh = append(fresh, d)
		}
	}
	if len(fresh) == 0 {
		return nil, nil
	}
	ids, err := in.sink.AddDocuments(ctx, fresh)
	if err != nil {
		return ids, fmt.Errorf("ingest %s: %w", root, err)
	}
	in.logger.Info("ingested directory", zap.String("root", root), zap.Int("documents", len(ids)))
	return ids, nil
}
