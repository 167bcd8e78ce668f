// Package loader turns files on disk into documents ready for ingestion.
package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hyperjump/effctx/internal/models"
	"go.uber.org/zap"
)

// ErrNoText is returned when a file yields no extractable text.
var ErrNoText = errors.New("no text extracted")

// DefaultExtensions are the formats the loader reads.
var DefaultExtensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".pptx", ".xlsx"}

const idPrefix = "file:"

// DocumentID returns a stable document id for path. The same cleaned absolute path always
// yields the same id.
func DocumentID(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	hash := sha256.Sum256([]byte(filepath.Clean(path)))
	return idPrefix + hex.EncodeToString(hash[:16])
}

// Loader reads documents from files.
type Loader struct {
	extensions []string
	logger     *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(ld *Loader) { ld.logger = l }
}

// WithExtensions restricts LoadDir to files with the given extensions.
func WithExtensions(exts []string) Option {
	return func(ld *Loader) {
		ld.extensions = make([]string, len(exts))
		for i, e := range exts {
			ld.extensions[i] = strings.ToLower(e)
		}
	}
}

// New returns a loader accepting DefaultExtensions unless overridden.
func New(opts ...Option) *Loader {
	ld := &Loader{extensions: DefaultExtensions, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Accepts reports whether path has one of the loader's extensions.
func (ld *Loader) Accepts(path string) bool {
	return slices.Contains(ld.extensions, strings.ToLower(filepath.Ext(path)))
}

// Load reads the file at path and returns it as a document input with a path-derived id.
// Metadata records source_path, file_name, format, size_bytes and modified_at.
func (ld *Loader) Load(path string) (models.DocumentInput, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return models.DocumentInput{}, fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.DocumentInput{}, fmt.Errorf("stat file: %w", err)
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return models.DocumentInput{}, fmt.Errorf("read file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(abs))
	text, err := Text(content, ext)
	if err != nil {
		return models.DocumentInput{}, fmt.Errorf("%s: %w", abs, err)
	}
	if strings.TrimSpace(text) == "" {
		return models.DocumentInput{}, fmt.Errorf("%s: %w", abs, ErrNoText)
	}
	return models.DocumentInput{
		ID:      DocumentID(abs),
		Content: text,
		Metadata: map[string]interface{}{
			"source_path": abs,
			"file_name":   filepath.Base(abs),
			"format":      strings.TrimPrefix(ext, "."),
			"size_bytes":  info.Size(),
			"modified_at": info.ModTime().UTC().Format(time.RFC3339),
		},
	}, nil
}

// LoadDir loads every accepted file under root in lexical order. Files that fail to load are
// logged and skipped. Hidden directories are not entered.
func (ld *Loader) LoadDir(ctx context.Context, root string, recursive bool) ([]models.DocumentInput, error) {
	var docs []models.DocumentInput
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if !recursive || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !ld.Accepts(path) {
			return nil
		}
		doc, err := ld.Load(path)
		if err != nil {
			ld.logger.Warn("skipping file", zap.String("path", path), zap.Error(err))
			return nil
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	ld.logger.Debug("loaded directory", zap.String("root", root), zap.Int("documents", len(docs)))
	return docs, nil
}

// Text extracts plain text from content by extension (with leading dot). Paragraph breaks in
// the source become blank lines. Unknown extensions are read as plain text.
func Text(content []byte, ext string) (string, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return pdfText(content)
	case ".docx":
		return docxText(content)
	case ".pptx":
		return pptxText(content)
	case ".xlsx":
		return xlsxText(content)
	default:
		return plainText(content), nil
	}
}
