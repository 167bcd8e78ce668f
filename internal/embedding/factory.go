package embedding

import (
	"fmt"
	"strings"

	"github.com/hyperjump/effctx/internal/errs"
)

// Provider names accepted by New.
const (
	ModelLightweight = "lightweight"
	ModelONNX        = "onnx"
)

// Config selects and sizes an embedding provider.
type Config struct {
	Model      string
	ModelPath  string
	Dimensions int
	MaxTokens  int
	CacheSize  int
}

// New creates the embedder named by cfg.Model, wrapped in an LRU cache when CacheSize > 0.
func New(cfg Config) (Embedder, error) {
	var base Embedder
	switch strings.ToLower(cfg.Model) {
	case "", ModelLightweight:
		base = NewHashEmbedder(cfg.Dimensions)
	case ModelONNX:
		if cfg.ModelPath == "" {
			return nil, errs.Configf("embedding", "model_path", "required for the %s provider", ModelONNX)
		}
		dims := cfg.Dimensions
		if dims <= 0 {
			dims = DefaultDimensions
		}
		e, err := NewONNXEmbedder(cfg.ModelPath, dims, cfg.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to create ONNX embedder: %w", err)
		}
		base = e
	default:
		return nil, errs.Configf("embedding", "model", "unknown provider %q", cfg.Model)
	}
	if cfg.CacheSize <= 0 {
		return base, nil
	}
	cached, err := NewCachedEmbedder(base, cfg.CacheSize)
	if err != nil {
		_ = base.Close()
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return cached, nil
}
