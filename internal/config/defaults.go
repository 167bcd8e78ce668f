package config

import (
	"time"

	"github.com/hyperjump/effctx/internal/embedding"
	"github.com/hyperjump/effctx/internal/loader"
	"github.com/hyperjump/effctx/internal/tokens"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 200
	}
	if cfg.Chunker.MaxChunkSize == 0 {
		cfg.Chunker.MaxChunkSize = 2 * cfg.Chunker.ChunkSize
	}

	if cfg.Compression.Threshold == 0 {
		cfg.Compression.Threshold = 0.85
	}
	if cfg.Compression.MinSentenceLength == 0 {
		cfg.Compression.MinSentenceLength = 4
	}
	if cfg.Compression.Scorer == "" {
		cfg.Compression.Scorer = "default"
	}

	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = embedding.ModelLightweight
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = embedding.DefaultDimensions
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	// Both components default to the shared provider.
	if cfg.Compression.EmbeddingModel == "" {
		cfg.Compression.EmbeddingModel = cfg.Embedding.Model
	}
	if cfg.Retrieval.EmbeddingModel == "" {
		cfg.Retrieval.EmbeddingModel = cfg.Embedding.Model
	}

	if cfg.Retrieval.SimilarityMetric == "" {
		cfg.Retrieval.SimilarityMetric = "cosine"
	}
	if cfg.Retrieval.IndexType == "" {
		cfg.Retrieval.IndexType = "memory"
	}
	if cfg.Retrieval.BatchSize == 0 {
		cfg.Retrieval.BatchSize = 32
	}
	if cfg.Retrieval.MaxIndexSize == 0 {
		cfg.Retrieval.MaxIndexSize = 100000
	}

	if cfg.Memory.TargetUsagePercent == 0 {
		cfg.Memory.TargetUsagePercent = 80
	}
	if cfg.Memory.MonitorInterval == 0 {
		cfg.Memory.MonitorInterval = 10 * time.Second
	}

	if cfg.Context.MaxContextSize == 0 {
		cfg.Context.MaxContextSize = 2000
	}
	if cfg.Context.TopK == 0 {
		cfg.Context.TopK = 10
	}
	if cfg.Context.Separator == "" {
		cfg.Context.Separator = "\n\n"
	}

	if cfg.Tokens.Counter == "" {
		cfg.Tokens.Counter = tokens.KindWords
	}
	if cfg.Tokens.Encoding == "" {
		cfg.Tokens.Encoding = "cl100k_base"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = append([]string(nil), loader.DefaultExtensions...)
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
