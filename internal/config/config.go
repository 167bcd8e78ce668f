// Package config provides configuration loading and structs for the effctx pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/effctx/internal/chunker"
	"github.com/hyperjump/effctx/internal/compress"
	"github.com/hyperjump/effctx/internal/contextmgr"
	"github.com/hyperjump/effctx/internal/embedding"
	"github.com/hyperjump/effctx/internal/errs"
	"github.com/hyperjump/effctx/internal/memory"
	"github.com/hyperjump/effctx/internal/retrieval"
	"github.com/hyperjump/effctx/internal/tokens"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Compression CompressionConfig `yaml:"compression"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Memory      MemoryConfig      `yaml:"memory"`
	Context     ContextConfig     `yaml:"context"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Tokens      TokensConfig      `yaml:"tokens"`
	Server      ServerConfig      `yaml:"server"`
	Watch       WatchConfig       `yaml:"watch"`
}

// ChunkerConfig holds chunking settings, in word tokens. Unset overlap and minimum size follow
// chunk_size, so an explicit 0 is kept.
type ChunkerConfig struct {
	ChunkSize         int   `yaml:"chunk_size"`
	ChunkOverlap      *int  `yaml:"chunk_overlap"`
	RespectParagraphs *bool `yaml:"respect_paragraphs"`
	MinChunkSize      *int  `yaml:"min_chunk_size"`
	MaxChunkSize      int   `yaml:"max_chunk_size"`
}

// OverlapOrDefault returns chunk_overlap, or a tenth of chunk_size when unset.
func (c ChunkerConfig) OverlapOrDefault() int {
	if c.ChunkOverlap == nil {
		return c.ChunkSize / 10
	}
	return *c.ChunkOverlap
}

// MinChunkSizeOrDefault returns min_chunk_size, or a quarter of chunk_size when unset.
func (c ChunkerConfig) MinChunkSizeOrDefault() int {
	if c.MinChunkSize == nil {
		return c.ChunkSize / 4
	}
	return *c.MinChunkSize
}

// Chunker returns the chunker configuration; respect_paragraphs defaults to true.
func (c ChunkerConfig) Chunker() chunker.Config {
	return chunker.Config{
		ChunkSize:         c.ChunkSize,
		ChunkOverlap:      c.OverlapOrDefault(),
		RespectParagraphs: c.RespectParagraphs == nil || *c.RespectParagraphs,
		MinChunkSize:      c.MinChunkSizeOrDefault(),
		MaxChunkSize:      c.MaxChunkSize,
	}
}

// CompressionConfig holds deduplication settings.
type CompressionConfig struct {
	Threshold         float64  `yaml:"threshold"`
	EmbeddingModel    string   `yaml:"embedding_model"`
	MinSentenceLength int      `yaml:"min_sentence_length"`
	ImportanceWeight  *float64 `yaml:"importance_weight"`
	// Scorer selects importance scoring: "default" (a keyword, position and length blend) or one of
	// "keyword", "position", "length".
	Scorer string `yaml:"scorer"`
}

// Compressor returns the compressor configuration; importance_weight defaults to 0.7.
func (c CompressionConfig) Compressor() compress.Config {
	w := 0.7
	if c.ImportanceWeight != nil {
		w = *c.ImportanceWeight
	}
	return compress.Config{
		Threshold:         c.Threshold,
		EmbeddingModel:    c.EmbeddingModel,
		MinSentenceLength: c.MinSentenceLength,
		ImportanceWeight:  w,
	}
}

// RetrievalConfig holds retrieval index settings.
type RetrievalConfig struct {
	EmbeddingModel   string `yaml:"embedding_model"`
	SimilarityMetric string `yaml:"similarity_metric"`
	IndexType        string `yaml:"index_type"`
	UseBatching      *bool  `yaml:"use_batching"`
	BatchSize        int    `yaml:"batch_size"`
	MaxIndexSize     int    `yaml:"max_index_size"`
}

// Retriever returns the retrieval configuration; use_batching defaults to true.
func (c RetrievalConfig) Retriever() retrieval.Config {
	return retrieval.Config{
		EmbeddingModel:   c.EmbeddingModel,
		SimilarityMetric: c.SimilarityMetric,
		IndexType:        c.IndexType,
		UseBatching:      c.UseBatching == nil || *c.UseBatching,
		BatchSize:        c.BatchSize,
		MaxIndexSize:     c.MaxIndexSize,
	}
}

// MemoryConfig holds memory budget settings.
type MemoryConfig struct {
	TargetUsagePercent float64       `yaml:"target_usage_percent"`
	AggressiveCleanup  bool          `yaml:"aggressive_cleanup"`
	MonitorInterval    time.Duration `yaml:"memory_monitor_interval"`
}

// Budgeter returns the memory budgeter configuration.
func (c MemoryConfig) Budgeter() memory.Config {
	return memory.Config{
		TargetUsagePercent: c.TargetUsagePercent,
		AggressiveCleanup:  c.AggressiveCleanup,
		MonitorInterval:    c.MonitorInterval,
	}
}

// ContextConfig holds context assembly settings.
type ContextConfig struct {
	MaxContextSize int    `yaml:"max_context_size"`
	TopK           int    `yaml:"top_k"`
	Separator      string `yaml:"separator"`
	DedupeOnIngest bool   `yaml:"dedupe_on_ingest"`
	Parallelism    int    `yaml:"parallelism"`
}

// Manager returns the orchestrator configuration.
func (c ContextConfig) Manager() contextmgr.Config {
	return contextmgr.Config{
		MaxContextSize: c.MaxContextSize,
		TopK:           c.TopK,
		Separator:      c.Separator,
		DedupeOnIngest: c.DedupeOnIngest,
		Parallelism:    c.Parallelism,
	}
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Model      string `yaml:"model"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// Provider returns the embedding factory configuration.
func (c EmbeddingConfig) Provider() embedding.Config {
	return embedding.Config{
		Model:      c.Model,
		ModelPath:  c.ModelPath,
		Dimensions: c.Dimensions,
		MaxTokens:  c.MaxTokens,
		CacheSize:  c.CacheSize,
	}
}

// TokensConfig selects how context budgets are measured.
type TokensConfig struct {
	Counter  string `yaml:"counter"`
	Encoding string `yaml:"encoding"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads and parses the config file at path, expands paths, applies defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks every section; failures are ConfigurationErrors.
func (c *Config) Validate() error {
	checks := []func() error{
		c.Chunker.Chunker().Validate,
		c.Compression.Compressor().Validate,
		c.Retrieval.Retriever().Validate,
		c.Memory.Budgeter().Validate,
		c.Context.Manager().Validate,
		c.validateEmbedding,
		c.validateScorer,
		c.validateTokens,
		c.validateServer,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateEmbedding() error {
	for _, section := range []struct{ field, model string }{
		{"embedding.model", c.Embedding.Model},
		{"compression.embedding_model", c.Compression.EmbeddingModel},
		{"retrieval.embedding_model", c.Retrieval.EmbeddingModel},
	} {
		switch strings.ToLower(section.model) {
		case embedding.ModelLightweight, embedding.ModelONNX:
		default:
			return errs.Configf("config", section.field, "unknown provider %q (supported: lightweight, onnx)", section.model)
		}
	}
	if !strings.EqualFold(c.Compression.EmbeddingModel, c.Retrieval.EmbeddingModel) {
		return errs.Configf("config", "compression.embedding_model", "%q must match retrieval.embedding_model %q so similarities share a vector space",
			c.Compression.EmbeddingModel, c.Retrieval.EmbeddingModel)
	}
	if c.Embedding.Dimensions <= 0 {
		return errs.Configf("config", "embedding.dimensions", "must be positive, got %d", c.Embedding.Dimensions)
	}
	return nil
}

func (c *Config) validateScorer() error {
	switch c.Compression.Scorer {
	case "default", "position", "length", "keyword":
		return nil
	default:
		return errs.Configf("config", "compression.scorer", "unknown scorer %q (supported: default, position, length, keyword)", c.Compression.Scorer)
	}
}

func (c *Config) validateTokens() error {
	switch c.Tokens.Counter {
	case tokens.KindWords, tokens.KindTiktoken:
		return nil
	default:
		return errs.Configf("config", "tokens.counter", "unknown counter %q (supported: words, tiktoken)", c.Tokens.Counter)
	}
}

func (c *Config) validateServer() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errs.Configf("config", "server.port", "out of range: %d", c.Server.Port)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, strings.TrimPrefix(path, "~/"))
	}
	return path
}
