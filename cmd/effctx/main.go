// Package main is the effctx CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/effctx/internal/chunker"
	"github.com/hyperjump/effctx/internal/cli"
	"github.com/hyperjump/effctx/internal/compress"
	"github.com/hyperjump/effctx/internal/config"
	"github.com/hyperjump/effctx/internal/contextmgr"
	"github.com/hyperjump/effctx/internal/embedding"
	"github.com/hyperjump/effctx/internal/importance"
	"github.com/hyperjump/effctx/internal/loader"
	"github.com/hyperjump/effctx/internal/memory"
	"github.com/hyperjump/effctx/internal/models"
	"github.com/hyperjump/effctx/internal/retrieval"
	"github.com/hyperjump/effctx/internal/server"
	"github.com/hyperjump/effctx/internal/tokens"
	"github.com/hyperjump/effctx/internal/watcher"
	"github.com/hyperjump/effctx/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/effctx/config.yaml"

// loadConfig loads config from path. When path is the default and does not exist, it looks
// for config.yaml in the current directory, then falls back to built-in defaults. Returns the
// config and the path that was loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "serve", "server":
		runServe()
	case "context":
		runContext()
	case "compress":
		runCompress()
	case "ingest":
		runIngest()
	case "chunks":
		runChunks()
	case "memory":
		runMemory()
	case "version", "--version", "-v":
		fmt.Printf("effctx version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config and builds a logger, exiting on failure.
func setup(configPath string, debug bool) (*config.Config, string, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, resolved, logger
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolved, logger := setup(*configPath, *debug)
	defer logger.Sync()
	logger.Info("config loaded", zap.String("config_path", resolved), zap.Bool("debug", cfg.Debug || *debug))

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go components.Budgeter.Monitor(ctx)

	var opts []server.Option
	if len(cfg.Watch.Directories) > 0 {
		w := watcher.New(cfg.Watch.Directories, cfg.Watch.RecursiveOrDefault(),
			components.Ingester.Accepts, components.Ingester.Handle, watcher.WithLogger(logger))
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
		go w.SyncExistingFiles(ctx)
		opts = append(opts, server.WithWatch(w))
	}

	opts = append(opts, server.WithCounter(components.Counter))
	srv := server.NewServer(components.Manager, components.Compressor, &cfg.Server, logger, opts...)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// argsReorder moves flags (and their values) that appear after positional arguments to the
// front so flag.Parse sees them; the flag package stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 1 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildQuery joins positional args so multi-word queries work with or without quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runContext() {
	fs := flag.NewFlagSet("context", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL; empty builds a local pipeline from --docs")
	docs := fs.String("docs", "", "comma-separated files or directories to ingest (local mode)")
	maxSize := fs.Int("max", 0, "token ceiling for the context (0 = config max_context_size)")
	topK := fs.Int("top-k", 0, "candidate chunks to retrieve (0 = config top_k)")
	output := fs.String("output", "text", "output format: text, json or raw")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	query := buildQuery(fs.Args())
	if query == "" {
		fmt.Fprintln(os.Stderr, "Usage: effctx context [flags] <query>")
		fs.PrintDefaults()
		os.Exit(1)
	}
	format, err := cli.ParseFormat(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	req := models.ContextRequest{Query: query, MaxContextSize: *maxSize, TopK: *topK}

	var bundle *models.ContextBundle
	if *serverURL != "" {
		bundle = new(models.ContextBundle)
		err = postJSON(*serverURL+"/api/v1/context", req, bundle)
	} else {
		bundle, err = contextLocal(*configPath, *debug, splitList(*docs), req)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Context generation failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteBundle(os.Stdout, bundle, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func contextLocal(configPath string, debug bool, paths []string, req models.ContextRequest) (*models.ContextBundle, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("--docs is required without --server")
	}
	cfg, _, logger := setup(configPath, debug)
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	defer components.Close()

	ctx := context.Background()
	if err := ingestPaths(ctx, components.Ingester, paths); err != nil {
		return nil, err
	}
	return components.Manager.Generate(ctx, req)
}

// ingestPaths adds files and directory trees, skipping paths already ingested.
func ingestPaths(ctx context.Context, in *watcher.Ingester, paths []string) error {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		if info.IsDir() {
			if _, err := in.IngestDir(ctx, p, true); err != nil {
				return err
			}
			continue
		}
		if _, err := in.Ingest(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func runCompress() {
	fs := flag.NewFlagSet("compress", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	target := fs.Int("target", 0, "target size in tokens (0 = remove all redundancy)")
	threshold := fs.Float64("threshold", 0, "similarity threshold override (0 = config)")
	output := fs.String("output", "text", "output format: text, json or raw")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	format, err := cli.ParseFormat(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	text, err := readInput(fs.Arg(0), os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read input: %v\n", err)
		os.Exit(1)
	}
	cfg, _, logger := setup(*configPath, *debug)
	defer logger.Sync()
	if *threshold > 0 {
		cfg.Compression.Threshold = *threshold
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	out, err := components.Compressor.CompressText(context.Background(), text, *target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Compression failed: %v\n", err)
		os.Exit(1)
	}
	res := cli.CompressionResult{
		Text:         out,
		TokensBefore: components.Counter.Count(text),
		TokensAfter:  components.Counter.Count(out),
	}
	if err := cli.WriteCompression(os.Stdout, res, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// readInput returns the extracted text of the file at path, or all of stdin when path is
// empty or "-".
func readInput(path string, stdin io.Reader) (string, error) {
	if path == "" || path == "-" {
		b, err := io.ReadAll(stdin)
		return string(b), err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return loader.Text(content, filepath.Ext(path))
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	recursive := fs.Bool("recursive", true, "descend into subdirectories")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: effctx ingest [flags] <file|dir>...")
		fs.PrintDefaults()
		os.Exit(1)
	}

	ld := loader.New()
	var inputs []models.DocumentInput
	for _, p := range fs.Args() {
		info, err := os.Stat(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", p, err)
			os.Exit(1)
		}
		if info.IsDir() {
			docs, err := ld.LoadDir(context.Background(), p, *recursive)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", p, err)
				os.Exit(1)
			}
			inputs = append(inputs, docs...)
			continue
		}
		doc, err := ld.Load(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", p, err)
			os.Exit(1)
		}
		inputs = append(inputs, doc)
	}
	var out struct {
		IDs []string `json:"ids"`
	}
	if err := postJSON(*serverURL+"/api/v1/documents", map[string]interface{}{"documents": inputs}, &out); err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Ingested %d documents\n", len(out.IDs))
}

func runChunks() {
	fs := flag.NewFlagSet("chunks", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	preview := fs.Int("preview", 80, "characters of content to show per chunk")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	format, err := cli.ParseFormat(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	text, err := readInput(fs.Arg(0), os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read input: %v\n", err)
		os.Exit(1)
	}
	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	ch, err := chunker.New(cfg.Chunker.Chunker(), chunker.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize chunker: %v\n", err)
		os.Exit(1)
	}
	docID := "stdin"
	if p := fs.Arg(0); p != "" && p != "-" {
		docID = loader.DocumentID(p)
	}
	if err := cli.WriteChunks(os.Stdout, ch.Chunk(text, docID, nil), *preview, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runMemory() {
	fs := flag.NewFlagSet("memory", flag.ExitOnError)
	serverURL := fs.String("server", "", "server URL; empty samples this process")
	_ = fs.Parse(os.Args[2:])

	var snap models.MemorySnapshot
	if *serverURL != "" {
		if err := getJSON(*serverURL+"/api/v1/memory", &snap); err != nil {
			fmt.Fprintf(os.Stderr, "Memory request failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		b, err := memory.New(config.Default().Memory.Budgeter(), nil)
		if err == nil {
			snap, err = b.Snapshot(context.Background())
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Memory sample failed: %v\n", err)
			os.Exit(1)
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(snap)
}

func postJSON(url string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, out)
}

func getJSON(url string, out interface{}) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Components holds initialized services.
type Components struct {
	Embedder   embedding.Embedder
	Counter    tokens.Counter
	Budgeter   *memory.Budgeter
	Compressor *compress.Compressor
	Retriever  *retrieval.Retriever
	Manager    *contextmgr.Manager
	Ingester   *watcher.Ingester
}

// Close releases the retriever and the embedder it shares with the compressor.
func (c *Components) Close() {
	switch {
	case c.Manager != nil:
		_ = c.Manager.Close()
	case c.Retriever != nil:
		_ = c.Retriever.Close()
	case c.Embedder != nil:
		_ = c.Embedder.Close()
	}
}

func newScorer(name string) (importance.Scorer, error) {
	switch name {
	case "position":
		return importance.PositionScorer{Floor: 0.5}, nil
	case "length":
		return importance.LengthScorer{}, nil
	case "keyword":
		return importance.NewKeywordScorer("")
	default:
		return importance.Default()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	embedder, err := embedding.New(cfg.Embedding.Provider())
	if err != nil && strings.EqualFold(cfg.Embedding.Model, embedding.ModelONNX) {
		logger.Warn("onnx embedder unavailable, falling back to lightweight", zap.Error(err))
		fallback := cfg.Embedding.Provider()
		fallback.Model = embedding.ModelLightweight
		embedder, err = embedding.New(fallback)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c := &Components{Embedder: embedder}

	c.Counter, err = tokens.New(cfg.Tokens.Counter, cfg.Tokens.Encoding)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize token counter: %w", err)
	}
	c.Budgeter, err = memory.New(cfg.Memory.Budgeter(), nil, memory.WithLogger(logger))
	if err != nil {
		c.Close()
		return nil, err
	}
	if cached, ok := embedder.(*embedding.CachedEmbedder); ok {
		c.Budgeter.RegisterReleaser(cached.Purge)
	}

	scorer, err := newScorer(cfg.Compression.Scorer)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize importance scorer: %w", err)
	}
	c.Compressor, err = compress.New(cfg.Compression.Compressor(), embedder, scorer, c.Counter,
		compress.WithLogger(logger), compress.WithBatchSizer(c.Budgeter.BatchSize))
	if err != nil {
		c.Close()
		return nil, err
	}
	ch, err := chunker.New(cfg.Chunker.Chunker(), chunker.WithLogger(logger))
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Retriever, err = retrieval.New(cfg.Retrieval.Retriever(), embedder,
		retrieval.WithLogger(logger), retrieval.WithBatchSizer(c.Budgeter.BatchSize))
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Manager, err = contextmgr.New(cfg.Context.Manager(), contextmgr.Deps{
		Chunker:    ch,
		Compressor: c.Compressor,
		Retriever:  c.Retriever,
		Budgeter:   c.Budgeter,
		Counter:    c.Counter,
	}, contextmgr.WithLogger(logger))
	if err != nil {
		c.Close()
		return nil, err
	}
	loaderOpts := []loader.Option{loader.WithLogger(logger)}
	if len(cfg.Watch.Extensions) > 0 {
		loaderOpts = append(loaderOpts, loader.WithExtensions(cfg.Watch.Extensions))
	}
	ld := loader.New(loaderOpts...)
	c.Ingester = watcher.NewIngester(ld, c.Manager, logger)
	return c, nil
}

func printUsage() {
	fmt.Println(`effctx - Token-bounded context assembly for language models

Usage:
  effctx serve [flags]                Start the HTTP server (and directory watcher)
  effctx context [flags] <query>      Assemble a context for a query
  effctx compress [flags] [file|-]    Remove redundant sentences from text
  effctx ingest [flags] <path>...     Send files or directories to a running server
  effctx chunks [flags] [file|-]      Show how a document is chunked
  effctx memory [flags]               Show a memory snapshot
  effctx version                      Show version
  effctx help                         Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/effctx/config.yaml, then ./config.yaml)
  --debug            Enable debug logging

Context Flags:
  --server string    Server URL; empty builds a local pipeline from --docs
  --docs string      Comma-separated files or directories to ingest (local mode)
  --max int          Token ceiling (default from config)
  --top-k int        Candidate chunks to retrieve (default from config)
  --output string    text, json or raw (default: text)

Compress Flags:
  --target int       Target size in tokens (0 removes all redundancy)
  --threshold float  Similarity threshold override
  --output string    text, json or raw

Examples:
  effctx serve
  effctx context --docs ./notes "how do solar panels work"
  effctx context --server http://localhost:8080 --max 500 --output raw "wind power"
  cat report.txt | effctx compress --target 300
  effctx ingest ./docs
  effctx chunks --preview 40 report.md`)
}
