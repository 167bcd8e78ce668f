//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/effctx/internal/errs"
	"github.com/hyperjump/effctx/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
)

// onnxIO holds the tensors bound to a session. Inputs follow onnxInputNames.
type onnxIO struct {
	inputs []*ort.Tensor[int64]
	output *ort.Tensor[float32]
}

func newONNXIO(maxTokens, dimensions int) (*onnxIO, error) {
	io := &onnxIO{}
	for _, name := range onnxInputNames {
		t, err := ort.NewTensor(ort.NewShape(1, int64(maxTokens)), make([]int64, maxTokens))
		if err != nil {
			io.destroy()
			return nil, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
		io.inputs = append(io.inputs, t)
	}
	out, err := ort.NewTensor(ort.NewShape(1, int64(dimensions)), make([]float32, dimensions))
	if err != nil {
		io.destroy()
		return nil, fmt.Errorf("failed to create %s tensor: %w", onnxOutputName, err)
	}
	io.output = out
	return io, nil
}

func (io *onnxIO) bindings() ([]ort.ArbitraryTensor, []ort.ArbitraryTensor) {
	in := make([]ort.ArbitraryTensor, len(io.inputs))
	for i, t := range io.inputs {
		in[i] = t
	}
	return in, []ort.ArbitraryTensor{io.output}
}

// load copies the encoded ids, mask and segment ids into the input tensors.
func (io *onnxIO) load(values ...[]int64) {
	for i, v := range values {
		copy(io.inputs[i].GetData(), v)
	}
}

func (io *onnxIO) destroy() {
	for _, t := range io.inputs {
		_ = t.Destroy()
	}
	io.inputs = nil
	if io.output != nil {
		_ = io.output.Destroy()
		io.output = nil
	}
}

// ONNXEmbedder is the full-size provider: a BERT-style sentence model run through ONNX Runtime.
// It requires CGO and the onnxruntime shared library. Wrap it with NewCachedEmbedder for caching.
type ONNXEmbedder struct {
	session    *ort.AdvancedSession
	io         *onnxIO
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer
	mu         sync.Mutex
}

// NewONNXEmbedder loads the model at modelPath. The output node must be a pooled
// [1, dimensions] tensor.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if err := checkModel(modelPath, dimensions); err != nil {
		return nil, err
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	io, err := newONNXIO(maxTokens, dimensions)
	if err != nil {
		return nil, err
	}
	inputs, outputs := io.bindings()
	session, err := ort.NewAdvancedSession(modelPath, onnxInputNames, []string{onnxOutputName}, inputs, outputs, nil)
	if err != nil {
		io.destroy()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", modelPath, err)
	}

	return &ONNXEmbedder{
		session:    session,
		io:         io,
		dimensions: dimensions,
		maxTokens:  maxTokens,
		tokenizer:  &SimpleTokenizer{},
	}, nil
}

// Embed runs one inference for text. Calls are serialized on the shared tensors.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, errs.Embedding("onnx", fmt.Errorf("embedder closed"))
	}

	e.io.load(e.tokenizer.Tokenize(text, e.maxTokens))
	if err := e.session.Run(); err != nil {
		return nil, errs.Embedding("onnx inference", err)
	}

	out := e.io.output.GetData()
	if len(out) < e.dimensions {
		return nil, errs.DimensionMismatch("onnx inference", len(out), e.dimensions)
	}
	vec := make([]float32, e.dimensions)
	copy(vec, out[:e.dimensions])
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch embeds texts one inference at a time, stopping at the first failure.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and its tensors.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.io != nil {
		e.io.destroy()
		e.io = nil
	}
	return err
}
