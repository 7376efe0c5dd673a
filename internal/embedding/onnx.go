//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/kioku/pkg/utils"
)

// ONNXConfig configures a local sentence-embedding model.
type ONNXConfig struct {
	ModelPath  string
	Dimensions int
	MaxTokens  int
	// LibraryPath points at the onnxruntime shared library when it is not on the default search path.
	LibraryPath string
}

// ONNXEmbedder runs a BERT-style model in-process through ONNX Runtime.
// Inference reuses one set of tensors, so calls are serialized.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	tokenizer  Tokenizer
	dimensions int
	maxTokens  int
	inputs     []*ort.Tensor[int64]
	output     *ort.Tensor[float32]
}

// NewONNXEmbedder loads the model and allocates its input and output tensors.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx: model path is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("onnx: dimensions must be positive")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	if !ort.IsInitialized() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	e := &ONNXEmbedder{tokenizer: &SimpleTokenizer{}, dimensions: cfg.Dimensions, maxTokens: cfg.MaxTokens}
	shape := ort.NewShape(1, int64(cfg.MaxTokens))
	for _, name := range onnxInputNames {
		t, err := ort.NewEmptyTensor[int64](shape)
		if err != nil {
			e.destroyTensors()
			return nil, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
		e.inputs = append(e.inputs, t)
	}
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.Dimensions)))
	if err != nil {
		e.destroyTensors()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	e.output = out

	inputs := make([]ort.ArbitraryTensor, len(e.inputs))
	for i, t := range e.inputs {
		inputs[i] = t
	}
	session, err := ort.NewAdvancedSession(cfg.ModelPath, onnxInputNames, []string{"output"},
		inputs, []ort.ArbitraryTensor{e.output}, nil)
	if err != nil {
		e.destroyTensors()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	e.session = session
	return e, nil
}

var onnxInputNames = []string{"input_ids", "attention_mask", "token_type_ids"}

func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, e, text)
}

// EmbedBatch runs one inference per text, checking ctx between runs.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("onnx: embedder is closed")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids, mask, types := e.tokenizer.Tokenize(text, e.maxTokens)
		copy(e.inputs[0].GetData(), ids)
		copy(e.inputs[1].GetData(), mask)
		copy(e.inputs[2].GetData(), types)
		if err := e.session.Run(); err != nil {
			return nil, fmt.Errorf("inference failed: %w", err)
		}
		v := make([]float32, e.dimensions)
		copy(v, e.output.GetData())
		utils.NormalizeL2(v)
		out[i] = v
	}
	return out, nil
}

func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	e.destroyTensors()
	return err
}

func (e *ONNXEmbedder) destroyTensors() {
	for _, t := range e.inputs {
		_ = t.Destroy()
	}
	e.inputs = nil
	if e.output != nil {
		_ = e.output.Destroy()
		e.output = nil
	}
}
