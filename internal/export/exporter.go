// Package export drives the single-shot conversion: load the
// pretrained encoder and tokenizer, run the masked mean-pooling
// computation once on a fixed sample sentence, and serialize the
// recorded result together with the graph into a portable bundle.
package export

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/embedkit/sentence-export/internal/bundle"
	"github.com/embedkit/sentence-export/internal/pooling"
)

// Model is the forward pass of the loaded encoder graph.
type Model interface {
	// Forward returns the flattened output buffer for a [B][T] batch:
	// [B*T*H] token states, or [B*H] when the graph pools internally.
	Forward(ctx context.Context, ids, mask [][]int64) ([]float32, error)
	HiddenSize() int
	PooledOutput() bool
}

// Tokenizer turns texts into padded id/mask batches.
type Tokenizer interface {
	EncodeBatch(texts []string, maxLen int) ([][]int64, [][]int64, int, error)
}

// Options configures one export run.
type Options struct {
	// ModelName labels the bundle manifest, e.g. "all-MiniLM-L12-v2".
	ModelName string
	// GraphPath and TokenizerPath are the pretrained files to package.
	GraphPath     string
	TokenizerPath string
	// SampleText is tokenized and run once to record the trace.
	SampleText string
	// OutputPath receives the bundle.
	OutputPath string
	// MaxSeqLen caps tokenization length.
	MaxSeqLen int
	// Normalize asks the consuming runtime to L2-normalize embeddings.
	Normalize bool

	InputIDsName      string
	AttentionMaskName string
	OutputName        string
}

// Exporter packages a loaded model into a bundle.
type Exporter struct {
	opts   Options
	tok    Tokenizer
	model  Model
	logger *zap.Logger
}

// New wires an exporter from an already-loaded tokenizer and model.
func New(opts Options, tok Tokenizer, model Model, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{opts: opts, tok: tok, model: model, logger: logger}
}

// Run performs the export and returns the written manifest. Any
// failure aborts the run; nothing is retried and a partial output file
// is never left behind.
func (e *Exporter) Run(ctx context.Context) (*bundle.Manifest, error) {
	if e.opts.SampleText == "" {
		return nil, fmt.Errorf("export: empty sample text")
	}
	if e.opts.OutputPath == "" {
		return nil, fmt.Errorf("export: empty output path")
	}

	graph, err := os.ReadFile(e.opts.GraphPath)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	tokenizerBytes, err := os.ReadFile(e.opts.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer: %w", err)
	}

	e.logger.Info("tracing sample sentence",
		zap.String("sample", e.opts.SampleText),
		zap.String("graph", e.opts.GraphPath))

	ids, mask, seqLen, err := e.tok.EncodeBatch([]string{e.opts.SampleText}, e.opts.MaxSeqLen)
	if err != nil {
		return nil, fmt.Errorf("tokenize sample: %w", err)
	}
	if len(ids) != 1 {
		return nil, fmt.Errorf("tokenizer returned %d rows for one sample", len(ids))
	}

	embedding, err := e.trace(ctx, ids, mask)
	if err != nil {
		return nil, err
	}

	m := &bundle.Manifest{
		FormatVersion:     bundle.FormatVersion,
		ModelName:         e.opts.ModelName,
		HiddenSize:        e.model.HiddenSize(),
		MaxSeqLen:         e.opts.MaxSeqLen,
		InputIDsName:      e.opts.InputIDsName,
		AttentionMaskName: e.opts.AttentionMaskName,
		OutputName:        e.opts.OutputName,
		PooledGraph:       e.model.PooledOutput(),
		Pooling: bundle.Pooling{
			Strategy:  bundle.PoolingStrategyMean,
			MaskClamp: pooling.ClampEpsilon,
			Normalize: e.opts.Normalize,
		},
		GraphSHA256:     bundle.Digest(graph),
		TokenizerSHA256: bundle.Digest(tokenizerBytes),
		Trace: bundle.Trace{
			SampleText:    e.opts.SampleText,
			InputIDs:      ids[0],
			AttentionMask: mask[0],
			Embedding:     embedding,
		},
	}

	if err := bundle.WriteFile(e.opts.OutputPath, m, graph, tokenizerBytes); err != nil {
		return nil, err
	}

	e.logger.Info("bundle saved",
		zap.String("output", e.opts.OutputPath),
		zap.String("model", e.opts.ModelName),
		zap.Int("hidden_size", m.HiddenSize),
		zap.Int("trace_seq_len", seqLen))
	return m, nil
}

// trace runs the wrapped computation once: forward pass plus the mean
// pooling head, exactly what the consuming runtime will replay.
func (e *Exporter) trace(ctx context.Context, ids, mask [][]int64) ([]float32, error) {
	out, err := e.model.Forward(ctx, ids, mask)
	if err != nil {
		return nil, fmt.Errorf("forward pass: %w", err)
	}

	h := e.model.HiddenSize()
	var embedding []float32
	if e.model.PooledOutput() {
		if len(out) != h {
			return nil, fmt.Errorf("pooled output has %d values, want %d", len(out), h)
		}
		embedding = make([]float32, h)
		copy(embedding, out)
	} else {
		want := len(mask[0]) * h
		if len(out) != want {
			return nil, fmt.Errorf("token states have %d values, want %d", len(out), want)
		}
		embedding = pooling.MeanPool(out, mask[0], h)
	}

	if e.opts.Normalize {
		pooling.L2Normalize(embedding)
	}
	return embedding, nil
}
