package bundle

import (
	"context"
	"fmt"
	"math"
	"os"

	"go.uber.org/zap"

	"github.com/embedkit/sentence-export/internal/encoder"
	"github.com/embedkit/sentence-export/internal/pooling"
	"github.com/embedkit/sentence-export/internal/tokenizer"
)

// traceTolerance is the maximum per-dimension deviation allowed when
// replaying the recorded trace.
const traceTolerance = 1e-4

// Runtime is the consuming side of a bundle: it reconstructs the
// tokenizer and encoder and replays the pooling computation the
// manifest describes.
type Runtime struct {
	Manifest *Manifest

	tok     *tokenizer.Tokenizer
	enc     *encoder.Encoder
	logger  *zap.Logger
	workDir string
	ownsDir bool
}

// LoadRuntime opens a bundle, verifies its digests, extracts the graph
// and tokenizer into workDir (a temp dir when empty) and builds an
// encoder session from them.
func LoadRuntime(path, workDir string, logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	b, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := b.Verify(); err != nil {
		return nil, err
	}

	ownsDir := false
	if workDir == "" {
		workDir, err = os.MkdirTemp("", "sentence-export-*")
		if err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
		ownsDir = true
	}

	graphPath, tokenizerPath, err := b.Extract(workDir)
	if err != nil {
		if ownsDir {
			os.RemoveAll(workDir)
		}
		return nil, err
	}

	tok, err := tokenizer.FromFile(tokenizerPath)
	if err != nil {
		if ownsDir {
			os.RemoveAll(workDir)
		}
		return nil, err
	}

	enc, err := encoder.New(encoder.Config{
		ModelPath:         graphPath,
		InputIDsName:      b.Manifest.InputIDsName,
		AttentionMaskName: b.Manifest.AttentionMaskName,
		OutputName:        b.Manifest.OutputName,
	}, logger)
	if err != nil {
		if ownsDir {
			os.RemoveAll(workDir)
		}
		return nil, err
	}

	if enc.HiddenSize() != b.Manifest.HiddenSize {
		enc.Close()
		if ownsDir {
			os.RemoveAll(workDir)
		}
		return nil, fmt.Errorf("graph hidden size %d does not match manifest %d",
			enc.HiddenSize(), b.Manifest.HiddenSize)
	}

	logger.Info("bundle runtime ready",
		zap.String("bundle", path),
		zap.String("model", b.Manifest.ModelName),
		zap.Int("hidden_size", b.Manifest.HiddenSize))

	return &Runtime{
		Manifest: b.Manifest,
		tok:      tok,
		enc:      enc,
		logger:   logger,
		workDir:  workDir,
		ownsDir:  ownsDir,
	}, nil
}

// Encode produces one sentence embedding per input text, applying the
// pooling the manifest prescribes.
func (r *Runtime) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ids, mask, _, err := r.tok.EncodeBatch(texts, r.Manifest.MaxSeqLen)
	if err != nil {
		return nil, err
	}
	out, err := r.enc.Forward(ctx, ids, mask)
	if err != nil {
		return nil, err
	}

	h := r.Manifest.HiddenSize
	var embs [][]float32
	if r.Manifest.PooledGraph {
		embs = make([][]float32, len(texts))
		for i := range embs {
			row := make([]float32, h)
			copy(row, out[i*h:(i+1)*h])
			embs[i] = row
		}
	} else {
		embs = pooling.MeanPoolBatch(out, mask, h)
	}

	if r.Manifest.Pooling.Normalize {
		for _, emb := range embs {
			pooling.L2Normalize(emb)
		}
	}
	return embs, nil
}

// ReplayTrace re-runs the recorded sample sentence and checks the
// embedding against the one captured at export time.
func (r *Runtime) ReplayTrace(ctx context.Context) error {
	trace := r.Manifest.Trace
	if trace.SampleText == "" {
		return fmt.Errorf("bundle carries no trace to replay")
	}

	embs, err := r.Encode(ctx, []string{trace.SampleText})
	if err != nil {
		return fmt.Errorf("replay trace: %w", err)
	}
	if len(embs) != 1 || len(embs[0]) != len(trace.Embedding) {
		return fmt.Errorf("replay produced %d dims, trace has %d", len(embs[0]), len(trace.Embedding))
	}

	var maxDiff float64
	for i, v := range embs[0] {
		if d := math.Abs(float64(v - trace.Embedding[i])); d > maxDiff {
			maxDiff = d
		}
	}
	if maxDiff > traceTolerance {
		return fmt.Errorf("trace mismatch: max deviation %g exceeds %g", maxDiff, traceTolerance)
	}

	r.logger.Info("trace replay matched",
		zap.String("sample", trace.SampleText),
		zap.Float64("max_deviation", maxDiff))
	return nil
}

// Close releases the encoder session and any temp files.
func (r *Runtime) Close() error {
	var err error
	if r.enc != nil {
		err = r.enc.Close()
		r.enc = nil
	}
	if r.ownsDir && r.workDir != "" {
		if rmErr := os.RemoveAll(r.workDir); rmErr != nil && err == nil {
			err = rmErr
		}
		r.workDir = ""
	}
	return err
}
