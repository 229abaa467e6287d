package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedkit/sentence-export/internal/bundle"
)

// stubTokenizer returns a fixed 4-token encoding for any text.
type stubTokenizer struct{}

func (stubTokenizer) EncodeBatch(texts []string, maxLen int) ([][]int64, [][]int64, int, error) {
	ids := make([][]int64, len(texts))
	mask := make([][]int64, len(texts))
	for i := range texts {
		ids[i] = []int64{101, 2023, 2003, 102}
		mask[i] = []int64{1, 1, 1, 1}
	}
	return ids, mask, 4, nil
}

// stubModel emits deterministic token states: token t gets the vector
// (t+1, t+1) so the masked mean is easy to compute by hand.
type stubModel struct {
	pooled bool
}

func (m stubModel) HiddenSize() int    { return 2 }
func (m stubModel) PooledOutput() bool { return m.pooled }

func (m stubModel) Forward(ctx context.Context, ids, mask [][]int64) ([]float32, error) {
	if m.pooled {
		out := make([]float32, 0, len(ids)*2)
		for range ids {
			out = append(out, 1, 2)
		}
		return out, nil
	}
	var out []float32
	for range ids {
		for t := 0; t < len(ids[0]); t++ {
			out = append(out, float32(t+1), float32(t+1))
		}
	}
	return out, nil
}

func writeModelDir(t *testing.T) (graphPath, tokPath string) {
	t.Helper()
	dir := t.TempDir()
	graphPath = filepath.Join(dir, "model.onnx")
	tokPath = filepath.Join(dir, "tokenizer.json")
	require.NoError(t, os.WriteFile(graphPath, []byte("fake graph"), 0o644))
	require.NoError(t, os.WriteFile(tokPath, []byte(`{"version":"1.0"}`), 0o644))
	return graphPath, tokPath
}

func testOptions(t *testing.T) Options {
	graphPath, tokPath := writeModelDir(t)
	return Options{
		ModelName:         "all-MiniLM-L12-v2",
		GraphPath:         graphPath,
		TokenizerPath:     tokPath,
		SampleText:        "This is a test sentence.",
		OutputPath:        filepath.Join(t.TempDir(), "model.bundle"),
		MaxSeqLen:         256,
		InputIDsName:      "input_ids",
		AttentionMaskName: "attention_mask",
		OutputName:        "last_hidden_state",
	}
}

func TestExporterRun(t *testing.T) {
	opts := testOptions(t)
	exp := New(opts, stubTokenizer{}, stubModel{}, nil)

	m, err := exp.Run(context.Background())
	require.NoError(t, err)

	// Mean of (1,1),(2,2),(3,3),(4,4) with an all-ones mask.
	assert.InDeltaSlice(t, []float32{2.5, 2.5}, m.Trace.Embedding, 1e-6)
	assert.Equal(t, []int64{101, 2023, 2003, 102}, m.Trace.InputIDs)
	assert.Equal(t, opts.SampleText, m.Trace.SampleText)
	assert.Equal(t, 2, m.HiddenSize)
	assert.False(t, m.PooledGraph)

	// The artifact on disk round-trips and passes digest checks.
	b, err := bundle.Open(opts.OutputPath)
	require.NoError(t, err)
	require.NoError(t, b.Verify())
	assert.Equal(t, m, b.Manifest)
	assert.Equal(t, []byte("fake graph"), b.Graph)
}

func TestExporterRunIsDeterministic(t *testing.T) {
	opts := testOptions(t)
	exp := New(opts, stubTokenizer{}, stubModel{}, nil)

	_, err := exp.Run(context.Background())
	require.NoError(t, err)
	first, err := os.ReadFile(opts.OutputPath)
	require.NoError(t, err)

	_, err = exp.Run(context.Background())
	require.NoError(t, err)
	second, err := os.ReadFile(opts.OutputPath)
	require.NoError(t, err)

	assert.Equal(t, first, second, "same model and sample must produce identical bundles")
}

func TestExporterPooledGraph(t *testing.T) {
	opts := testOptions(t)
	exp := New(opts, stubTokenizer{}, stubModel{pooled: true}, nil)

	m, err := exp.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, m.PooledGraph)
	assert.InDeltaSlice(t, []float32{1, 2}, m.Trace.Embedding, 1e-6)
}

func TestExporterNormalize(t *testing.T) {
	opts := testOptions(t)
	opts.Normalize = true
	exp := New(opts, stubTokenizer{}, stubModel{}, nil)

	m, err := exp.Run(context.Background())
	require.NoError(t, err)
	require.True(t, m.Pooling.Normalize)

	var sum float64
	for _, v := range m.Trace.Embedding {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestExporterMissingGraph(t *testing.T) {
	opts := testOptions(t)
	opts.GraphPath = filepath.Join(t.TempDir(), "missing.onnx")
	exp := New(opts, stubTokenizer{}, stubModel{}, nil)

	_, err := exp.Run(context.Background())
	assert.ErrorContains(t, err, "read graph")
}

func TestExporterEmptySample(t *testing.T) {
	opts := testOptions(t)
	opts.SampleText = ""
	exp := New(opts, stubTokenizer{}, stubModel{}, nil)

	_, err := exp.Run(context.Background())
	assert.ErrorContains(t, err, "sample text")
}
