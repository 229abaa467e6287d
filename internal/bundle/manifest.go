// Package bundle defines the portable artifact written by the exporter:
// a deterministic tar.gz holding the ONNX graph, the tokenizer and a
// manifest describing the pooling computation and one recorded trace.
package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	json "github.com/goccy/go-json"
)

// FormatVersion is bumped on incompatible manifest changes.
const FormatVersion = 1

// Member file names inside the archive.
const (
	ManifestName  = "manifest.json"
	GraphName     = "model.onnx"
	TokenizerName = "tokenizer.json"
)

// PoolingStrategyMean is the only strategy the exporter emits.
const PoolingStrategyMean = "mean"

// Pooling tells the consuming runtime how to reduce token states to a
// sentence embedding.
type Pooling struct {
	// Strategy is "mean". Graphs with rank-2 output carry it for
	// documentation only; the runtime skips pooling for those.
	Strategy string `json:"strategy"`
	// MaskClamp is the minimum mask-sum denominator. Keeps a fully
	// padded sequence finite instead of dividing by zero.
	MaskClamp float64 `json:"mask_clamp"`
	// Normalize requests L2 normalization of the pooled vector.
	Normalize bool `json:"normalize"`
}

// Trace is the recorded forward pass of the sample sentence. The
// runtime replays it to prove the bundle reproduces the computation it
// was exported from.
type Trace struct {
	SampleText    string    `json:"sample_text"`
	InputIDs      []int64   `json:"input_ids"`
	AttentionMask []int64   `json:"attention_mask"`
	Embedding     []float32 `json:"embedding"`
}

// Manifest describes everything the runtime needs besides the graph
// and tokenizer bytes themselves.
type Manifest struct {
	FormatVersion int    `json:"format_version"`
	ModelName     string `json:"model_name"`

	HiddenSize int `json:"hidden_size"`
	MaxSeqLen  int `json:"max_seq_len"`

	InputIDsName      string `json:"input_ids_name"`
	AttentionMaskName string `json:"attention_mask_name"`
	OutputName        string `json:"output_name"`
	// PooledGraph is true when the graph output is already [B,H].
	PooledGraph bool `json:"pooled_graph"`

	Pooling Pooling `json:"pooling"`

	GraphSHA256     string `json:"graph_sha256"`
	TokenizerSHA256 string `json:"tokenizer_sha256"`

	Trace Trace `json:"trace"`
}

// Digest returns the hex SHA-256 of b.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Validate checks internal consistency before writing or after reading.
func (m *Manifest) Validate() error {
	if m.FormatVersion != FormatVersion {
		return fmt.Errorf("unsupported format version %d (want %d)", m.FormatVersion, FormatVersion)
	}
	if m.HiddenSize <= 0 {
		return fmt.Errorf("invalid hidden size %d", m.HiddenSize)
	}
	if m.MaxSeqLen <= 0 {
		return fmt.Errorf("invalid max sequence length %d", m.MaxSeqLen)
	}
	if m.Pooling.Strategy != PoolingStrategyMean {
		return fmt.Errorf("unsupported pooling strategy %q", m.Pooling.Strategy)
	}
	if m.GraphSHA256 == "" || m.TokenizerSHA256 == "" {
		return fmt.Errorf("manifest missing content digests")
	}
	if len(m.Trace.InputIDs) != len(m.Trace.AttentionMask) {
		return fmt.Errorf("trace shape mismatch: %d ids, %d mask entries",
			len(m.Trace.InputIDs), len(m.Trace.AttentionMask))
	}
	if len(m.Trace.Embedding) != 0 && len(m.Trace.Embedding) != m.HiddenSize {
		return fmt.Errorf("trace embedding has %d dims, want %d", len(m.Trace.Embedding), m.HiddenSize)
	}
	return nil
}

// Encode serializes the manifest. Field order is fixed by the struct,
// so equal manifests encode to equal bytes.
func (m *Manifest) Encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// ParseManifest decodes and validates manifest bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
