package bundle

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// Bundle is an exported artifact loaded back into memory.
type Bundle struct {
	Manifest  *Manifest
	Graph     []byte
	Tokenizer []byte
}

// Read parses a bundle stream. The manifest is validated; content
// digests are checked separately via Verify.
func Read(r io.Reader) (*Bundle, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open compressed stream: %w", err)
	}
	defer gz.Close()

	var b Bundle
	var manifestBytes []byte
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", hdr.Name, err)
		}
		switch hdr.Name {
		case ManifestName:
			manifestBytes = data
		case GraphName:
			b.Graph = data
		case TokenizerName:
			b.Tokenizer = data
		default:
			return nil, fmt.Errorf("unexpected archive member %q", hdr.Name)
		}
	}

	if manifestBytes == nil {
		return nil, fmt.Errorf("bundle has no %s", ManifestName)
	}
	if b.Graph == nil {
		return nil, fmt.Errorf("bundle has no %s", GraphName)
	}
	if b.Tokenizer == nil {
		return nil, fmt.Errorf("bundle has no %s", TokenizerName)
	}

	m, err := ParseManifest(manifestBytes)
	if err != nil {
		return nil, err
	}
	b.Manifest = m
	return &b, nil
}

// Open reads a bundle from disk.
func Open(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Verify checks the graph and tokenizer bytes against the manifest
// digests.
func (b *Bundle) Verify() error {
	if got := Digest(b.Graph); got != b.Manifest.GraphSHA256 {
		return fmt.Errorf("graph digest mismatch: manifest %s, content %s", b.Manifest.GraphSHA256, got)
	}
	if got := Digest(b.Tokenizer); got != b.Manifest.TokenizerSHA256 {
		return fmt.Errorf("tokenizer digest mismatch: manifest %s, content %s", b.Manifest.TokenizerSHA256, got)
	}
	return nil
}

// Extract writes the graph and tokenizer into dir, where ONNX Runtime
// and the tokenizer loader can open them by path.
func (b *Bundle) Extract(dir string) (graphPath, tokenizerPath string, err error) {
	graphPath = filepath.Join(dir, GraphName)
	tokenizerPath = filepath.Join(dir, TokenizerName)
	if err := os.WriteFile(graphPath, b.Graph, 0o644); err != nil {
		return "", "", fmt.Errorf("extract graph: %w", err)
	}
	if err := os.WriteFile(tokenizerPath, b.Tokenizer, 0o644); err != nil {
		return "", "", fmt.Errorf("extract tokenizer: %w", err)
	}
	return graphPath, tokenizerPath, nil
}
