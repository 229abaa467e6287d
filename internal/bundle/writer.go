package bundle

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
)

// epoch is the fixed modification time stamped on every archive member.
// Together with the fixed member order this makes the output a pure
// function of its inputs: exporting the same model twice produces
// byte-identical bundles.
var epoch = time.Unix(0, 0).UTC()

// Write serializes a bundle to w. The manifest is validated first; the
// graph and tokenizer bytes are written as-is.
func Write(w io.Writer, m *Manifest, graph, tokenizer []byte) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("refusing to write bundle: %w", err)
	}
	if got := Digest(graph); got != m.GraphSHA256 {
		return fmt.Errorf("graph digest mismatch: manifest %s, content %s", m.GraphSHA256, got)
	}
	if got := Digest(tokenizer); got != m.TokenizerSHA256 {
		return fmt.Errorf("tokenizer digest mismatch: manifest %s, content %s", m.TokenizerSHA256, got)
	}

	manifestBytes, err := m.Encode()
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	gz, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("create gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	members := []struct {
		name string
		data []byte
	}{
		{ManifestName, manifestBytes},
		{GraphName, graph},
		{TokenizerName, tokenizer},
	}
	for _, member := range members {
		hdr := &tar.Header{
			Name:    member.name,
			Mode:    0o644,
			Size:    int64(len(member.data)),
			ModTime: epoch,
			Format:  tar.FormatUSTAR,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write header for %s: %w", member.name, err)
		}
		if _, err := tw.Write(member.data); err != nil {
			return fmt.Errorf("write %s: %w", member.name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finalize compression: %w", err)
	}
	return nil
}

// WriteFile writes the bundle to path via a temp file and rename, so a
// failed export never leaves a truncated artifact behind.
func WriteFile(path string, m *Manifest, graph, tokenizer []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".bundle-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, m, graph, tokenizer); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move bundle into place: %w", err)
	}
	return nil
}
