// Package tokenizer loads HuggingFace tokenizer.json files and turns
// text into the padded id/mask batches the encoder consumes.
package tokenizer

import (
	"fmt"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// DefaultMaxLength caps sequence length when the caller does not.
const DefaultMaxLength = 512

// Tokenizer wraps a HuggingFace fast tokenizer.
type Tokenizer struct {
	tok                 *tk.Tokenizer
	clsID, sepID, padID int
}

// FromFile loads a tokenizer from a local tokenizer.json file.
func FromFile(path string) (*Tokenizer, error) {
	tok, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}

	// BERT-family defaults when the vocab lacks the named specials.
	return &Tokenizer{
		tok:   tok,
		clsID: idOrDefault(tok, "[CLS]", 101),
		sepID: idOrDefault(tok, "[SEP]", 102),
		padID: idOrDefault(tok, "[PAD]", 0),
	}, nil
}

func idOrDefault(t *tk.Tokenizer, token string, def int) int {
	id, ok := t.TokenToId(token)
	if !ok {
		return def
	}
	return int(id)
}

// PadID returns the padding token id.
func (t *Tokenizer) PadID() int64 { return int64(t.padID) }

// VocabSize returns the size of the vocabulary without added tokens.
func (t *Tokenizer) VocabSize() (int, error) {
	if t.tok == nil {
		return 0, fmt.Errorf("tokenizer not loaded")
	}
	return int(t.tok.GetVocabSize(false)), nil
}

// EncodeBatch tokenizes texts with special tokens, right-pads every
// sequence to the longest in the batch and truncates at maxLen.
// It returns input ids and the matching attention mask, both [B][T],
// plus the final sequence length T.
func (t *Tokenizer) EncodeBatch(texts []string, maxLen int) ([][]int64, [][]int64, int, error) {
	if t.tok == nil {
		return nil, nil, 0, fmt.Errorf("tokenizer not loaded")
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	if len(texts) == 0 {
		return [][]int64{}, [][]int64{}, 0, nil
	}

	raw := make([][]int64, 0, len(texts))
	for _, s := range texts {
		enc, err := t.tok.EncodeSingle(s, true)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("encode %q: %w", s, err)
		}
		ids := make([]int64, len(enc.Ids))
		for i, id := range enc.Ids {
			ids[i] = int64(id)
		}
		raw = append(raw, ids)
	}

	ids, mask, seqLen := padBatch(raw, int64(t.padID), maxLen)
	return ids, mask, seqLen, nil
}

// padBatch right-pads raw token sequences to a common length, capped at
// maxLen, and derives the attention mask. Positions holding padID count
// as padding even inside the original sequence.
func padBatch(raw [][]int64, padID int64, maxLen int) ([][]int64, [][]int64, int) {
	longest := 0
	for _, seq := range raw {
		if len(seq) > longest {
			longest = len(seq)
		}
	}
	seqLen := longest
	if seqLen > maxLen {
		seqLen = maxLen
	}

	ids := make([][]int64, len(raw))
	mask := make([][]int64, len(raw))
	for i, seq := range raw {
		ids[i] = make([]int64, seqLen)
		mask[i] = make([]int64, seqLen)

		n := len(seq)
		if n > seqLen {
			n = seqLen
		}
		for j := 0; j < n; j++ {
			ids[i][j] = seq[j]
			if seq[j] != padID {
				mask[i][j] = 1
			}
		}
		for j := n; j < seqLen; j++ {
			ids[i][j] = padID
		}
	}
	return ids, mask, seqLen
}
