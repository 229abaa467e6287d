package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPadBatch(t *testing.T) {
	t.Run("RightPadsToLongest", func(t *testing.T) {
		raw := [][]int64{
			{101, 7592, 102},
			{101, 102},
		}
		ids, mask, seqLen := padBatch(raw, 0, 512)
		require.Equal(t, 3, seqLen)
		assert.Equal(t, [][]int64{
			{101, 7592, 102},
			{101, 102, 0},
		}, ids)
		assert.Equal(t, [][]int64{
			{1, 1, 1},
			{1, 1, 0},
		}, mask)
	})

	t.Run("TruncatesAtMaxLen", func(t *testing.T) {
		raw := [][]int64{{101, 1, 2, 3, 4, 5, 102}}
		ids, mask, seqLen := padBatch(raw, 0, 4)
		require.Equal(t, 4, seqLen)
		assert.Equal(t, [][]int64{{101, 1, 2, 3}}, ids)
		assert.Equal(t, [][]int64{{1, 1, 1, 1}}, mask)
	})

	t.Run("PadIDInsideSequenceIsMasked", func(t *testing.T) {
		raw := [][]int64{{101, 0, 102}}
		_, mask, _ := padBatch(raw, 0, 512)
		assert.Equal(t, [][]int64{{1, 0, 1}}, mask)
	})

	t.Run("NonZeroPadID", func(t *testing.T) {
		raw := [][]int64{
			{5, 6},
			{5},
		}
		ids, mask, seqLen := padBatch(raw, 3, 512)
		require.Equal(t, 2, seqLen)
		assert.Equal(t, [][]int64{{5, 6}, {5, 3}}, ids)
		assert.Equal(t, [][]int64{{1, 1}, {1, 0}}, mask)
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		ids, mask, seqLen := padBatch(nil, 0, 512)
		assert.Empty(t, ids)
		assert.Empty(t, mask)
		assert.Zero(t, seqLen)
	})
}

func TestEncodeBatchRequiresLoadedTokenizer(t *testing.T) {
	var tok Tokenizer
	_, _, _, err := tok.EncodeBatch([]string{"hello"}, 16)
	assert.Error(t, err)
}
