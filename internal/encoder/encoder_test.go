package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

func TestResolveInputs(t *testing.T) {
	t.Run("StandardBertInputs", func(t *testing.T) {
		infos := []ort.InputOutputInfo{
			{Name: "input_ids"},
			{Name: "attention_mask"},
			{Name: "token_type_ids"},
		}
		names, hasTypes, err := resolveInputs(infos, Config{})
		require.NoError(t, err)
		assert.Equal(t, []string{"input_ids", "attention_mask", "token_type_ids"}, names)
		assert.True(t, hasTypes)
	})

	t.Run("NoTokenTypes", func(t *testing.T) {
		infos := []ort.InputOutputInfo{
			{Name: "input_ids"},
			{Name: "attention_mask"},
		}
		names, hasTypes, err := resolveInputs(infos, Config{})
		require.NoError(t, err)
		assert.Equal(t, []string{"input_ids", "attention_mask"}, names)
		assert.False(t, hasTypes)
	})

	t.Run("CustomNames", func(t *testing.T) {
		infos := []ort.InputOutputInfo{
			{Name: "ids"},
			{Name: "mask"},
		}
		names, _, err := resolveInputs(infos, Config{InputIDsName: "ids", AttentionMaskName: "mask"})
		require.NoError(t, err)
		assert.Equal(t, []string{"ids", "mask"}, names)
	})

	t.Run("MissingMask", func(t *testing.T) {
		infos := []ort.InputOutputInfo{{Name: "input_ids"}}
		_, _, err := resolveInputs(infos, Config{})
		assert.ErrorContains(t, err, "attention_mask")
	})
}

func TestResolveOutput(t *testing.T) {
	infos := []ort.InputOutputInfo{
		{Name: "last_hidden_state"},
		{Name: "pooler_output"},
	}

	out, err := resolveOutput(infos, "")
	require.NoError(t, err)
	assert.Equal(t, "last_hidden_state", out.Name)

	out, err = resolveOutput(infos, "pooler_output")
	require.NoError(t, err)
	assert.Equal(t, "pooler_output", out.Name)

	_, err = resolveOutput(infos, "sentence_embedding")
	assert.Error(t, err)

	_, err = resolveOutput(nil, "")
	assert.Error(t, err)
}

func TestOutputShape(t *testing.T) {
	pooled, hidden, err := outputShape(ort.NewShape(-1, 384))
	require.NoError(t, err)
	assert.True(t, pooled)
	assert.Equal(t, 384, hidden)

	pooled, hidden, err = outputShape(ort.NewShape(-1, -1, 768))
	require.NoError(t, err)
	assert.False(t, pooled)
	assert.Equal(t, 768, hidden)

	_, _, err = outputShape(ort.NewShape(-1, -1, -1))
	assert.Error(t, err)

	_, _, err = outputShape(ort.NewShape(10))
	assert.Error(t, err)
}

func TestFlatten(t *testing.T) {
	assert.Nil(t, flatten(nil))
	assert.Equal(t, []int64{1, 2, 3, 4}, flatten([][]int64{{1, 2}, {3, 4}}))
}

func TestNewRequiresModelPath(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}
