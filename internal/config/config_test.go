package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := GetDefaults()
	assert.NoError(t, validateConfig(cfg))
	assert.Equal(t, "./data/models/all-MiniLM-L12-v2", cfg.Model.Dir)
	assert.Equal(t, "This is a test sentence.", cfg.Export.SampleText)
	assert.Equal(t, "model.bundle", cfg.Export.Output)
}

func TestValidateConfig(t *testing.T) {
	t.Run("EmptyModelDir", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Model.Dir = ""
		assert.ErrorContains(t, validateConfig(cfg), "model dir")
	})

	t.Run("BadMaxSeqLen", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Model.MaxSeqLen = 0
		assert.ErrorContains(t, validateConfig(cfg), "max_seq_len")
	})

	t.Run("EmptyOutput", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Export.Output = ""
		assert.ErrorContains(t, validateConfig(cfg), "output")
	})

	t.Run("EmptySample", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Export.SampleText = ""
		assert.ErrorContains(t, validateConfig(cfg), "sample_text")
	})

	t.Run("BadLogLevel", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Logging.Level = "verbose"
		assert.ErrorContains(t, validateConfig(cfg), "log level")
	})

	t.Run("BadLogFormat", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Logging.Format = "xml"
		assert.ErrorContains(t, validateConfig(cfg), "log format")
	})
}
