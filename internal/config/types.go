package config

// Config represents the main configuration structure
type Config struct {
	Model   ModelConfig   `yaml:"model" mapstructure:"model"`
	Export  ExportConfig  `yaml:"export" mapstructure:"export"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// ModelConfig locates the pretrained files and names their tensors
type ModelConfig struct {
	// Dir holds model.onnx and tokenizer.json in the HuggingFace export layout
	Dir  string `yaml:"dir" mapstructure:"dir"`
	Name string `yaml:"name" mapstructure:"name"`
	// GraphFile and TokenizerFile are resolved relative to Dir
	GraphFile     string `yaml:"graph_file" mapstructure:"graph_file"`
	TokenizerFile string `yaml:"tokenizer_file" mapstructure:"tokenizer_file"`

	InputIDsName      string `yaml:"input_ids_name" mapstructure:"input_ids_name"`
	AttentionMaskName string `yaml:"attention_mask_name" mapstructure:"attention_mask_name"`
	// OutputName empty means the graph's first declared output
	OutputName string `yaml:"output_name" mapstructure:"output_name"`

	MaxSeqLen int `yaml:"max_seq_len" mapstructure:"max_seq_len"`
}

// ExportConfig controls the single export run
type ExportConfig struct {
	// Output is the bundle file to write
	Output string `yaml:"output" mapstructure:"output"`
	// SampleText is run once to record the trace
	SampleText string `yaml:"sample_text" mapstructure:"sample_text"`
	// Normalize records whether the consuming runtime should L2-normalize
	Normalize bool `yaml:"normalize" mapstructure:"normalize"`
	// Verify reloads the written bundle and replays the trace
	Verify bool `yaml:"verify" mapstructure:"verify"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// GetDefaults returns the configuration the tool runs with when no
// config file is present: the stock MiniLM export with its fixed
// model directory, sample sentence and output name.
func GetDefaults() *Config {
	return &Config{
		Model: ModelConfig{
			Dir:               "./data/models/all-MiniLM-L12-v2",
			Name:              "all-MiniLM-L12-v2",
			GraphFile:         "model.onnx",
			TokenizerFile:     "tokenizer.json",
			InputIDsName:      "input_ids",
			AttentionMaskName: "attention_mask",
			MaxSeqLen:         256,
		},
		Export: ExportConfig{
			Output:     "model.bundle",
			SampleText: "This is a test sentence.",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
