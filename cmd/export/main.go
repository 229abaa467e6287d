package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/embedkit/sentence-export/internal/bundle"
	"github.com/embedkit/sentence-export/internal/config"
	"github.com/embedkit/sentence-export/internal/encoder"
	"github.com/embedkit/sentence-export/internal/export"
	"github.com/embedkit/sentence-export/internal/logger"
	"github.com/embedkit/sentence-export/internal/tokenizer"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		modelDir   = flag.String("model", "", "Model directory (overrides config)")
		output     = flag.String("output", "", "Bundle output path (overrides config)")
		sample     = flag.String("sample", "", "Sample sentence to trace (overrides config)")
		verify     = flag.Bool("verify", false, "Reload the written bundle and replay the trace")
	)
	flag.Parse()

	// Load configuration; defaults reproduce the stock MiniLM export
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *modelDir != "" {
		cfg.Model.Dir = *modelDir
	}
	if *output != "" {
		cfg.Export.Output = *output
	}
	if *sample != "" {
		cfg.Export.SampleText = *sample
	}
	if *verify {
		cfg.Export.Verify = true
	}

	// Initialize logger
	logCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		logCfg.File = &logger.FileConfig{
			Enabled: true,
			Path:    cfg.Logging.File.Path,
		}
	}
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting sentence embedding model export",
		zap.String("model_dir", cfg.Model.Dir),
		zap.String("output", cfg.Export.Output))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling export...")
		cancel()
	}()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("Export failed", zap.Error(err))
	}

	log.Info("Export completed successfully")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	graphPath := filepath.Join(cfg.Model.Dir, cfg.Model.GraphFile)
	tokenizerPath := filepath.Join(cfg.Model.Dir, cfg.Model.TokenizerFile)

	tok, err := tokenizer.FromFile(tokenizerPath)
	if err != nil {
		return err
	}

	enc, err := encoder.New(encoder.Config{
		ModelPath:         graphPath,
		InputIDsName:      cfg.Model.InputIDsName,
		AttentionMaskName: cfg.Model.AttentionMaskName,
		OutputName:        cfg.Model.OutputName,
	}, log.WithComponent("encoder").Logger)
	if err != nil {
		return err
	}

	exporter := export.New(export.Options{
		ModelName:         cfg.Model.Name,
		GraphPath:         graphPath,
		TokenizerPath:     tokenizerPath,
		SampleText:        cfg.Export.SampleText,
		OutputPath:        cfg.Export.Output,
		MaxSeqLen:         cfg.Model.MaxSeqLen,
		Normalize:         cfg.Export.Normalize,
		InputIDsName:      cfg.Model.InputIDsName,
		AttentionMaskName: cfg.Model.AttentionMaskName,
		OutputName:        cfg.Model.OutputName,
	}, tok, enc, log.WithComponent("export").Logger)

	manifest, err := exporter.Run(ctx)
	if closeErr := enc.Close(); closeErr != nil {
		log.Warn("Failed to release encoder", zap.Error(closeErr))
	}
	if err != nil {
		return err
	}

	fmt.Printf("Sentence embedding bundle saved to %s\n", cfg.Export.Output)

	if cfg.Export.Verify {
		rt, err := bundle.LoadRuntime(cfg.Export.Output, "", log.WithComponent("runtime").Logger)
		if err != nil {
			return fmt.Errorf("verify bundle: %w", err)
		}
		defer rt.Close()

		if err := rt.ReplayTrace(ctx); err != nil {
			return fmt.Errorf("verify bundle: %w", err)
		}
		log.Info("Bundle verified",
			zap.String("output", cfg.Export.Output),
			zap.Int("hidden_size", manifest.HiddenSize))
	}

	return nil
}
