// Command extract_stage runs the field extraction stage: stage-1 OCR
// artifacts are sent to the extraction endpoint and the structured
// results land in the stage-2 directory.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"invoicepipe/dataset"
	"invoicepipe/dbopen"
	"invoicepipe/extract"
	"invoicepipe/pipeline"
)

func main() {
	configPath := flag.String("config", "", "path to pipeline.yaml config file")
	stage1Dir := flag.String("input", "", "stage-1 artifact directory (overrides config)")
	stage2Dir := flag.String("out", "", "stage-2 output directory (overrides config)")
	dbPath := flag.String("db", "", "path to SQLite database (overrides config)")
	concurrency := flag.Int("concurrency", 0, "max concurrent extraction calls (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *stage1Dir != "" {
		cfg.Stage1Dir = *stage1Dir
	}
	if *stage2Dir != "" {
		cfg.Stage2Dir = *stage2Dir
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *concurrency > 0 {
		cfg.Concurrency = *concurrency
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
	if apiKey == "" {
		log.Fatalf("config: %s is not set", cfg.LLM.APIKeyEnv)
	}

	logger := newLogger(*logLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, apiKey); err != nil {
		logger.Error("extract_stage: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *pipeline.Config, apiKey string) error {
	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := dataset.NewStore(db, logger)
	if err != nil {
		return err
	}

	client := extract.NewClient(extract.Config{
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		APIKey:  apiKey,
		Timeout: cfg.LLMTimeout(),
		Logger:  logger,
	})

	p := pipeline.New(cfg, store, nil, client, logger)
	summary, err := p.RunExtract(ctx)
	if err != nil {
		return err
	}
	logger.Info("extraction stage finished",
		"total", summary.Total, "succeeded", summary.Succeeded, "failed", summary.Failed)
	return nil
}

func loadConfig(path string) (*pipeline.Config, error) {
	if path == "" {
		return pipeline.DefaultConfig(), nil
	}
	return pipeline.LoadConfig(path)
}

func newLogger(logLevel string) *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
