// Command ocr_stage runs the OCR stage: every PDF in the input
// directory is recognized through the primary/fallback engine tier and
// the results land in the stage-1 directory and the document ledger.
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
	"invoicepipe/ocr"
	"invoicepipe/pipeline"
)

func main() {
	configPath := flag.String("config", "", "path to pipeline.yaml config file")
	inputDir := flag.String("input", "", "directory of invoice PDFs (overrides config)")
	stage1Dir := flag.String("out", "", "stage-1 output directory (overrides config)")
	dbPath := flag.String("db", "", "path to SQLite database (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *inputDir != "" {
		cfg.InputDir = *inputDir
	}
	if *stage1Dir != "" {
		cfg.Stage1Dir = *stage1Dir
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(*logLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("ocr_stage: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *pipeline.Config) error {
	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := dataset.NewStore(db, logger)
	if err != nil {
		return err
	}

	primary := ocr.NewHTTPEngine("primary", cfg.OCR.PrimaryURL, cfg.OCRTimeout(), logger)
	var fallback ocr.Engine
	if cfg.OCR.FallbackURL != "" {
		fallback = ocr.NewHTTPEngine("fallback", cfg.OCR.FallbackURL, cfg.OCRTimeout(), logger)
	}
	engine := ocr.NewFallback(primary, fallback, ocr.Config{
		ConfidenceThreshold: cfg.OCR.ConfidenceThreshold,
		Logger:              logger,
	})

	p := pipeline.New(cfg, store, engine, nil, logger)
	summary, err := p.RunOCR(ctx)
	if err != nil {
		return err
	}
	logger.Info("OCR stage finished",
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
