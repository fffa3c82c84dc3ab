// Command export_stage commits stage-2 extraction results into the
// normalized dataset and writes the CSV export.
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
	"invoicepipe/pipeline"
)

func main() {
	configPath := flag.String("config", "", "path to pipeline.yaml config file")
	stage2Dir := flag.String("input", "", "stage-2 artifact directory (overrides config)")
	exportDir := flag.String("out", "", "CSV export directory (overrides config)")
	dbPath := flag.String("db", "", "path to SQLite database (overrides config)")
	force := flag.Bool("force", false, "re-normalize documents already committed")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *stage2Dir != "" {
		cfg.Stage2Dir = *stage2Dir
	}
	if *exportDir != "" {
		cfg.ExportDir = *exportDir
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

	if err := run(ctx, logger, cfg, *force); err != nil {
		logger.Error("export_stage: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *pipeline.Config, force bool) error {
	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := dataset.NewStore(db, logger)
	if err != nil {
		return err
	}

	p := pipeline.New(cfg, store, nil, nil, logger)
	stats, err := p.RunExport(ctx, force)
	if err != nil {
		return err
	}
	logger.Info("export stage finished",
		"committed", stats.Committed, "skipped", stats.Skipped, "failed", stats.Failed,
		"dir", cfg.ExportDir)
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
