// Command invoice_api serves the read-only analysis API over the
// invoice dataset database.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"invoicepipe/analysis"
	"invoicepipe/dataset"
	"invoicepipe/dbopen"
)

func main() {
	dbPath := flag.String("db", "out/invoices.db", "path to SQLite database")
	listen := flag.String("listen", ":8080", "listen address")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	godotenv.Load()

	logger := newLogger(*logLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *dbPath, *listen); err != nil {
		logger.Error("invoice_api: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, dbPath, listen string) error {
	db, err := dbopen.Open(dbPath, dbopen.WithSchema(dataset.Schema))
	if err != nil {
		return err
	}
	defer db.Close()

	srv := &http.Server{
		Addr:              listen,
		Handler:           analysis.NewServer(db, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("analysis API listening", "addr", listen, "db", dbPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
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
