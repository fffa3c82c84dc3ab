// Package pipeline runs the invoice processing stages: OCR, field
// extraction, and dataset export, plus the retry pass over previously
// failed documents.
//
// Stages communicate through JSON artifacts on disk and through the
// document ledger in the dataset store, so each stage can run as its
// own process and a crashed batch resumes where it left off.
package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"invoicepipe/dataset"
	"invoicepipe/extract"
	"invoicepipe/ocr"
)

// Pipeline wires the stage runners to their dependencies.
type Pipeline struct {
	cfg    *Config
	store  *dataset.Store
	engine ocr.Engine
	client *extract.Client
	logger *slog.Logger
}

// New returns a Pipeline. logger may be nil.
func New(cfg *Config, store *dataset.Store, engine ocr.Engine, client *extract.Client, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, store: store, engine: engine, client: client, logger: logger}
}

// DocumentID derives the ledger document id from a source path: the
// filename with its extension stripped. Filenames are the cross-stage
// identity, so the same PDF always maps to the same id.
func DocumentID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// listPDFs returns the PDF files directly under dir, sorted by name.
func listPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read input dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("pipeline: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("pipeline: read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("pipeline: parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
