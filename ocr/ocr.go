// Package ocr is the pipeline's boundary to external OCR engines.
//
// Engine internals (model loading, GPU scheduling) live in sidecar
// services; this package only knows how to call them and how to pick
// between a primary and a fallback engine. The contract is one call
// per document image:
//
//	eng := ocr.NewFallback(primary, fallback, ocr.Config{})
//	res, err := eng.Recognize(ctx, "page-001.png")
package ocr

import (
	"context"
	"log/slog"
)

// EngineKind reports which tier produced a recognition result.
type EngineKind string

const (
	EnginePrimary  EngineKind = "primary"
	EngineFallback EngineKind = "fallback"
)

// Result is the outcome of recognizing a single page image.
type Result struct {
	DocumentID     string     `json:"document_id,omitempty"`
	Text           string     `json:"raw_text"`
	Confidence     float64    `json:"confidence"`
	Engine         EngineKind `json:"engine_used"`
	ElapsedSeconds float64    `json:"elapsed_seconds"`
}

// Engine recognizes text in a page image.
type Engine interface {
	Recognize(ctx context.Context, imagePath string) (*Result, error)
}

// Config configures the fallback engine.
type Config struct {
	// ConfidenceThreshold is the primary-engine confidence below which
	// the fallback engine is consulted (default: 0.70).
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`

	// Logger for debug/warn messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.70
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
