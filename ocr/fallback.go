package ocr

import (
	"context"
	"fmt"
)

// Fallback runs a primary engine and consults a fallback engine when
// the primary errors or reports low confidence. When both engines
// answer, the higher-confidence result wins.
type Fallback struct {
	primary  Engine
	fallback Engine
	cfg      Config
}

// NewFallback wires a primary and a fallback engine. The fallback may
// be nil, in which case primary failures are returned as-is.
func NewFallback(primary, fallback Engine, cfg Config) *Fallback {
	cfg.defaults()
	return &Fallback{primary: primary, fallback: fallback, cfg: cfg}
}

// Recognize implements Engine.
func (f *Fallback) Recognize(ctx context.Context, imagePath string) (*Result, error) {
	res, err := f.primary.Recognize(ctx, imagePath)
	if err == nil && res.Confidence >= f.cfg.ConfidenceThreshold {
		res.Engine = EnginePrimary
		return res, nil
	}

	if f.fallback == nil {
		if err != nil {
			return nil, err
		}
		res.Engine = EnginePrimary
		return res, nil
	}

	if err != nil {
		f.cfg.Logger.Warn("primary OCR engine failed, trying fallback",
			"image", imagePath, "error", err)
	} else {
		f.cfg.Logger.Warn("low OCR confidence, trying fallback",
			"image", imagePath,
			"confidence", res.Confidence,
			"threshold", f.cfg.ConfidenceThreshold)
	}

	fres, ferr := f.fallback.Recognize(ctx, imagePath)
	if ferr != nil {
		if err != nil {
			return nil, fmt.Errorf("both engines failed: primary: %v; fallback: %w", err, ferr)
		}
		// Low-confidence primary result still beats a dead fallback.
		res.Engine = EnginePrimary
		return res, nil
	}

	fres.Engine = EngineFallback
	if res != nil && res.Confidence > fres.Confidence {
		res.Engine = EnginePrimary
		return res, nil
	}
	return fres, nil
}
