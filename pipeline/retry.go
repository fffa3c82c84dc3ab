package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"invoicepipe/dataset"
	"invoicepipe/extract"
)

// RunRetry re-processes exactly the documents the ledger marks failed.
// OCR failures are re-recognized from the source PDF; extraction
// failures reuse the stage-1 text when the artifact is still on disk.
// Late successes are committed append-only; documents that fail again
// keep their failed ledger state for the next pass.
func (p *Pipeline) RunRetry(ctx context.Context) (*dataset.CommitStats, error) {
	failed, err := p.store.Failed(ctx)
	if err != nil {
		return nil, err
	}
	if len(failed) == 0 {
		p.logger.Info("no failed documents to retry")
		return &dataset.CommitStats{}, nil
	}
	for _, dir := range []string{p.cfg.Stage1Dir, p.cfg.Stage2Dir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("pipeline: create stage dir: %w", err)
		}
	}
	imgDir, err := os.MkdirTemp("", "invoicepipe-retry-*")
	if err != nil {
		return nil, fmt.Errorf("pipeline: create scan dir: %w", err)
	}
	defer os.RemoveAll(imgDir)

	var results []*extract.Result
	for _, doc := range failed {
		if ctx.Err() != nil {
			p.logger.Warn("retry pass cancelled", "remaining", len(failed)-len(results))
			break
		}
		text, err := p.retryText(ctx, doc, imgDir)
		if err != nil {
			p.logger.Error("retry OCR failed", "document", doc.DocumentID, "error", err)
			if lerr := p.store.MarkOCRFailed(ctx, doc.DocumentID, err.Error()); lerr != nil {
				return nil, lerr
			}
			continue
		}
		res := p.extractOne(ctx, doc.DocumentID, text)
		if err := p.recordExtraction(ctx, res); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	stats, err := p.store.Commit(ctx, results, false)
	if err != nil {
		return nil, err
	}
	p.logger.Info("retry pass complete",
		"attempted", len(results), "committed", stats.Committed, "failed", stats.Failed)
	return stats, nil
}

// retryText obtains OCR text for a failed document: the preserved
// stage-1 artifact when extraction failed after a good OCR pass, a
// fresh recognition otherwise.
func (p *Pipeline) retryText(ctx context.Context, doc dataset.Document, imgDir string) (string, error) {
	if doc.Status == dataset.StatusExtractionFailed {
		var art Stage1Artifact
		path := filepath.Join(p.cfg.Stage1Dir, doc.DocumentID+"_stage1.json")
		if err := readJSON(path, &art); err == nil && art.Text != "" {
			return art.Text, nil
		}
	}
	pdf := filepath.Join(p.cfg.InputDir, doc.DocumentID+".pdf")
	if _, err := os.Stat(pdf); err != nil {
		return "", fmt.Errorf("source PDF missing: %w", err)
	}
	res, err := p.recognizePDF(ctx, pdf, doc.DocumentID, imgDir)
	if err != nil {
		return "", err
	}
	if err := p.store.RecordOCR(ctx, doc.DocumentID, res); err != nil {
		return "", err
	}
	art := Stage1Artifact{
		Result:      *res,
		SourcePDF:   pdf,
		ProcessedAt: time.Now().Format(time.RFC3339),
	}
	if err := writeJSON(filepath.Join(p.cfg.Stage1Dir, doc.DocumentID+"_stage1.json"), &art); err != nil {
		return "", err
	}
	return res.Text, nil
}
