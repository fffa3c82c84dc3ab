package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"invoicepipe/ocr"
)

// Stage1Artifact is the per-document OCR output written to the stage-1
// directory as <stem>_stage1.json.
type Stage1Artifact struct {
	ocr.Result
	SourcePDF   string `json:"source_pdf"`
	PageCount   int    `json:"page_count,omitempty"`
	ProcessedAt string `json:"processed_at"`
}

// BatchSummary summarizes one stage run.
type BatchSummary struct {
	Stage      string        `json:"stage"`
	StartedAt  string        `json:"started_at"`
	FinishedAt string        `json:"finished_at"`
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Failures   []FailureNote `json:"failures,omitempty"`
}

// FailureNote records one failed document in a batch summary.
type FailureNote struct {
	DocumentID string `json:"document_id"`
	Error      string `json:"error"`
}

// RunOCR walks the input directory for PDFs and OCRs each one,
// writing stage-1 artifacts and updating the ledger. A cancelled
// context stops the batch between documents; the in-flight document
// finishes first. Individual document failures never abort the batch.
func (p *Pipeline) RunOCR(ctx context.Context) (*BatchSummary, error) {
	pdfs, err := listPDFs(p.cfg.InputDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(p.cfg.Stage1Dir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: create stage1 dir: %w", err)
	}
	imgDir, err := os.MkdirTemp("", "invoicepipe-scans-*")
	if err != nil {
		return nil, fmt.Errorf("pipeline: create scan dir: %w", err)
	}
	defer os.RemoveAll(imgDir)

	summary := &BatchSummary{
		Stage:     "ocr",
		StartedAt: time.Now().Format(time.RFC3339),
		Total:     len(pdfs),
	}
	for _, pdf := range pdfs {
		if ctx.Err() != nil {
			p.logger.Warn("OCR batch cancelled", "remaining", summary.Total-summary.Succeeded-summary.Failed)
			break
		}
		docID := DocumentID(pdf)
		if err := p.store.MarkPending(ctx, docID); err != nil {
			return nil, err
		}
		res, err := p.recognizePDF(ctx, pdf, docID, imgDir)
		if err != nil {
			p.logger.Error("OCR failed", "document", docID, "error", err)
			if lerr := p.store.MarkOCRFailed(ctx, docID, err.Error()); lerr != nil {
				return nil, lerr
			}
			summary.Failed++
			summary.Failures = append(summary.Failures, FailureNote{DocumentID: docID, Error: err.Error()})
			continue
		}
		if err := p.store.RecordOCR(ctx, docID, res); err != nil {
			return nil, err
		}
		artifact := Stage1Artifact{
			Result:      *res,
			SourcePDF:   pdf,
			ProcessedAt: time.Now().Format(time.RFC3339),
		}
		if n, err := ocr.PageCount(pdf); err == nil {
			artifact.PageCount = n
		}
		if err := writeJSON(filepath.Join(p.cfg.Stage1Dir, docID+"_stage1.json"), &artifact); err != nil {
			return nil, err
		}
		summary.Succeeded++
		p.logger.Info("OCR complete", "document", docID,
			"confidence", res.Confidence, "engine", res.Engine)
	}
	summary.FinishedAt = time.Now().Format(time.RFC3339)
	if err := writeJSON(filepath.Join(p.cfg.Stage1Dir, "batch_summary.json"), summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// recognizePDF extracts the scan image from the PDF's first page and
// runs it through the engine tier with the per-call timeout.
func (p *Pipeline) recognizePDF(ctx context.Context, pdfPath, docID, imgDir string) (*ocr.Result, error) {
	// Per-document subdirectory: ExtractScanImage picks the largest
	// file in its output dir, which must not see other documents.
	imagePath, err := ocr.ExtractScanImage(pdfPath, filepath.Join(imgDir, docID))
	if err != nil {
		return nil, err
	}
	callCtx := ctx
	if t := p.cfg.OCRTimeout(); t > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	res, err := p.engine.Recognize(callCtx, imagePath)
	if err != nil {
		return nil, err
	}
	res.DocumentID = docID
	return res, nil
}
