package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"invoicepipe/extract"
)

// RunExtract walks the stage-1 directory and extracts invoice fields
// from each document's OCR text, writing stage-2 artifacts. Documents
// run concurrently up to the configured limit, with the configured
// delay between request starts. Extraction failures are recorded, not
// fatal; the only errors returned are setup and artifact I/O errors.
func (p *Pipeline) RunExtract(ctx context.Context) (*BatchSummary, error) {
	artifacts, err := p.listStage1()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(p.cfg.Stage2Dir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: create stage2 dir: %w", err)
	}

	summary := &BatchSummary{
		Stage:     "extract",
		StartedAt: time.Now().Format(time.RFC3339),
		Total:     len(artifacts),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	delay := p.cfg.RequestDelay()
	for i, art := range artifacts {
		if i > 0 && delay > 0 {
			select {
			case <-time.After(delay):
			case <-gctx.Done():
			}
		}
		// Re-check after the delay: a cancellation while waiting must
		// not submit another document.
		if gctx.Err() != nil {
			break
		}
		art := art
		g.Go(func() error {
			res := p.extractOne(gctx, art.DocumentID, art.Text)
			if err := p.recordExtraction(gctx, res); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Status == extract.StatusOK {
				summary.Succeeded++
			} else {
				summary.Failed++
				summary.Failures = append(summary.Failures, FailureNote{DocumentID: res.DocumentID, Error: res.Error})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	summary.FinishedAt = time.Now().Format(time.RFC3339)
	if err := writeJSON(filepath.Join(p.cfg.Stage2Dir, "batch_summary.json"), summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// extractOne runs one extraction call under its own timeout.
func (p *Pipeline) extractOne(ctx context.Context, docID, ocrText string) *extract.Result {
	callCtx := ctx
	if t := p.cfg.LLMTimeout(); t > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	return p.client.Extract(callCtx, docID, ocrText)
}

// recordExtraction persists the stage-2 artifact and mirrors failures
// into the ledger so the retry pass can find them before any export.
func (p *Pipeline) recordExtraction(ctx context.Context, res *extract.Result) error {
	if err := writeJSON(filepath.Join(p.cfg.Stage2Dir, res.DocumentID+"_stage2.json"), res); err != nil {
		return err
	}
	if res.Status != extract.StatusOK {
		p.logger.Warn("extraction unsuccessful",
			"document", res.DocumentID, "status", res.Status, "error", res.Error)
		return p.store.MarkExtractionFailed(ctx, res.DocumentID, string(res.Status), res.Error, res.Attempts)
	}
	return nil
}

// listStage1 loads every stage-1 artifact, sorted by document id.
func (p *Pipeline) listStage1() ([]Stage1Artifact, error) {
	entries, err := os.ReadDir(p.cfg.Stage1Dir)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read stage1 dir: %w", err)
	}
	var artifacts []Stage1Artifact
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), "_stage1.json") {
			continue
		}
		var art Stage1Artifact
		if err := readJSON(filepath.Join(p.cfg.Stage1Dir, e.Name()), &art); err != nil {
			return nil, err
		}
		if art.DocumentID == "" {
			art.DocumentID = strings.TrimSuffix(e.Name(), "_stage1.json")
		}
		artifacts = append(artifacts, art)
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].DocumentID < artifacts[j].DocumentID })
	return artifacts, nil
}
