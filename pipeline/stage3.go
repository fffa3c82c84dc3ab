package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"invoicepipe/dataset"
	"invoicepipe/extract"
)

// RunExport loads every stage-2 artifact, commits the extracted
// invoices into the normalized dataset, and writes the CSV export.
// With force set, documents the ledger already marks committed are
// re-normalized in place instead of skipped.
func (p *Pipeline) RunExport(ctx context.Context, force bool) (*dataset.CommitStats, error) {
	results, err := p.listStage2()
	if err != nil {
		return nil, err
	}
	stats, err := p.store.Commit(ctx, results, force)
	if err != nil {
		return nil, err
	}
	p.logger.Info("dataset commit",
		"committed", stats.Committed, "skipped", stats.Skipped, "failed", stats.Failed)
	if err := p.store.ExportCSV(ctx, p.cfg.ExportDir); err != nil {
		return nil, err
	}
	return stats, nil
}

// listStage2 loads every stage-2 artifact from the stage directory.
func (p *Pipeline) listStage2() ([]*extract.Result, error) {
	entries, err := os.ReadDir(p.cfg.Stage2Dir)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read stage2 dir: %w", err)
	}
	var results []*extract.Result
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), "_stage2.json") {
			continue
		}
		var res extract.Result
		if err := readJSON(filepath.Join(p.cfg.Stage2Dir, e.Name()), &res); err != nil {
			return nil, err
		}
		if res.DocumentID == "" {
			res.DocumentID = strings.TrimSuffix(e.Name(), "_stage2.json")
		}
		results = append(results, &res)
	}
	return results, nil
}
