package ocr

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageCount returns the number of pages in a PDF file.
func PageCount(pdfPath string) (int, error) {
	n, err := api.PageCountFile(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("page count %s: %w", filepath.Base(pdfPath), err)
	}
	return n, nil
}

// ExtractScanImage pulls the scanned page image out of the first page
// of a PDF and writes it under outDir. Scanned invoices embed the scan
// as a single full-page image object, so extracting it avoids
// rasterization entirely.
//
// Returns the path of the extracted image file.
func ExtractScanImage(pdfPath, outDir string) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractImagesFile(pdfPath, outDir, []string{"1"}, conf); err != nil {
		return "", fmt.Errorf("extract images %s: %w", filepath.Base(pdfPath), err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", fmt.Errorf("read image dir: %w", err)
	}
	// pdfcpu names extracted files <stem>_<page>_<obj>.<ext>; a scanned
	// page yields exactly one. Pick the largest in case of decorations.
	var best string
	var bestSize int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			best = filepath.Join(outDir, e.Name())
			bestSize = info.Size()
		}
	}
	if best == "" {
		return "", fmt.Errorf("no page image found in %s", filepath.Base(pdfPath))
	}
	return best, nil
}
