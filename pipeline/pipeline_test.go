package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"invoicepipe/dataset"
	"invoicepipe/dbopen"
	"invoicepipe/extract"
	"invoicepipe/ocr"
)

const invoiceJSON = `{
  "invoice_number": "INV-1001",
  "invoice_date": "2025-08-05",
  "vendor": {"name": "FLOUR POWER SUPPLY CO", "address": "12 Mill Rd", "phone": "316-555-0114", "email": null},
  "customer": {"name": "BAKERY DIRECT LLC", "address": "98 Oven St", "phone": null, "customer_id": null},
  "amounts": {"subtotal": 192.5, "tax": 0, "discount": 0, "freight": 0, "total": 192.5},
  "line_items": [
    {"product_id": "FP-8", "description": "FLOUR POWER", "quantity": 8.0, "unit": "CS", "unit_price": 24.063, "total_price": null}
  ],
  "payment_terms": "NET 30",
  "currency": "USD"
}`

// chatServer fakes an OpenAI-compatible endpoint that always returns
// the given message content.
func chatServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		quoted, _ := json.Marshal(content)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":` + string(quoted) + `},"finish_reason":"stop"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPipeline(t *testing.T, llmURL string) (*Pipeline, *dataset.Store) {
	t.Helper()
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.InputDir = filepath.Join(root, "in")
	cfg.Stage1Dir = filepath.Join(root, "stage1")
	cfg.Stage2Dir = filepath.Join(root, "stage2")
	cfg.ExportDir = filepath.Join(root, "export")
	cfg.Concurrency = 2
	cfg.RequestDelayMS = 0
	if err := os.MkdirAll(cfg.InputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(cfg.Stage1Dir, 0o755); err != nil {
		t.Fatal(err)
	}

	store, err := dataset.NewStore(dbopen.OpenMemory(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	client := extract.NewClient(extract.Config{
		BaseURL:     llmURL,
		Model:       "openai/gpt-oss-120b",
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
	})
	return New(cfg, store, nil, client, nil), store
}

func writeStage1(t *testing.T, p *Pipeline, docID, text string) {
	t.Helper()
	art := Stage1Artifact{
		Result: ocr.Result{
			DocumentID: docID,
			Text:       text,
			Confidence: 0.92,
			Engine:     ocr.EnginePrimary,
		},
		SourcePDF:   docID + ".pdf",
		ProcessedAt: time.Now().Format(time.RFC3339),
	}
	if err := writeJSON(filepath.Join(p.cfg.Stage1Dir, docID+"_stage1.json"), &art); err != nil {
		t.Fatal(err)
	}
}

func TestDocumentID(t *testing.T) {
	cases := []struct{ path, want string }{
		{"invoices/Invoice scan_136.pdf", "Invoice scan_136"},
		{"a/b/doc.PDF", "doc"},
		{"plain", "plain"},
	}
	for _, c := range cases {
		if got := DocumentID(c.path); got != c.want {
			t.Errorf("DocumentID(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

func TestListPDFs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.PDF", "notes.txt", "c.pdf"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := listPDFs(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("pdfs = %v, want 3", got)
	}
	if filepath.Base(got[0]) != "a.PDF" {
		t.Errorf("order = %v, want a.PDF first", got)
	}
}

func TestRunExtractAndExport(t *testing.T) {
	srv := chatServer(t, invoiceJSON, http.StatusOK)
	p, store := newTestPipeline(t, srv.URL)
	ctx := context.Background()

	writeStage1(t, p, "doc-a", "INVOICE 1001 ...")
	writeStage1(t, p, "doc-b", "INVOICE 1002 ...")

	summary, err := p.RunExtract(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Succeeded != 2 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	for _, docID := range []string{"doc-a", "doc-b"} {
		if _, err := os.Stat(filepath.Join(p.cfg.Stage2Dir, docID+"_stage2.json")); err != nil {
			t.Errorf("missing stage2 artifact for %s: %v", docID, err)
		}
	}

	stats, err := p.RunExport(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Committed != 2 {
		t.Fatalf("stats = %+v, want 2 committed", stats)
	}
	if _, err := os.Stat(filepath.Join(p.cfg.ExportDir, "invoices.csv")); err != nil {
		t.Errorf("missing export: %v", err)
	}

	invoices, err := store.Invoices(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(invoices) != 2 {
		t.Fatalf("invoices = %d, want 2", len(invoices))
	}
}

func TestRunExtractRecordsFailure(t *testing.T) {
	srv := chatServer(t, "", http.StatusBadGateway)
	p, store := newTestPipeline(t, srv.URL)
	ctx := context.Background()

	writeStage1(t, p, "doc-a", "garbled")

	summary, err := p.RunExtract(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 1 || summary.Succeeded != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	status, known, err := store.Status(ctx, "doc-a")
	if err != nil || !known {
		t.Fatalf("status lookup: known=%v err=%v", known, err)
	}
	if status != dataset.StatusExtractionFailed {
		t.Fatalf("status = %q, want extraction_failed", status)
	}
}

func TestRunRetryReusesStage1Text(t *testing.T) {
	srv := chatServer(t, invoiceJSON, http.StatusOK)
	p, store := newTestPipeline(t, srv.URL)
	ctx := context.Background()

	// A prior run OCRed the document fine but extraction failed.
	writeStage1(t, p, "doc-a", "INVOICE 1001 ...")
	if err := store.MarkExtractionFailed(ctx, "doc-a", "failed", "endpoint down", 3); err != nil {
		t.Fatal(err)
	}

	stats, err := p.RunRetry(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Committed != 1 {
		t.Fatalf("stats = %+v, want 1 committed", stats)
	}
	status, _, _ := store.Status(ctx, "doc-a")
	if status != dataset.StatusCommitted {
		t.Fatalf("status = %q, want committed", status)
	}

	// Nothing left to retry; a second pass is a no-op.
	stats, err = p.RunRetry(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Committed != 0 {
		t.Fatalf("second retry stats = %+v, want no-op", stats)
	}
}

func TestRunExtractCancelled(t *testing.T) {
	srv := chatServer(t, invoiceJSON, http.StatusOK)
	p, _ := newTestPipeline(t, srv.URL)

	writeStage1(t, p, "doc-a", "text")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := p.RunExtract(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Succeeded != 0 {
		t.Fatalf("summary = %+v, want no successes after cancel", summary)
	}
}

func TestRunExtractCancelDuringDelay(t *testing.T) {
	srv := chatServer(t, invoiceJSON, http.StatusOK)
	p, store := newTestPipeline(t, srv.URL)
	p.cfg.Concurrency = 1
	p.cfg.RequestDelayMS = 2000

	writeStage1(t, p, "doc-a", "INVOICE 1001 ...")
	writeStage1(t, p, "doc-b", "INVOICE 1002 ...")

	// Cancel while the runner waits out the delay before doc-b; the
	// in-flight doc-a finishes, doc-b is never submitted.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	summary, err := p.RunExtract(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Succeeded != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want doc-a only", summary)
	}
	if _, err := os.Stat(filepath.Join(p.cfg.Stage2Dir, "doc-b_stage2.json")); err == nil {
		t.Error("doc-b was submitted after cancellation")
	}
	if _, known, _ := store.Status(context.Background(), "doc-b"); known {
		t.Error("doc-b reached the ledger after cancellation")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("input_dir: /data/in\nconcurrency: 8\nllm:\n  model: mixtral\n  base_url: http://llm:9000\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.InputDir != "/data/in" || cfg.Concurrency != 8 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.LLM.Model != "mixtral" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	// Unset fields keep their defaults.
	if cfg.OCR.ConfidenceThreshold != 0.70 {
		t.Errorf("threshold = %v, want default 0.70", cfg.OCR.ConfidenceThreshold)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 0
	if err := cfg.Validate(); err == nil {
		t.Error("want error for zero concurrency")
	}
	cfg = DefaultConfig()
	cfg.OCR.ConfidenceThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("want error for out-of-range threshold")
	}
	cfg = DefaultConfig()
	cfg.LLM.Model = ""
	if err := cfg.Validate(); err == nil {
		t.Error("want error for missing model")
	}
}
