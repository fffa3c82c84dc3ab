package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "modernc.org/sqlite"

	"invoicepipe/dataset"
	"invoicepipe/dbopen"
	"invoicepipe/extract"
	"invoicepipe/ocr"
)

func invoiceResult(docID, vendor, date string, total float64) *extract.Result {
	return &extract.Result{
		DocumentID: docID,
		Status:     extract.StatusOK,
		Attempts:   1,
		Data: &extract.InvoiceData{
			InvoiceNumber: "INV-" + docID,
			InvoiceDate:   date,
			Vendor:        extract.Party{Name: vendor, Address: "1 Main St", Phone: "555"},
			Customer:      extract.Party{Name: "BAKERY DIRECT LLC", Address: "98 Oven St"},
			Amounts:       extract.Amounts{Subtotal: total, Total: total},
			LineItems: []extract.LineItem{
				{ProductID: "FP-8", Description: "FLOUR POWER", Quantity: 8, Unit: "CS", UnitPrice: total / 8, TotalPrice: total},
			},
			Currency: "USD",
		},
	}
}

func seedDataset(t *testing.T) *dataset.Store {
	t.Helper()
	store, err := dataset.NewStore(dbopen.OpenMemory(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	results := []*extract.Result{
		invoiceResult("doc-a", "FLOUR POWER SUPPLY CO", "2025-07-12", 200),
		invoiceResult("doc-b", "FLOUR POWER SUPPLY CO", "2025-08-05", 120),
		invoiceResult("doc-c", "DAIRY FRESH INC", "2025-08-20", 300),
	}
	if _, err := store.Commit(ctx, results, false); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordOCR(ctx, "doc-a", &ocr.Result{
		DocumentID: "doc-a", Confidence: 0.9, Engine: ocr.EnginePrimary, ElapsedSeconds: 1.5,
	}); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestSpendByVendor(t *testing.T) {
	q := NewQueries(seedDataset(t).DB())
	out, err := q.SpendByVendor(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("vendors = %d, want 2", len(out))
	}
	if out[0].VendorName != "FLOUR POWER SUPPLY CO" || out[0].TotalSpend != 320 {
		t.Errorf("top vendor = %+v", out[0])
	}
	if out[0].InvoiceCount != 2 {
		t.Errorf("invoice count = %d, want 2", out[0].InvoiceCount)
	}
}

func TestTopProducts(t *testing.T) {
	q := NewQueries(seedDataset(t).DB())
	out, err := q.TopProducts(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("products = %d, want 1", len(out))
	}
	if out[0].PurchaseCount != 3 || out[0].TotalQuantity != 24 {
		t.Errorf("product = %+v", out[0])
	}
}

func TestRevenueByMonth(t *testing.T) {
	q := NewQueries(seedDataset(t).DB())
	out, err := q.RevenueByMonth(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("months = %d, want 2", len(out))
	}
	if out[1].Month != "2025-08" || out[1].Revenue != 420 || out[1].InvoiceCount != 2 {
		t.Errorf("august = %+v", out[1])
	}
}

func TestInvoicesByVendorDateRange(t *testing.T) {
	q := NewQueries(seedDataset(t).DB())
	out, err := q.InvoicesByVendor(context.Background(), "flour power", "2025-08-01", "2025-08-31")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("invoices = %+v, want 1", out)
	}
	if out[0].InvoiceNumber != "INV-doc-b" {
		t.Errorf("invoice = %+v", out[0])
	}
}

func TestInvoiceDetails(t *testing.T) {
	q := NewQueries(seedDataset(t).DB())
	d, err := q.Invoice(context.Background(), "INV-doc-a")
	if err != nil {
		t.Fatal(err)
	}
	if d.Vendor.Name != "FLOUR POWER SUPPLY CO" || d.LineItemCount != 1 {
		t.Errorf("details = %+v", d)
	}

	if _, err := q.Invoice(context.Background(), "INV-nope"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDocumentStats(t *testing.T) {
	q := NewQueries(seedDataset(t).DB())
	s, err := q.Documents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.Total != 3 || s.Committed != 3 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRouter(t *testing.T) {
	srv := NewServer(seedDataset(t).DB(), nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/vendors/spend")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out []VendorSpend
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Errorf("vendors = %d, want 2", len(out))
	}

	resp, err = http.Get(ts.URL + "/api/invoices/INV-nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/products/search")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
