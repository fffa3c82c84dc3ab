package dataset

import (
	"context"
	"fmt"
	"testing"

	_ "modernc.org/sqlite"

	"invoicepipe/dbopen"
	"invoicepipe/extract"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s, err := NewStore(db, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func okResult(docID string) *extract.Result {
	return &extract.Result{
		DocumentID: docID,
		Status:     extract.StatusOK,
		Attempts:   1,
		Data: &extract.InvoiceData{
			InvoiceNumber: "INV-" + docID,
			InvoiceDate:   "2025-08-05",
			Vendor:        extract.Party{Name: "FLOUR POWER SUPPLY CO", Address: "12 Mill Rd", Phone: "316-555-0114"},
			Customer:      extract.Party{Name: "BAKERY DIRECT LLC", Address: "98 Oven St", Phone: ""},
			Amounts:       extract.Amounts{Subtotal: 192.5, Total: 192.5},
			LineItems: []extract.LineItem{
				{ProductID: "FP-8", Description: "FLOUR POWER", Quantity: 8, Unit: "CS", UnitPrice: 24.063, TotalPrice: 192.5},
			},
			Currency: "USD",
		},
	}
}

func TestCommitReferentialIntegrity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	results := []*extract.Result{okResult("doc-a"), okResult("doc-b")}
	results[1].Data.Vendor = extract.Party{Name: "OTHER VENDOR", Address: "1 Elsewhere", Phone: "555"}

	stats, err := s.Commit(ctx, results, false)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Committed != 2 {
		t.Fatalf("committed = %d, want 2", stats.Committed)
	}

	vendors, _ := s.Vendors(ctx)
	customers, _ := s.Customers(ctx)
	invoices, _ := s.Invoices(ctx)

	vendorIDs := map[int64]bool{}
	for _, v := range vendors {
		vendorIDs[v.VendorID] = true
	}
	customerIDs := map[int64]bool{}
	for _, c := range customers {
		customerIDs[c.CustomerID] = true
	}
	for _, inv := range invoices {
		if !vendorIDs[inv.VendorID] {
			t.Errorf("invoice %d references missing vendor %d", inv.InvoiceID, inv.VendorID)
		}
		if !customerIDs[inv.CustomerID] {
			t.Errorf("invoice %d references missing customer %d", inv.InvoiceID, inv.CustomerID)
		}
	}
}

func TestCommitIdempotence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	results := []*extract.Result{okResult("doc-a"), okResult("doc-b")}
	if _, err := s.Commit(ctx, results, false); err != nil {
		t.Fatal(err)
	}

	// Second pass over the same results: ledger-committed documents
	// are skipped, relation contents are unchanged.
	stats, err := s.Commit(ctx, results, false)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Committed != 0 || stats.Skipped != 2 {
		t.Fatalf("stats = %+v, want 0 committed / 2 skipped", stats)
	}

	invoices, _ := s.Invoices(ctx)
	if len(invoices) != 2 {
		t.Fatalf("invoices = %d, want 2", len(invoices))
	}
	lineItems, _ := s.LineItems(ctx)
	if len(lineItems) != 2 {
		t.Fatalf("line items = %d, want 2", len(lineItems))
	}
}

func TestVendorIdentityStability(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Same identity tuple in both documents: one vendor row.
	a, b := okResult("doc-a"), okResult("doc-b")
	if _, err := s.Commit(ctx, []*extract.Result{a, b}, false); err != nil {
		t.Fatal(err)
	}
	vendors, _ := s.Vendors(ctx)
	if len(vendors) != 1 {
		t.Fatalf("vendors = %d, want 1", len(vendors))
	}

	invoices, _ := s.Invoices(ctx)
	if invoices[0].VendorID != invoices[1].VendorID {
		t.Fatal("identical vendor tuples must map to one vendor_id")
	}

	// A single differing character creates a distinct row, by design.
	c := okResult("doc-c")
	c.Data.Vendor.Name = "FLOUR POWER SUPPLY C0" // OCR noise: O -> 0
	if _, err := s.Commit(ctx, []*extract.Result{c}, false); err != nil {
		t.Fatal(err)
	}
	vendors, _ = s.Vendors(ctx)
	if len(vendors) != 2 {
		t.Fatalf("vendors = %d, want 2 after noisy duplicate", len(vendors))
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var results []*extract.Result
	for i := 0; i < 5; i++ {
		results = append(results, okResult(fmt.Sprintf("doc-%d", i)))
	}
	results[2] = &extract.Result{
		DocumentID: "doc-2",
		Status:     extract.StatusFailed,
		Error:      "endpoint returned status 502",
		Attempts:   3,
	}

	stats, err := s.Commit(ctx, results, false)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Committed != 4 || stats.Failed != 1 {
		t.Fatalf("stats = %+v, want 4 committed / 1 failed", stats)
	}

	invoices, _ := s.Invoices(ctx)
	if len(invoices) != 4 {
		t.Fatalf("invoices = %d, want 4", len(invoices))
	}

	failed, _ := s.Failed(ctx)
	if len(failed) != 1 || failed[0].DocumentID != "doc-2" {
		t.Fatalf("failed = %+v, want exactly doc-2", failed)
	}
	if failed[0].Status != StatusExtractionFailed {
		t.Fatalf("status = %q, want extraction_failed", failed[0].Status)
	}
}

func TestCommitNilDataRecordedAsFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// An artifact can claim ok status without carrying a payload; the
	// batch must survive it and the ledger must record the document.
	results := []*extract.Result{
		okResult("doc-a"),
		{DocumentID: "doc-b", Status: extract.StatusOK, Attempts: 1},
	}
	stats, err := s.Commit(ctx, results, false)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Committed != 1 || stats.Failed != 1 {
		t.Fatalf("stats = %+v, want 1 committed / 1 failed", stats)
	}

	invoices, _ := s.Invoices(ctx)
	if len(invoices) != 1 {
		t.Fatalf("invoices = %d, want 1", len(invoices))
	}
	status, known, err := s.Status(ctx, "doc-b")
	if err != nil || !known {
		t.Fatalf("status lookup: known=%v err=%v", known, err)
	}
	if status != StatusExtractionFailed {
		t.Fatalf("status = %q, want extraction_failed", status)
	}
}

func TestRetryConvergence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// First run: extraction fails.
	fail := &extract.Result{DocumentID: "doc-a", Status: extract.StatusFailed, Error: "timeout", Attempts: 3}
	if _, err := s.Commit(ctx, []*extract.Result{fail}, false); err != nil {
		t.Fatal(err)
	}
	status, _, _ := s.Status(ctx, "doc-a")
	if status != StatusExtractionFailed {
		t.Fatalf("status = %q, want extraction_failed", status)
	}

	// Retry succeeds: exactly one invoice row, ledger transitions.
	if _, err := s.Commit(ctx, []*extract.Result{okResult("doc-a")}, false); err != nil {
		t.Fatal(err)
	}
	status, _, _ = s.Status(ctx, "doc-a")
	if status != StatusCommitted {
		t.Fatalf("status = %q, want committed", status)
	}

	invoices, _ := s.Invoices(ctx)
	if len(invoices) != 1 {
		t.Fatalf("invoices = %d, want exactly 1 after retry", len(invoices))
	}
}

func TestSurrogateIDsMonotone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Commit(ctx, []*extract.Result{okResult("doc-a")}, false); err != nil {
		t.Fatal(err)
	}
	// Forced replacement deletes the old invoice row; the new row must
	// get a fresh, higher id — ids are never reused.
	if _, err := s.Commit(ctx, []*extract.Result{okResult("doc-a")}, true); err != nil {
		t.Fatal(err)
	}

	invoices, _ := s.Invoices(ctx)
	if len(invoices) != 1 {
		t.Fatalf("invoices = %d, want 1", len(invoices))
	}
	if invoices[0].InvoiceID <= 1 {
		t.Fatalf("invoice_id = %d, want > 1 after forced replacement", invoices[0].InvoiceID)
	}
}

func TestExtractionAttemptsNotInflated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fail := &extract.Result{DocumentID: "doc-a", Status: extract.StatusFailed, Error: "timeout", Attempts: 3}
	// An export run re-reads the same failed artifact every time; the
	// recorded attempts reflect the failing chain, not the re-reads.
	for i := 0; i < 3; i++ {
		if _, err := s.Commit(ctx, []*extract.Result{fail}, false); err != nil {
			t.Fatal(err)
		}
	}
	failed, err := s.Failed(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(failed))
	}
	if failed[0].ExtractionAttempts != 3 {
		t.Fatalf("attempts = %d, want 3", failed[0].ExtractionAttempts)
	}
}

func TestCommittedNeverRegresses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Commit(ctx, []*extract.Result{okResult("doc-a")}, false); err != nil {
		t.Fatal(err)
	}
	// A stale failure report must not downgrade a committed document.
	if err := s.MarkExtractionFailed(ctx, "doc-a", "failed", "late failure", 1); err != nil {
		t.Fatal(err)
	}
	status, _, _ := s.Status(ctx, "doc-a")
	if status != StatusCommitted {
		t.Fatalf("status = %q, want committed", status)
	}
}

func TestLedgerLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.MarkPending(ctx, "doc-a"); err != nil {
		t.Fatal(err)
	}
	status, known, err := s.Status(ctx, "doc-a")
	if err != nil || !known || status != StatusPending {
		t.Fatalf("status = %q known=%v err=%v", status, known, err)
	}

	if err := s.MarkOCRFailed(ctx, "doc-a", "unreadable page"); err != nil {
		t.Fatal(err)
	}
	failed, _ := s.Failed(ctx)
	if len(failed) != 1 || failed[0].Status != StatusOCRFailed {
		t.Fatalf("failed = %+v", failed)
	}

	_, known, _ = s.Status(ctx, "doc-unknown")
	if known {
		t.Fatal("unknown document reported as known")
	}
}
