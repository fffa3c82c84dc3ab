package dataset

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Column orders below are a stable contract consumed by the dashboard.
// Reordering or renaming breaks downstream readers.
var (
	vendorColumns   = []string{"vendor_id", "name", "address", "phone", "email"}
	customerColumns = []string{"customer_id", "name", "address", "phone", "customer_code"}
	invoiceColumns  = []string{"invoice_id", "invoice_number", "order_number", "invoice_date",
		"order_date", "due_date", "vendor_id", "customer_id", "subtotal", "tax",
		"discount", "freight", "total", "payment_terms", "currency", "source_file"}
	lineItemColumns = []string{"line_item_id", "invoice_id", "product_id", "description",
		"quantity", "unit", "unit_price", "total_price"}
)

// exportMetadata is the metadata.json payload: export counts, the
// relationship map, and per-document processing stats.
type exportMetadata struct {
	ExportDate     string            `json:"export_date"`
	TotalVendors   int               `json:"total_vendors"`
	TotalCustomers int               `json:"total_customers"`
	TotalInvoices  int               `json:"total_invoices"`
	TotalLineItems int               `json:"total_line_items"`
	Files          map[string]string `json:"files"`
	Relationships  map[string]string `json:"relationships"`
	Documents      []Document        `json:"documents"`
}

// ExportCSV writes the four relations as CSV files plus metadata.json
// into outDir, creating it if needed.
func (s *Store) ExportCSV(ctx context.Context, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("dataset: create export dir: %w", err)
	}

	vendors, err := s.Vendors(ctx)
	if err != nil {
		return err
	}
	customers, err := s.Customers(ctx)
	if err != nil {
		return err
	}
	invoices, err := s.Invoices(ctx)
	if err != nil {
		return err
	}
	lineItems, err := s.LineItems(ctx)
	if err != nil {
		return err
	}
	documents, err := s.Documents(ctx)
	if err != nil {
		return err
	}

	if err := writeCSV(filepath.Join(outDir, "vendors.csv"), vendorColumns, len(vendors), func(i int) []string {
		v := vendors[i]
		return []string{itoa(v.VendorID), v.Name, v.Address, v.Phone, v.Email}
	}); err != nil {
		return err
	}

	if err := writeCSV(filepath.Join(outDir, "customers.csv"), customerColumns, len(customers), func(i int) []string {
		c := customers[i]
		return []string{itoa(c.CustomerID), c.Name, c.Address, c.Phone, c.CustomerCode}
	}); err != nil {
		return err
	}

	if err := writeCSV(filepath.Join(outDir, "invoices.csv"), invoiceColumns, len(invoices), func(i int) []string {
		inv := invoices[i]
		return []string{itoa(inv.InvoiceID), inv.InvoiceNumber, inv.OrderNumber, inv.InvoiceDate,
			inv.OrderDate, inv.DueDate, itoa(inv.VendorID), itoa(inv.CustomerID),
			ftoa(inv.Subtotal), ftoa(inv.Tax), ftoa(inv.Discount), ftoa(inv.Freight), ftoa(inv.Total),
			inv.PaymentTerms, inv.Currency, inv.SourceDocument}
	}); err != nil {
		return err
	}

	if err := writeCSV(filepath.Join(outDir, "line_items.csv"), lineItemColumns, len(lineItems), func(i int) []string {
		li := lineItems[i]
		return []string{itoa(li.LineItemID), itoa(li.InvoiceID), li.ProductID, li.Description,
			ftoa(li.Quantity), li.Unit, ftoa(li.UnitPrice), ftoa(li.TotalPrice)}
	}); err != nil {
		return err
	}

	meta := exportMetadata{
		ExportDate:     time.Now().Format(time.RFC3339),
		TotalVendors:   len(vendors),
		TotalCustomers: len(customers),
		TotalInvoices:  len(invoices),
		TotalLineItems: len(lineItems),
		Files: map[string]string{
			"vendors.csv":    "Unique vendors with contact information",
			"customers.csv":  "Unique customers with contact information",
			"invoices.csv":   "Invoice headers with totals and references",
			"line_items.csv": "Individual line items for each invoice",
		},
		Relationships: map[string]string{
			"invoices.vendor_id":    "-> vendors.vendor_id",
			"invoices.customer_id":  "-> customers.customer_id",
			"line_items.invoice_id": "-> invoices.invoice_id",
		},
		Documents: documents,
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("dataset: marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "metadata.json"), metaJSON, 0o644); err != nil {
		return fmt.Errorf("dataset: write metadata: %w", err)
	}

	s.logger.Info("CSV export complete",
		"dir", outDir,
		"vendors", len(vendors),
		"customers", len(customers),
		"invoices", len(invoices),
		"line_items", len(lineItems))
	return nil
}

func writeCSV(path string, header []string, n int, row func(int) []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dataset: create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("dataset: write header %s: %w", filepath.Base(path), err)
	}
	for i := 0; i < n; i++ {
		if err := w.Write(row(i)); err != nil {
			return fmt.Errorf("dataset: write row %s: %w", filepath.Base(path), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("dataset: flush %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func itoa(i int64) string { return strconv.FormatInt(i, 10) }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
