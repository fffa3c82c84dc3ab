// Package analysis answers read-only questions about the normalized
// invoice dataset: spend rollups, product frequency, monthly revenue,
// and per-document processing stats. It reads the same SQLite database
// the pipeline writes and exposes the queries over a JSON API.
package analysis

import (
	"context"
	"database/sql"
	"fmt"
)

// Queries is the read-only query layer over the dataset database.
type Queries struct {
	db *sql.DB
}

// NewQueries wraps an open dataset database.
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// VendorSpend is one row of the spend-by-vendor rollup.
type VendorSpend struct {
	VendorID     int64   `json:"vendor_id"`
	VendorName   string  `json:"vendor_name"`
	TotalSpend   float64 `json:"total_spend"`
	InvoiceCount int     `json:"invoice_count"`
}

// SpendByVendor totals invoice amounts per vendor, highest first.
func (q *Queries) SpendByVendor(ctx context.Context) ([]VendorSpend, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT v.vendor_id, v.name, COALESCE(SUM(i.total), 0), COUNT(i.invoice_id)
		FROM vendors v
		LEFT JOIN invoices i ON i.vendor_id = v.vendor_id
		GROUP BY v.vendor_id
		ORDER BY SUM(i.total) DESC`)
	if err != nil {
		return nil, fmt.Errorf("analysis: spend by vendor: %w", err)
	}
	defer rows.Close()
	var out []VendorSpend
	for rows.Next() {
		var s VendorSpend
		if err := rows.Scan(&s.VendorID, &s.VendorName, &s.TotalSpend, &s.InvoiceCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CustomerSpend is one row of the spend-by-customer rollup.
type CustomerSpend struct {
	CustomerID   int64   `json:"customer_id"`
	CustomerName string  `json:"customer_name"`
	TotalSpend   float64 `json:"total_spend"`
	InvoiceCount int     `json:"invoice_count"`
}

// SpendByCustomer totals invoice amounts per customer, highest first.
func (q *Queries) SpendByCustomer(ctx context.Context) ([]CustomerSpend, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT c.customer_id, c.name, COALESCE(SUM(i.total), 0), COUNT(i.invoice_id)
		FROM customers c
		LEFT JOIN invoices i ON i.customer_id = c.customer_id
		GROUP BY c.customer_id
		ORDER BY SUM(i.total) DESC`)
	if err != nil {
		return nil, fmt.Errorf("analysis: spend by customer: %w", err)
	}
	defer rows.Close()
	var out []CustomerSpend
	for rows.Next() {
		var s CustomerSpend
		if err := rows.Scan(&s.CustomerID, &s.CustomerName, &s.TotalSpend, &s.InvoiceCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ProductSummary aggregates one product across all invoices.
type ProductSummary struct {
	ProductID     string  `json:"product_id"`
	Description   string  `json:"description"`
	TotalQuantity float64 `json:"total_quantity"`
	TotalRevenue  float64 `json:"total_revenue"`
	PurchaseCount int     `json:"purchase_count"`
}

// TopProducts returns the n most frequently purchased products.
func (q *Queries) TopProducts(ctx context.Context, n int) ([]ProductSummary, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT product_id, description, SUM(quantity), SUM(total_price), COUNT(*)
		FROM line_items
		GROUP BY product_id, description
		ORDER BY COUNT(*) DESC, SUM(total_price) DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("analysis: top products: %w", err)
	}
	defer rows.Close()
	var out []ProductSummary
	for rows.Next() {
		var p ProductSummary
		if err := rows.Scan(&p.ProductID, &p.Description, &p.TotalQuantity, &p.TotalRevenue, &p.PurchaseCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ProductHit is one line-item match of a product search.
type ProductHit struct {
	InvoiceNumber string  `json:"invoice_number"`
	InvoiceDate   string  `json:"invoice_date"`
	ProductID     string  `json:"product_id"`
	Description   string  `json:"description"`
	Quantity      float64 `json:"quantity"`
	Unit          string  `json:"unit"`
	UnitPrice     float64 `json:"unit_price"`
	TotalPrice    float64 `json:"total_price"`
}

// SearchProducts finds line items whose description contains term,
// case-insensitively.
func (q *Queries) SearchProducts(ctx context.Context, term string) ([]ProductHit, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT i.invoice_number, i.invoice_date, li.product_id, li.description,
		       li.quantity, li.unit, li.unit_price, li.total_price
		FROM line_items li
		JOIN invoices i ON i.invoice_id = li.invoice_id
		WHERE li.description LIKE '%' || ? || '%'
		ORDER BY i.invoice_date, i.invoice_number`, term)
	if err != nil {
		return nil, fmt.Errorf("analysis: search products: %w", err)
	}
	defer rows.Close()
	var out []ProductHit
	for rows.Next() {
		var h ProductHit
		if err := rows.Scan(&h.InvoiceNumber, &h.InvoiceDate, &h.ProductID, &h.Description,
			&h.Quantity, &h.Unit, &h.UnitPrice, &h.TotalPrice); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// MonthlyRevenue is the invoice total rollup for one calendar month.
type MonthlyRevenue struct {
	Month        string  `json:"month"` // YYYY-MM
	Revenue      float64 `json:"revenue"`
	InvoiceCount int     `json:"invoice_count"`
}

// RevenueByMonth groups invoice totals by the month of invoice_date.
// Invoices without a parseable date fall into an empty-month bucket.
func (q *Queries) RevenueByMonth(ctx context.Context) ([]MonthlyRevenue, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT substr(invoice_date, 1, 7), SUM(total), COUNT(*)
		FROM invoices
		GROUP BY substr(invoice_date, 1, 7)
		ORDER BY substr(invoice_date, 1, 7)`)
	if err != nil {
		return nil, fmt.Errorf("analysis: monthly revenue: %w", err)
	}
	defer rows.Close()
	var out []MonthlyRevenue
	for rows.Next() {
		var m MonthlyRevenue
		if err := rows.Scan(&m.Month, &m.Revenue, &m.InvoiceCount); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InvoiceRow is one invoice with its vendor name resolved.
type InvoiceRow struct {
	InvoiceID     int64   `json:"invoice_id"`
	InvoiceNumber string  `json:"invoice_number"`
	InvoiceDate   string  `json:"invoice_date"`
	VendorName    string  `json:"vendor_name"`
	CustomerName  string  `json:"customer_name"`
	Total         float64 `json:"total"`
	SourceFile    string  `json:"source_file"`
}

// InvoicesByVendor lists invoices whose vendor name contains
// vendorName (case-insensitive), optionally bounded by an inclusive
// invoice_date range. Empty bounds are ignored.
func (q *Queries) InvoicesByVendor(ctx context.Context, vendorName, startDate, endDate string) ([]InvoiceRow, error) {
	query := `
		SELECT i.invoice_id, i.invoice_number, i.invoice_date, v.name, c.name, i.total, i.source_document
		FROM invoices i
		JOIN vendors v ON v.vendor_id = i.vendor_id
		JOIN customers c ON c.customer_id = i.customer_id
		WHERE v.name LIKE '%' || ? || '%'`
	args := []any{vendorName}
	if startDate != "" {
		query += ` AND i.invoice_date >= ?`
		args = append(args, startDate)
	}
	if endDate != "" {
		query += ` AND i.invoice_date <= ?`
		args = append(args, endDate)
	}
	query += ` ORDER BY i.invoice_date, i.invoice_number`
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("analysis: invoices by vendor: %w", err)
	}
	defer rows.Close()
	var out []InvoiceRow
	for rows.Next() {
		var r InvoiceRow
		if err := rows.Scan(&r.InvoiceID, &r.InvoiceNumber, &r.InvoiceDate,
			&r.VendorName, &r.CustomerName, &r.Total, &r.SourceFile); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PartyInfo is the contact projection of a vendor or customer.
type PartyInfo struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// LineItemInfo is one invoice line in an InvoiceDetails response.
type LineItemInfo struct {
	ProductID   string  `json:"product_id"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	UnitPrice   float64 `json:"unit_price"`
	TotalPrice  float64 `json:"total_price"`
}

// InvoiceDetails is the full view of one invoice.
type InvoiceDetails struct {
	InvoiceNumber string         `json:"invoice_number"`
	InvoiceDate   string         `json:"invoice_date"`
	Total         float64        `json:"total"`
	Vendor        PartyInfo      `json:"vendor"`
	Customer      PartyInfo      `json:"customer"`
	LineItems     []LineItemInfo `json:"line_items"`
	LineItemCount int            `json:"line_item_count"`
}

// ErrNotFound is returned by Invoice when no invoice matches.
var ErrNotFound = sql.ErrNoRows

// Invoice fetches header, parties, and line items for one invoice
// number. Returns ErrNotFound when the number is unknown.
func (q *Queries) Invoice(ctx context.Context, invoiceNumber string) (*InvoiceDetails, error) {
	var d InvoiceDetails
	var invoiceID int64
	err := q.db.QueryRowContext(ctx, `
		SELECT i.invoice_id, i.invoice_number, i.invoice_date, i.total,
		       v.name, v.address, v.phone, c.name, c.address, c.phone
		FROM invoices i
		JOIN vendors v ON v.vendor_id = i.vendor_id
		JOIN customers c ON c.customer_id = i.customer_id
		WHERE i.invoice_number = ?`, invoiceNumber).Scan(
		&invoiceID, &d.InvoiceNumber, &d.InvoiceDate, &d.Total,
		&d.Vendor.Name, &d.Vendor.Address, &d.Vendor.Phone,
		&d.Customer.Name, &d.Customer.Address, &d.Customer.Phone)
	if err != nil {
		return nil, err
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT product_id, description, quantity, unit, unit_price, total_price
		FROM line_items WHERE invoice_id = ? ORDER BY line_item_id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("analysis: invoice line items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var li LineItemInfo
		if err := rows.Scan(&li.ProductID, &li.Description, &li.Quantity, &li.Unit, &li.UnitPrice, &li.TotalPrice); err != nil {
			return nil, err
		}
		d.LineItems = append(d.LineItems, li)
	}
	d.LineItemCount = len(d.LineItems)
	return &d, rows.Err()
}

// RangeSummary holds aggregate stats for an invoice_date range.
type RangeSummary struct {
	DateRange      string  `json:"date_range"`
	InvoiceCount   int     `json:"invoice_count"`
	TotalRevenue   float64 `json:"total_revenue"`
	AverageInvoice float64 `json:"average_invoice_value"`
	MinInvoice     float64 `json:"min_invoice"`
	MaxInvoice     float64 `json:"max_invoice"`
}

// DateRangeSummary aggregates invoices with invoice_date in
// [startDate, endDate].
func (q *Queries) DateRangeSummary(ctx context.Context, startDate, endDate string) (*RangeSummary, error) {
	s := &RangeSummary{DateRange: startDate + " to " + endDate}
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total), 0), COALESCE(AVG(total), 0),
		       COALESCE(MIN(total), 0), COALESCE(MAX(total), 0)
		FROM invoices
		WHERE invoice_date >= ? AND invoice_date <= ?`, startDate, endDate).Scan(
		&s.InvoiceCount, &s.TotalRevenue, &s.AverageInvoice, &s.MinInvoice, &s.MaxInvoice)
	if err != nil {
		return nil, fmt.Errorf("analysis: date range summary: %w", err)
	}
	return s, nil
}

// DocumentStats summarizes the processing ledger.
type DocumentStats struct {
	Total            int     `json:"total"`
	Committed        int     `json:"committed"`
	Pending          int     `json:"pending"`
	OCRFailed        int     `json:"ocr_failed"`
	ExtractionFailed int     `json:"extraction_failed"`
	AvgConfidence    float64 `json:"avg_ocr_confidence"`
	AvgElapsed       float64 `json:"avg_ocr_elapsed_seconds"`
	FallbackUsed     int     `json:"fallback_engine_used"`
}

// Documents summarizes ledger states and OCR quality across all
// processed documents.
func (q *Queries) Documents(ctx context.Context) (*DocumentStats, error) {
	var s DocumentStats
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(status = 'committed'), 0),
		       COALESCE(SUM(status = 'pending'), 0),
		       COALESCE(SUM(status = 'ocr_failed'), 0),
		       COALESCE(SUM(status = 'extraction_failed'), 0),
		       COALESCE(AVG(ocr_confidence), 0),
		       COALESCE(AVG(ocr_elapsed_seconds), 0),
		       COALESCE(SUM(ocr_engine = 'fallback'), 0)
		FROM documents`).Scan(
		&s.Total, &s.Committed, &s.Pending, &s.OCRFailed, &s.ExtractionFailed,
		&s.AvgConfidence, &s.AvgElapsed, &s.FallbackUsed)
	if err != nil {
		return nil, fmt.Errorf("analysis: document stats: %w", err)
	}
	return &s, nil
}
