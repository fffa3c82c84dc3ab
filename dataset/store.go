// Package dataset is the normalization engine and its backing store:
// four relations (vendors, customers, invoices, line_items) plus the
// processing ledger, persisted in a single SQLite database.
//
// All writes funnel through a single-writer discipline (a mutex around
// Commit and the ledger mutations), so surrogate ids never collide and
// a key tuple observed twice in one batch yields one row.
package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"invoicepipe/dbopen"
	"invoicepipe/ocr"
)

// Store provides access to the relations and the ledger.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// NewStore wraps an open database and applies the schema.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("dataset: create schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// DB exposes the underlying handle for read-only consumers (analysis).
func (s *Store) DB() *sql.DB { return s.db }

// MarkPending records a document entering the pipeline. Existing
// entries keep their status; only updated_at moves.
func (s *Store) MarkPending(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO documents (document_id, status, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET updated_at = excluded.updated_at
	`, docID, StatusPending, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("dataset: mark pending %s: %w", docID, err)
	}
	return nil
}

// RecordOCR stores per-document OCR stats without changing status.
func (s *Store) RecordOCR(ctx context.Context, docID string, res *ocr.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO documents (document_id, status, ocr_confidence, ocr_engine, ocr_elapsed_seconds, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			ocr_confidence = excluded.ocr_confidence,
			ocr_engine = excluded.ocr_engine,
			ocr_elapsed_seconds = excluded.ocr_elapsed_seconds,
			updated_at = excluded.updated_at
	`, docID, StatusPending, res.Confidence, string(res.Engine), res.ElapsedSeconds, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("dataset: record ocr %s: %w", docID, err)
	}
	return nil
}

// MarkOCRFailed records an OCR-stage terminal failure. Committed
// documents never regress.
func (s *Store) MarkOCRFailed(ctx context.Context, docID, reason string) error {
	return s.setFailure(ctx, docID, StatusOCRFailed, "", reason, 0)
}

// MarkExtractionFailed records an extraction-stage failure with the
// extraction status (malformed or failed) and the attempt count of the
// failing chain.
func (s *Store) MarkExtractionFailed(ctx context.Context, docID, extractionStatus, reason string, attempts int) error {
	return s.setFailure(ctx, docID, StatusExtractionFailed, extractionStatus, reason, attempts)
}

func (s *Store) setFailure(ctx context.Context, docID string, status DocStatus, extractionStatus, reason string, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO documents (document_id, status, extraction_status, extraction_error, extraction_attempts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			status = CASE WHEN documents.status = 'committed' THEN documents.status ELSE excluded.status END,
			extraction_status = excluded.extraction_status,
			extraction_error = excluded.extraction_error,
			extraction_attempts = excluded.extraction_attempts,
			updated_at = excluded.updated_at
	`, docID, status, extractionStatus, reason, attempts, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("dataset: mark %s %s: %w", status, docID, err)
	}
	return nil
}

// Status returns the ledger status for a document, or StatusPending
// with ok=false when the document is unknown.
func (s *Store) Status(ctx context.Context, docID string) (DocStatus, bool, error) {
	var status DocStatus
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM documents WHERE document_id = ?`, docID).Scan(&status)
	if err == sql.ErrNoRows {
		return StatusPending, false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("dataset: status %s: %w", docID, err)
	}
	return status, true, nil
}

// Failed lists documents whose ledger status is ocr_failed or
// extraction_failed, the retry coordinator's work queue.
func (s *Store) Failed(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, status, ocr_confidence, ocr_engine, ocr_elapsed_seconds,
			extraction_status, extraction_error, extraction_attempts, updated_at
		FROM documents
		WHERE status IN (?, ?)
		ORDER BY document_id
	`, StatusOCRFailed, StatusExtractionFailed)
	if err != nil {
		return nil, fmt.Errorf("dataset: list failed: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// Documents returns every ledger entry, ordered by document id.
func (s *Store) Documents(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, status, ocr_confidence, ocr_engine, ocr_elapsed_seconds,
			extraction_status, extraction_error, extraction_attempts, updated_at
		FROM documents ORDER BY document_id
	`)
	if err != nil {
		return nil, fmt.Errorf("dataset: list documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var d Document
		var updated int64
		if err := rows.Scan(&d.DocumentID, &d.Status, &d.OCRConfidence, &d.OCREngine,
			&d.OCRElapsedSeconds, &d.ExtractionStatus, &d.ExtractionError,
			&d.ExtractionAttempts, &updated); err != nil {
			return nil, err
		}
		d.UpdatedAt = time.Unix(updated, 0)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Vendors returns the vendor relation ordered by surrogate id.
func (s *Store) Vendors(ctx context.Context) ([]Vendor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vendor_id, name, address, phone, email FROM vendors ORDER BY vendor_id`)
	if err != nil {
		return nil, fmt.Errorf("dataset: list vendors: %w", err)
	}
	defer rows.Close()

	var out []Vendor
	for rows.Next() {
		var v Vendor
		if err := rows.Scan(&v.VendorID, &v.Name, &v.Address, &v.Phone, &v.Email); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Customers returns the customer relation ordered by surrogate id.
func (s *Store) Customers(ctx context.Context) ([]Customer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT customer_id, name, address, phone, customer_code FROM customers ORDER BY customer_id`)
	if err != nil {
		return nil, fmt.Errorf("dataset: list customers: %w", err)
	}
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.CustomerID, &c.Name, &c.Address, &c.Phone, &c.CustomerCode); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Invoices returns the invoice relation ordered by surrogate id.
func (s *Store) Invoices(ctx context.Context) ([]Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT invoice_id, invoice_number, order_number, invoice_date, order_date, due_date,
			vendor_id, customer_id, subtotal, tax, discount, freight, total,
			payment_terms, currency, source_document
		FROM invoices ORDER BY invoice_id
	`)
	if err != nil {
		return nil, fmt.Errorf("dataset: list invoices: %w", err)
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		var inv Invoice
		if err := rows.Scan(&inv.InvoiceID, &inv.InvoiceNumber, &inv.OrderNumber,
			&inv.InvoiceDate, &inv.OrderDate, &inv.DueDate,
			&inv.VendorID, &inv.CustomerID,
			&inv.Subtotal, &inv.Tax, &inv.Discount, &inv.Freight, &inv.Total,
			&inv.PaymentTerms, &inv.Currency, &inv.SourceDocument); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// LineItems returns the line item relation ordered by surrogate id.
func (s *Store) LineItems(ctx context.Context) ([]LineItemRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT line_item_id, invoice_id, product_id, description, quantity, unit, unit_price, total_price
		FROM line_items ORDER BY line_item_id
	`)
	if err != nil {
		return nil, fmt.Errorf("dataset: list line items: %w", err)
	}
	defer rows.Close()

	var out []LineItemRow
	for rows.Next() {
		var li LineItemRow
		if err := rows.Scan(&li.LineItemID, &li.InvoiceID, &li.ProductID, &li.Description,
			&li.Quantity, &li.Unit, &li.UnitPrice, &li.TotalPrice); err != nil {
			return nil, err
		}
		out = append(out, li)
	}
	return out, rows.Err()
}
