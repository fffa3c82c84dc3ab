package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"invoicepipe/dbopen"
	"invoicepipe/extract"
)

// Commit folds a sequence of extraction results into the relations, in
// input order. Documents whose ledger entry is already committed are
// skipped unless force is set — idempotence lives at the ledger level,
// not in content comparison. Malformed and failed results update the
// ledger and create no rows. A single document never aborts the batch.
func (s *Store) Commit(ctx context.Context, results []*extract.Result, force bool) (*CommitStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &CommitStats{}
	for _, res := range results {
		if res == nil || res.DocumentID == "" {
			continue
		}

		if res.Status != extract.StatusOK {
			if err := s.failureLocked(ctx, res); err != nil {
				return stats, err
			}
			stats.Failed++
			continue
		}

		// Stage artifacts come off disk; an ok status with no payload
		// is malformed, not a reason to abort the batch.
		if res.Data == nil {
			s.logger.Warn("ok result carries no invoice data, recording as failure",
				"document", res.DocumentID)
			fail := &extract.Result{
				DocumentID: res.DocumentID,
				Status:     extract.StatusMalformed,
				Error:      "ok result carries no invoice data",
				Attempts:   res.Attempts,
			}
			if err := s.failureLocked(ctx, fail); err != nil {
				return stats, err
			}
			stats.Failed++
			continue
		}

		committed, err := s.commitOne(ctx, res, force)
		if err != nil {
			return stats, fmt.Errorf("dataset: commit %s: %w", res.DocumentID, err)
		}
		if committed {
			stats.Committed++
		} else {
			stats.Skipped++
		}
	}

	s.logger.Info("commit complete",
		"committed", stats.Committed,
		"skipped", stats.Skipped,
		"failed", stats.Failed)
	return stats, nil
}

// commitOne writes one ok result inside a transaction. Returns false
// when the ledger says the document is already committed and force is
// off.
func (s *Store) commitOne(ctx context.Context, res *extract.Result, force bool) (bool, error) {
	committed := false
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var status DocStatus
		err := tx.QueryRow(`SELECT status FROM documents WHERE document_id = ?`, res.DocumentID).Scan(&status)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if status == StatusCommitted && !force {
			s.logger.Debug("skipping already-committed document", "document", res.DocumentID)
			return nil
		}
		if status == StatusCommitted && force {
			// Forced re-run replaces the prior rows for this document.
			// Vendor/customer rows are never reclaimed.
			if err := deleteInvoiceRows(tx, res.DocumentID); err != nil {
				return err
			}
		}

		data := res.Data
		vendorID, err := getOrCreateVendor(tx, data.Vendor)
		if err != nil {
			return err
		}
		customerID, err := getOrCreateCustomer(tx, data.Customer)
		if err != nil {
			return err
		}

		r, err := tx.Exec(`
			INSERT INTO invoices (invoice_number, order_number, invoice_date, order_date, due_date,
				vendor_id, customer_id, subtotal, tax, discount, freight, total,
				payment_terms, currency, source_document)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, data.InvoiceNumber, data.OrderNumber, data.InvoiceDate, data.OrderDate, data.DueDate,
			vendorID, customerID,
			data.Amounts.Subtotal, data.Amounts.Tax, data.Amounts.Discount, data.Amounts.Freight, data.Amounts.Total,
			data.PaymentTerms, data.Currency, res.DocumentID)
		if err != nil {
			return err
		}
		invoiceID, err := r.LastInsertId()
		if err != nil {
			return err
		}

		for _, li := range data.LineItems {
			if _, err := tx.Exec(`
				INSERT INTO line_items (invoice_id, product_id, description, quantity, unit, unit_price, total_price)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, invoiceID, li.ProductID, li.Description, li.Quantity, li.Unit, li.UnitPrice, li.TotalPrice); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(`
			INSERT INTO documents (document_id, status, extraction_status, extraction_error, extraction_attempts, updated_at)
			VALUES (?, ?, ?, '', ?, ?)
			ON CONFLICT(document_id) DO UPDATE SET
				status = excluded.status,
				extraction_status = excluded.extraction_status,
				extraction_error = '',
				extraction_attempts = excluded.extraction_attempts,
				updated_at = excluded.updated_at
		`, res.DocumentID, StatusCommitted, string(extract.StatusOK), res.Attempts, time.Now().Unix()); err != nil {
			return err
		}

		committed = true
		return nil
	})
	return committed, err
}

// failureLocked records a malformed/failed extraction in the ledger.
// Attempts are set, not summed: the same failed artifact may be
// re-read by every export run. Caller holds the writer mutex.
func (s *Store) failureLocked(ctx context.Context, res *extract.Result) error {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO documents (document_id, status, extraction_status, extraction_error, extraction_attempts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			status = CASE WHEN documents.status = 'committed' THEN documents.status ELSE excluded.status END,
			extraction_status = excluded.extraction_status,
			extraction_error = excluded.extraction_error,
			extraction_attempts = excluded.extraction_attempts,
			updated_at = excluded.updated_at
	`, res.DocumentID, StatusExtractionFailed, string(res.Status), res.Error, res.Attempts, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("dataset: record extraction failure %s: %w", res.DocumentID, err)
	}
	return nil
}

func deleteInvoiceRows(tx *sql.Tx, docID string) error {
	var invoiceID int64
	err := tx.QueryRow(`SELECT invoice_id FROM invoices WHERE source_document = ?`, docID).Scan(&invoiceID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM line_items WHERE invoice_id = ?`, invoiceID); err != nil {
		return err
	}
	_, err = tx.Exec(`DELETE FROM invoices WHERE invoice_id = ?`, invoiceID)
	return err
}

// getOrCreateVendor looks a vendor up by its exact identity tuple and
// inserts it on first sighting. No fuzzy matching: rows are never
// merged or mutated after creation.
func getOrCreateVendor(tx *sql.Tx, p extract.Party) (int64, error) {
	var id int64
	err := tx.QueryRow(`
		SELECT vendor_id FROM vendors WHERE name = ? AND address = ? AND phone = ?
	`, p.Name, p.Address, p.Phone).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	r, err := tx.Exec(`INSERT INTO vendors (name, address, phone, email) VALUES (?, ?, ?, ?)`,
		p.Name, p.Address, p.Phone, p.Email)
	if err != nil {
		return 0, err
	}
	return r.LastInsertId()
}

func getOrCreateCustomer(tx *sql.Tx, p extract.Party) (int64, error) {
	var id int64
	err := tx.QueryRow(`
		SELECT customer_id FROM customers WHERE name = ? AND address = ? AND phone = ?
	`, p.Name, p.Address, p.Phone).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	r, err := tx.Exec(`INSERT INTO customers (name, address, phone, customer_code) VALUES (?, ?, ?, ?)`,
		p.Name, p.Address, p.Phone, p.Code)
	if err != nil {
		return 0, err
	}
	return r.LastInsertId()
}
