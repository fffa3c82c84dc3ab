package dataset

// Schema for the invoice dataset. Surrogate keys use AUTOINCREMENT so
// ids are monotone for the lifetime of the database and never reused,
// even after deletes. Vendor and customer identity is the exact
// (name, address, phone) tuple; OCR noise therefore yields distinct
// rows, which is intentional and relied upon by the retry guarantees.
const Schema = `
CREATE TABLE IF NOT EXISTS vendors (
	vendor_id INTEGER PRIMARY KEY AUTOINCREMENT,
	name      TEXT NOT NULL,
	address   TEXT NOT NULL DEFAULT '',
	phone     TEXT NOT NULL DEFAULT '',
	email     TEXT NOT NULL DEFAULT '',
	UNIQUE(name, address, phone)
);

CREATE TABLE IF NOT EXISTS customers (
	customer_id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL,
	address       TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	customer_code TEXT NOT NULL DEFAULT '',
	UNIQUE(name, address, phone)
);

CREATE TABLE IF NOT EXISTS invoices (
	invoice_id      INTEGER PRIMARY KEY AUTOINCREMENT,
	invoice_number  TEXT NOT NULL,
	order_number    TEXT NOT NULL DEFAULT '',
	invoice_date    TEXT NOT NULL DEFAULT '',
	order_date      TEXT NOT NULL DEFAULT '',
	due_date        TEXT NOT NULL DEFAULT '',
	vendor_id       INTEGER NOT NULL REFERENCES vendors(vendor_id),
	customer_id     INTEGER NOT NULL REFERENCES customers(customer_id),
	subtotal        REAL NOT NULL DEFAULT 0,
	tax             REAL NOT NULL DEFAULT 0,
	discount        REAL NOT NULL DEFAULT 0,
	freight         REAL NOT NULL DEFAULT 0,
	total           REAL NOT NULL DEFAULT 0,
	payment_terms   TEXT NOT NULL DEFAULT '',
	currency        TEXT NOT NULL DEFAULT 'USD',
	source_document TEXT NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS idx_invoices_vendor ON invoices(vendor_id);
CREATE INDEX IF NOT EXISTS idx_invoices_customer ON invoices(customer_id);
CREATE INDEX IF NOT EXISTS idx_invoices_date ON invoices(invoice_date);

CREATE TABLE IF NOT EXISTS line_items (
	line_item_id INTEGER PRIMARY KEY AUTOINCREMENT,
	invoice_id   INTEGER NOT NULL REFERENCES invoices(invoice_id),
	product_id   TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL,
	quantity     REAL NOT NULL DEFAULT 0,
	unit         TEXT NOT NULL DEFAULT '',
	unit_price   REAL NOT NULL DEFAULT 0,
	total_price  REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_line_items_invoice ON line_items(invoice_id);

CREATE TABLE IF NOT EXISTS documents (
	document_id         TEXT PRIMARY KEY,
	status              TEXT NOT NULL DEFAULT 'pending',
	ocr_confidence      REAL NOT NULL DEFAULT 0,
	ocr_engine          TEXT NOT NULL DEFAULT '',
	ocr_elapsed_seconds REAL NOT NULL DEFAULT 0,
	extraction_status   TEXT NOT NULL DEFAULT '',
	extraction_error    TEXT NOT NULL DEFAULT '',
	extraction_attempts INTEGER NOT NULL DEFAULT 0,
	updated_at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
`
