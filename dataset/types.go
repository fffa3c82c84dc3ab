package dataset

import "time"

// DocStatus tracks a document's progress through the pipeline. It is
// the only mutable cross-run state; everything else is append-only.
type DocStatus string

const (
	StatusPending          DocStatus = "pending"
	StatusOCRFailed        DocStatus = "ocr_failed"
	StatusExtractionFailed DocStatus = "extraction_failed"
	StatusCommitted        DocStatus = "committed"
)

// Document is one ledger entry with its per-document processing stats.
type Document struct {
	DocumentID         string    `json:"document_id"`
	Status             DocStatus `json:"status"`
	OCRConfidence      float64   `json:"ocr_confidence"`
	OCREngine          string    `json:"ocr_engine"`
	OCRElapsedSeconds  float64   `json:"ocr_elapsed_seconds"`
	ExtractionStatus   string    `json:"extraction_status"`
	ExtractionError    string    `json:"extraction_error,omitempty"`
	ExtractionAttempts int       `json:"extraction_attempts"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Vendor is a normalized vendor entity.
type Vendor struct {
	VendorID int64  `json:"vendor_id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
}

// Customer is a normalized customer entity.
type Customer struct {
	CustomerID   int64  `json:"customer_id"`
	Name         string `json:"name"`
	Address      string `json:"address"`
	Phone        string `json:"phone"`
	CustomerCode string `json:"customer_code"`
}

// Invoice is one invoice header row.
type Invoice struct {
	InvoiceID      int64   `json:"invoice_id"`
	InvoiceNumber  string  `json:"invoice_number"`
	OrderNumber    string  `json:"order_number"`
	InvoiceDate    string  `json:"invoice_date"`
	OrderDate      string  `json:"order_date"`
	DueDate        string  `json:"due_date"`
	VendorID       int64   `json:"vendor_id"`
	CustomerID     int64   `json:"customer_id"`
	Subtotal       float64 `json:"subtotal"`
	Tax            float64 `json:"tax"`
	Discount       float64 `json:"discount"`
	Freight        float64 `json:"freight"`
	Total          float64 `json:"total"`
	PaymentTerms   string  `json:"payment_terms"`
	Currency       string  `json:"currency"`
	SourceDocument string  `json:"source_document"`
}

// LineItemRow is one invoice line with its surrogate key.
type LineItemRow struct {
	LineItemID  int64   `json:"line_item_id"`
	InvoiceID   int64   `json:"invoice_id"`
	ProductID   string  `json:"product_id"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	UnitPrice   float64 `json:"unit_price"`
	TotalPrice  float64 `json:"total_price"`
}

// CommitStats summarises one Commit call.
type CommitStats struct {
	Committed int `json:"committed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}
