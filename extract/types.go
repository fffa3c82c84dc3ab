package extract

// Status classifies the outcome of one extraction attempt chain.
type Status string

const (
	// StatusOK means the response passed schema validation.
	StatusOK Status = "ok"
	// StatusMalformed means the endpoint answered but the payload
	// failed validation even after the schema-repair retry.
	StatusMalformed Status = "malformed"
	// StatusFailed means transport or endpoint errors exhausted all
	// attempts. Not fatal; the retry coordinator picks these up.
	StatusFailed Status = "failed"
)

// Party is a vendor or customer block as extracted.
type Party struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	// Email is populated for vendors when present on the invoice.
	Email string `json:"email,omitempty"`
	// Code is the customer account id printed on the invoice, when any.
	Code string `json:"customer_id,omitempty"`
}

// IdentityKey returns the exact-match identity tuple used for
// deduplication. Any differing character yields a distinct entity.
func (p Party) IdentityKey() [3]string {
	return [3]string{p.Name, p.Address, p.Phone}
}

// Amounts holds the invoice money summary.
type Amounts struct {
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Discount float64 `json:"discount"`
	Freight  float64 `json:"freight"`
	Total    float64 `json:"total"`
}

// LineItem is one product line of an invoice.
type LineItem struct {
	ProductID   string  `json:"product_id"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	UnitPrice   float64 `json:"unit_price"`
	TotalPrice  float64 `json:"total_price"`
}

// InvoiceData is the structured content of one invoice.
type InvoiceData struct {
	InvoiceNumber string     `json:"invoice_number"`
	OrderNumber   string     `json:"order_number,omitempty"`
	InvoiceDate   string     `json:"invoice_date"`
	OrderDate     string     `json:"order_date,omitempty"`
	DueDate       string     `json:"due_date,omitempty"`
	Vendor        Party      `json:"vendor"`
	Customer      Party      `json:"customer"`
	Amounts       Amounts    `json:"amounts"`
	LineItems     []LineItem `json:"line_items"`
	PaymentTerms  string     `json:"payment_terms,omitempty"`
	Currency      string     `json:"currency,omitempty"`
}

// Result is the tagged outcome of extracting one document. Data is
// populated only when Status is ok.
type Result struct {
	DocumentID string       `json:"document_id"`
	Status     Status       `json:"status"`
	Error      string       `json:"error,omitempty"`
	Attempts   int          `json:"attempts"`
	Data       *InvoiceData `json:"invoice_data,omitempty"`
}
