package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
)

// errNoJSON is returned when no JSON object can be located in a
// model response.
var errNoJSON = errors.New("no JSON object in response")

// cleanResponse strips markdown code fences and trims the response to
// the outermost JSON object. Models occasionally wrap the payload in
// ```json fences or add prose around it despite instructions.
func cleanResponse(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, marker := range []string{"```json", "```JSON", "```"} {
		s = strings.ReplaceAll(s, marker, "")
	}
	s = strings.TrimSpace(s)

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", errNoJSON
	}
	return stripTrailingCommas(s[start : end+1]), nil
}

// stripTrailingCommas removes commas that directly precede a closing
// brace or bracket, a frequent model output defect that encoding/json
// rejects. String literals are left untouched.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
			b.WriteByte(c)
		case ',':
			// Look ahead past whitespace for a closer.
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue // drop the comma
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// parseInvoice decodes a cleaned JSON payload into InvoiceData with
// strict validation at the boundary. The model output is duck-typed
// (numbers may arrive as strings, fields may be null), so decoding
// goes through a dynamic map and every field is coerced explicitly.
func parseInvoice(jsonText string, logger *slog.Logger) (*InvoiceData, error) {
	dec := json.NewDecoder(strings.NewReader(jsonText))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}

	var problems []string
	need := func(key string) {
		if _, ok := raw[key]; !ok {
			problems = append(problems, fmt.Sprintf("missing required field %q", key))
		}
	}
	for _, key := range []string{"invoice_number", "vendor", "customer", "amounts", "line_items"} {
		need(key)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	inv := &InvoiceData{
		InvoiceNumber: asString(raw["invoice_number"]),
		OrderNumber:   asString(raw["order_number"]),
		InvoiceDate:   asString(raw["invoice_date"]),
		OrderDate:     asString(raw["order_date"]),
		DueDate:       asString(raw["due_date"]),
		PaymentTerms:  asString(raw["payment_terms"]),
		Currency:      asString(raw["currency"]),
	}
	if inv.InvoiceNumber == "" {
		problems = append(problems, "invoice_number is empty")
	}
	if inv.Currency == "" {
		inv.Currency = "USD"
	}

	inv.Vendor = asParty(raw["vendor"])
	inv.Customer = asParty(raw["customer"])
	if inv.Vendor.Name == "" {
		problems = append(problems, "vendor.name is empty")
	}
	if inv.Customer.Name == "" {
		problems = append(problems, "customer.name is empty")
	}

	amounts, ok := raw["amounts"].(map[string]any)
	if !ok {
		problems = append(problems, "amounts is not an object")
	} else {
		inv.Amounts.Subtotal, _ = asFloat(amounts["subtotal"])
		inv.Amounts.Tax, _ = asFloat(amounts["tax"])
		inv.Amounts.Discount, _ = asFloat(amounts["discount"])
		inv.Amounts.Freight, _ = asFloat(amounts["freight"])
		var totalOK bool
		inv.Amounts.Total, totalOK = asFloat(amounts["total"])
		if !totalOK {
			problems = append(problems, "amounts.total is not a number")
		}
	}

	items, ok := raw["line_items"].([]any)
	if !ok || len(items) == 0 {
		problems = append(problems, "line_items is empty or not an array")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	// A malformed individual line item is dropped with a warning; the
	// invoice fails only when no line item survives.
	for i, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			logger.Warn("dropping non-object line item", "index", i)
			continue
		}
		li, err := asLineItem(m)
		if err != nil {
			logger.Warn("dropping malformed line item", "index", i, "error", err)
			continue
		}
		inv.LineItems = append(inv.LineItems, li)
	}
	if len(inv.LineItems) == 0 {
		return nil, fmt.Errorf("no usable line items (of %d)", len(items))
	}

	return inv, nil
}

func asLineItem(m map[string]any) (LineItem, error) {
	li := LineItem{
		ProductID:   asString(m["product_id"]),
		Description: asString(m["description"]),
		Unit:        asString(m["unit"]),
	}
	if li.Description == "" {
		return li, errors.New("missing description")
	}
	var ok bool
	if li.Quantity, ok = asFloat(m["quantity"]); !ok {
		return li, errors.New("quantity is not a number")
	}
	if li.UnitPrice, ok = asFloat(m["unit_price"]); !ok {
		return li, errors.New("unit_price is not a number")
	}
	if tp, ok := asFloat(m["total_price"]); ok && tp != 0 {
		li.TotalPrice = tp
	} else {
		li.TotalPrice = round2(li.Quantity * li.UnitPrice)
	}
	return li, nil
}

func asParty(v any) Party {
	m, ok := v.(map[string]any)
	if !ok {
		return Party{}
	}
	return Party{
		Name:    asString(m["name"]),
		Address: asString(m["address"]),
		Phone:   asString(m["phone"]),
		Email:   asString(m["email"]),
		Code:    asString(m["customer_id"]),
	}
}

// asString coerces a dynamic value to string. Nulls and absent values
// become ""; numbers are rendered verbatim (product ids are sometimes
// emitted as bare numbers).
func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// asFloat coerces a dynamic value to float64, accepting numbers and
// numeric strings. The second return reports success.
func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", ""))
		if s == "" {
			return 0, false
		}
		var f float64
		if _, err := fmt.Sscanf(s, "%f", &f); err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// round2 rounds to 2 decimal places, the currency precision of the
// extraction schema.
func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
