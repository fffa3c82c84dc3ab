package extract

import "fmt"

const systemPrompt = "You are an expert invoice data extraction system. You MUST return ONLY a valid JSON object with no additional text before or after."

// repairInstruction is appended for the schema-repair retry after a
// validation failure.
const repairInstruction = `

Your previous answer was not a valid JSON object matching the schema.
Return the JSON object again, fixing these problems:
- %s
Remember: ONLY the JSON object, no markdown fences, no commentary.`

const promptTemplate = `Extract ALL invoice data from the OCR text and return ONLY a JSON object.

OCR TEXT:
%s

Return this EXACT JSON structure (no text before or after):
{
  "invoice_number": "string",
  "order_number": "string or null",
  "invoice_date": "YYYY-MM-DD",
  "order_date": "YYYY-MM-DD or null",
  "due_date": "YYYY-MM-DD or null",
  "vendor": {
    "name": "full company name",
    "address": "complete address",
    "phone": "phone or null",
    "email": "email or null"
  },
  "customer": {
    "name": "full customer name",
    "address": "complete address",
    "phone": "phone or null",
    "customer_id": "id or null"
  },
  "amounts": {
    "subtotal": 0.0,
    "tax": 0.0,
    "discount": 0.0,
    "freight": 0.0,
    "total": 0.0
  },
  "line_items": [
    {
      "product_id": "id or null",
      "description": "full product name",
      "quantity": 0.0,
      "unit": "CS/EA/LB",
      "unit_price": 0.0,
      "total_price": 0.0
    }
  ],
  "payment_terms": "terms",
  "currency": "USD"
}

RULES:
- Return ONLY the JSON object
- No explanations or markdown
- Use null for missing values (not "null" string)
- All prices as numbers not strings
- Extract ALL line items`

// buildPrompt renders the extraction prompt for the given OCR text,
// truncated to maxChars to stay inside the context window.
func buildPrompt(ocrText string, maxChars int) string {
	if maxChars > 0 && len(ocrText) > maxChars {
		ocrText = ocrText[:maxChars]
	}
	return fmt.Sprintf(promptTemplate, ocrText)
}

// buildRepairPrompt renders the schema-repair prompt: the original
// prompt plus a corrective instruction naming the validation failure.
func buildRepairPrompt(ocrText string, maxChars int, problem string) string {
	return buildPrompt(ocrText, maxChars) + fmt.Sprintf(repairInstruction, problem)
}
