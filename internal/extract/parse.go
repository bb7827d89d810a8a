package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"dealwatch/internal/receipt"
)

// receiptSchema guards the overall response shape before item-level
// defensive decoding takes over. Individual item fields stay loose on
// purpose: models mix up string and number types constantly.
const receiptSchema = `{
	"type": "object",
	"required": ["items"],
	"properties": {
		"store": {"type": ["string", "number", "null"]},
		"receipt_date": {"type": ["string", "null"]},
		"items": {"type": "array", "items": {"type": "object"}}
	}
}`

var compiledReceiptSchema = jsonschema.MustCompileString("receipt.json", receiptSchema)

// flexString decodes a JSON string, number, boolean or null into a string.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexString(strconv.FormatBool(b))
		return nil
	}
	*f = ""
	return nil
}

type rawItem struct {
	Name          flexString  `json:"name"`
	Price         flexString  `json:"price"`
	Qty           flexString  `json:"qty"`
	ItemNumber    flexString  `json:"item_number"`
	OriginalPrice flexString  `json:"original_price"`
	TPD           receipt.TPD `json:"tpd"`
}

type rawReceipt struct {
	Store       flexString `json:"store"`
	ReceiptDate flexString `json:"receipt_date"`
	Items       []rawItem  `json:"items"`
}

// jsonBlock strips markdown fences and slices out the outermost JSON value
// delimited by opening/closing markers, e.g. "{"/"}" or "["/"]".
func jsonBlock(text, opening, closing string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, opening)
	if start == -1 {
		return "", fmt.Errorf("no JSON %s...%s block found in response", opening, closing)
	}
	end := strings.LastIndex(text, closing)
	if end == -1 || end < start {
		return "", fmt.Errorf("unterminated JSON %s...%s block in response", opening, closing)
	}
	return text[start : end+1], nil
}

// decodeReceipt validates and decodes a model's receipt JSON response.
func decodeReceipt(text string) (*rawReceipt, error) {
	block, err := jsonBlock(text, "{", "}")
	if err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal([]byte(block), &generic); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	if err := compiledReceiptSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("response does not match receipt schema: %w", err)
	}

	var raw rawReceipt
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling receipt: %w", err)
	}
	return &raw, nil
}

// cleanReceiptDate coerces the extracted date to yyyy-mm-dd, or "" when it
// cannot be read.
func cleanReceiptDate(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if len(text) >= 10 {
		if t, err := time.Parse("2006-01-02", text[:10]); err == nil {
			return t.Format("2006-01-02")
		}
	}
	for _, layout := range []string{"2006/01/02", "01/02/2006", "02-01-2006"} {
		if t, err := time.Parse(layout, text); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

// toParsed converts a decoded response into the structured receipt, dropping
// items that carry neither a name nor a price. Partial extraction beats
// total failure: dropped lines become warnings, not errors.
func toParsed(raw *rawReceipt) *receipt.ParsedReceipt {
	parsed := &receipt.ParsedReceipt{
		Store:       strings.TrimSpace(string(raw.Store)),
		ReceiptDate: cleanReceiptDate(string(raw.ReceiptDate)),
	}

	items := make([]receipt.ReceiptItem, 0, len(raw.Items))
	for i, ri := range raw.Items {
		name := strings.TrimSpace(string(ri.Name))
		price := strings.TrimSpace(string(ri.Price))
		if name == "" && price == "" {
			parsed.Warnings = append(parsed.Warnings, fmt.Sprintf("dropped item %d: no name or price", i))
			continue
		}
		qty := strings.TrimSpace(string(ri.Qty))
		if qty == "" {
			qty = "1"
		}
		items = append(items, receipt.ReceiptItem{
			Name:          name,
			Price:         price,
			ItemNumber:    strings.TrimSpace(string(ri.ItemNumber)),
			Qty:           qty,
			OriginalPrice: strings.TrimSpace(string(ri.OriginalPrice)),
			TPD:           ri.TPD,
		})
	}

	items, warnings := postProcess(items)
	parsed.Items = items
	parsed.Warnings = append(parsed.Warnings, warnings...)
	return parsed
}

// CouponItem is one product deal read off a coupon-book page.
type CouponItem struct {
	Name       string `json:"name"`
	ItemNumber string `json:"item_number"`
	SalePrice  string `json:"sale_price"`
	Savings    string `json:"savings"`
}

// decodeCouponItems decodes the JSON array a coupon page extraction returns.
func decodeCouponItems(text string) ([]CouponItem, error) {
	block, err := jsonBlock(text, "[", "]")
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Name       flexString `json:"name"`
		ItemNumber flexString `json:"item_number"`
		SalePrice  flexString `json:"sale_price"`
		Savings    flexString `json:"savings"`
	}
	if err := json.Unmarshal([]byte(block), &rows); err != nil {
		return nil, fmt.Errorf("unmarshaling coupon items: %w", err)
	}
	items := make([]CouponItem, 0, len(rows))
	for _, r := range rows {
		name := strings.TrimSpace(string(r.Name))
		if name == "" {
			continue
		}
		items = append(items, CouponItem{
			Name:       name,
			ItemNumber: strings.TrimSpace(string(r.ItemNumber)),
			SalePrice:  strings.ReplaceAll(strings.TrimSpace(string(r.SalePrice)), ",", ""),
			Savings:    strings.TrimSpace(string(r.Savings)),
		})
	}
	return items, nil
}
