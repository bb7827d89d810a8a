package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"dealwatch/internal/match"
	"dealwatch/internal/receipt"
)

const analysisInstructions = `You are a warehouse-store price match analyst.
You are given pre-filtered match candidates and the full receipt item list.

Verify which candidates are real matches and discard false positives:
receipt names are abbreviated ("ALDO SHOE" = "ALDO COURT SHOE"), but
similar-looking names for different products do not match.

Match types:
- exact_item_number: always valid
- partial_item_number: very likely valid (size/region variants)
- name_keyword: verify the products are actually the same

CRITICAL RULES:
- Only report a savings opportunity if the deal price is STRICTLY LESS than what was paid.
- Items with tpd set already received a price drop at purchase; their price is what they actually paid. Only report further savings if a deal is even cheaper than that.
- Never compare deals against original_price; compare against price.

Present as TWO MARKDOWN TABLES, sorted by date (newest first), EXACTLY:

## 💰 Price Adjustment Opportunities

| Item | Item # | Date | Paid | Sale Price | Savings | Source |
(rows with savings > $0 and no tpd at purchase)

**💰 Potential Savings: $X.XX**

💡 Request a price adjustment at the membership counter within 30 days of purchase.

## ✅ Already Applied (TPD on Receipt)

| Item | Item # | Date | Original | Paid (TPD) | TPD Savings |
(every receipt item with tpd set; TPD Savings = original_price - price)

**🎉 Already Saved: $X.XX**

ℹ️ These items already had a temporary price drop applied at checkout.

Format the Source column as a markdown link when a deal link is given.
All dollar amounts MUST include the $ sign. Do not deviate from the format.
If nothing matched, say so clearly.`

// BuildPrompt assembles the analysis request for the model: fixed
// instructions plus the candidates and receipt lines as JSON. The model
// narrates and formats; the numbers were already computed here.
func BuildPrompt(results []match.Result, receipts []*receipt.Receipt) (string, error) {
	type promptItem struct {
		Name          string      `json:"name"`
		Price         string      `json:"price"`
		Qty           string      `json:"qty,omitempty"`
		ItemNumber    string      `json:"item_number,omitempty"`
		OriginalPrice string      `json:"original_price,omitempty"`
		TPD           receipt.TPD `json:"tpd"`
		ReceiptDate   string      `json:"receipt_date,omitempty"`
	}

	var items []promptItem
	for _, r := range receipts {
		for _, item := range r.Items {
			items = append(items, promptItem{
				Name:          item.Name,
				Price:         item.Price,
				Qty:           item.Qty,
				ItemNumber:    item.ItemNumber,
				OriginalPrice: item.OriginalPrice,
				TPD:           item.TPD,
				ReceiptDate:   r.ReceiptDate,
			})
		}
	}

	candidates, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("encoding match candidates: %w", err)
	}
	lines, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encoding receipt items: %w", err)
	}

	var b strings.Builder
	b.WriteString(analysisInstructions)
	b.WriteString("\n\nMatch candidates:\n")
	b.Write(candidates)
	b.WriteString("\n\nReceipt items:\n")
	b.Write(lines)
	return b.String(), nil
}
