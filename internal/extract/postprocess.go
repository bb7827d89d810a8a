package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"dealwatch/internal/receipt"
)

var (
	noisePattern = regexp.MustCompile(`(?i)^(AGE\s*VERIFIED|DEPOSIT|L\d+\s*MEMBER|N\d+\s*MEMBER|\d+\s*@\s*[\d.]+)`)
	qtyPattern   = regexp.MustCompile(`^(\d+)\s*@\s*[\d.]+`)
	ocrNumPrefix = regexp.MustCompile(`^([\dOoBbIlSsGg]{4,8})\s+`)
	ocrDigitFix  = strings.NewReplacer(
		"O", "0", "o", "0",
		"B", "8", "b", "8",
		"I", "1", "l", "1",
		"S", "5", "s", "5",
		"G", "9", "g", "9",
	)
	digitsOnly = regexp.MustCompile(`^\d+$`)
)

// postProcess turns the model's line-per-line transcription into purchased
// items: quantity prefix lines attach to the next item, noise lines drop,
// and TPD / negative-price discount lines merge into the item they discount.
// The merged item keeps its pre-discount price in OriginalPrice and carries
// the TPD marker, labeled with the discount line's text when there is one.
func postProcess(items []receipt.ReceiptItem) ([]receipt.ReceiptItem, []string) {
	var warnings []string

	// First pass: drop noise, capture "N @ price" quantity lines.
	cleaned := make([]receipt.ReceiptItem, 0, len(items))
	pendingQty := ""
	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		price := strings.TrimSpace(item.Price)

		if m := qtyPattern.FindStringSubmatch(name); m != nil {
			pendingQty = m[1]
			continue
		}
		if noisePattern.MatchString(name) {
			continue
		}
		if !isTPDLine(name) && (price == "" || price == "0" || price == "0.00") {
			continue
		}
		if pendingQty != "" && !isTPDLine(name) {
			item.Qty = pendingQty
			pendingQty = ""
		}
		item.Name = name
		item.Price = price
		cleaned = append(cleaned, item)
	}

	// Second pass: merge discount lines into the item above them.
	merged := make([]receipt.ReceiptItem, 0, len(cleaned))
	for _, item := range cleaned {
		cleanPrice := strings.TrimRight(item.Price, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ @#*")
		isTPD := isTPDLine(item.Name)
		isNegative := strings.HasSuffix(cleanPrice, "-")

		if (isTPD || isNegative) && len(merged) > 0 {
			prev := &merged[len(merged)-1]
			discount, derr := decimal.NewFromString(strings.TrimSuffix(cleanPrice, "-"))
			orig, oerr := decimal.NewFromString(prev.Price)
			if derr != nil || oerr != nil {
				warnings = append(warnings, fmt.Sprintf("unreadable discount line %q (%s)", item.Name, item.Price))
				continue
			}
			if discount.LessThan(orig) {
				prev.OriginalPrice = prev.Price
				prev.Price = orig.Sub(discount).StringFixed(2)
				if isTPD {
					prev.TPD = receipt.LabelTPD(item.Name)
				} else {
					prev.TPD = receipt.FlagTPD()
				}
			}
			continue
		}

		item.Price = strings.ReplaceAll(cleanPrice, "-", "")
		fixupQty(&item)
		fixupItemNumber(&item)
		merged = append(merged, item)
	}
	return merged, warnings
}

func isTPDLine(name string) bool {
	return strings.Contains(strings.ToUpper(name), "TPD/")
}

// fixupQty resets quantities that cannot be right: a multi-quantity line
// whose total does not divide evenly into a cent amount was a misread.
func fixupQty(item *receipt.ReceiptItem) {
	if item.Qty == "" {
		item.Qty = "1"
		return
	}
	qty, err := decimal.NewFromString(item.Qty)
	if err != nil || !qty.IsInteger() || qty.LessThanOrEqual(decimal.NewFromInt(1)) {
		return
	}
	price, err := decimal.NewFromString(item.Price)
	if err != nil || price.IsZero() {
		return
	}
	unit := price.Div(qty)
	if unit.Sub(unit.Round(2)).Abs().GreaterThan(decimal.NewFromFloat(0.001)) {
		item.Qty = "1"
	}
}

// fixupItemNumber repairs item numbers the OCR mangled into letters and
// strips number prefixes that leaked into the name.
func fixupItemNumber(item *receipt.ReceiptItem) {
	if item.ItemNumber == "" {
		if m := ocrNumPrefix.FindStringSubmatch(item.Name); m != nil {
			fixed := ocrDigitFix.Replace(m[1])
			if digitsOnly.MatchString(fixed) {
				item.ItemNumber = fixed
				item.Name = strings.TrimSpace(item.Name[len(m[1]):])
			}
		}
	}
	if len(item.ItemNumber) > 8 {
		item.ItemNumber = ""
	}
	if item.ItemNumber != "" && strings.HasPrefix(item.Name, item.ItemNumber) {
		item.Name = strings.TrimSpace(strings.TrimPrefix(item.Name, item.ItemNumber))
	}
}
