package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"dealwatch/internal/match"
	"dealwatch/internal/receipt"
)

// Report is the rendered reconciliation document plus its totals.
type Report struct {
	Markdown         string
	PotentialSavings decimal.Decimal
	AlreadySaved     decimal.Decimal
	Opportunities    int
}

// BuildReport renders match results and stored receipts into the
// two-table markdown report. The first table lists refund opportunities
// on items that were not price-dropped at checkout; the second lists
// every item that already had a drop applied, with what it saved.
func BuildReport(results []match.Result, receipts []*receipt.Receipt) *Report {
	var opportunities []match.Result
	for _, r := range results {
		if !r.TPD.Applied() {
			opportunities = append(opportunities, r)
		}
	}
	sort.SliceStable(opportunities, func(i, j int) bool {
		return opportunities[i].ReceiptDate > opportunities[j].ReceiptDate
	})

	var b strings.Builder
	b.WriteString("## 💰 Price Adjustment Opportunities\n\n")

	potential := decimal.Zero
	if len(opportunities) == 0 {
		b.WriteString("No new price adjustment opportunities found.\n")
	} else {
		b.WriteString("| Item | Item # | Date | Paid | Sale Price | Savings | Source |\n")
		b.WriteString("|------|--------|------|------|------------|---------|--------|\n")
		for _, r := range opportunities {
			if amount, err := decimal.NewFromString(r.Savings); err == nil {
				potential = potential.Add(amount)
			}
			fmt.Fprintf(&b, "| %s | %s | %s | $%s | $%s | $%s | %s |\n",
				r.ItemName, r.ItemNumber, r.ReceiptDate, r.PaidPrice, r.DealPrice, r.Savings,
				sourceCell(r.DealSource, r.DealLink))
		}
	}
	fmt.Fprintf(&b, "\n**💰 Potential Savings: $%s**\n\n", potential.StringFixed(2))
	b.WriteString("💡 Request a price adjustment at the membership counter within 30 days of purchase.\n\n")

	b.WriteString("## ✅ Already Applied (TPD on Receipt)\n\n")

	tpdRows, alreadySaved := tpdTable(receipts)
	if len(tpdRows) == 0 {
		b.WriteString("No items with a price drop already applied.\n")
	} else {
		b.WriteString("| Item | Item # | Date | Original | Paid (TPD) | TPD Savings |\n")
		b.WriteString("|------|--------|------|----------|------------|-------------|\n")
		for _, row := range tpdRows {
			b.WriteString(row)
		}
	}
	fmt.Fprintf(&b, "\n**🎉 Already Saved: $%s**\n\n", alreadySaved.StringFixed(2))
	b.WriteString("ℹ️ These items already had a temporary price drop applied at checkout.\n")

	return &Report{
		Markdown:         b.String(),
		PotentialSavings: potential,
		AlreadySaved:     alreadySaved,
		Opportunities:    len(opportunities),
	}
}

func tpdTable(receipts []*receipt.Receipt) ([]string, decimal.Decimal) {
	type entry struct {
		date string
		row  string
	}
	var entries []entry
	total := decimal.Zero

	for _, r := range receipts {
		for _, item := range r.Items {
			if !item.TPD.Applied() {
				continue
			}
			saved := ""
			paid, perr := decimal.NewFromString(item.Price)
			orig, oerr := decimal.NewFromString(item.OriginalPrice)
			if perr == nil && oerr == nil && orig.GreaterThan(paid) {
				diff := orig.Sub(paid)
				total = total.Add(diff)
				saved = "$" + diff.StringFixed(2)
			}
			entries = append(entries, entry{
				date: r.ReceiptDate,
				row: fmt.Sprintf("| %s | %s | %s | %s | $%s | %s |\n",
					item.Name, item.ItemNumber, r.ReceiptDate, dollar(item.OriginalPrice), item.Price, saved),
			})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].date > entries[j].date })
	rows := make([]string, len(entries))
	for i, e := range entries {
		rows[i] = e.row
	}
	return rows, total
}

func sourceCell(source, link string) string {
	if link == "" {
		return source
	}
	return fmt.Sprintf("[%s](%s)", source, link)
}

func dollar(amount string) string {
	if amount == "" {
		return ""
	}
	return "$" + amount
}
