package analysis_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"dealwatch/internal/analysis"
	"dealwatch/internal/match"
	"dealwatch/internal/receipt"
)

var _ = Describe("BuildReport", func() {
	It("splits opportunities and applied drops into the two tables", func() {
		results := []match.Result{
			{
				ItemName: "PAPER TOWELS", ItemNumber: "123", ReceiptDate: "2026-02-20",
				PaidPrice: "15.99", DealPrice: "12.99", Savings: "3.00",
				DealSource: "cocowest.ca", DealLink: "https://cocowest.ca/post",
			},
			{
				ItemName: "OLIVE OIL", ItemNumber: "456", ReceiptDate: "2026-02-25",
				PaidPrice: "18.99", DealPrice: "14.99", Savings: "4.00",
				DealSource: "redflagdeals.com",
			},
		}
		receipts := []*receipt.Receipt{{
			ID:          "r1",
			ReceiptDate: "2026-02-20",
			Items: []receipt.ReceiptItem{
				{Name: "GREEK YOGURT", ItemNumber: "789", Price: "6.49", OriginalPrice: "8.49", TPD: receipt.FlagTPD()},
				{Name: "PAPER TOWELS", ItemNumber: "123", Price: "15.99"},
			},
		}}

		report := analysis.BuildReport(results, receipts)

		Expect(report.Opportunities).To(Equal(2))
		Expect(report.PotentialSavings.StringFixed(2)).To(Equal("7.00"))
		Expect(report.AlreadySaved.StringFixed(2)).To(Equal("2.00"))

		Expect(report.Markdown).To(ContainSubstring("## 💰 Price Adjustment Opportunities"))
		Expect(report.Markdown).To(ContainSubstring("| PAPER TOWELS | 123 | 2026-02-20 | $15.99 | $12.99 | $3.00 | [cocowest.ca](https://cocowest.ca/post) |"))
		Expect(report.Markdown).To(ContainSubstring("| OLIVE OIL | 456 | 2026-02-25 | $18.99 | $14.99 | $4.00 | redflagdeals.com |"))
		Expect(report.Markdown).To(ContainSubstring("**💰 Potential Savings: $7.00**"))
		Expect(report.Markdown).To(ContainSubstring("| GREEK YOGURT | 789 | 2026-02-20 | $8.49 | $6.49 | $2.00 |"))
		Expect(report.Markdown).To(ContainSubstring("**🎉 Already Saved: $2.00**"))
	})

	It("lists newest receipts first", func() {
		results := []match.Result{
			{ItemName: "OLD", ReceiptDate: "2026-01-01", PaidPrice: "10.00", DealPrice: "9.00", Savings: "1.00"},
			{ItemName: "NEW", ReceiptDate: "2026-02-01", PaidPrice: "10.00", DealPrice: "9.00", Savings: "1.00"},
		}

		report := analysis.BuildReport(results, nil)

		newIdx := strings.Index(report.Markdown, "| NEW |")
		oldIdx := strings.Index(report.Markdown, "| OLD |")
		Expect(newIdx).To(BeNumerically(">", -1))
		Expect(newIdx).To(BeNumerically("<", oldIdx))
	})

	It("keeps residual-savings matches on TPD items out of the opportunity table", func() {
		results := []match.Result{{
			ItemName: "VITAMINS", ReceiptDate: "2026-02-01",
			PaidPrice: "24.99", DealPrice: "19.99", Savings: "5.00",
			TPD: receipt.FlagTPD(),
		}}

		report := analysis.BuildReport(results, nil)

		Expect(report.Opportunities).To(BeZero())
		Expect(report.Markdown).To(ContainSubstring("No new price adjustment opportunities found."))
	})

	It("reports empty tables without falling over", func() {
		report := analysis.BuildReport(nil, nil)

		Expect(report.PotentialSavings.IsZero()).To(BeTrue())
		Expect(report.AlreadySaved.IsZero()).To(BeTrue())
		Expect(report.Markdown).To(ContainSubstring("**💰 Potential Savings: $0.00**"))
	})
})

var _ = Describe("MarkdownToHTML", func() {
	It("renders tables with inline styles and converts links", func() {
		md := "## Report\n\n| Item | Savings |\n|------|---------|\n| Towels | [cocowest](https://cocowest.ca) |\n\n**Total: $3.00**\n"

		html := analysis.MarkdownToHTML(md)

		Expect(html).To(ContainSubstring("<h2"))
		Expect(html).To(ContainSubstring(`<table style="border-collapse:collapse`))
		Expect(html).To(ContainSubstring("<th"))
		Expect(html).To(ContainSubstring(`<a href="https://cocowest.ca">cocowest</a>`))
		Expect(html).To(ContainSubstring("<b>Total: $3.00</b>"))
		Expect(html).NotTo(ContainSubstring("|---"))
	})

	It("escapes raw HTML in cell content", func() {
		md := "| Item | Savings |\n|---|---|\n| <script>alert(1)</script> | $1 |\n"

		html := analysis.MarkdownToHTML(md)

		Expect(html).NotTo(ContainSubstring("<script>"))
		Expect(html).To(ContainSubstring("&lt;script&gt;"))
	})
})
