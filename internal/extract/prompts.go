package extract

// receiptPrompt is the fast-tier single-call extraction prompt. The model
// returns every receipt line as a separate item; discount lines are merged
// into their products afterwards by postProcess.
const receiptPrompt = `Extract all lines from this warehouse store receipt as items.
Return ONLY valid JSON with this exact structure, no other text:
{
  "store": "store location or number",
  "receipt_date": "YYYY-MM-DD",
  "items": [
    {"name": "ITEM NAME", "price": "12.99", "qty": "1", "item_number": "1234567"}
  ]
}
Rules:
- Include EVERY line as a separate item, including TPD lines
- TPD lines should have name like "TPD/SHOES" or "TPD/3333332" exactly as shown
- Price should be a string with 2 decimals. If price ends with "-" on receipt, include the minus sign (e.g. "10.00-")
- qty defaults to "1" if not shown
- item_number = the number shown before the item name on that line. Empty string if not visible.
- Do NOT merge or combine any lines
- Do NOT skip any lines
- Ignore tax lines, subtotals, totals, payment lines
- receipt_date should be extracted from the receipt date field`

// Precise-tier prompts: items and prices are read in separate calls over the
// rendered page image and zipped by position, which recovers receipts the
// single-call extraction garbles.
const (
	itemsPrompt = "List ONLY the item numbers and names from the LEFT side of this receipt, top to bottom.\n" +
		"Format: ITEM_NUMBER | NAME\n" +
		"Include TPD/ lines. Skip membership, tax, subtotal, total. One per line. No prices."

	pricesPrompt = "Count and list EVERY dollar amount on the RIGHT side of this receipt, " +
		"from the FIRST item to the LAST item BEFORE subtotal.\n" +
		"One price per line. Include minus signs for discounts.\n" +
		"Do NOT skip any price. Do NOT include subtotal, tax, or total.\n" +
		"There should be exactly one price for each item line on the receipt.\n" +
		"List ONLY the number (e.g. 39.99 or 10.00-), nothing else."

	metaPrompt = "What is the store name/number and receipt date on this receipt? " +
		`Return ONLY JSON: {"store":"","receipt_date":"YYYY-MM-DD"}`
)

// couponPrompt extracts product deals from one coupon-book flyer page.
const couponPrompt = `This is a warehouse store coupon book page. Extract every product deal.
Coupon books show: product name, item number (5-7 digit number), a SAVINGS amount (e.g. "$4 OFF" or "SAVE $5"), and sometimes the final price AFTER discount.

Return ONLY a valid JSON array:
[{"name": "PRODUCT NAME", "item_number": "1234567", "sale_price": "12.99", "savings": "4.00"}]

CRITICAL RULES:
- item_number = the item/product number (5-7 digits, usually near the product name). Empty string if not visible.
- sale_price = the FINAL price the customer pays (the lower number). If only a savings amount is shown with no final price, leave sale_price empty.
- savings = the dollar amount saved (the OFF/SAVE amount)
- Do NOT put the savings amount in sale_price
- Skip headers, dates, fine print, non-product items`
