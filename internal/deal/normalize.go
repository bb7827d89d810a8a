package deal

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RawListing is the unstructured output of one source adapter. Every field
// is optional; adapters omit what they cannot extract rather than guessing.
type RawListing struct {
	Name              string `json:"name,omitempty"`
	PriceText         string `json:"price_text,omitempty"`
	OriginalPriceText string `json:"original_price_text,omitempty"`
	ItemNumber        string `json:"item_number,omitempty"`
	PromoStart        string `json:"promo_start,omitempty"`
	PromoEnd          string `json:"promo_end,omitempty"`
	Link              string `json:"link,omitempty"`
}

var priceDigits = regexp.MustCompile(`[\d,]+\.?\d*`)

// CleanPrice strips currency symbols, thousands separators and surrounding
// text from a price string and returns the canonical decimal form. Returns
// "" when no usable number is present.
func CleanPrice(text string) string {
	m := priceDigits.FindString(text)
	if m == "" {
		return ""
	}
	m = strings.ReplaceAll(m, ",", "")
	d, err := decimal.NewFromString(m)
	if err != nil {
		return ""
	}
	return d.String()
}

// dateLayouts are tried in order when coercing scraped promo dates.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// CleanDate coerces free-form date text to a yyyy-mm-dd string. Unparsable
// input becomes "" so a bad date never rejects the whole listing.
func CleanDate(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if len(text) >= 10 {
		if t, err := time.Parse("2006-01-02", text[:10]); err == nil {
			return t.Format("2006-01-02")
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

// Normalize converts one raw listing into a canonical Deal. It returns
// (nil, false) when the listing lacks the minimum fields: a name and at
// least one parseable price.
func Normalize(listing RawListing, source string, scannedAt time.Time) (*Deal, bool) {
	name := strings.TrimSpace(listing.Name)
	if name == "" {
		return nil, false
	}
	if len(name) > 100 {
		name = strings.TrimSpace(name[:100])
	}

	sale := CleanPrice(listing.PriceText)
	orig := CleanPrice(listing.OriginalPriceText)
	if sale == "" && orig == "" {
		return nil, false
	}
	if sale == "" {
		// Some sources only publish the pre-drop price; keep the record
		// but do not pretend we know the sale price.
		sale = orig
		orig = ""
	}

	number := strings.TrimSpace(listing.ItemNumber)
	d := &Deal{
		ItemID:        DeriveID(source, number, name),
		ItemName:      name,
		ItemNumber:    number,
		SalePrice:     sale,
		OriginalPrice: orig,
		Source:        source,
		Link:          strings.TrimSpace(listing.Link),
		PromoStart:    CleanDate(listing.PromoStart),
		PromoEnd:      CleanDate(listing.PromoEnd),
		ScannedDate:   scannedAt,
	}
	return d, true
}
