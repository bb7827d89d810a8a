package deal

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// Deal is a canonical price-drop record observed from one external source.
// Prices are kept as decimal strings so comparison and display never go
// through floating point.
type Deal struct {
	ItemID        string    `json:"item_id"`
	ItemName      string    `json:"item_name"`
	ItemNumber    string    `json:"item_number,omitempty"`
	SalePrice     string    `json:"sale_price"`
	OriginalPrice string    `json:"original_price,omitempty"`
	Source        string    `json:"source"`
	Link          string    `json:"link,omitempty"`
	PromoStart    string    `json:"promo_start,omitempty"` // yyyy-mm-dd
	PromoEnd      string    `json:"promo_end,omitempty"`   // yyyy-mm-dd
	ScannedDate   time.Time `json:"scanned_date"`
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeName lowercases a product name and collapses punctuation and
// whitespace to single spaces. Used for identity hashing and name matching.
func NormalizeName(name string) string {
	return strings.TrimSpace(nonAlnum.ReplaceAllString(strings.ToLower(name), " "))
}

// DeriveID assigns the stable, source-scoped identity for a deal. Deals with
// a retailer item number key on source+number; everything else keys on a
// hash of the normalized name. Two sources describing the same item number
// stay distinct records.
func DeriveID(source, itemNumber, itemName string) string {
	if itemNumber != "" {
		return source + ":" + itemNumber
	}
	sum := sha1.Sum([]byte(NormalizeName(itemName)))
	return source + ":" + hex.EncodeToString(sum[:])[:16]
}

// Active reports whether the deal's promo window covers the given date.
// A missing promo_start means the promo has always started; a missing
// promo_end means it never expires.
func (d *Deal) Active(asOf time.Time) bool {
	day := asOf.Format("2006-01-02")
	if d.PromoStart != "" && day < d.PromoStart {
		return false
	}
	if d.PromoEnd != "" && day > d.PromoEnd {
		return false
	}
	return true
}
