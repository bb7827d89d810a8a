package scrape

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"dealwatch/internal/deal"
)

var (
	priceRe    = regexp.MustCompile(`\$([\d,]+\.?\d*)`)
	regPriceRe = regexp.MustCompile(`(?i)(?:reg\.?|was|orig)\s*\$?([\d,]+\.?\d*)`)
)

// Forum thread titles that are not product deals.
var rfdSkipKeywords = []string{
	"nissan", "toyota", "honda", "hyundai", "kia", "bmw", "mercedes",
	"scotiabank", "amex", "visa", "mastercard", "credit card",
	"wine glass", "ajax", "rcss", "walmart", "amazon", "ebay",
	"little caesars", "domino", "skip the dishes", "uber",
	"shell go", "gas station", "car wash", "mortgage",
	"sponsored", "topcashback", "spc x skip",
}

// RFDHotDeals scrapes the RedFlagDeals hot deals forum listing. Thread
// titles carry the product name and one or two prices.
type RFDHotDeals struct {
	client  *client
	baseURL string
}

func NewRFDHotDeals() *RFDHotDeals {
	return &RFDHotDeals{client: newClient(), baseURL: "https://forums.redflagdeals.com"}
}

func (r *RFDHotDeals) Name() string { return "redflagdeals.com" }

func (r *RFDHotDeals) Fetch(ctx context.Context) ([]deal.RawListing, error) {
	doc, err := r.client.document(ctx, r.baseURL+"/hot-deals-f9/?c=5")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, r.Name(), err)
	}

	var listings []deal.RawListing
	doc.Find("[data-thread-id]").Each(func(_ int, thread *goquery.Selection) {
		thread.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			title := strings.TrimSpace(a.Text())
			if len(title) <= 30 || strings.Contains(title, "[Sponsored]") || strings.Contains(title, "Last Page") {
				return true // keep looking for the title link
			}
			lower := strings.ToLower(title)
			for _, skip := range rfdSkipKeywords {
				if strings.Contains(lower, skip) {
					return false
				}
			}

			if l, ok := titleListing(title); ok {
				href, _ := a.Attr("href")
				if strings.HasPrefix(href, "/") {
					href = r.baseURL + href
				}
				l.Link = href
				listings = append(listings, l)
			}
			return false // first qualifying link per thread only
		})
	})
	return listings, nil
}

// titleListing splits a "Product Name $12.99 (reg $19.99)" style title
// into a raw listing. The name is everything before the first dollar sign.
func titleListing(title string) (deal.RawListing, bool) {
	prices := priceRe.FindAllStringSubmatch(title, -1)
	if len(prices) == 0 {
		return deal.RawListing{}, false
	}
	name := strings.TrimRight(strings.TrimSpace(strings.SplitN(title, "$", 2)[0]), " -–|:")
	if len(name) <= 5 {
		return deal.RawListing{}, false
	}

	l := deal.RawListing{Name: name, PriceText: prices[0][1]}
	if m := regPriceRe.FindStringSubmatch(title); m != nil {
		l.OriginalPriceText = m[1]
	} else if len(prices) > 1 {
		l.OriginalPriceText = prices[1][1]
	}
	return l, true
}

var (
	clearancePriceRe  = regexp.MustCompile(`(.+?)\s*\$?([\d,]+\.97)`)
	clearancePrefixRe = regexp.MustCompile(`^[-•*\d\s]+`)
)

// Forum chatter lines that look like listings but are not.
var clearanceSkipWords = []string{
	"thread", "post", "forum", "missing", "updated", "weekly",
	"always", "compiling", "figured", "instead", "making",
}

// RFDClearance scrapes the community-maintained .97 clearance thread,
// where members post "Product Name was $X.97" lines.
type RFDClearance struct {
	client  *client
	baseURL string
}

func NewRFDClearance() *RFDClearance {
	return &RFDClearance{client: newClient(), baseURL: "https://forums.redflagdeals.com"}
}

func (r *RFDClearance) Name() string { return "redflagdeals.com/clearance" }

func (r *RFDClearance) Fetch(ctx context.Context) ([]deal.RawListing, error) {
	doc, err := r.client.document(ctx, r.baseURL+"/east-gta-clearance-items-ending-97-general-thread-2146900/")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, r.Name(), err)
	}

	var listings []deal.RawListing
	doc.Find(".post_content").Each(func(_ int, post *goquery.Selection) {
		for _, line := range strings.Split(post.Text(), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || len(line) >= 200 || !strings.Contains(line, ".97") || !strings.Contains(line, "$") {
				continue
			}
			m := clearancePriceRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			name := strings.Trim(clearancePrefixRe.ReplaceAllString(strings.TrimSpace(m[1]), ""), " -:")
			if len(name) <= 5 || len(name) >= 100 || containsAny(strings.ToLower(name), clearanceSkipWords) {
				continue
			}
			listings = append(listings, deal.RawListing{Name: name, PriceText: strings.ReplaceAll(m[2], ",", "")})
		}
	})
	return listings, nil
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
