package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"dealwatch/internal/deal"
	"dealwatch/internal/extract"
)

// CouponPageExtractor reads deals off a single coupon book page image.
type CouponPageExtractor interface {
	ExtractCouponPage(ctx context.Context, image []byte) ([]extract.CouponItem, error)
}

var flyerPageSuffixRe = regexp.MustCompile(`-\d+\.jpg$`)

const maxFlyerPages = 19

// CouponBook discovers the latest warehouse coupon flyer on
// SmartCanucks, downloads its page images, and has the extractor pull
// structured deals out of each page.
type CouponBook struct {
	client    *client
	baseURL   string
	extractor CouponPageExtractor
	logger    *slog.Logger
}

func NewCouponBook(extractor CouponPageExtractor, logger *slog.Logger) *CouponBook {
	return &CouponBook{
		client:    newClient(),
		baseURL:   "https://flyers.smartcanucks.ca",
		extractor: extractor,
		logger:    logger,
	}
}

func (c *CouponBook) Name() string { return "costco.ca/coupon-book" }

func (c *CouponBook) Fetch(ctx context.Context) ([]deal.RawListing, error) {
	index, err := c.client.document(ctx, c.baseURL+"/costco-canada")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, c.Name(), err)
	}

	flyerURL := c.findFlyer(index)
	if flyerURL == "" {
		c.logger.Info("no coupon flyer found")
		return nil, nil
	}

	flyer, err := c.client.document(ctx, flyerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, c.Name(), err)
	}
	src, ok := flyer.Find("img[src*='uploads/pages']").First().Attr("src")
	if !ok {
		return nil, nil
	}
	base := flyerPageSuffixRe.ReplaceAllString(src, "")

	var listings []deal.RawListing
	for i := 1; i <= maxFlyerPages; i++ {
		image, err := c.client.bytes(ctx, fmt.Sprintf("%s-%d.jpg", base, i))
		if err != nil {
			break // past the last page
		}

		items, err := c.extractor.ExtractCouponPage(ctx, image)
		if err != nil {
			c.logger.Warn("coupon page extraction failed", "page", i, "error", err)
			continue
		}
		for _, item := range items {
			name := strings.TrimSpace(item.Name)
			if name == "" || item.SalePrice == "" {
				continue
			}
			listings = append(listings, deal.RawListing{
				Name:       name,
				ItemNumber: strings.TrimSpace(item.ItemNumber),
				PriceText:  strings.ReplaceAll(item.SalePrice, ",", ""),
				Link:       flyerURL,
			})
		}
	}
	return listings, nil
}

// findFlyer picks the current warehouse offers flyer, preferring the
// non-Quebec edition when both are listed.
func (c *CouponBook) findFlyer(doc *goquery.Document) string {
	pick := func(allowQC bool) string {
		var url string
		doc.Find("a[href*='costco']").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			lower := strings.ToLower(href)
			if !strings.Contains(lower, "warehouse") || strings.Contains(lower, "business") {
				return true
			}
			if !allowQC && strings.Contains(lower, "qc") {
				return true
			}
			if strings.HasPrefix(href, "http") {
				url = href
			} else {
				url = c.baseURL + href
			}
			return false
		})
		return url
	}
	if url := pick(false); url != "" {
		return url
	}
	return pick(true)
}
