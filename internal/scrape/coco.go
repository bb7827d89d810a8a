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
	cocoLineRe   = regexp.MustCompile(`^(\d{5,8})\s+(.+)`)
	cocoParenRe  = regexp.MustCompile(`\(.*?\)`)
	cocoTailRe   = regexp.MustCompile(`\$[\d,.]+.*`)
	cocoExpiryRe = regexp.MustCompile(`EXPIRES ON (\d{4}-\d{2}-\d{2})`)
)

// Coco scrapes the cocowest.ca / cocoeast.ca in-store sale roundups.
// Both sites publish the same format: a weekly post whose body lists
// one item per line as "1234567 Product Name $9.99 (EXPIRES ON ...)".
type Coco struct {
	client      *client
	baseURL     string
	source      string
	linkPattern string
}

// NewCocoSite builds an adapter for any site publishing the roundup
// format; the base URL is a parameter so tests can point it at a local
// server.
func NewCocoSite(baseURL, source, linkPattern string) *Coco {
	return &Coco{client: newClient(), baseURL: baseURL, source: source, linkPattern: linkPattern}
}

func NewCocoWest() *Coco {
	return NewCocoSite("https://cocowest.ca", "cocowest.ca", "weekend-update-costco")
}

func NewCocoEast() *Coco {
	return NewCocoSite("https://cocoeast.ca", "cocoeast.ca", "costco")
}

func (c *Coco) Name() string { return c.source }

func (c *Coco) Fetch(ctx context.Context) ([]deal.RawListing, error) {
	doc, err := c.client.document(ctx, c.baseURL+"/")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, c.source, err)
	}

	postURL := c.latestPost(doc)
	if postURL == "" {
		return nil, nil
	}

	post, err := c.client.document(ctx, postURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, c.source, err)
	}
	content := post.Find(".entry-content").First()
	if content.Length() == 0 {
		return nil, nil
	}

	var listings []deal.RawListing
	for _, line := range strings.Split(content.Text(), "\n") {
		if l, ok := cocoLineListing(strings.TrimSpace(line)); ok {
			l.Link = postURL
			listings = append(listings, l)
		}
	}
	return listings, nil
}

// latestPost finds the newest sale roundup link on the home page.
func (c *Coco) latestPost(doc *goquery.Document) string {
	var postURL string
	doc.Find(fmt.Sprintf("a[href*=%q]", c.linkPattern)).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if len(strings.TrimSpace(a.Text())) > 20 && !strings.Contains(href, "/category/") {
			postURL = href
			return false
		}
		return true
	})
	return postURL
}

func cocoLineListing(line string) (deal.RawListing, bool) {
	m := cocoLineRe.FindStringSubmatch(line)
	if m == nil {
		return deal.RawListing{}, false
	}
	rest := m[2]

	prices := priceRe.FindAllStringSubmatch(rest, -1)
	if len(prices) == 0 {
		return deal.RawListing{}, false
	}

	name := strings.TrimSpace(cocoParenRe.ReplaceAllString(rest, ""))
	name = strings.TrimSpace(cocoTailRe.ReplaceAllString(name, ""))
	if len(name) <= 3 {
		return deal.RawListing{}, false
	}

	l := deal.RawListing{
		Name:       name,
		ItemNumber: m[1],
		PriceText:  prices[len(prices)-1][1], // last price on the line is the sale price
	}
	if em := cocoExpiryRe.FindStringSubmatch(rest); em != nil {
		l.PromoEnd = em[1]
	}
	return l, true
}
