package scrape

import (
	"context"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"dealwatch/internal/deal"
)

var _ = Describe("RFDHotDeals", func() {
	var (
		server  *ghttp.Server
		adapter *RFDHotDeals
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		adapter = &RFDHotDeals{client: newClient(), baseURL: server.URL()}
	})

	AfterEach(func() {
		server.Close()
	})

	page := func(body string) http.HandlerFunc {
		return ghttp.CombineHandlers(
			ghttp.VerifyRequest("GET", "/hot-deals-f9/", "c=5"),
			ghttp.RespondWith(http.StatusOK, body),
		)
	}

	It("extracts name, sale price and original price from thread titles", func() {
		server.AppendHandlers(page(`<html><body>
			<div data-thread-id="1">
				<a href="/deal-1/">Kirkland Signature Organic Maple Syrup 1L $12.99 (reg $17.99)</a>
			</div>
		</body></html>`))

		listings, err := adapter.Fetch(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(listings).To(HaveLen(1))
		Expect(listings[0].Name).To(Equal("Kirkland Signature Organic Maple Syrup 1L"))
		Expect(listings[0].PriceText).To(Equal("12.99"))
		Expect(listings[0].OriginalPriceText).To(Equal("17.99"))
		Expect(listings[0].Link).To(Equal(server.URL() + "/deal-1/"))
	})

	It("falls back to the second price when no reg marker is present", func() {
		server.AppendHandlers(page(`<html><body>
			<div data-thread-id="2">
				<a href="/deal-2/">Bounty Paper Towels 12 Pack now only $19.99 was $24.99 yay</a>
			</div>
		</body></html>`))

		listings, err := adapter.Fetch(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(listings).To(HaveLen(1))
		Expect(listings[0].PriceText).To(Equal("19.99"))
		Expect(listings[0].OriginalPriceText).To(Equal("24.99"))
	})

	It("skips sponsored threads and off-topic noise", func() {
		server.AppendHandlers(page(`<html><body>
			<div data-thread-id="3">
				<a href="/s/">[Sponsored] Amazing Car Lease Offer For Everyone $199/month</a>
			</div>
			<div data-thread-id="4">
				<a href="/cc/">Scotiabank Credit Card Welcome Bonus Worth Up To $350 Value</a>
			</div>
			<div data-thread-id="5">
				<a href="/ok/">LEGO Technic Excavator Building Set On Clearance $89.97</a>
			</div>
		</body></html>`))

		listings, err := adapter.Fetch(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(listings).To(HaveLen(1))
		Expect(listings[0].Name).To(ContainSubstring("LEGO"))
	})

	It("wraps transport failures as an unavailable source", func() {
		server.AppendHandlers(ghttp.RespondWith(http.StatusBadGateway, ""))

		_, err := adapter.Fetch(context.Background())
		Expect(err).To(MatchError(ErrSourceUnavailable))
	})
})

var _ = Describe("RFDClearance", func() {
	var (
		server  *ghttp.Server
		adapter *RFDClearance
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		adapter = &RFDClearance{client: newClient(), baseURL: server.URL()}
	})

	AfterEach(func() {
		server.Close()
	})

	It("parses clearance lines from forum posts", func() {
		server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `<html><body>
			<div class="post_content">
I keep this thread updated weekly with what I spot $1.97
- Dyson V8 Cordless Vacuum was $349.97
Instant Pot Duo 8qt $59.97
			</div>
		</body></html>`))

		listings, err := adapter.Fetch(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(listings).To(HaveLen(2))
		Expect(listings[0].Name).To(Equal("Dyson V8 Cordless Vacuum was"))
		Expect(listings[0].PriceText).To(Equal("349.97"))
		Expect(listings[1].Name).To(Equal("Instant Pot Duo 8qt"))
		Expect(listings[1].PriceText).To(Equal("59.97"))
	})
})

var _ = Describe("Reddit", func() {
	var (
		server  *ghttp.Server
		adapter *Reddit
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		adapter = &Reddit{client: newClient(), baseURL: server.URL(), subreddit: "Costco"}
	})

	AfterEach(func() {
		server.Close()
	})

	It("turns price-sighting posts into listings and strips lead-in words", func() {
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest("GET", "/r/Costco/search.json"),
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"data": map[string]any{
					"children": []any{
						map[string]any{"data": map[string]any{
							"title":     "Spotted: Greek Yogurt 2kg Tub $6.49",
							"permalink": "/r/Costco/comments/abc/",
						}},
						map[string]any{"data": map[string]any{
							"title": "Monthly deals megathread $$$",
						}},
						map[string]any{"data": map[string]any{
							"title": "Is the food court still cheap?",
						}},
					},
				},
			}),
		))

		listings, err := adapter.Fetch(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(listings).To(HaveLen(1))
		Expect(listings[0].Name).To(Equal("Greek Yogurt 2kg Tub"))
		Expect(listings[0].PriceText).To(Equal("6.49"))
		Expect(listings[0].Link).To(Equal(server.URL() + "/r/Costco/comments/abc/"))
	})

	It("reports the source as unavailable on connection errors", func() {
		server.Close()

		_, err := adapter.Fetch(context.Background())
		Expect(err).To(MatchError(ErrSourceUnavailable))
	})
})

var _ = Describe("Coco", func() {
	var (
		server  *ghttp.Server
		adapter *Coco
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		adapter = &Coco{client: newClient(), baseURL: server.URL(), source: "cocowest.ca", linkPattern: "weekend-update-costco"}
	})

	AfterEach(func() {
		server.Close()
	})

	It("follows the latest roundup post and parses numbered item lines", func() {
		postPath := "/weekend-update-costco-march/"
		server.AppendHandlers(
			ghttp.CombineHandlers(
				ghttp.VerifyRequest("GET", "/"),
				ghttp.RespondWith(http.StatusOK, `<html><body>
					<a href="`+server.URL()+`/category/weekend-update-costco/">cat</a>
					<a href="`+server.URL()+postPath+`">Weekend Update Sale Items for March This Week</a>
				</body></html>`),
			),
			ghttp.CombineHandlers(
				ghttp.VerifyRequest("GET", postPath),
				ghttp.RespondWith(http.StatusOK, `<html><body><div class="entry-content">
1234567 Kirkland Signature Almond Butter (750g) $11.99 EXPIRES ON 2026-03-08
234 too short to be an item number $5.00
7654321 Charmin Ultra Bath Tissue 30 Rolls $22.49
				</div></body></html>`),
			),
		)

		listings, err := adapter.Fetch(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(listings).To(HaveLen(2))

		Expect(listings[0].ItemNumber).To(Equal("1234567"))
		Expect(listings[0].Name).To(Equal("Kirkland Signature Almond Butter"))
		Expect(listings[0].PriceText).To(Equal("11.99"))
		Expect(listings[0].PromoEnd).To(Equal("2026-03-08"))
		Expect(listings[0].Link).To(Equal(server.URL() + postPath))

		Expect(listings[1].ItemNumber).To(Equal("7654321"))
		Expect(listings[1].PromoEnd).To(BeEmpty())
	})

	It("returns nothing when no roundup post is linked", func() {
		server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `<html><body><p>no posts</p></body></html>`))

		listings, err := adapter.Fetch(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(listings).To(BeEmpty())
	})
})

var _ = Describe("cocoLineListing", func() {
	It("takes the last price on the line as the sale price", func() {
		l, ok := cocoLineListing("1122334 Tide Pods 81ct $19.99 (was $26.99) $21.99")
		Expect(ok).To(BeTrue())
		Expect(l.PriceText).To(Equal("21.99"))
	})

	It("rejects lines without a price", func() {
		_, ok := cocoLineListing("1122334 Tide Pods new stock arriving soon")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Normalize round trip", func() {
	It("produces an active deal from a scraped cocowest line", func() {
		l, ok := cocoLineListing("1234567 Kirkland Olive Oil 2L $15.99 EXPIRES ON 2026-12-31")
		Expect(ok).To(BeTrue())

		d, ok := deal.Normalize(l, "cocowest.ca", mustTime("2026-03-01"))
		Expect(ok).To(BeTrue())
		Expect(d.ItemID).To(Equal("cocowest.ca:1234567"))
		Expect(d.SalePrice).To(Equal("15.99"))
		Expect(d.Active(mustTime("2026-03-01"))).To(BeTrue())
		Expect(d.Active(mustTime("2027-01-01"))).To(BeFalse())
	})
})
