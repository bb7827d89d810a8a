package scrape

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.etcd.io/bbolt"

	"dealwatch/internal/deal"
	"dealwatch/internal/metrics"
)

type stubAdapter struct {
	name     string
	listings []deal.RawListing
	err      error
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Fetch(context.Context) ([]deal.RawListing, error) {
	return a.listings, a.err
}

var _ = Describe("Scanner", func() {
	var (
		db      *bbolt.DB
		store   *deal.BoltStore
		now     time.Time
		logger  *slog.Logger
		scanner func(adapters ...Adapter) *Scanner
	)

	BeforeEach(func() {
		path := filepath.Join(GinkgoT().TempDir(), "test.db")
		var err error
		db, err = bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
		Expect(err).NotTo(HaveOccurred())
		store, err = deal.NewBoltStore(db)
		Expect(err).NotTo(HaveOccurred())

		now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		scanner = func(adapters ...Adapter) *Scanner {
			s := NewScanner(store, adapters, metrics.NewRegistry(), logger)
			s.now = func() time.Time { return now }
			return s
		}
	})

	AfterEach(func() {
		db.Close()
	})

	It("normalizes listings and reconciles them into the store", func() {
		s := scanner(&stubAdapter{name: "cocowest.ca", listings: []deal.RawListing{
			{Name: "Kirkland Olive Oil 2L", ItemNumber: "1234567", PriceText: "15.99", PromoEnd: "2026-03-15"},
		}})

		result, err := s.Scan(context.Background(), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Report.Added).To(Equal(1))
		Expect(result.Cached).To(BeFalse())

		stored, err := store.Get("cocowest.ca:1234567")
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.SalePrice).To(Equal("15.99"))
		Expect(stored.PromoEnd).To(Equal("2026-03-15"))
	})

	It("keeps scanning when one source is down", func() {
		s := scanner(
			&stubAdapter{name: "redflagdeals.com", err: ErrSourceUnavailable},
			&stubAdapter{name: "cocowest.ca", listings: []deal.RawListing{
				{Name: "Charmin Bath Tissue 30 Rolls", ItemNumber: "7654321", PriceText: "22.49"},
			}},
		)

		result, err := s.Scan(context.Background(), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Report.Added).To(Equal(1))
		Expect(result.Warnings).To(HaveLen(1))
		Expect(result.Warnings[0]).To(ContainSubstring("redflagdeals.com"))

		_, err = store.Get("cocowest.ca:7654321")
		Expect(err).NotTo(HaveOccurred())
	})

	It("drops expired listings and cross-source duplicates", func() {
		s := scanner(
			&stubAdapter{name: "cocowest.ca", listings: []deal.RawListing{
				{Name: "Tide Pods 81ct", PriceText: "19.99", PromoEnd: "2026-03-15"},
				{Name: "Expired Widget", PriceText: "9.99", PromoEnd: "2026-02-01"},
			}},
			&stubAdapter{name: "cocoeast.ca", listings: []deal.RawListing{
				{Name: "TIDE PODS 81ct", PriceText: "19.99", PromoEnd: "2026-03-15"},
			}},
		)

		result, err := s.Scan(context.Background(), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Deals).To(HaveLen(1))
		Expect(result.Report.Added).To(Equal(1))
	})

	It("skips scanning when deals were already scanned today", func() {
		fresh := &deal.Deal{
			ItemID: "cocowest.ca:1111111", ItemName: "Cached Item", SalePrice: "4.99",
			Source: "cocowest.ca", ScannedDate: now.Add(-time.Hour),
		}
		Expect(store.Save(fresh)).To(Succeed())

		called := false
		s := scanner(adapterFunc(func(context.Context) ([]deal.RawListing, error) {
			called = true
			return nil, nil
		}))

		result, err := s.Scan(context.Background(), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Cached).To(BeTrue())
		Expect(result.Deals).To(HaveLen(1))
		Expect(called).To(BeFalse())
	})

	It("rescans anyway when a refresh is forced", func() {
		fresh := &deal.Deal{
			ItemID: "cocowest.ca:1111111", ItemName: "Cached Item", SalePrice: "4.99",
			Source: "cocowest.ca", ScannedDate: now.Add(-time.Hour),
		}
		Expect(store.Save(fresh)).To(Succeed())

		called := false
		s := scanner(adapterFunc(func(context.Context) ([]deal.RawListing, error) {
			called = true
			return nil, nil
		}))

		result, err := s.Scan(context.Background(), true)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Cached).To(BeFalse())
		Expect(called).To(BeTrue())
	})
})

type adapterFunc func(ctx context.Context) ([]deal.RawListing, error)

func (f adapterFunc) Name() string { return "stub" }

func (f adapterFunc) Fetch(ctx context.Context) ([]deal.RawListing, error) { return f(ctx) }
