package deal

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.etcd.io/bbolt"
)

var _ = Describe("BoltStore", func() {
	var (
		db    *bbolt.DB
		store *BoltStore
		now   time.Time
	)

	BeforeEach(func() {
		path := filepath.Join(GinkgoT().TempDir(), "test.db")
		var err error
		db, err = bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
		Expect(err).NotTo(HaveOccurred())
		store, err = NewBoltStore(db)
		Expect(err).NotTo(HaveOccurred())
		now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		db.Close()
	})

	sample := func(id, name, price string) *Deal {
		return &Deal{
			ItemID:      id,
			ItemName:    name,
			SalePrice:   price,
			Source:      "cocowest",
			ScannedDate: now,
		}
	}

	Describe("Reconcile", func() {
		var (
			incoming []*Deal
			report   ReconcileReport
			err      error
		)

		BeforeEach(func() {
			incoming = []*Deal{sample("cocowest:123", "Paper Towels", "12.99")}
		})

		JustBeforeEach(func() {
			report, err = store.Reconcile(incoming)
		})

		When("the store is empty", func() {
			It("adds the deal", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(report).To(Equal(ReconcileReport{Added: 1}))
			})

			It("persists it", func() {
				d, getErr := store.Get("cocowest:123")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(d.ItemName).To(Equal("Paper Towels"))
			})
		})

		When("the same deal set is reconciled twice", func() {
			BeforeEach(func() {
				_, firstErr := store.Reconcile(incoming)
				Expect(firstErr).NotTo(HaveOccurred())
			})

			It("adds nothing the second time", func() {
				Expect(report.Added).To(BeZero())
				Expect(report.Unchanged).To(Equal(1))
			})
		})

		When("a stored deal's price changed", func() {
			BeforeEach(func() {
				_, firstErr := store.Reconcile(incoming)
				Expect(firstErr).NotTo(HaveOccurred())
				changed := sample("cocowest:123", "Paper Towels", "10.99")
				changed.ScannedDate = now.Add(24 * time.Hour)
				incoming = []*Deal{changed}
			})

			It("counts it as updated", func() {
				Expect(report).To(Equal(ReconcileReport{Updated: 1}))
			})

			It("refreshes the stored fields", func() {
				d, getErr := store.Get("cocowest:123")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(d.SalePrice).To(Equal("10.99"))
				Expect(d.ScannedDate).To(Equal(now.Add(24 * time.Hour)))
			})
		})

		When("a re-observation changes nothing but the scan time", func() {
			BeforeEach(func() {
				_, firstErr := store.Reconcile(incoming)
				Expect(firstErr).NotTo(HaveOccurred())
				same := sample("cocowest:123", "Paper Towels", "12.99")
				same.ScannedDate = now.Add(24 * time.Hour)
				incoming = []*Deal{same}
			})

			It("counts it as unchanged", func() {
				Expect(report).To(Equal(ReconcileReport{Unchanged: 1}))
			})

			It("still refreshes scanned_date", func() {
				d, getErr := store.Get("cocowest:123")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(d.ScannedDate).To(Equal(now.Add(24 * time.Hour)))
			})
		})

		When("a deal is absent from the latest scan", func() {
			BeforeEach(func() {
				_, firstErr := store.Reconcile([]*Deal{
					sample("cocowest:123", "Paper Towels", "12.99"),
					sample("cocowest:456", "Olive Oil", "8.49"),
				})
				Expect(firstErr).NotTo(HaveOccurred())
				incoming = []*Deal{sample("cocowest:123", "Paper Towels", "12.99")}
			})

			It("does not delete it", func() {
				deals, listErr := store.List()
				Expect(listErr).NotTo(HaveOccurred())
				Expect(deals).To(HaveLen(2))
			})
		})

		When("the same item number comes from two sources", func() {
			BeforeEach(func() {
				other := sample("cocoeast:123", "Paper Towels", "12.49")
				other.Source = "cocoeast"
				incoming = append(incoming, other)
			})

			It("keeps both records", func() {
				Expect(report.Added).To(Equal(2))
			})
		})
	})

	Describe("DeleteBySource", func() {
		BeforeEach(func() {
			other := sample("reddit:abc", "Olive Oil", "8.49")
			other.Source = "reddit.com/r/Costco"
			_, err := store.Reconcile([]*Deal{sample("cocowest:123", "Paper Towels", "12.99"), other})
			Expect(err).NotTo(HaveOccurred())
		})

		It("removes only that source's deals", func() {
			n, err := store.DeleteBySource("cocowest")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
			deals, _ := store.List()
			Expect(deals).To(HaveLen(1))
			Expect(deals[0].Source).To(Equal("reddit.com/r/Costco"))
		})
	})

	Describe("PurgeExpired", func() {
		BeforeEach(func() {
			expired := sample("cocowest:1", "Old Deal", "5.00")
			expired.PromoEnd = "2026-01-01"
			open := sample("cocowest:2", "No End Date", "6.00")
			recent := sample("cocowest:3", "Recent", "7.00")
			recent.PromoEnd = "2026-02-27"
			_, err := store.Reconcile([]*Deal{expired, open, recent})
			Expect(err).NotTo(HaveOccurred())
		})

		It("removes only deals past the retention window", func() {
			n, err := store.PurgeExpired(now, 7*24*time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
			deals, _ := store.List()
			Expect(deals).To(HaveLen(2))
		})
	})
})
