package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.etcd.io/bbolt"

	"dealwatch/internal/deal"
	"dealwatch/internal/match"
	"dealwatch/internal/metrics"
	"dealwatch/internal/receipt"
	"dealwatch/internal/scrape"
)

func TestBatch(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Batch Suite")
}

type mockScanner struct {
	result  *scrape.ScanResult
	err     error
	calls   atomic.Int32
	forced  bool
	release chan struct{}
}

func (m *mockScanner) Scan(ctx context.Context, forceRefresh bool) (*scrape.ScanResult, error) {
	m.calls.Add(1)
	m.forced = forceRefresh
	if m.release != nil {
		<-m.release
	}
	return m.result, m.err
}

type mockReceipts struct {
	receipts []*receipt.Receipt
	err      error
}

func (m *mockReceipts) List() ([]*receipt.Receipt, error) { return m.receipts, m.err }

type mockSender struct {
	to, subject, body string
	calls             int
	err               error
}

func (m *mockSender) Send(_ context.Context, to, subject, htmlBody string) error {
	m.calls++
	m.to, m.subject, m.body = to, subject, htmlBody
	return m.err
}

var _ = Describe("Runner", func() {
	var (
		db       *bbolt.DB
		store    *deal.BoltStore
		scanner  *mockScanner
		receipts *mockReceipts
		sender   *mockSender
		runner   *Runner
		now      time.Time
	)

	BeforeEach(func() {
		path := filepath.Join(GinkgoT().TempDir(), "test.db")
		var err error
		db, err = bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
		Expect(err).NotTo(HaveOccurred())
		store, err = deal.NewBoltStore(db)
		Expect(err).NotTo(HaveOccurred())

		now = time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
		Expect(store.Save(&deal.Deal{
			ItemID: "cocowest.ca:123", ItemName: "Paper Towels", ItemNumber: "123",
			SalePrice: "12.99", Source: "cocowest.ca", ScannedDate: now,
		})).To(Succeed())

		scanner = &mockScanner{result: &scrape.ScanResult{Deals: []*deal.Deal{{ItemID: "cocowest.ca:123"}}}}
		receipts = &mockReceipts{receipts: []*receipt.Receipt{{
			ID: "r1", ReceiptDate: "2026-02-20",
			Items: []receipt.ReceiptItem{{Name: "Paper Towels", ItemNumber: "123", Price: "15.99"}},
		}}}
		sender = &mockSender{}

		runner = NewRunner(scanner, store, receipts, match.NewEngine(match.DefaultConfig()),
			sender, "me@example.com", metrics.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
		runner.now = func() time.Time { return now }
	})

	AfterEach(func() {
		db.Close()
	})

	It("runs all four stages and mails the rendered report", func() {
		report, err := runner.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		Expect(scanner.calls.Load()).To(BeEquivalentTo(1))
		Expect(scanner.forced).To(BeTrue())
		Expect(report.DealsScanned).To(Equal(1))
		Expect(report.Matches).To(Equal(1))
		Expect(report.PotentialSavings).To(Equal("3.00"))
		Expect(report.FailedStage).To(BeEmpty())

		Expect(sender.calls).To(Equal(1))
		Expect(sender.to).To(Equal("me@example.com"))
		Expect(sender.body).To(ContainSubstring("Paper Towels"))
		Expect(sender.body).To(ContainSubstring("<table"))

		Expect(runner.Stage()).To(Equal(StageIdle))
		Expect(runner.LastRun()).To(Equal(report))
	})

	It("rejects a trigger while a run is in progress", func() {
		scanner.release = make(chan struct{})
		firstDone := make(chan error, 1)
		go func() {
			_, err := runner.Run(context.Background())
			firstDone <- err
		}()

		Eventually(scanner.calls.Load).Should(BeEquivalentTo(1))

		_, err := runner.Run(context.Background())
		Expect(err).To(MatchError(ErrRunInProgress))

		close(scanner.release)
		Expect(<-firstDone).NotTo(HaveOccurred())

		// once idle again, a new trigger is accepted
		_, err = runner.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
	})

	It("records a scanning failure and goes straight back to idle", func() {
		scanner.result = nil
		scanner.err = errors.New("every source down")

		report, err := runner.Run(context.Background())
		Expect(err).To(HaveOccurred())
		Expect(report.FailedStage).To(Equal(StageScanning))
		Expect(sender.calls).To(BeZero())
		Expect(runner.Stage()).To(Equal(StageIdle))
		Expect(runner.LastRun().Error).To(ContainSubstring("every source down"))
	})

	It("records a notification failure after the report was built", func() {
		sender.err = errors.New("smtp refused")

		report, err := runner.Run(context.Background())
		Expect(err).To(HaveOccurred())
		Expect(report.FailedStage).To(Equal(StageNotifying))
		Expect(report.Matches).To(Equal(1))
		Expect(runner.Stage()).To(Equal(StageIdle))
	})
})
