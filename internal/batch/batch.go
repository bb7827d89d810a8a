// Package batch runs the weekly scan, match, report, notify cycle.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dealwatch/internal/analysis"
	"dealwatch/internal/deal"
	"dealwatch/internal/match"
	"dealwatch/internal/metrics"
	"dealwatch/internal/receipt"
	"dealwatch/internal/scrape"
)

// ErrRunInProgress rejects a trigger that arrives while a run is active.
// The cycle runs at most once per trigger; overlapping triggers lose.
var ErrRunInProgress = errors.New("batch run already in progress")

// Stage names the step of the cycle a runner is in.
type Stage string

const (
	StageIdle      Stage = "idle"
	StageScanning  Stage = "scanning"
	StageMatching  Stage = "matching"
	StageReporting Stage = "reporting"
	StageNotifying Stage = "notifying"
)

// Scanner refreshes the deal store from all sources.
type Scanner interface {
	Scan(ctx context.Context, forceRefresh bool) (*scrape.ScanResult, error)
}

// ReceiptLister provides the stored receipts to match against.
type ReceiptLister interface {
	List() ([]*receipt.Receipt, error)
}

// Sender delivers the rendered report.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// RunReport records the outcome of one cycle.
type RunReport struct {
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	DealsScanned     int       `json:"deals_scanned"`
	Matches          int       `json:"matches"`
	PotentialSavings string    `json:"potential_savings"`
	Warnings         []string  `json:"warnings,omitempty"`
	FailedStage      Stage     `json:"failed_stage,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// Runner executes the weekly cycle: Scanning, Matching, Reporting,
// Notifying, then back to idle. Stages are strictly sequential; a stage
// failure ends the run immediately with the failure recorded, and the
// run is never retried here — the external scheduler owns retries.
type Runner struct {
	scanner   Scanner
	deals     deal.Store
	receipts  ReceiptLister
	engine    *match.Engine
	sender    Sender
	recipient string
	subject   string
	metrics   *metrics.Registry
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	stage   Stage
	last    *RunReport
}

func NewRunner(scanner Scanner, deals deal.Store, receipts ReceiptLister, engine *match.Engine,
	sender Sender, recipient string, m *metrics.Registry, logger *slog.Logger) *Runner {
	return &Runner{
		scanner:   scanner,
		deals:     deals,
		receipts:  receipts,
		engine:    engine,
		sender:    sender,
		recipient: recipient,
		subject:   "Weekly Price Match Report",
		metrics:   m,
		logger:    logger,
		now:       time.Now,
		stage:     StageIdle,
	}
}

// Stage reports where the runner currently is.
func (r *Runner) Stage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// LastRun returns the record of the most recent completed or failed run.
func (r *Runner) LastRun() *RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Runner) setStage(s Stage) {
	r.mu.Lock()
	r.stage = s
	r.mu.Unlock()
}

// Run executes one full cycle. Concurrent calls beyond the first get
// ErrRunInProgress.
func (r *Runner) Run(ctx context.Context) (*RunReport, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrRunInProgress
	}
	r.running = true
	r.mu.Unlock()

	report := &RunReport{StartedAt: r.now()}
	r.metrics.BatchRuns.Inc()

	err := r.cycle(ctx, report)

	report.FinishedAt = r.now()
	if err != nil {
		report.Error = err.Error()
		r.metrics.BatchFailures.Inc()
		r.logger.Error("batch run failed", "stage", report.FailedStage, "error", err)
	} else {
		r.logger.Info("batch run complete",
			"deals", report.DealsScanned, "matches", report.Matches, "potential", report.PotentialSavings)
	}

	r.mu.Lock()
	r.running = false
	r.stage = StageIdle
	r.last = report
	r.mu.Unlock()

	if err != nil {
		return report, err
	}
	return report, nil
}

func (r *Runner) cycle(ctx context.Context, report *RunReport) error {
	r.setStage(StageScanning)
	scan, err := r.scanner.Scan(ctx, true)
	if err != nil {
		report.FailedStage = StageScanning
		return fmt.Errorf("scanning: %w", err)
	}
	report.DealsScanned = len(scan.Deals)
	report.Warnings = scan.Warnings

	r.setStage(StageMatching)
	receipts, err := r.receipts.List()
	if err != nil {
		report.FailedStage = StageMatching
		return fmt.Errorf("matching: loading receipts: %w", err)
	}
	deals, err := r.deals.List()
	if err != nil {
		report.FailedStage = StageMatching
		return fmt.Errorf("matching: loading deals: %w", err)
	}
	results, warnings := r.engine.Match(matchItems(receipts), deals, r.now())
	report.Matches = len(results)
	report.Warnings = append(report.Warnings, warnings...)
	r.metrics.MatchesFound.Add(float64(len(results)))

	r.setStage(StageReporting)
	rendered := analysis.BuildReport(results, receipts)
	report.PotentialSavings = rendered.PotentialSavings.StringFixed(2)

	r.setStage(StageNotifying)
	if err := r.sender.Send(ctx, r.recipient, r.subject, analysis.MarkdownToHTML(rendered.Markdown)); err != nil {
		report.FailedStage = StageNotifying
		return fmt.Errorf("notifying: %w", err)
	}
	return nil
}

// matchItems flattens stored receipts into match engine input.
func matchItems(receipts []*receipt.Receipt) []match.Item {
	var items []match.Item
	for _, r := range receipts {
		for _, line := range r.Items {
			items = append(items, match.Item{
				ReceiptID:   r.ID,
				ReceiptDate: r.ReceiptDate,
				Line:        line,
			})
		}
	}
	return items
}
