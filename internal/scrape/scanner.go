package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dealwatch/internal/deal"
	"dealwatch/internal/metrics"
)

// ScanResult summarizes one scan pass across all sources.
type ScanResult struct {
	Deals    []*deal.Deal         `json:"deals"`
	Report   deal.ReconcileReport `json:"report"`
	Warnings []string             `json:"warnings,omitempty"`
	Cached   bool                 `json:"cached"`
}

// Scanner runs every source adapter, normalizes what they return, and
// reconciles the result into the deal store. Adapters run concurrently
// and fail independently; a dead source becomes a warning, not an error.
type Scanner struct {
	store    deal.Store
	adapters []Adapter
	metrics  *metrics.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// expiredRetention keeps ended deals around long enough to still match
// receipts uploaded shortly after a promo closes.
const expiredRetention = 7 * 24 * time.Hour

func NewScanner(store deal.Store, adapters []Adapter, m *metrics.Registry, logger *slog.Logger) *Scanner {
	return &Scanner{store: store, adapters: adapters, metrics: m, logger: logger, now: time.Now}
}

func (s *Scanner) Scan(ctx context.Context, forceRefresh bool) (*ScanResult, error) {
	now := s.now()

	if !forceRefresh {
		if cached, err := s.scannedToday(now); err != nil {
			return nil, err
		} else if cached != nil {
			s.logger.Info("using cached deals from today", "count", len(cached))
			return &ScanResult{Deals: cached, Cached: true}, nil
		}
	}

	var (
		mu       sync.Mutex
		fetched  []*deal.Deal
		warnings []string
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, adapter := range s.adapters {
		g.Go(func() error {
			listings, err := adapter.Fetch(gctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("source scan failed", "source", adapter.Name(), "error", err)
				s.metrics.SourceFailures.Inc()
				warnings = append(warnings, fmt.Sprintf("%s: %v", adapter.Name(), err))
				return nil
			}
			s.logger.Info("source scanned", "source", adapter.Name(), "listings", len(listings))
			for _, listing := range listings {
				if d, ok := deal.Normalize(listing, adapter.Name(), now); ok {
					fetched = append(fetched, d)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deals := dedupe(fetched, now)
	report, err := s.store.Reconcile(deals)
	if err != nil {
		return nil, fmt.Errorf("reconciling deals: %w", err)
	}

	if purged, err := s.store.PurgeExpired(now, expiredRetention); err != nil {
		s.logger.Warn("purging expired deals failed", "error", err)
	} else if purged > 0 {
		s.logger.Info("purged expired deals", "count", purged)
	}

	s.metrics.DealsScanned.Add(float64(len(deals)))
	s.metrics.DealsAdded.Add(float64(report.Added))
	s.logger.Info("scan complete",
		"deals", len(deals), "added", report.Added, "updated", report.Updated, "failed_sources", len(warnings))

	return &ScanResult{Deals: deals, Report: report, Warnings: warnings}, nil
}

// dedupe drops already-expired deals and collapses duplicates that the
// sources report under the same normalized name and promo window.
func dedupe(deals []*deal.Deal, now time.Time) []*deal.Deal {
	today := now.Format("2006-01-02")
	seen := make(map[string]bool)
	var kept []*deal.Deal
	for _, d := range deals {
		if d.PromoEnd != "" && d.PromoEnd < today {
			continue
		}
		key := deal.NormalizeName(d.ItemName) + "\x00" + d.PromoEnd
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, d)
	}
	return kept
}

// scannedToday returns the stored deals when a scan already ran today,
// nil otherwise.
func (s *Scanner) scannedToday(now time.Time) ([]*deal.Deal, error) {
	deals, err := s.store.List()
	if err != nil {
		return nil, err
	}
	today := now.Format("2006-01-02")
	for _, d := range deals {
		if d.ScannedDate.Format("2006-01-02") == today {
			return deals, nil
		}
	}
	return nil, nil
}
