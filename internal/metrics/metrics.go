package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the process counters exposed on /metrics.
type Registry struct {
	reg *prometheus.Registry

	DealsScanned   prometheus.Counter
	DealsAdded     prometheus.Counter
	SourceFailures prometheus.Counter
	ReceiptsParsed prometheus.Counter
	MatchesFound   prometheus.Counter
	BatchRuns      prometheus.Counter
	BatchFailures  prometheus.Counter
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	dealsScanned := prometheus.NewCounter(prometheus.CounterOpts{Name: "dealwatch_deals_scanned_total"})
	dealsAdded := prometheus.NewCounter(prometheus.CounterOpts{Name: "dealwatch_deals_added_total"})
	sourceFailures := prometheus.NewCounter(prometheus.CounterOpts{Name: "dealwatch_source_failures_total"})
	receiptsParsed := prometheus.NewCounter(prometheus.CounterOpts{Name: "dealwatch_receipts_parsed_total"})
	matchesFound := prometheus.NewCounter(prometheus.CounterOpts{Name: "dealwatch_matches_found_total"})
	batchRuns := prometheus.NewCounter(prometheus.CounterOpts{Name: "dealwatch_batch_runs_total"})
	batchFailures := prometheus.NewCounter(prometheus.CounterOpts{Name: "dealwatch_batch_failures_total"})

	r.MustRegister(dealsScanned, dealsAdded, sourceFailures, receiptsParsed, matchesFound, batchRuns, batchFailures)
	return &Registry{
		reg:            r,
		DealsScanned:   dealsScanned,
		DealsAdded:     dealsAdded,
		SourceFailures: sourceFailures,
		ReceiptsParsed: receiptsParsed,
		MatchesFound:   matchesFound,
		BatchRuns:      batchRuns,
		BatchFailures:  batchFailures,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
