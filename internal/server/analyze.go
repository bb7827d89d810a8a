package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"dealwatch/internal/analysis"
	"dealwatch/internal/deal"
	"dealwatch/internal/receipt"
)

// handleAnalyze streams the model's reconciliation of receipts against
// deals as server-sent events. Chunks flow through as they arrive;
// structured events (section, row, summary) are interleaved as lines
// complete, and a final done event carries the full text.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		corsError(w, "Analysis model not configured", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		corsError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	results, _, err := s.runMatch(r)
	if err != nil {
		if errors.Is(err, receipt.ErrNotFound) {
			corsError(w, "Receipt not found", http.StatusNotFound)
			return
		}
		slog.Error("Error preparing analysis", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	receipts, err := s.selectReceipts(r)
	if err != nil {
		slog.Error("Error loading receipts", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	prompt, err := analysis.BuildPrompt(results, receipts)
	if err != nil {
		slog.Error("Error building analysis prompt", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var full strings.Builder
	send := func(v any) {
		data, err := json.Marshal(v)
		if err != nil {
			slog.Error("Error encoding stream event", "error", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	stream := s.stream(r.Context(), prompt)
	err = analysis.StreamEvents(r.Context(), stream, func(e analysis.Event) {
		if e.Kind == analysis.EventChunk {
			full.WriteString(e.Text)
		}
		send(e)
	})
	if err != nil {
		slog.Error("Analysis stream failed", "error", err)
		send(map[string]string{"kind": "error", "text": "analysis failed"})
		return
	}
	if r.Context().Err() != nil {
		return // client went away; everything sent so far stands
	}
	send(map[string]string{"kind": "done", "text": full.String()})
}

// selectReceipts returns the receipts named by ?receipt_ids=a,b or all
// of them when the parameter is absent.
func (s *Server) selectReceipts(r *http.Request) ([]*receipt.Receipt, error) {
	ids := r.URL.Query().Get("receipt_ids")
	if ids == "" {
		return s.receipts.List()
	}
	var selected []*receipt.Receipt
	for _, id := range strings.Split(ids, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		rec, err := s.receipts.Get(id)
		if err != nil {
			return nil, err
		}
		selected = append(selected, rec)
	}
	return selected, nil
}

// filterDeals applies the optional date_from/date_to/sources query
// filters used to narrow an analysis run.
func filterDeals(deals []*deal.Deal, query url.Values) []*deal.Deal {
	sources := map[string]bool{}
	for _, s := range strings.Split(query.Get("sources"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			sources[s] = true
		}
	}
	dateFrom := query.Get("date_from")
	dateTo := query.Get("date_to")
	if len(sources) == 0 && dateFrom == "" && dateTo == "" {
		return deals
	}

	filtered := make([]*deal.Deal, 0, len(deals))
	for _, d := range deals {
		if len(sources) > 0 && !sources[d.Source] {
			continue
		}
		scanned := d.ScannedDate.Format("2006-01-02")
		if dateFrom != "" {
			latest := d.PromoEnd
			if latest == "" {
				latest = scanned
			}
			if latest < dateFrom {
				continue
			}
		}
		if dateTo != "" && scanned > dateTo {
			continue
		}
		filtered = append(filtered, d)
	}
	return filtered
}
