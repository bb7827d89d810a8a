package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"dealwatch/internal/batch"
	"dealwatch/internal/deal"
	"dealwatch/internal/match"
	"dealwatch/internal/receipt"
)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleUploadReceipt accepts a receipt document, parses it, and returns
// the created receipt with its item count
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	maxFormSize := int64(50 << 20) // high-resolution phone photos
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		corsError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		corsError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading uploaded file", "error", err)
		corsError(w, "Error reading file", http.StatusInternalServerError)
		return
	}

	contentType := header.Header.Get("Content-Type")
	created, warnings, err := s.receipts.Upload(r.Context(), header.Filename, data, contentType)
	if err != nil {
		if errors.Is(err, receipt.ErrParseFailed) {
			corsError(w, "Could not extract any items from the document", http.StatusUnprocessableEntity)
			return
		}
		slog.Error("Error uploading receipt", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if s.metrics != nil {
		s.metrics.ReceiptsParsed.Inc()
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"receipt":    created,
		"item_count": len(created.Items),
		"warnings":   warnings,
	})
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.receipts.List()
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	got, err := s.receipts.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, receipt.ErrNotFound) {
			corsError(w, "Receipt not found", http.StatusNotFound)
			return
		}
		slog.Error("Error getting receipt", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.receipts.GetDocument(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, receipt.ErrNotFound) {
			corsError(w, "Receipt not found", http.StatusNotFound)
			return
		}
		slog.Error("Error getting receipt document", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	setCORSHeaders(w)
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Write(data)
}

func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.receipts.Delete(r.PathValue("id")); err != nil {
		if errors.Is(err, receipt.ErrNotFound) {
			corsError(w, "Receipt not found", http.StatusNotFound)
			return
		}
		slog.Error("Error deleting receipt", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAllReceipts(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.receipts.DeleteAll()
	if err != nil {
		slog.Error("Error deleting receipts", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// handleEditReceiptItem updates one item's name and/or price
func (s *Server) handleEditReceiptItem(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		corsError(w, "Invalid item index", http.StatusBadRequest)
		return
	}

	var body struct {
		Name  string `json:"name"`
		Price string `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := s.receipts.EditItem(r.PathValue("id"), index, body.Name, body.Price)
	if err != nil {
		if errors.Is(err, receipt.ErrNotFound) {
			corsError(w, "Receipt not found", http.StatusNotFound)
			return
		}
		corsError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleReparseReceipt(w http.ResponseWriter, r *http.Request) {
	updated, warnings, err := s.receipts.Reparse(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, receipt.ErrNotFound) {
			corsError(w, "Receipt not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, receipt.ErrParseFailed) {
			corsError(w, "Reparse produced no items; previous items kept", http.StatusUnprocessableEntity)
			return
		}
		slog.Error("Error reparsing receipt", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if s.metrics != nil {
		s.metrics.ReceiptsParsed.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"receipt":    updated,
		"item_count": len(updated.Items),
		"warnings":   warnings,
	})
}

// handleListDeals returns stored deals, active-only unless ?all=true
func (s *Server) handleListDeals(w http.ResponseWriter, r *http.Request) {
	deals, err := s.deals.List()
	if err != nil {
		slog.Error("Error listing deals", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("all") != "true" {
		now := time.Now()
		active := make([]*deal.Deal, 0, len(deals))
		for _, d := range deals {
			if d.Active(now) {
				active = append(active, d)
			}
		}
		deals = active
	}
	if source := r.URL.Query().Get("source"); source != "" {
		filtered := make([]*deal.Deal, 0, len(deals))
		for _, d := range deals {
			if d.Source == source {
				filtered = append(filtered, d)
			}
		}
		deals = filtered
	}
	writeJSON(w, http.StatusOK, deals)
}

func (s *Server) handleScanDeals(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	result, err := s.scanner.Scan(r.Context(), force)
	if err != nil {
		slog.Error("Error scanning deals", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeleteDeal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.deals.Get(id); err != nil {
		if errors.Is(err, deal.ErrNotFound) {
			corsError(w, "Deal not found", http.StatusNotFound)
			return
		}
		slog.Error("Error getting deal", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if err := s.deals.Delete(id); err != nil {
		slog.Error("Error deleting deal", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteDeals deletes everything, or one source's deals with ?source=
func (s *Server) handleDeleteDeals(w http.ResponseWriter, r *http.Request) {
	var (
		deleted int
		err     error
	)
	if source := r.URL.Query().Get("source"); source != "" {
		deleted, err = s.deals.DeleteBySource(source)
	} else {
		deleted, err = s.deals.DeleteAll()
	}
	if err != nil {
		slog.Error("Error deleting deals", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// handleListMatches runs the match engine over stored receipts and deals
func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	results, warnings, err := s.runMatch(r)
	if err != nil {
		slog.Error("Error matching", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"matches":  results,
		"warnings": warnings,
	})
}

// runMatch loads the requested receipts and the filtered deal set and
// runs the engine. Shared by the matches endpoint and the SSE analyzer.
func (s *Server) runMatch(r *http.Request) ([]match.Result, []string, error) {
	receipts, err := s.selectReceipts(r)
	if err != nil {
		return nil, nil, err
	}
	deals, err := s.deals.List()
	if err != nil {
		return nil, nil, err
	}
	deals = filterDeals(deals, r.URL.Query())

	items := make([]match.Item, 0)
	for _, rec := range receipts {
		for _, line := range rec.Items {
			items = append(items, match.Item{ReceiptID: rec.ID, ReceiptDate: rec.ReceiptDate, Line: line})
		}
	}
	results, warnings := s.engine.Match(items, deals, time.Now())
	return results, warnings, nil
}

func (s *Server) handleBatchRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.runner.Run(r.Context())
	if err != nil {
		if errors.Is(err, batch.ErrRunInProgress) {
			corsError(w, "A batch run is already in progress", http.StatusConflict)
			return
		}
		// the report carries the failed stage detail
		writeJSON(w, http.StatusInternalServerError, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"stage":    s.runner.Stage(),
		"last_run": s.runner.LastRun(),
	})
}
