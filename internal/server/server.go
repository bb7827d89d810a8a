// Package server exposes the engine over HTTP.
package server

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"dealwatch/internal/analysis"
	"dealwatch/internal/batch"
	"dealwatch/internal/deal"
	"dealwatch/internal/match"
	"dealwatch/internal/metrics"
	"dealwatch/internal/receipt"
	"dealwatch/internal/scrape"
)

// Scanner triggers a deal scan on demand.
type Scanner interface {
	Scan(ctx context.Context, forceRefresh bool) (*scrape.ScanResult, error)
}

// StreamFunc opens one model stream for an analysis prompt.
type StreamFunc func(ctx context.Context, prompt string) analysis.ChunkStream

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// Server handles HTTP requests for deals, receipts, analysis and batch runs
type Server struct {
	receipts  *receipt.Service
	deals     deal.Store
	scanner   Scanner
	engine    *match.Engine
	runner    *batch.Runner
	stream    StreamFunc
	metrics   *metrics.Registry
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(receipts *receipt.Service, deals deal.Store, scanner Scanner, engine *match.Engine,
	runner *batch.Runner, stream StreamFunc, m *metrics.Registry, basicAuth BasicAuth) *Server {
	return NewServerWithMux(receipts, deals, scanner, engine, runner, stream, m, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(receipts *receipt.Service, deals deal.Store, scanner Scanner, engine *match.Engine,
	runner *batch.Runner, stream StreamFunc, m *metrics.Registry, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		receipts:  receipts,
		deals:     deals,
		scanner:   scanner,
		engine:    engine,
		runner:    runner,
		stream:    stream,
		metrics:   m,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// registerRoutes registers all API routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/receipts/{id}/file", s.requireAuth(s.handleGetReceiptFile))
	s.mux.HandleFunc("PUT /api/receipts/{id}/items/{index}", s.requireAuth(s.handleEditReceiptItem))
	s.mux.HandleFunc("POST /api/receipts/{id}/reparse", s.requireAuth(s.handleReparseReceipt))
	s.mux.HandleFunc("GET /api/receipts/{id}", s.requireAuth(s.handleGetReceipt))
	s.mux.HandleFunc("DELETE /api/receipts/{id}", s.requireAuth(s.handleDeleteReceipt))
	s.mux.HandleFunc("GET /api/receipts", s.requireAuth(s.handleListReceipts))
	s.mux.HandleFunc("POST /api/receipts", s.requireAuth(s.handleUploadReceipt))
	s.mux.HandleFunc("DELETE /api/receipts", s.requireAuth(s.handleDeleteAllReceipts))

	s.mux.HandleFunc("POST /api/deals/scan", s.requireAuth(s.handleScanDeals))
	s.mux.HandleFunc("DELETE /api/deals/{id}", s.requireAuth(s.handleDeleteDeal))
	s.mux.HandleFunc("GET /api/deals", s.requireAuth(s.handleListDeals))
	s.mux.HandleFunc("DELETE /api/deals", s.requireAuth(s.handleDeleteDeals))

	s.mux.HandleFunc("GET /api/matches", s.requireAuth(s.handleListMatches))
	s.mux.HandleFunc("GET /api/analyze", s.requireAuth(s.handleAnalyze))

	s.mux.HandleFunc("POST /api/batch/run", s.requireAuth(s.handleBatchRun))
	s.mux.HandleFunc("GET /api/batch", s.requireAuth(s.handleBatchStatus))

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Dealwatch"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(s.mux.ServeHTTP)(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
