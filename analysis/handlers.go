package analysis

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server exposes the query layer as a JSON API.
type Server struct {
	queries *Queries
	logger  *slog.Logger
}

// NewServer builds a Server over an open dataset database. logger may
// be nil.
func NewServer(db *sql.DB, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{queries: NewQueries(db), logger: logger}
}

// Router returns the API routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/api/vendors/spend", s.handleVendorSpend)
	r.Get("/api/customers/spend", s.handleCustomerSpend)
	r.Get("/api/products/top", s.handleTopProducts)
	r.Get("/api/products/search", s.handleSearchProducts)
	r.Get("/api/revenue/monthly", s.handleMonthlyRevenue)
	r.Get("/api/invoices", s.handleInvoicesByVendor)
	r.Get("/api/invoices/{number}", s.handleInvoice)
	r.Get("/api/summary", s.handleSummary)
	r.Get("/api/documents/stats", s.handleDocumentStats)
	return r
}

func (s *Server) handleVendorSpend(w http.ResponseWriter, r *http.Request) {
	out, err := s.queries.SpendByVendor(r.Context())
	s.respond(w, out, err)
}

func (s *Server) handleCustomerSpend(w http.ResponseWriter, r *http.Request) {
	out, err := s.queries.SpendByCustomer(r.Context())
	s.respond(w, out, err)
}

func (s *Server) handleTopProducts(w http.ResponseWriter, r *http.Request) {
	n := 10
	if v := r.URL.Query().Get("n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			n = parsed
		}
	}
	out, err := s.queries.TopProducts(r.Context(), n)
	s.respond(w, out, err)
}

func (s *Server) handleSearchProducts(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if term == "" {
		jsonErr(w, "q is required", http.StatusBadRequest)
		return
	}
	out, err := s.queries.SearchProducts(r.Context(), term)
	s.respond(w, out, err)
}

func (s *Server) handleMonthlyRevenue(w http.ResponseWriter, r *http.Request) {
	out, err := s.queries.RevenueByMonth(r.Context())
	s.respond(w, out, err)
}

func (s *Server) handleInvoicesByVendor(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	vendor := strings.TrimSpace(q.Get("vendor"))
	if vendor == "" {
		jsonErr(w, "vendor is required", http.StatusBadRequest)
		return
	}
	out, err := s.queries.InvoicesByVendor(r.Context(), vendor, q.Get("start"), q.Get("end"))
	s.respond(w, out, err)
}

func (s *Server) handleInvoice(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	out, err := s.queries.Invoice(r.Context(), number)
	if errors.Is(err, ErrNotFound) {
		jsonErr(w, "invoice not found", http.StatusNotFound)
		return
	}
	s.respond(w, out, err)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end := q.Get("start"), q.Get("end")
	if start == "" || end == "" {
		jsonErr(w, "start and end are required", http.StatusBadRequest)
		return
	}
	out, err := s.queries.DateRangeSummary(r.Context(), start, end)
	s.respond(w, out, err)
}

func (s *Server) handleDocumentStats(w http.ResponseWriter, r *http.Request) {
	out, err := s.queries.Documents(r.Context())
	s.respond(w, out, err)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		s.logger.Error("query failed", "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, v)
}
