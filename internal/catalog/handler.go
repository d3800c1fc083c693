// internal/catalog/handler.go
package catalog

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"libracatalog/internal/circulation"
)

// Error codes carried in JSON error bodies.
const (
	CodeNotFound          = "not_found"
	CodeAlreadyCheckedOut = "already_checked_out"
	CodeNotCheckedOut     = "not_checked_out"
	CodeInvalidKind       = "invalid_kind"
	CodeInvalidLoanPeriod = "invalid_loan_period"
	CodeBadRequest        = "bad_request"
	CodeRateLimited       = "rate_limited"
	CodeInternal          = "internal"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// AddItemRequest is the body of POST /items.
type AddItemRequest struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Creator  string `json:"creator"`
	Kind     Kind   `json:"kind"`
}

// CheckoutRequest is the optional body of POST /items/{id}/checkout.
type CheckoutRequest struct {
	Days *int `json:"days,omitempty"`
}

type Handler struct {
	service  Service
	logger   *slog.Logger
	limiter  *rate.Limiter
	loanDays int
}

// NewHandler serves service over HTTP. A nil limiter disables rate limiting.
func NewHandler(service Service, logger *slog.Logger, limiter *rate.Limiter) *Handler {
	return &Handler{
		service:  service,
		logger:   logger,
		limiter:  limiter,
		loanDays: circulation.DefaultLoanDays,
	}
}

// WithLoanDays sets the loan period used when a checkout request names none.
func (h *Handler) WithLoanDays(days int) *Handler {
	h.loanDays = days
	return h
}

// Routes builds the catalog router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/health", h.handleHealth)
	r.Get("/search", h.handleSearch)

	r.Route("/items", func(r chi.Router) {
		r.Get("/", h.handleListItems)
		r.With(h.rateLimit).Post("/", h.handleAddItem)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetItem)
			r.Get("/events", h.handleHistory)
			r.With(h.rateLimit).Post("/checkout", h.handleCheckout)
			r.With(h.rateLimit).Post("/return", h.handleReturn)
		})
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	var (
		items []*Item
		err   error
	)
	switch status := r.URL.Query().Get("status"); status {
	case "":
		items, err = h.service.Search(r.Context(), "")
	case "available":
		items, err = h.service.ListAvailable(r.Context())
	case "checked-out", "checked_out":
		items, err = h.service.ListCheckedOut(r.Context())
	default:
		h.writeBadRequest(w, "unknown status filter: "+status)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, ErrInvalidKind) {
			h.writeError(w, r, err)
			return
		}
		h.writeBadRequest(w, err.Error())
		return
	}

	item, err := h.service.AddItem(r.Context(), req.Title, req.Category, req.Creator, req.Kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}
	events, err := h.service.History(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeBadRequest(w, err.Error())
		return
	}
	days := h.loanDays
	if req.Days != nil {
		days = *req.Days
	}

	item, err := h.service.CheckoutItem(r.Context(), id, days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}
	receipt, err := h.service.ReturnItem(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, receipt)
}

func (h *Handler) itemID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		h.writeBadRequest(w, "invalid item ID")
		return 0, false
	}
	return id, true
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow() {
			h.writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded", Code: CodeRateLimited})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.DebugContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// StatusFor maps a catalog error to its HTTP status and error code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, ErrAlreadyCheckedOut):
		return http.StatusConflict, CodeAlreadyCheckedOut
	case errors.Is(err, ErrNotCheckedOut):
		return http.StatusConflict, CodeNotCheckedOut
	case errors.Is(err, ErrInvalidKind):
		return http.StatusBadRequest, CodeInvalidKind
	case errors.Is(err, ErrInvalidLoanPeriod):
		return http.StatusBadRequest, CodeInvalidLoanPeriod
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// ErrorForCode is the inverse of StatusFor for the catalog's own errors.
func ErrorForCode(code string) error {
	switch code {
	case CodeNotFound:
		return ErrNotFound
	case CodeAlreadyCheckedOut:
		return ErrAlreadyCheckedOut
	case CodeNotCheckedOut:
		return ErrNotCheckedOut
	case CodeInvalidKind:
		return ErrInvalidKind
	case CodeInvalidLoanPeriod:
		return ErrInvalidLoanPeriod
	default:
		return nil
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	}
	h.writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func (h *Handler) writeBadRequest(w http.ResponseWriter, msg string) {
	h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Code: CodeBadRequest})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "err", err)
	}
}
