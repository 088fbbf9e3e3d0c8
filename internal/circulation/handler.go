// internal/circulation/handler.go
package circulation

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

type Handler struct {
	service Service
	limiter *rate.Limiter
}

// NewHandler creates the circulation handler. Mutating routes share one
// limiter so a runaway collaborator cannot hammer the workflow.
func NewHandler(service Service, perSecond, burst int) *Handler {
	if perSecond <= 0 {
		perSecond = 10
	}
	if burst <= 0 {
		burst = perSecond
	}
	return &Handler{
		service: service,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Register mounts the loan routes on the given router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/loans", h.handleBorrow)
	r.Post("/loans/{id}/return", h.handleReturn)
	r.Post("/loans/{id}/extend", h.handleExtend)
	r.Get("/clients/{id}/loans", h.handleClientLoans)
	r.Get("/books/{id}/loans", h.handleBookLoans)
}

func (h *Handler) handleBorrow(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	var req struct {
		ClientID   int64  `json:"client_id"`
		BookID     int64  `json:"book_id"`
		BorrowDate string `json:"borrow_date,omitempty"`
		DueDate    string `json:"due_date,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	borrowDate, err := parseDate(req.BorrowDate)
	if err != nil {
		http.Error(w, "borrow_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	dueDate, err := parseDate(req.DueDate)
	if err != nil {
		http.Error(w, "due_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	res := h.service.Borrow(r.Context(), req.ClientID, req.BookID, borrowDate, dueDate)
	writeResult(w, res, http.StatusCreated)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	id, err := pathID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res := h.service.Return(r.Context(), id)
	writeResult(w, res, http.StatusOK)
}

func (h *Handler) handleExtend(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	id, err := pathID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req struct {
		Days int `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res := h.service.Extend(r.Context(), id, req.Days)
	writeResult(w, res, http.StatusOK)
}

func (h *Handler) handleClientLoans(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := h.service.RecordsByClient(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleBookLoans(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := h.service.RecordsByBook(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// writeResult maps a TxResult to an HTTP status with the variant name in the
// body, so the collaborator can present a precise message.
func writeResult(w http.ResponseWriter, res TxResult, successStatus int) {
	status := successStatus
	switch res {
	case Success:
	case ClientNotFound, BookNotFound, RecordNotFound:
		status = http.StatusNotFound
	case AlreadyBorrowed, NoCopies, NotAvailableBook, ClientAlreadyExists, BookAlreadyExists:
		status = http.StatusConflict
	case InvalidExtension:
		status = http.StatusBadRequest
	default:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"result": res.String()})
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(DateLayout, s)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
