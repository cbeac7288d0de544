// Package api exposes the engine's trigger surface over HTTP: enqueue an
// allocation, enqueue a backfill, announce a published measurement. All
// endpoints are fire-and-forget and answer 202; the actual work happens on
// the task runner's worker pool.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gridcert/ggo-engine/internal/task"
)

// Handler binds the trigger endpoints to a task runner.
type Handler struct {
	runner *task.Runner
}

// NewHandler creates the HTTP handler for the trigger surface.
func NewHandler(runner *task.Runner) *Handler {
	return &Handler{runner: runner}
}

// Routes mounts the trigger endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/allocations", h.EnqueueAllocation)
	r.Post("/backfills", h.EnqueueBackfill)
	r.Post("/measurements", h.MeasurementPublished)
}

// AllocationRequest is the JSON body for POST /api/v1/allocations.
type AllocationRequest struct {
	AccountID          string `json:"account_id"`
	CertificateAddress string `json:"certificate_address"`
}

// EnqueueAllocation handles POST /api/v1/allocations
func (h *Handler) EnqueueAllocation(w http.ResponseWriter, r *http.Request) {
	var req AllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}
	if req.CertificateAddress == "" {
		writeError(w, "certificate_address is required", http.StatusBadRequest)
		return
	}

	h.runner.EnqueueAllocation(req.AccountID, req.CertificateAddress)
	writeAccepted(w)
}

// BackfillRequest is the JSON body for POST /api/v1/backfills. From and To
// are RFC 3339 time-bucket begins, inclusive.
type BackfillRequest struct {
	AccountID string    `json:"account_id"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
}

// EnqueueBackfill handles POST /api/v1/backfills
func (h *Handler) EnqueueBackfill(w http.ResponseWriter, r *http.Request) {
	var req BackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}
	if req.From.IsZero() || req.To.IsZero() || req.To.Before(req.From) {
		writeError(w, "from/to must be a valid range", http.StatusBadRequest)
		return
	}

	h.runner.EnqueueBackfill(req.AccountID, req.From, req.To)
	writeAccepted(w)
}

// MeasurementRequest is the JSON body for POST /api/v1/measurements.
type MeasurementRequest struct {
	AccountID string    `json:"account_id"`
	Begin     time.Time `json:"begin"`
}

// MeasurementPublished handles POST /api/v1/measurements
func (h *Handler) MeasurementPublished(w http.ResponseWriter, r *http.Request) {
	var req MeasurementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}
	if req.Begin.IsZero() {
		writeError(w, "begin is required", http.StatusBadRequest)
		return
	}

	h.runner.MeasurementPublished(req.AccountID, req.Begin)
	writeAccepted(w)
}

func writeAccepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
