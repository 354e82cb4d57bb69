package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"snoozer/pkg/alarm"
	"snoozer/pkg/config"
	"snoozer/pkg/store"
)

// ProofHandler handles proof photo submission.
type ProofHandler struct {
	alarm   *alarm.Service
	cfg     config.Provider
	history store.VerificationStore
}

// NewProofHandler creates a new ProofHandler. history may be nil.
func NewProofHandler(svc *alarm.Service, cfg config.Provider, history store.VerificationStore) *ProofHandler {
	return &ProofHandler{
		alarm:   svc,
		cfg:     cfg,
		history: history,
	}
}

// VerifyRequest carries the proof photo path or file:// URI. The reference
// always comes from configuration.
type VerifyRequest struct {
	Proof string `json:"proof"`
}

// HandleVerify handles POST /api/proof/verify
func (h *ProofHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	reference := h.cfg.ReferencePhoto(r.Context())
	res := h.alarm.SubmitProof(r.Context(), reference, req.Proof)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// HandleHistory handles GET /api/proof/history?limit=
func (h *ProofHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "verification log not available", http.StatusServiceUnavailable)
		return
	}
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := h.history.RecentVerifications(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to load verification history", "error", err)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []store.Verification{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
