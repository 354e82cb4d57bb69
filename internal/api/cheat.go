package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"snoozer/pkg/alarm"
	"snoozer/pkg/cheat"
)

// CheatHandler accepts classifications from the anti-cheat detector.
type CheatHandler struct {
	alarm *alarm.Service
}

// NewCheatHandler creates a new CheatHandler.
func NewCheatHandler(svc *alarm.Service) *CheatHandler {
	return &CheatHandler{alarm: svc}
}

// CheatRequest names the detected cheat.
type CheatRequest struct {
	Type string `json:"type"`
}

// CheatResponse carries the applied reaction.
type CheatResponse struct {
	Type        cheat.Type `json:"type"`
	Description string     `json:"description"`
	RejectProof bool       `json:"reject_proof"`
	KeepRinging bool       `json:"keep_ringing"`
	State       string     `json:"state"`
}

// HandleReport handles POST /api/cheat
func (h *CheatHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	var req CheatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	t, err := cheat.Parse(req.Type)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	reaction := h.alarm.ReportCheat(r.Context(), t)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(CheatResponse{
		Type:        t,
		Description: cheat.Describe(t),
		RejectProof: reaction.RejectProof,
		KeepRinging: reaction.KeepRinging,
		State:       h.alarm.State().String(),
	}); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
