package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"snoozer/pkg/gate"
	"snoozer/pkg/screen"
)

// ScreenHandler reports navigation to the sound gate.
type ScreenHandler struct {
	gate *gate.Gate
}

// NewScreenHandler creates a new ScreenHandler.
func NewScreenHandler(g *gate.Gate) *ScreenHandler {
	return &ScreenHandler{gate: g}
}

// ScreenRequest announces the new foreground screen.
type ScreenRequest struct {
	Screen screen.Name `json:"screen"`
}

// SoundAllowedResponse answers a permission query.
type SoundAllowedResponse struct {
	Screen    screen.Name   `json:"screen"`
	Allowed   bool          `json:"allowed"`
	Whitelist []screen.Name `json:"whitelist"`
}

// HandleSet handles POST /api/screen
func (h *ScreenHandler) HandleSet(w http.ResponseWriter, r *http.Request) {
	var req ScreenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Screen == "" {
		http.Error(w, "screen is required", http.StatusBadRequest)
		return
	}

	h.gate.SetCurrentScreen(req.Screen)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(SoundAllowedResponse{
		Screen:    req.Screen,
		Allowed:   h.gate.CanPlayNow(),
		Whitelist: screen.Whitelist(),
	}); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// HandleAllowed handles GET /api/sound/allowed?screen=
// Without a screen parameter the current screen is evaluated.
func (h *ScreenHandler) HandleAllowed(w http.ResponseWriter, r *http.Request) {
	resp := SoundAllowedResponse{Whitelist: screen.Whitelist()}
	if name := r.URL.Query().Get("screen"); name != "" {
		resp.Screen = screen.Name(name)
		resp.Allowed = h.gate.CanPlay(resp.Screen)
	} else {
		resp.Screen = h.gate.CurrentScreen()
		resp.Allowed = h.gate.CanPlayNow()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
