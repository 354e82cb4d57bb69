package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"snoozer/pkg/config"
	"snoozer/pkg/screen"
	"snoozer/pkg/store"
)

// ConfigHandler handles runtime tunables persisted in the state store.
type ConfigHandler struct {
	store   store.StateStore
	cfgProv config.Provider
}

// NewConfigHandler creates a new ConfigHandler.
func NewConfigHandler(st store.StateStore, cfg config.Provider) *ConfigHandler {
	return &ConfigHandler{
		store:   st,
		cfgProv: cfg,
	}
}

// ConfigResponse represents the config API response.
type ConfigResponse struct {
	AlarmSound     string        `json:"alarm_sound"`
	ReferencePhoto string        `json:"reference_photo"`
	ProofThreshold float64       `json:"proof_threshold"`
	ProofTolerance int           `json:"proof_tolerance"`
	AudioOutput    string        `json:"audio_output"`
	SoundScreens   []screen.Name `json:"sound_screens"`
}

// ConfigRequest represents the config API request for updates. An empty
// path removes the stored override and restores the config file value.
type ConfigRequest struct {
	AlarmSound     *string  `json:"alarm_sound,omitempty"`
	ReferencePhoto *string  `json:"reference_photo,omitempty"`
	ProofThreshold *float64 `json:"proof_threshold,omitempty"`
	ProofTolerance *int     `json:"proof_tolerance,omitempty"`
}

// HandleGet handles GET /api/config
func (h *ConfigHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.writeConfig(w, r)
}

// HandlePut handles PUT /api/config. Only the fields present are changed.
func (h *ConfigHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "config store unavailable", http.StatusServiceUnavailable)
		return
	}

	var req ConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	updates, err := req.updates()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	for key, val := range updates {
		if val == "" {
			if err := h.store.DeleteState(r.Context(), key); err != nil {
				slog.Error("Failed to clear config override", "key", key, "error", err)
				http.Error(w, "failed to persist config", http.StatusInternalServerError)
				return
			}
			slog.Info("Config: Override cleared", "key", key)
			continue
		}
		if err := h.store.SetState(r.Context(), key, val); err != nil {
			slog.Error("Failed to persist config", "key", key, "error", err)
			http.Error(w, "failed to persist config", http.StatusInternalServerError)
			return
		}
		slog.Info("Config: Updated", "key", key, "value", val)
	}

	h.writeConfig(w, r)
}

func (req *ConfigRequest) updates() (map[string]string, error) {
	updates := make(map[string]string)
	if req.AlarmSound != nil {
		updates[config.KeyAlarmSound] = *req.AlarmSound
	}
	if req.ReferencePhoto != nil {
		updates[config.KeyReferencePhoto] = *req.ReferencePhoto
	}
	if req.ProofThreshold != nil {
		t := *req.ProofThreshold
		if t <= 0 || t > 1 {
			return nil, fmt.Errorf("proof_threshold must be in (0, 1], got %v", t)
		}
		updates[config.KeyProofThreshold] = strconv.FormatFloat(t, 'f', -1, 64)
	}
	if req.ProofTolerance != nil {
		tol := *req.ProofTolerance
		if tol < 1 || tol > 255 {
			return nil, fmt.Errorf("proof_tolerance must be in [1, 255], got %d", tol)
		}
		updates[config.KeyProofTolerance] = strconv.Itoa(tol)
	}
	return updates, nil
}

func (h *ConfigHandler) writeConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	opts := h.cfgProv.ProofOptions(ctx)
	resp := ConfigResponse{
		AlarmSound:     h.cfgProv.AlarmSound(ctx),
		ReferencePhoto: h.cfgProv.ReferencePhoto(ctx),
		ProofThreshold: opts.Threshold,
		ProofTolerance: int(opts.Tolerance),
		AudioOutput:    h.cfgProv.AppConfig().Audio.Output,
		SoundScreens:   screen.Whitelist(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
