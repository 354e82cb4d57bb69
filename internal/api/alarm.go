package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"snoozer/pkg/alarm"
	"snoozer/pkg/audio"
	"snoozer/pkg/config"
	"snoozer/pkg/gate"
)

// AlarmHandler handles alarm sound endpoints.
type AlarmHandler struct {
	alarm *alarm.Service
	audio *audio.Controller
	gate  *gate.Gate
	cfg   config.Provider
}

// NewAlarmHandler creates a new AlarmHandler.
func NewAlarmHandler(svc *alarm.Service, ctrl *audio.Controller, g *gate.Gate, cfg config.Provider) *AlarmHandler {
	return &AlarmHandler{
		alarm: svc,
		audio: ctrl,
		gate:  g,
		cfg:   cfg,
	}
}

// RingRequest starts the alarm. An empty sound uses the configured one.
type RingRequest struct {
	Sound string `json:"sound,omitempty"`
}

// AlarmStatusResponse represents the alarm status.
type AlarmStatusResponse struct {
	State        string `json:"state"`
	AudioState   string `json:"audio_state"`
	IsPlaying    bool   `json:"is_playing"`
	SessionID    string `json:"session_id,omitempty"`
	Source       string `json:"source,omitempty"`
	Screen       string `json:"screen"`
	SoundAllowed bool   `json:"sound_allowed"`
}

// HandleRing handles POST /api/alarm/ring
func (h *AlarmHandler) HandleRing(w http.ResponseWriter, r *http.Request) {
	var req RingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	src := req.Sound
	if src == "" {
		src = h.cfg.AlarmSound(r.Context())
	}

	err := h.alarm.Ring(r.Context(), audio.Source(src))
	switch {
	case errors.Is(err, alarm.ErrSoundNotAllowed):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, audio.ErrAudioLoad):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeStatus(w, r)
}

// HandleStop handles POST /api/alarm/stop. It silences the sound only; the
// alarm itself stays pending until a proof is accepted.
func (h *AlarmHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.audio.Stop()
	slog.Debug("Alarm: Sound stopped via API")
	h.writeStatus(w, r)
}

// HandleReset handles POST /api/alarm/reset. It stops any sound and returns
// the flow to idle, e.g. after a dismissal.
func (h *AlarmHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	h.alarm.Reset()
	slog.Info("Alarm: Reset via API")
	h.writeStatus(w, r)
}

// HandleStatus handles GET /api/alarm/status
func (h *AlarmHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w, r)
}

func (h *AlarmHandler) writeStatus(w http.ResponseWriter, _ *http.Request) {
	resp := AlarmStatusResponse{
		State:        h.alarm.State().String(),
		AudioState:   h.audio.State().String(),
		IsPlaying:    h.audio.IsPlaying(),
		SessionID:    h.audio.SessionID(),
		Source:       string(h.audio.Source()),
		Screen:       string(h.gate.CurrentScreen()),
		SoundAllowed: h.gate.CanPlayNow(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
