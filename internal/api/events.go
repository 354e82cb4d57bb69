package api

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"snoozer/pkg/events"

	"github.com/gorilla/websocket"
)

const (
	clientBuffer = 64
	writeWait    = 5 * time.Second
	pingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: localOrigin,
}

// localOrigin accepts clients without an Origin header (native shells) and
// pages served from a loopback host.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// EventHub fans bus events out to websocket clients. Handle never blocks:
// a client that falls behind loses events.
type EventHub struct {
	mu      sync.Mutex
	clients map[chan events.Event]struct{}
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[chan events.Event]struct{})}
}

// Handle implements events.Handler.
func (h *EventHub) Handle(e events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- e:
		default:
			slog.Debug("API: Dropping event for slow client", "kind", e.Kind)
		}
	}
}

func (h *EventHub) add() chan events.Event {
	ch := make(chan events.Event, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) remove(ch chan events.Event) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *EventHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// EventsHandler serves the event stream and the recorded event log.
type EventsHandler struct {
	hub      *EventHub
	recorder *events.Recorder
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(hub *EventHub, rec *events.Recorder) *EventsHandler {
	return &EventsHandler{hub: hub, recorder: rec}
}

// HandleStream handles GET /api/events (websocket upgrade).
func (h *EventsHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("API: Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := h.hub.add()
	defer h.hub.remove(ch)
	slog.Debug("API: Event stream client connected", "remote", r.RemoteAddr)

	// Reader: detects the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			slog.Debug("API: Event stream client disconnected", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		case e := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				slog.Debug("API: Event stream write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// HandleLog handles GET /api/events/log
func (h *EventsHandler) HandleLog(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.recorder.Events()); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
