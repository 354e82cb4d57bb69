package api

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"snoozer/pkg/version"
)

// Handlers bundles the endpoint handlers. Nil handlers leave their routes unregistered.
type Handlers struct {
	Screen *ScreenHandler
	Alarm  *AlarmHandler
	Proof  *ProofHandler
	Cheat  *CheatHandler
	Config *ConfigHandler
	Events *EventsHandler
}

// NewServer creates and configures the HTTP server.
// shutdown is called asynchronously by POST /api/shutdown.
func NewServer(addr string, h Handlers, shutdown func()) *http.Server {
	return &http.Server{
		Addr:        addr,
		Handler:     NewMux(h, shutdown),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: the event stream is long-lived.
		IdleTimeout: 60 * time.Second,
	}
}

// NewMux registers all routes.
func NewMux(h Handlers, shutdown func()) *http.ServeMux {
	mux := http.NewServeMux()

	// 1. Health & Version
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)

	// 2. Navigation & Sound Gate
	if h.Screen != nil {
		mux.HandleFunc("POST /api/screen", requireJSON(h.Screen.HandleSet))
		mux.HandleFunc("GET /api/sound/allowed", h.Screen.HandleAllowed)
	}

	// 3. Alarm Sound
	if h.Alarm != nil {
		mux.HandleFunc("POST /api/alarm/ring", requireJSON(h.Alarm.HandleRing))
		mux.HandleFunc("POST /api/alarm/stop", requireJSON(h.Alarm.HandleStop))
		mux.HandleFunc("POST /api/alarm/reset", requireJSON(h.Alarm.HandleReset))
		mux.HandleFunc("GET /api/alarm/status", h.Alarm.HandleStatus)
	}

	// 4. Proof & Cheats
	if h.Proof != nil {
		mux.HandleFunc("POST /api/proof/verify", requireJSON(h.Proof.HandleVerify))
		mux.HandleFunc("GET /api/proof/history", h.Proof.HandleHistory)
	}
	if h.Cheat != nil {
		mux.HandleFunc("POST /api/cheat", requireJSON(h.Cheat.HandleReport))
	}

	// 5. Config
	if h.Config != nil {
		mux.HandleFunc("GET /api/config", h.Config.HandleGet)
		mux.HandleFunc("PUT /api/config", requireJSON(h.Config.HandlePut))
	}

	// 6. Events
	if h.Events != nil {
		mux.HandleFunc("GET /api/events", h.Events.HandleStream)
		mux.HandleFunc("GET /api/events/log", h.Events.HandleLog)
	}

	// 7. Shutdown Endpoint
	mux.HandleFunc("POST /api/shutdown", requireJSON(func(w http.ResponseWriter, r *http.Request) {
		slog.Info("Graceful shutdown initiated via API")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Shutting down...")); err != nil {
			slog.Error("Failed to write shutdown response", "error", err)
		}
		if shutdown == nil {
			return
		}
		// Let the response flush first
		go func() {
			time.Sleep(100 * time.Millisecond)
			shutdown()
		}()
	}))

	return mux
}

// requireJSON rejects mutating requests that do not declare a JSON body,
// even when the body is empty. A browser cannot send that content type
// cross-origin without a preflight, and this server answers none.
func requireJSON(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mt != "application/json" {
			slog.Warn("API: Rejected non-JSON request", "method", r.Method, "path", r.URL.Path, "content_type", r.Header.Get("Content-Type"))
			http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
			return
		}
		next(w, r)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}
