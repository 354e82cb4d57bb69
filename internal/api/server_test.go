package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"snoozer/pkg/alarm"
	"snoozer/pkg/audio"
	"snoozer/pkg/config"
	"snoozer/pkg/db"
	"snoozer/pkg/events"
	"snoozer/pkg/gate"
	"snoozer/pkg/proof"
	"snoozer/pkg/screen"
	"snoozer/pkg/store"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandle struct{}

func (stubHandle) Play() error   { return nil }
func (stubHandle) Stop() error   { return nil }
func (stubHandle) Unload() error { return nil }

// stubPlatform accepts any source except "missing.mp3".
type stubPlatform struct{}

func (stubPlatform) Configure(audio.SessionMode) error { return audio.ErrPlatformUnsupported }
func (stubPlatform) Silence() error                    { return audio.ErrPlatformUnsupported }
func (stubPlatform) Load(_ context.Context, src audio.Source) (audio.Handle, error) {
	if src == "missing.mp3" {
		return nil, errors.New("no such file")
	}
	return stubHandle{}, nil
}

type stubThumbs map[string]string

func (s stubThumbs) Thumbnail(_ context.Context, uri string, _ int) (string, error) {
	enc, ok := s[uri]
	if !ok {
		return "", errors.New("unreadable image")
	}
	return enc, nil
}

type fixture struct {
	mux   *http.ServeMux
	gate  *gate.Gate
	ctrl  *audio.Controller
	alarm *alarm.Service
	store *store.SQLiteStore
	rec   *events.Recorder
	hub   *EventHub
	bus   *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	d, err := db.Init(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	st := store.NewSQLiteStore(d)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cfg.Audio.AlarmSound = "default.mp3"
	cfg.Proof.ReferencePhoto = "ref.jpg"
	prov := config.NewProvider(cfg, st)

	bus := events.NewBus()
	rec := events.NewRecorder(100)
	bus.Subscribe(rec.Handle)
	hub := NewEventHub()
	bus.Subscribe(hub.Handle)

	platform := stubPlatform{}
	ctrl := audio.NewController(platform, bus)
	bus.Subscribe(ctrl.HandleEvent)
	g := gate.New(screen.NewRegistry(), bus, platform)
	ctrl.SetPermission(g.CanPlayNow)

	thumbs := stubThumbs{
		"ref.jpg":   "AAAAAAAA",
		"same.jpg":  "AAAAAAAA",
		"other.jpg": "yMjIyMjI",
		"gym.jpg":   "yMjIyMjI",
	}
	v := proof.NewDynamicVerifier(prov.ProofOptions, thumbs)
	svc := alarm.NewService(g, ctrl, v, st, bus)

	mux := NewMux(Handlers{
		Screen: NewScreenHandler(g),
		Alarm:  NewAlarmHandler(svc, ctrl, g, prov),
		Proof:  NewProofHandler(svc, prov, st),
		Cheat:  NewCheatHandler(svc),
		Config: NewConfigHandler(st, prov),
		Events: NewEventsHandler(hub, rec),
	}, nil)

	return &fixture{mux: mux, gate: g, ctrl: ctrl, alarm: svc, store: st, rec: rec, hub: hub, bus: bus}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func TestHealthAndVersion(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	w = f.do(t, "GET", "/api/version", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version"`)
}

func TestScreenEndpoints(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		want     bool
	}{
		{name: "Set whitelisted", method: "POST", path: "/api/screen", body: `{"screen":"AlarmRinging"}`, wantCode: 200, want: true},
		{name: "Current allowed", method: "GET", path: "/api/sound/allowed", wantCode: 200, want: true},
		{name: "Query forbidden", method: "GET", path: "/api/sound/allowed?screen=Home", wantCode: 200, want: false},
		{name: "Query settings", method: "GET", path: "/api/sound/allowed?screen=Settings", wantCode: 200, want: true},
		{name: "Set forbidden", method: "POST", path: "/api/screen", body: `{"screen":"Penalty"}`, wantCode: 200, want: false},
		{name: "Current forbidden", method: "GET", path: "/api/sound/allowed", wantCode: 200, want: false},
		{name: "Empty screen", method: "POST", path: "/api/screen", body: `{"screen":""}`, wantCode: 400},
		{name: "Bad JSON", method: "POST", path: "/api/screen", body: `{`, wantCode: 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantCode != 200 {
				return
			}
			resp := decode[SoundAllowedResponse](t, w)
			assert.Equal(t, tt.want, resp.Allowed)
			assert.ElementsMatch(t, screen.Whitelist(), resp.Whitelist)
		})
	}
}

func TestAlarmFlow(t *testing.T) {
	f := newFixture(t)

	// Not allowed on Home
	f.do(t, "POST", "/api/screen", `{"screen":"Home"}`)
	w := f.do(t, "POST", "/api/alarm/ring", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// Ring with the configured default sound
	f.do(t, "POST", "/api/screen", `{"screen":"AlarmRinging"}`)
	w = f.do(t, "POST", "/api/alarm/ring", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	status := decode[AlarmStatusResponse](t, w)
	assert.Equal(t, "ringing", status.State)
	assert.Equal(t, "playing", status.AudioState)
	assert.True(t, status.IsPlaying)
	assert.Equal(t, "default.mp3", status.Source)
	assert.NotEmpty(t, status.SessionID)

	// Wrong photo keeps ringing
	w = f.do(t, "POST", "/api/proof/verify", `{"proof":"other.jpg"}`)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[proof.ComparisonResult](t, w)
	assert.False(t, res.IsMatch)
	assert.True(t, f.ctrl.IsPlaying())

	// Right photo dismisses
	w = f.do(t, "POST", "/api/proof/verify", `{"proof":"same.jpg"}`)
	res = decode[proof.ComparisonResult](t, w)
	assert.True(t, res.IsMatch)
	assert.Equal(t, 1.0, res.Similarity)

	w = f.do(t, "GET", "/api/alarm/status", "")
	status = decode[AlarmStatusResponse](t, w)
	assert.Equal(t, "dismissed", status.State)
	assert.False(t, status.IsPlaying)
	assert.Equal(t, "idle", status.AudioState)

	// History is newest first
	w = f.do(t, "GET", "/api/proof/history?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[[]store.Verification](t, w)
	require.Len(t, history, 2)
	assert.Equal(t, "same.jpg", history[0].Proof)
	assert.Equal(t, "ref.jpg", history[0].Reference)
}

func TestAlarmRing_LoadFailure(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/api/screen", `{"screen":"AlarmRinging"}`)

	w := f.do(t, "POST", "/api/alarm/ring", `{"sound":"missing.mp3"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.False(t, f.ctrl.IsPlaying())
	assert.Contains(t, f.rec.Kinds(), events.KindAudioStartFailed)
}

func TestAlarmStop_KeepsAlarmPending(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/api/screen", `{"screen":"Settings"}`)
	f.do(t, "POST", "/api/alarm/ring", `{"sound":"test.mp3"}`)

	w := f.do(t, "POST", "/api/alarm/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[AlarmStatusResponse](t, w)
	assert.False(t, status.IsPlaying)
	assert.Equal(t, "ringing", status.State)

	// Idempotent
	w = f.do(t, "POST", "/api/alarm/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNavigatingAwayStopsSound(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/api/screen", `{"screen":"AlarmRinging"}`)
	f.do(t, "POST", "/api/alarm/ring", "")
	require.True(t, f.ctrl.IsPlaying())

	f.do(t, "POST", "/api/screen", `{"screen":"Home"}`)
	assert.False(t, f.ctrl.IsPlaying())
}

func TestProofVerify_ReferenceFromConfigOnly(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		body    string
		want    bool
		wantMsg string
	}{
		{name: "Empty reference ignored", body: `{"reference":"","proof":"other.jpg"}`, want: false},
		{name: "Self reference ignored", body: `{"reference":"other.jpg","proof":"other.jpg"}`, want: false},
		{name: "Configured reference used", body: `{"proof":"same.jpg"}`, want: true},
		{name: "Missing proof", body: `{"proof":""}`, want: false, wantMsg: proof.MsgNoProof},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, "POST", "/api/proof/verify", tt.body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			res := decode[proof.ComparisonResult](t, w)
			assert.Equal(t, tt.want, res.IsMatch)
			assert.NotEqual(t, proof.MsgNoReference, res.Message)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, res.Message)
			}
		})
	}
}

func TestMutatingRoutes_RequireJSON(t *testing.T) {
	routes := []struct {
		method string
		path   string
		body   string
	}{
		{"POST", "/api/screen", `{"screen":"Home"}`},
		{"POST", "/api/alarm/ring", ""},
		{"POST", "/api/alarm/stop", ""},
		{"POST", "/api/alarm/reset", ""},
		{"POST", "/api/proof/verify", `{"proof":"same.jpg"}`},
		{"POST", "/api/cheat", `{"type":"app_killed"}`},
		{"PUT", "/api/config", `{"reference_photo":"gym.jpg"}`},
		{"POST", "/api/shutdown", ""},
	}
	contentTypes := []string{"", "text/plain", "application/x-www-form-urlencoded", "multipart/form-data; boundary=x"}

	for _, rt := range routes {
		for _, ct := range contentTypes {
			t.Run(rt.method+" "+rt.path+" "+ct, func(t *testing.T) {
				f := newFixture(t)
				f.gate.SetCurrentScreen(screen.AlarmRinging)
				f.rec.Reset()

				req := httptest.NewRequest(rt.method, rt.path, strings.NewReader(rt.body))
				if ct != "" {
					req.Header.Set("Content-Type", ct)
				}
				w := httptest.NewRecorder()
				f.mux.ServeHTTP(w, req)

				assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
				assert.Empty(t, f.rec.Kinds(), "a rejected request must not reach the core")
				assert.Equal(t, screen.AlarmRinging, f.gate.CurrentScreen())
				_, stored := f.store.GetState(context.Background(), config.KeyReferencePhoto)
				assert.False(t, stored)
			})
		}
	}

	t.Run("Charset parameter accepted", func(t *testing.T) {
		f := newFixture(t)
		req := httptest.NewRequest("POST", "/api/screen", strings.NewReader(`{"screen":"Settings"}`))
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		w := httptest.NewRecorder()
		f.mux.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, screen.Settings, f.gate.CurrentScreen())
	})
}

func TestAlarmReset(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/api/screen", `{"screen":"AlarmRinging"}`)
	f.do(t, "POST", "/api/alarm/ring", "")
	f.do(t, "POST", "/api/proof/verify", `{"proof":"same.jpg"}`)
	require.Equal(t, alarm.Dismissed, f.alarm.State())

	w := f.do(t, "POST", "/api/alarm/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[AlarmStatusResponse](t, w)
	assert.Equal(t, "idle", status.State)
	assert.False(t, status.IsPlaying)

	// A cheat on an idle alarm no longer re-arms it
	f.do(t, "POST", "/api/cheat", `{"type":"photo_too_old"}`)
	assert.Equal(t, alarm.Idle, f.alarm.State())
	assert.False(t, f.ctrl.IsPlaying())
}

func TestProofHistory_InvalidLimit(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "/api/proof/history?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "GET", "/api/proof/history", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())
}

func TestCheatEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/api/screen", `{"screen":"AlarmRinging"}`)
	f.do(t, "POST", "/api/alarm/ring", "")
	f.do(t, "POST", "/api/alarm/stop", "")

	w := f.do(t, "POST", "/api/cheat", `{"type":"time_manipulation"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[CheatResponse](t, w)
	assert.True(t, resp.RejectProof)
	assert.True(t, resp.KeepRinging)
	assert.Equal(t, "ringing", resp.State)
	assert.NotEmpty(t, resp.Description)
	assert.True(t, f.ctrl.IsPlaying(), "sound restarted")

	w = f.do(t, "POST", "/api/cheat", `{"type":"telepathy"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfigEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/api/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	cfg := decode[ConfigResponse](t, w)
	assert.Equal(t, "default.mp3", cfg.AlarmSound)
	assert.Equal(t, "ref.jpg", cfg.ReferencePhoto)
	assert.Equal(t, 0.65, cfg.ProofThreshold)
	assert.Equal(t, 40, cfg.ProofTolerance)

	w = f.do(t, "PUT", "/api/config", `{"reference_photo":"gym.jpg","proof_threshold":0.9}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cfg = decode[ConfigResponse](t, w)
	assert.Equal(t, "gym.jpg", cfg.ReferencePhoto)
	assert.Equal(t, 0.9, cfg.ProofThreshold)

	val, ok := f.store.GetState(context.Background(), config.KeyReferencePhoto)
	assert.True(t, ok)
	assert.Equal(t, "gym.jpg", val)

	// The stored reference is used by the next verification
	w = f.do(t, "POST", "/api/proof/verify", `{"proof":"other.jpg"}`)
	res := decode[proof.ComparisonResult](t, w)
	assert.True(t, res.IsMatch)

	// An empty path clears the override
	w = f.do(t, "PUT", "/api/config", `{"reference_photo":""}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cfg = decode[ConfigResponse](t, w)
	assert.Equal(t, "ref.jpg", cfg.ReferencePhoto, "falls back to the config file value")
	_, ok = f.store.GetState(context.Background(), config.KeyReferencePhoto)
	assert.False(t, ok, "override removed from the store")

	for _, body := range []string{`{"proof_threshold":1.5}`, `{"proof_tolerance":0}`, `{`} {
		w = f.do(t, "PUT", "/api/config", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestEventsLog(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/api/screen", `{"screen":"ProofCapture"}`)

	w := f.do(t, "GET", "/api/events/log", "")
	require.Equal(t, http.StatusOK, w.Code)
	logged := decode[[]events.Event](t, w)
	require.Len(t, logged, 1)
	assert.Equal(t, events.KindScreenChanged, logged[0].Kind)
	assert.Equal(t, screen.ProofCapture, logged[0].Screen)
	assert.True(t, logged[0].Authorized)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	require.Eventually(t, func() bool { return f.hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	f.gate.SetCurrentScreen(screen.Home)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e events.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, events.KindScreenChanged, e.Kind)
	assert.Equal(t, screen.Home, e.Screen)
	assert.False(t, e.Authorized)

	conn.Close()
	assert.Eventually(t, func() bool { return f.hub.Clients() == 0 }, time.Second, 10*time.Millisecond)
}

func TestEventStream_RejectsForeignOrigin(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, f.hub.Clients())
}

func TestLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"http://127.0.0.1:1955", true},
		{"http://[::1]:1955", true},
		{"https://evil.example", false},
		{"http://localhost.evil.example", false},
		{"null", false},
		{"://bad", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/events", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, localOrigin(r))
		})
	}
}

func TestEventHub_DropsForSlowClient(t *testing.T) {
	hub := NewEventHub()
	ch := hub.add()
	defer hub.remove(ch)

	// Must not block once the buffer is full
	for i := 0; i < clientBuffer*2; i++ {
		hub.Handle(events.Event{Kind: events.KindAudioStopped})
	}

	assert.Len(t, ch, clientBuffer)
}

func TestShutdownEndpoint(t *testing.T) {
	called := make(chan struct{})
	mux := NewMux(Handlers{}, func() { close(called) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/shutdown", bytes.NewReader(nil))
	req.Header.Set("Content-Type", "application/json")
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("shutdown was not called")
	}

	// Routes of nil handlers are not registered
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/api/alarm/status", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
