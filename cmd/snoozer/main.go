package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"snoozer/internal/api"
	"snoozer/pkg/alarm"
	"snoozer/pkg/audio"
	"snoozer/pkg/cache"
	"snoozer/pkg/config"
	"snoozer/pkg/db"
	"snoozer/pkg/events"
	"snoozer/pkg/gate"
	"snoozer/pkg/logging"
	"snoozer/pkg/probe"
	"snoozer/pkg/proof"
	"snoozer/pkg/screen"
	"snoozer/pkg/store"
	"snoozer/pkg/version"

	"github.com/joho/godotenv"
	"golang.org/x/net/netutil"
)

const verificationRetention = 30 * 24 * time.Hour

// maxConnections caps concurrent API connections, event streams included.
const maxConnections = 32

var (
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
	configPath = flag.String("config", "configs/snoozer.yaml", "Path to the config file")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config file generated: %s\n", *configPath)
		return
	}

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("Snoozer Started", "version", version.Version, "audio_output", appCfg.Audio.Output)

	dbConn, st, err := initDB(appCfg)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	if n, err := dbConn.PruneVerifications(verificationRetention); err != nil {
		slog.Error("Maintenance: Failed to prune verification log", "error", err)
	} else if n > 0 {
		slog.Info("Maintenance: Pruned verification log", "rows", n)
	}

	prov := config.NewProvider(appCfg, st)
	if err := probe.AnalyzeResults(probe.Run(ctx, startupProbes(dbConn, prov))); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	c := initCore(prov, st, cache.NewSQLiteCache(dbConn))
	defer c.ctrl.Stop()

	srv := api.NewServer(appCfg.Server.Address, c.handlers, cancel)
	srv.Handler = loggingMiddleware(srv.Handler)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	return runServerLifecycle(ctx, srv, quit, time.Duration(appCfg.Server.ShutdownTimeout))
}

func initDB(appCfg *config.Config) (*db.DB, store.Store, error) {
	dbConn, err := db.Init(appCfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return dbConn, store.NewSQLiteStore(dbConn), nil
}

type core struct {
	bus      *events.Bus
	ctrl     *audio.Controller
	gate     *gate.Gate
	alarm    *alarm.Service
	handlers api.Handlers
}

// initCore wires the gate, controller and verifier around one event bus.
// Subscription order matters: the recorder sees a screen change before the
// audio stop it causes.
func initCore(prov config.Provider, st store.Store, thumbCache cache.Cacher) *core {
	appCfg := prov.AppConfig()

	bus := events.NewBus()
	rec := events.NewRecorder(500)
	hub := api.NewEventHub()
	bus.Subscribe(rec.Handle)
	bus.Subscribe(logging.LogEvent)
	bus.Subscribe(hub.Handle)

	platform := newPlatform(appCfg.Audio.Output)
	ctrl := audio.NewController(platform, bus)
	bus.Subscribe(ctrl.HandleEvent)

	g := gate.New(screen.NewRegistry(), bus, platform)
	ctrl.SetPermission(g.CanPlayNow)

	thumbs := proof.NewCachingThumbnailer(proof.JPEGThumbnailer{}, thumbCache)
	verifier := proof.NewDynamicVerifier(prov.ProofOptions, thumbs)
	svc := alarm.NewService(g, ctrl, verifier, st, bus)

	return &core{
		bus:   bus,
		ctrl:  ctrl,
		gate:  g,
		alarm: svc,
		handlers: api.Handlers{
			Screen: api.NewScreenHandler(g),
			Alarm:  api.NewAlarmHandler(svc, ctrl, g, prov),
			Proof:  api.NewProofHandler(svc, prov, st),
			Cheat:  api.NewCheatHandler(svc),
			Config: api.NewConfigHandler(st, prov),
			Events: api.NewEventsHandler(hub, rec),
		},
	}
}

// startupProbes checks the database and the configured assets. Missing
// assets are only warnings: the sound can be replaced through the API and
// proofs fail open without a reference photo.
func startupProbes(dbConn *db.DB, prov config.Provider) []probe.Probe {
	ctx := context.Background()
	return []probe.Probe{
		{Name: "database", Check: dbConn.PingContext, Critical: true},
		{Name: "alarm_sound", Check: probe.FileReadable(prov.AlarmSound(ctx), false)},
		{Name: "reference_photo", Check: probe.FileReadable(prov.ReferencePhoto(ctx), true)},
	}
}

func newPlatform(output string) audio.Platform {
	if output == config.OutputNone {
		slog.Info("Audio: Output disabled, using null platform")
		return audio.NullPlatform{}
	}
	return audio.NewBeepPlatform()
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal, timeout time.Duration) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
	}
	ln = netutil.LimitListener(ln, maxConnections)

	slog.Info("Starting server", "addr", ln.Addr().String())
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.RequestLogger.Info("Request Processed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
