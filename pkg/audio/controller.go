package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"snoozer/pkg/events"

	"github.com/google/uuid"
)

// State is the lifecycle state of the alarm session.
type State int

const (
	Idle State = iota
	Starting
	Playing
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Playing:
		return "playing"
	case Stopping:
		return "stopping"
	default:
		return "idle"
	}
}

// Service defines the alarm-audio control surface.
type Service interface {
	// Start loads src and loops it at maximum volume, replacing any running session.
	Start(ctx context.Context, src Source) error
	// Stop halts and releases the session. Never fails.
	Stop()
	// IsPlaying returns true while a session handle exists.
	IsPlaying() bool
}

// Controller implements Service with at most one live platform handle.
type Controller struct {
	// opMu serializes Start and Stop.
	opMu sync.Mutex

	mu         sync.RWMutex
	state      State
	handle     Handle
	sessionID  string
	source     Source
	cancelLoad context.CancelFunc
	allowed    func() bool

	platform Platform
	bus      *events.Bus
}

// NewController creates an idle controller. bus may be nil.
func NewController(p Platform, bus *events.Bus) *Controller {
	return &Controller{
		platform: p,
		bus:      bus,
	}
}

// Start configures the alarm session mode, stops any previous session and starts src.
// A failed load leaves the controller Idle and returns a *LoadError. When a
// permission check is set and denies sound once the source is loaded, the
// handle is released and ErrNotPermitted is returned.
func (c *Controller) Start(ctx context.Context, src Source) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	// Restart semantics: the previous session is fully released first.
	c.stopLocked()

	if err := c.platform.Configure(ModeAlarm); err != nil {
		logConfigureError(ModeAlarm, err)
	}

	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.state = Starting
	c.cancelLoad = cancel
	c.mu.Unlock()

	h, err := c.platform.Load(loadCtx, src)

	c.mu.Lock()
	c.cancelLoad = nil
	c.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		// The caller gave up; the asset itself may be fine.
		c.abortStart(h)
		slog.Debug("Audio: Start abandoned by caller", "source", src, "error", ctx.Err())
		return ctx.Err()
	case loadCtx.Err() != nil:
		c.abortStart(h)
		slog.Info("Audio: Start superseded by stop", "source", src)
		return ErrSuperseded
	case err != nil:
		return c.failStart(src, err)
	}

	// The screen may have changed while the source was loading. A later
	// change queues its Stop behind opMu, so checking here is enough.
	if !c.permitted() {
		c.abortStart(h)
		slog.Warn("Audio: Sound no longer permitted, discarding loaded source", "source", src)
		return ErrNotPermitted
	}

	if err := h.Play(); err != nil {
		releaseQuietly(h, "")
		return c.failStart(src, err)
	}

	id := uuid.NewString()
	c.mu.Lock()
	c.handle = h
	c.sessionID = id
	c.source = src
	c.state = Playing
	c.mu.Unlock()

	slog.Info("Audio: Alarm sound started", "session", id, "source", src)
	c.publish(events.Event{Kind: events.KindAudioStarted, SessionID: id, Detail: string(src)})
	return nil
}

// SetPermission installs the check Start consults after loading. A nil
// check permits every start.
func (c *Controller) SetPermission(allowed func() bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowed = allowed
}

func (c *Controller) permitted() bool {
	c.mu.RLock()
	allowed := c.allowed
	c.mu.RUnlock()
	return allowed == nil || allowed()
}

// abortStart releases a handle that never became the session.
func (c *Controller) abortStart(h Handle) {
	if h != nil {
		releaseQuietly(h, "")
	}
	c.setState(Idle)
}

func (c *Controller) failStart(src Source, err error) error {
	c.setState(Idle)
	loadErr := &LoadError{Source: src, Err: err}
	slog.Error("Audio: Failed to start alarm sound", "source", src, "error", err)
	c.publish(events.Event{Kind: events.KindAudioStartFailed, Detail: loadErr.Error()})
	return loadErr
}

func (c *Controller) setState(st State) {
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
}

// Stop halts and releases the current session. Errors from the platform are
// logged and swallowed; the session is always cleared afterwards.
func (c *Controller) Stop() {
	// Abort an in-flight load so Stop does not wait on slow decodes.
	c.mu.RLock()
	if c.cancelLoad != nil {
		c.cancelLoad()
	}
	c.mu.RUnlock()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.stopLocked()
}

// stopLocked requires opMu.
func (c *Controller) stopLocked() {
	c.mu.Lock()
	h, id := c.handle, c.sessionID
	if h == nil {
		c.mu.Unlock()
		return
	}
	c.state = Stopping
	c.mu.Unlock()

	releaseQuietly(h, id)

	c.mu.Lock()
	c.handle = nil
	c.sessionID = ""
	c.source = ""
	c.state = Idle
	c.mu.Unlock()

	if err := c.platform.Configure(ModeIdle); err != nil {
		logConfigureError(ModeIdle, err)
	}

	slog.Info("Audio: Alarm sound stopped", "session", id)
	c.publish(events.Event{Kind: events.KindAudioStopped, SessionID: id})
}

// IsPlaying reports whether a session handle exists.
func (c *Controller) IsPlaying() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handle != nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SessionID returns the ID of the live session, or "".
func (c *Controller) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Source returns the source of the live session, or "".
func (c *Controller) Source() Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

// HandleEvent stops the session whenever the foreground screen is not sound-authorized.
func (c *Controller) HandleEvent(e events.Event) {
	if e.Kind != events.KindScreenChanged || e.Authorized {
		return
	}
	if c.IsPlaying() || c.State() == Starting {
		slog.Info("Audio: Screen not authorized for sound, stopping", "screen", e.Screen)
	}
	c.Stop()
}

func (c *Controller) publish(e events.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

func releaseQuietly(h Handle, id string) {
	if err := h.Stop(); err != nil {
		slog.Warn("Audio: Ignoring stop failure", "error", &StopError{SessionID: id, Op: "stop", Err: err})
	}
	if err := h.Unload(); err != nil {
		slog.Warn("Audio: Ignoring unload failure", "error", &StopError{SessionID: id, Op: "unload", Err: err})
	}
}

func logConfigureError(mode SessionMode, err error) {
	if errors.Is(err, ErrPlatformUnsupported) {
		slog.Debug("Audio: Session mode not supported on this platform", "mode", mode)
		return
	}
	slog.Warn("Audio: Failed to configure session mode", "mode", mode, "error", err)
}
