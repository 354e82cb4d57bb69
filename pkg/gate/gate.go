// Package gate decides whether alarm audio may be audible on the current screen.
//
// Every navigation goes through SetCurrentScreen. When the new screen is not
// whitelisted the gate silences the platform and announces the change on the
// event bus, so the audio controller stops even if the screen being left
// never asked it to.
package gate

import (
	"errors"
	"log/slog"

	"snoozer/pkg/audio"
	"snoozer/pkg/events"
	"snoozer/pkg/logging"
	"snoozer/pkg/screen"
)

// Silencer is the platform-level kill path.
type Silencer interface {
	Silence() error
}

// Gate is the sound permission gate.
type Gate struct {
	registry *screen.Registry
	bus      *events.Bus
	silencer Silencer
}

// New creates a gate. bus and silencer may be nil.
func New(reg *screen.Registry, bus *events.Bus, silencer Silencer) *Gate {
	if reg == nil {
		reg = screen.NewRegistry()
	}
	return &Gate{
		registry: reg,
		bus:      bus,
		silencer: silencer,
	}
}

// SetCurrentScreen records the foreground screen and enforces the whitelist.
func (g *Gate) SetCurrentScreen(name screen.Name) {
	prev := g.registry.Current()
	g.registry.Set(name)

	authorized := g.CanPlayNow()
	slog.Debug("Gate: Screen changed", "from", prev, "to", name, "sound_allowed", authorized)

	if !authorized && g.silencer != nil {
		if err := g.silencer.Silence(); err != nil {
			// Best effort; the recorded screen stands either way.
			if errors.Is(err, audio.ErrPlatformUnsupported) {
				slog.Debug("Gate: Platform silence not supported", "screen", name)
			} else {
				slog.Warn("Gate: Platform silence failed", "screen", name, "error", err)
			}
		}
	}

	if g.bus != nil {
		g.bus.Publish(events.Event{
			Kind:       events.KindScreenChanged,
			Screen:     name,
			Authorized: authorized,
		})
	}
}

// CanPlay reports whether audio is authorized on the given screen.
func (g *Gate) CanPlay(name screen.Name) bool {
	return screen.Whitelisted(name)
}

// CanPlayNow reports whether audio is authorized on the current screen.
func (g *Gate) CanPlayNow() bool {
	cur := g.registry.Current()
	ok := g.CanPlay(cur)
	logging.TraceDefault("Gate: Evaluated current screen", "screen", cur, "sound_allowed", ok)
	return ok
}

// CurrentScreen returns the recorded foreground screen.
func (g *Gate) CurrentScreen() screen.Name {
	return g.registry.Current()
}
