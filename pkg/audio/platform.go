// Package audio owns the single looping alarm-sound session.
package audio

import (
	"context"
	"errors"
	"fmt"
)

// Source is an opaque, platform-resolvable reference to an audio asset.
type Source string

// SessionMode is the platform audio-session configuration.
type SessionMode int

const (
	// ModeIdle is the mode restored after a session stops.
	ModeIdle SessionMode = iota
	// ModeAlarm allows background playback, overrides silent mode and loops.
	ModeAlarm
)

func (m SessionMode) String() string {
	switch m {
	case ModeAlarm:
		return "alarm"
	default:
		return "idle"
	}
}

var (
	// ErrAudioLoad marks failures to decode or load an alarm source.
	ErrAudioLoad = errors.New("audio: failed to load source")
	// ErrPlatformUnsupported is returned by platforms lacking an audio-mode concept.
	ErrPlatformUnsupported = errors.New("audio: platform does not support audio session configuration")
	// ErrSuperseded is returned by Start when a Stop arrived while the source was loading.
	ErrSuperseded = errors.New("audio: start superseded by stop")
	// ErrNotPermitted is returned by Start when the permission check denies sound after loading.
	ErrNotPermitted = errors.New("audio: sound not permitted on current screen")
)

// LoadError is returned by Controller.Start when the source cannot be loaded.
type LoadError struct {
	Source Source
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("audio: failed to load %q: %v", string(e.Source), e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{ErrAudioLoad, e.Err}
}

// StopError describes a failed halt or release. It is logged, never returned.
type StopError struct {
	SessionID string
	Op        string
	Err       error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("audio: %s of session %s failed: %v", e.Op, e.SessionID, e.Err)
}

func (e *StopError) Unwrap() error { return e.Err }

// Handle is one loaded, platform-owned playback instance.
type Handle interface {
	// Play begins looping playback at maximum volume.
	Play() error
	// Stop halts playback.
	Stop() error
	// Unload releases the underlying resources.
	Unload() error
}

// Platform abstracts the OS audio layer.
type Platform interface {
	// Configure applies a session mode. May return ErrPlatformUnsupported.
	Configure(mode SessionMode) error
	// Load decodes src into a ready-to-play handle.
	Load(ctx context.Context, src Source) (Handle, error)
	// Silence kills any audible output regardless of who started it.
	Silence() error
}
