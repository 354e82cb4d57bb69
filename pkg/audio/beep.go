package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
)

const targetSampleRate = beep.SampleRate(48000)

// BeepPlatform plays alarm sources through the system speaker using gopxl/beep.
// Desktop outputs have no silent switch or background restriction, so both
// session modes only make sure the speaker is ready.
type BeepPlatform struct {
	mu                 sync.Mutex
	speakerInitialized bool
}

// NewBeepPlatform creates a platform; the speaker is initialized lazily.
func NewBeepPlatform() *BeepPlatform {
	return &BeepPlatform{}
}

// Configure implements Platform.
func (p *BeepPlatform) Configure(mode SessionMode) error {
	if mode == ModeAlarm {
		return p.ensureSpeakerInitialized()
	}
	return nil
}

// Load implements Platform.
func (p *BeepPlatform) Load(ctx context.Context, src Source) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.ensureSpeakerInitialized(); err != nil {
		return nil, err
	}

	streamer, format, err := decodeStreamer(sourcePath(src))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		streamer.Close()
		return nil, err
	}

	looped, err := beep.Loop2(streamer)
	if err != nil {
		streamer.Close()
		return nil, fmt.Errorf("failed to loop source: %w", err)
	}

	resampled := beep.Resample(3, format.SampleRate, targetSampleRate, looped)
	vol := &effects.Volume{
		Streamer: resampled,
		Base:     2,
		Volume:   volumeToPower(maxVolume),
		Silent:   false,
	}

	return &beepHandle{
		ctrl:     &beep.Ctrl{Streamer: vol, Paused: true},
		streamer: streamer,
	}, nil
}

// Silence clears everything queued on the speaker.
func (p *BeepPlatform) Silence() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.speakerInitialized {
		speaker.Clear()
	}
	return nil
}

func (p *BeepPlatform) ensureSpeakerInitialized() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.speakerInitialized {
		return nil
	}
	if err := speaker.Init(targetSampleRate, targetSampleRate.N(time.Second/10)); err != nil {
		slog.Error("Audio: Failed to initialize speaker", "error", err)
		return fmt.Errorf("failed to initialize speaker: %w", err)
	}
	p.speakerInitialized = true
	return nil
}

type beepHandle struct {
	mu       sync.Mutex
	ctrl     *beep.Ctrl
	streamer beep.StreamSeekCloser
	queued   bool
	closed   bool
}

func (h *beepHandle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("handle already unloaded")
	}
	if !h.queued {
		speaker.Play(h.ctrl)
		h.queued = true
	}
	speaker.Lock()
	h.ctrl.Paused = false
	speaker.Unlock()
	return nil
}

func (h *beepHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	speaker.Lock()
	// A Ctrl without a streamer is drained from the mixer.
	h.ctrl.Paused = true
	h.ctrl.Streamer = nil
	speaker.Unlock()
	return nil
}

func (h *beepHandle) Unload() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.streamer.Close()
}

func sourcePath(src Source) string {
	return strings.TrimPrefix(string(src), "file://")
}

func decodeStreamer(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		slog.Error("Audio: Failed to open audio file", "path", path, "error", err)
		return nil, beep.Format{}, err
	}

	// Try MP3 first
	streamer, format, err := mp3.Decode(f)
	if err == nil {
		return streamer, format, nil
	}

	// Reopen file for WAV attempt (MP3 decode failure might leave file state uncertain)
	f.Close()
	f, err = os.Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}

	streamer, format, err = wav.Decode(f)
	if err != nil {
		f.Close()
		slog.Error("Audio: Failed to decode audio file", "path", path, "error", err)
		return nil, beep.Format{}, err
	}

	return streamer, format, nil
}

// NullPlatform validates sources but produces no sound. It is used on
// headless hosts and reports every session-mode call as unsupported.
type NullPlatform struct{}

// Configure implements Platform.
func (NullPlatform) Configure(SessionMode) error { return ErrPlatformUnsupported }

// Silence implements Platform.
func (NullPlatform) Silence() error { return ErrPlatformUnsupported }

// Load implements Platform. The source is decoded so broken assets still fail.
func (NullPlatform) Load(ctx context.Context, src Source) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	streamer, _, err := decodeStreamer(sourcePath(src))
	if err != nil {
		return nil, err
	}
	return nullHandle{streamer: streamer}, nil
}

type nullHandle struct {
	streamer beep.StreamSeekCloser
}

func (nullHandle) Play() error     { return nil }
func (nullHandle) Stop() error     { return nil }
func (h nullHandle) Unload() error { return h.streamer.Close() }
