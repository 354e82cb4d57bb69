package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
)

func createTestWAV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alarm.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	format := beep.Format{SampleRate: 44100, NumChannels: 2, Precision: 2}
	if err := wav.Encode(f, beep.Silence(4410), format); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDecodeStreamer(t *testing.T) {
	wavPath := createTestWAV(t)
	garbage := filepath.Join(t.TempDir(), "garbage.mp3")
	if err := os.WriteFile(garbage, []byte("definitely not audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "Valid WAV", path: wavPath},
		{name: "Garbage bytes", path: garbage, wantErr: true},
		{name: "Missing file", path: filepath.Join(t.TempDir(), "missing.wav"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, format, err := decodeStreamer(tt.path)
			if tt.wantErr {
				if err == nil {
					s.Close()
					t.Fatal("expected decode error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeStreamer failed: %v", err)
			}
			defer s.Close()
			if format.SampleRate != 44100 {
				t.Errorf("expected 44100 Hz, got %d", format.SampleRate)
			}
			if s.Len() != 4410 {
				t.Errorf("expected 4410 samples, got %d", s.Len())
			}
		})
	}
}

func TestSourcePath(t *testing.T) {
	if got := sourcePath("file:///tmp/a.mp3"); got != "/tmp/a.mp3" {
		t.Errorf("expected /tmp/a.mp3, got %s", got)
	}
	if got := sourcePath("sounds/a.mp3"); got != "sounds/a.mp3" {
		t.Errorf("expected passthrough, got %s", got)
	}
}

func TestNullPlatform(t *testing.T) {
	var p NullPlatform

	if err := p.Configure(ModeAlarm); !errors.Is(err, ErrPlatformUnsupported) {
		t.Errorf("expected ErrPlatformUnsupported, got %v", err)
	}
	if err := p.Silence(); !errors.Is(err, ErrPlatformUnsupported) {
		t.Errorf("expected ErrPlatformUnsupported, got %v", err)
	}

	c := NewController(p, nil)
	if err := c.Start(context.Background(), Source(createTestWAV(t))); err != nil {
		t.Fatalf("Start on null platform failed: %v", err)
	}
	if !c.IsPlaying() {
		t.Error("expected session handle after start")
	}
	c.Stop()
	if c.IsPlaying() {
		t.Error("expected no session after stop")
	}

	err := c.Start(context.Background(), "does-not-exist.mp3")
	if !errors.Is(err, ErrAudioLoad) {
		t.Errorf("expected ErrAudioLoad for missing asset, got %v", err)
	}
}

func TestNullPlatform_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := (NullPlatform{}).Load(ctx, "whatever.wav"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestVolumeToPower(t *testing.T) {
	if got := volumeToPower(maxVolume); got != 0 {
		t.Errorf("max volume should be unity gain, got %f", got)
	}
	if got := volumeToPower(0); got != -10 {
		t.Errorf("zero volume should map to silent, got %f", got)
	}
}
