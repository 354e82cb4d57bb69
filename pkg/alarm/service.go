// Package alarm runs the ring, prove and dismiss flow on top of the sound
// gate, the audio controller and the proof verifier.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"snoozer/pkg/audio"
	"snoozer/pkg/cheat"
	"snoozer/pkg/events"
	"snoozer/pkg/proof"
	"snoozer/pkg/store"
)

// ErrSoundNotAllowed is returned by Ring when the foreground screen may not play sound.
var ErrSoundNotAllowed = errors.New("alarm: sound not allowed on current screen")

// State is the alarm flow state.
type State int

const (
	Idle State = iota
	Ringing
	Dismissed
)

func (s State) String() string {
	switch s {
	case Ringing:
		return "ringing"
	case Dismissed:
		return "dismissed"
	default:
		return "idle"
	}
}

// Permission reports whether sound may play right now.
type Permission interface {
	CanPlayNow() bool
}

// ProofVerifier decides on proof photos.
type ProofVerifier interface {
	ValidateProofPhoto(ctx context.Context, reference, proof string) proof.ComparisonResult
}

// Service owns the alarm flow. All operations are serialized.
type Service struct {
	mu     sync.Mutex
	state  State
	source audio.Source

	gate     Permission
	player   audio.Service
	verifier ProofVerifier
	log      store.VerificationStore
	bus      *events.Bus
}

// NewService creates an idle alarm service. log and bus may be nil.
func NewService(gate Permission, player audio.Service, verifier ProofVerifier, log store.VerificationStore, bus *events.Bus) *Service {
	return &Service{
		gate:     gate,
		player:   player,
		verifier: verifier,
		log:      log,
		bus:      bus,
	}
}

// Ring starts the alarm sound. The foreground screen must allow sound.
func (s *Service) Ring(ctx context.Context, src audio.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.gate.CanPlayNow() {
		slog.Warn("Alarm: Refusing to ring on unauthorized screen", "source", src)
		return ErrSoundNotAllowed
	}
	if err := s.player.Start(ctx, src); err != nil {
		if errors.Is(err, audio.ErrNotPermitted) {
			// The user navigated away while the sound was loading.
			return fmt.Errorf("%w: %w", ErrSoundNotAllowed, err)
		}
		return fmt.Errorf("alarm: start sound: %w", err)
	}

	s.state = Ringing
	s.source = src
	slog.Info("Alarm: Ringing", "source", src)
	return nil
}

// SubmitProof verifies a proof photo once. A match stops the sound and
// dismisses the alarm; anything else keeps it ringing.
func (s *Service) SubmitProof(ctx context.Context, reference, proofURI string) proof.ComparisonResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.verifier.ValidateProofPhoto(ctx, reference, proofURI)
	s.record(ctx, reference, proofURI, res)

	if !res.IsMatch {
		slog.Info("Alarm: Proof rejected", "similarity", res.Similarity)
		s.publish(events.Event{Kind: events.KindProofRejected, Detail: res.Message})
		return res
	}

	s.publish(events.Event{Kind: events.KindProofVerified, Detail: res.Message})
	s.player.Stop()
	if s.state == Ringing {
		s.state = Dismissed
		slog.Info("Alarm: Dismissed", "similarity", res.Similarity)
		s.publish(events.Event{Kind: events.KindAlarmDismissed, Detail: res.Message})
	}
	return res
}

// ReportCheat applies the uniform cheat reaction. An active or dismissed
// alarm goes back to ringing and its sound is restarted when allowed.
func (s *Service) ReportCheat(ctx context.Context, t cheat.Type) cheat.Reaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	reaction := cheat.React(t)
	slog.Warn("Alarm: Cheat reported", "type", t, "reject_proof", reaction.RejectProof, "keep_ringing", reaction.KeepRinging)
	s.publish(events.Event{Kind: events.KindCheatDetected, Detail: string(t) + ": " + cheat.Describe(t)})

	if reaction.RejectProof {
		s.publish(events.Event{Kind: events.KindProofRejected, Detail: cheat.Describe(t)})
	}
	if !reaction.KeepRinging || s.state == Idle {
		return reaction
	}

	s.state = Ringing
	if s.player.IsPlaying() || s.source == "" || !s.gate.CanPlayNow() {
		return reaction
	}
	if err := s.player.Start(ctx, s.source); err != nil {
		slog.Error("Alarm: Failed to restart sound after cheat", "source", s.source, "error", err)
	}
	return reaction
}

// State returns the flow state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reset returns the flow to Idle and stops any sound.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.player.Stop()
	s.state = Idle
	s.source = ""
}

func (s *Service) record(ctx context.Context, reference, proofURI string, res proof.ComparisonResult) {
	if s.log == nil {
		return
	}
	v := &store.Verification{
		Reference:  reference,
		Proof:      proofURI,
		Similarity: res.Similarity,
		IsMatch:    res.IsMatch,
		Message:    res.Message,
	}
	if err := s.log.SaveVerification(ctx, v); err != nil {
		slog.Warn("Alarm: Failed to record verification", "error", err)
	}
}

func (s *Service) publish(e events.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}
