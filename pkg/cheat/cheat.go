// Package cheat names the anti-cheat classifications the alarm core reacts to.
// Detection itself happens elsewhere; this package only maps a classification
// to the core's reaction.
package cheat

import (
	"errors"
	"fmt"
)

// Type is a cheat classification supplied by the anti-cheat detector.
type Type string

const (
	PhotoTooOld      Type = "photo_too_old"
	TimeManipulation Type = "time_manipulation"
	AppKilled        Type = "app_killed"
	ShakeDetected    Type = "shake_detected"
	ClockDrift       Type = "clock_drift"
)

// ErrUnknownType is returned by Parse for names outside the enumeration.
var ErrUnknownType = errors.New("cheat: unknown type")

// All returns every known classification.
func All() []Type {
	return []Type{PhotoTooOld, TimeManipulation, AppKilled, ShakeDetected, ClockDrift}
}

// Parse converts a detector string into a Type.
func Parse(s string) (Type, error) {
	for _, t := range All() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Reaction is what the core does when cheating is reported.
type Reaction struct {
	RejectProof bool `json:"reject_proof"`
	KeepRinging bool `json:"keep_ringing"`
}

var keepRinging = Reaction{RejectProof: true, KeepRinging: true}

// React maps a classification to the core's reaction. Every member gets the
// same reaction; a new member must be added to the switch below.
func React(t Type) Reaction {
	switch t {
	case PhotoTooOld, TimeManipulation, AppKilled, ShakeDetected, ClockDrift:
		return keepRinging
	default:
		return keepRinging
	}
}

// Describe returns a short human-readable explanation.
func Describe(t Type) string {
	switch t {
	case PhotoTooOld:
		return "Proof photo was taken before the alarm went off"
	case TimeManipulation:
		return "Device time was changed while the alarm was active"
	case AppKilled:
		return "App was closed while the alarm was ringing"
	case ShakeDetected:
		return "Suspicious device movement while taking proof"
	case ClockDrift:
		return "Device clock drifted from trusted time"
	default:
		return "Cheating detected"
	}
}
