// Package screen records which logical screen of the app is in the foreground.
package screen

import (
	"sort"
	"sync"
)

// Name identifies a logical screen.
type Name string

// Known screens.
const (
	Home          Name = "Home"
	Onboarding    Name = "Onboarding"
	AlarmEdit     Name = "AlarmEdit"
	AlarmRinging  Name = "AlarmRinging"
	ProofCapture  Name = "ProofCapture"
	ShamePlayback Name = "ShamePlayback"
	Penalty       Name = "Penalty"
	Settings      Name = "Settings"
)

// soundWhitelist lists the screens where alarm audio may be audible.
// Changing it is a code change, there is no runtime setter.
var soundWhitelist = map[Name]struct{}{
	AlarmRinging:  {},
	ProofCapture:  {},
	ShamePlayback: {},
	Settings:      {},
}

// Whitelisted reports whether audio is authorized on the given screen.
func Whitelisted(n Name) bool {
	_, ok := soundWhitelist[n]
	return ok
}

// Whitelist returns a sorted copy of the sound-authorized screens.
func Whitelist() []Name {
	out := make([]Name, 0, len(soundWhitelist))
	for n := range soundWhitelist {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Registry holds the currently foregrounded screen.
type Registry struct {
	mu      sync.RWMutex
	current Name
}

// NewRegistry creates a registry with no screen recorded.
func NewRegistry() *Registry {
	return &Registry{}
}

// Set records n as the current screen.
func (r *Registry) Set(n Name) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = n
}

// Current returns the last recorded screen, or "" if none.
func (r *Registry) Current() Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}
