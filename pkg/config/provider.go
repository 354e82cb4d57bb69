package config

import (
	"context"
	"strconv"

	"snoozer/pkg/proof"
	"snoozer/pkg/store"
)

// Provider defines the interface for accessing unified configuration.
type Provider interface {
	// Audio
	AlarmSound(ctx context.Context) string

	// Proof
	ReferencePhoto(ctx context.Context) string
	ProofOptions(ctx context.Context) proof.Options

	// Raw access (for components that need deep access)
	AppConfig() *Config
}

// UnifiedProvider implements Provider by bridging static Config and persistent Store.
type UnifiedProvider struct {
	base  *Config
	store store.StateStore
}

// NewProvider creates a new UnifiedProvider. st may be nil.
func NewProvider(base *Config, st store.StateStore) *UnifiedProvider {
	return &UnifiedProvider{
		base:  base,
		store: st,
	}
}

func (p *UnifiedProvider) AppConfig() *Config { return p.base }

// --- Implementations ---

func (p *UnifiedProvider) AlarmSound(ctx context.Context) string {
	return p.getString(ctx, KeyAlarmSound, p.base.Audio.AlarmSound)
}

func (p *UnifiedProvider) ReferencePhoto(ctx context.Context) string {
	return p.getString(ctx, KeyReferencePhoto, p.base.Proof.ReferencePhoto)
}

func (p *UnifiedProvider) ProofOptions(ctx context.Context) proof.Options {
	threshold := p.getFloat64(ctx, KeyProofThreshold, float64(p.base.Proof.Threshold))
	tolerance := p.getInt(ctx, KeyProofTolerance, p.base.Proof.Tolerance)
	if tolerance < 1 || tolerance > 255 {
		tolerance = p.base.Proof.Tolerance
	}
	return proof.Options{
		ThumbSize:  p.base.Proof.ThumbSize,
		SampleSize: p.base.Proof.SampleSize,
		Tolerance:  uint8(tolerance),
		Threshold:  threshold,
	}
}

// --- Helpers ---

func (p *UnifiedProvider) getString(ctx context.Context, key, fallback string) string {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			return val
		}
	}
	return fallback
}

func (p *UnifiedProvider) getInt(ctx context.Context, key string, fallback int) int {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if i, err := strconv.Atoi(val); err == nil {
				return i
			}
		}
	}
	return fallback
}

func (p *UnifiedProvider) getFloat64(ctx context.Context, key string, fallback float64) float64 {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if f, err := ParseRatio(val); err == nil && f > 0 {
				return f
			}
		}
	}
	return fallback
}
