package store

import (
	"context"
	"time"
)

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}

// Verification is one recorded proof photo decision.
type Verification struct {
	ID         string    `json:"id"`
	Reference  string    `json:"reference"`
	Proof      string    `json:"proof"`
	Similarity float64   `json:"similarity"`
	IsMatch    bool      `json:"is_match"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// VerificationStore handles the proof verification log.
type VerificationStore interface {
	SaveVerification(ctx context.Context, v *Verification) error
	RecentVerifications(ctx context.Context, limit int) ([]Verification, error)
}
