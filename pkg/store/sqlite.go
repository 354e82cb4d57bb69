package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"snoozer/pkg/db"

	"github.com/google/uuid"
)

// Store composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	StateStore
	VerificationStore

	// Close closes the store connection.
	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(db *db.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		slog.Warn("Store: Failed to read state", "key", key, "error", err)
		return "", false
	}
	return val.String, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT OR REPLACE INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, time.Now())
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}

// --- Verifications ---

// SaveVerification inserts v, assigning an ID and timestamp when they are unset.
func (s *SQLiteStore) SaveVerification(ctx context.Context, v *Verification) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO proof_verifications (
		id, reference, proof, similarity, is_match, message, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		v.ID, v.Reference, v.Proof, v.Similarity, v.IsMatch, v.Message, v.CreatedAt,
	)
	return err
}

// RecentVerifications returns up to limit records, newest first.
func (s *SQLiteStore) RecentVerifications(ctx context.Context, limit int) ([]Verification, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reference, proof, similarity, is_match, message, created_at
		 FROM proof_verifications ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Verification
	for rows.Next() {
		var v Verification
		var ref, proof, msg sql.NullString
		if err := rows.Scan(&v.ID, &ref, &proof, &v.Similarity, &v.IsMatch, &msg, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Reference, v.Proof, v.Message = ref.String, proof.String, msg.String
		results = append(results, v)
	}
	return results, rows.Err()
}
