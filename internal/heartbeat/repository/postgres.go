package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"playback-control-plane/backend/internal/heartbeat/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a heartbeat repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert inserts the heartbeat or advances last_seen of the existing record. Another user's record
// is reassigned only once its last_seen is before reclaimBefore.
func (r *PostgresRepository) Upsert(ctx context.Context, h *domain.Heartbeat, reclaimBefore time.Time) error {
	res, err := r.db.ExecContext(ctx, `INSERT INTO playback_heartbeats (fingerprint_hash, user_id, last_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (fingerprint_hash) DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    last_seen = GREATEST(playback_heartbeats.last_seen, EXCLUDED.last_seen)
		WHERE playback_heartbeats.user_id = EXCLUDED.user_id OR playback_heartbeats.last_seen < $4`,
		h.FingerprintHash, h.UserID, h.LastSeen, reclaimBefore)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrFingerprintOwned
	}
	return nil
}

// Get returns the heartbeat for fingerprintHash, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) Get(ctx context.Context, fingerprintHash string) (*domain.Heartbeat, error) {
	row := r.db.QueryRowContext(ctx, `SELECT fingerprint_hash, user_id, last_seen
		FROM playback_heartbeats WHERE fingerprint_hash = $1`, fingerprintHash)
	return scanHeartbeat(row)
}

// Delete removes the heartbeat for fingerprintHash.
func (r *PostgresRepository) Delete(ctx context.Context, fingerprintHash string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM playback_heartbeats WHERE fingerprint_hash = $1`, fingerprintHash)
	return err
}

// LatestForUser returns the most recently seen heartbeat for userID, or nil if none.
func (r *PostgresRepository) LatestForUser(ctx context.Context, userID string) (*domain.Heartbeat, error) {
	row := r.db.QueryRowContext(ctx, `SELECT fingerprint_hash, user_id, last_seen
		FROM playback_heartbeats WHERE user_id = $1
		ORDER BY last_seen DESC LIMIT 1`, userID)
	return scanHeartbeat(row)
}

func scanHeartbeat(row *sql.Row) (*domain.Heartbeat, error) {
	var h domain.Heartbeat
	if err := row.Scan(&h.FingerprintHash, &h.UserID, &h.LastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &h, nil
}
