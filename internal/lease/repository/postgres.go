package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"playback-control-plane/backend/internal/lease/domain"
)

const leaseColumns = `id, user_id, device_class, opened_at, last_update, closed_at, duration_seconds`

// durationExpr clamps the close duration at zero so skewed clocks never produce negative values.
const durationExpr = `GREATEST(0, FLOOR(EXTRACT(EPOCH FROM ($2::timestamptz - opened_at))))::bigint`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a lease repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// WithUserLock opens a transaction, takes a transaction-scoped advisory lock derived from userID and
// runs fn. The advisory lock serializes writers for the same user even when no lease rows exist yet,
// which a row lock cannot do. The lock is released on commit or rollback.
func (r *PostgresRepository) WithUserLock(ctx context.Context, userID string, fn func(tx Tx) error) (err error) {
	sqlTx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin lease tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()
	if _, err = sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, userID); err != nil {
		return fmt.Errorf("lock user leases: %w", err)
	}
	if err = fn(&postgresTx{tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit lease tx: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx *sql.Tx
}

// Get returns the lease for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (t *postgresTx) Get(ctx context.Context, id string) (*domain.Lease, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+leaseColumns+` FROM playback_leases WHERE id = $1`, id)
	l, err := scanLease(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return l, nil
}

func (t *postgresTx) ListOpen(ctx context.Context, userID string, openedAfter, updatedAfter time.Time) ([]*domain.Lease, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+leaseColumns+` FROM playback_leases
		WHERE user_id = $1 AND closed_at IS NULL AND (opened_at > $2 OR last_update > $3)
		ORDER BY opened_at, id`, userID, openedAfter, updatedAfter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLeases(rows)
}

// Create persists the lease. The lease must have ID set.
func (t *postgresTx) Create(ctx context.Context, l *domain.Lease) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO playback_leases (`+leaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, l.UserID, string(l.DeviceClass), l.OpenedAt, l.LastUpdate, timeToNullTime(l.ClosedAt), l.DurationSeconds)
	return err
}

func (t *postgresTx) Close(ctx context.Context, id string, closedAt time.Time) (*domain.Lease, error) {
	row := t.tx.QueryRowContext(ctx, `UPDATE playback_leases
		SET closed_at = $2, duration_seconds = `+durationExpr+`
		WHERE id = $1 AND closed_at IS NULL
		RETURNING `+leaseColumns, id, closedAt)
	l, err := scanLease(row)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	existing, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrLeaseNotFound
	}
	return existing, nil
}

func (t *postgresTx) CloseOpenExcept(ctx context.Context, userID, keepID string, closedAt time.Time) ([]*domain.Lease, error) {
	rows, err := t.tx.QueryContext(ctx, `UPDATE playback_leases
		SET closed_at = $2, duration_seconds = `+durationExpr+`
		WHERE user_id = $1 AND closed_at IS NULL AND id <> $3
		RETURNING `+leaseColumns, userID, closedAt, keepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLeases(rows)
}

func (t *postgresTx) CloseStale(ctx context.Context, userID string, updatedBefore time.Time) ([]*domain.Lease, error) {
	rows, err := t.tx.QueryContext(ctx, `WITH closed AS (
			UPDATE playback_leases
			SET closed_at = last_update,
				duration_seconds = GREATEST(0, FLOOR(EXTRACT(EPOCH FROM (last_update - opened_at))))::bigint
			WHERE user_id = $1 AND closed_at IS NULL AND last_update < $2
			RETURNING `+leaseColumns+`
		)
		SELECT `+leaseColumns+` FROM closed ORDER BY opened_at, id`, userID, updatedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLeases(rows)
}

func (t *postgresTx) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE playback_leases
		SET last_update = GREATEST(last_update, $2)
		WHERE id = $1 AND closed_at IS NULL`, id, at)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLease(row rowScanner) (*domain.Lease, error) {
	var (
		l           domain.Lease
		deviceClass string
		closedAt    sql.NullTime
	)
	if err := row.Scan(&l.ID, &l.UserID, &deviceClass, &l.OpenedAt, &l.LastUpdate, &closedAt, &l.DurationSeconds); err != nil {
		return nil, err
	}
	l.DeviceClass = domain.DeviceClass(deviceClass)
	l.ClosedAt = nullTimeToPtr(closedAt)
	return &l, nil
}

func scanLeases(rows *sql.Rows) ([]*domain.Lease, error) {
	var out []*domain.Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}
