package reconciler

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `id, user_id, encoder_id, is_live, started_at, ended_at, listeners_peak`

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS live_sessions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id BIGINT NOT NULL,
		encoder_id TEXT NOT NULL,
		is_live BOOLEAN NOT NULL DEFAULT TRUE,
		started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		ended_at TIMESTAMPTZ,
		listeners_peak INTEGER NOT NULL DEFAULT 0
	)`,
	// One open session per user, enforced where it matters: a racing second
	// insert fails with a unique violation rather than a second open row.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_live_sessions_one_open
		ON live_sessions (user_id) WHERE is_live AND ended_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_live_sessions_history
		ON live_sessions (user_id, started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS encoder_registrations (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		username TEXT NOT NULL,
		encoder_id TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_encoder_registrations_one_active
		ON encoder_registrations (user_id) WHERE active`,
}

// RunMigration bootstraps the schema. Statements are idempotent.
func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range migrationStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// PostgresStore is the pgx-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a Store backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// FindOpenSession implements Store.FindOpenSession.
func (s *PostgresStore) FindOpenSession(ctx context.Context, userID UserID) (*LiveSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM live_sessions
		 WHERE user_id = $1 AND is_live AND ended_at IS NULL
		 LIMIT 1`,
		int64(userID))
	return scanSession(row)
}

// OpenSession implements Store.OpenSession.
func (s *PostgresStore) OpenSession(ctx context.Context, userID UserID, encoderID string, initialPeak int) (*LiveSession, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO live_sessions (user_id, encoder_id, is_live, started_at, listeners_peak)
		 VALUES ($1, $2, TRUE, NOW(), $3)
		 RETURNING `+sessionColumns,
		int64(userID), encoderID, initialPeak)
	sess, err := scanSession(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrSessionOpen
		}
		return nil, err
	}
	return sess, nil
}

// RatchetPeak implements Store.RatchetPeak.
func (s *PostgresStore) RatchetPeak(ctx context.Context, id SessionID, observedListeners int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE live_sessions
		 SET listeners_peak = GREATEST(listeners_peak, $2)
		 WHERE id = $1`,
		string(id), observedListeners)
	return err
}

// CloseAllOpenSessions implements Store.CloseAllOpenSessions.
func (s *PostgresStore) CloseAllOpenSessions(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE live_sessions
		 SET is_live = FALSE, ended_at = NOW()
		 WHERE is_live AND ended_at IS NULL`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// CurrentLiveSession implements Store.CurrentLiveSession.
func (s *PostgresStore) CurrentLiveSession(ctx context.Context) (*LiveSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM live_sessions
		 WHERE is_live AND ended_at IS NULL
		 ORDER BY started_at DESC
		 LIMIT 1`)
	return scanSession(row)
}

// SessionHistory implements Store.SessionHistory.
func (s *PostgresStore) SessionHistory(ctx context.Context, userID UserID) ([]LiveSession, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM live_sessions
		 WHERE user_id = $1
		 ORDER BY started_at DESC`,
		int64(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []LiveSession
	for rows.Next() {
		sess, err := scanSessionValues(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, sess)
	}
	return list, rows.Err()
}

// ActiveEncoders implements Store.ActiveEncoders.
func (s *PostgresStore) ActiveEncoders(ctx context.Context) ([]EncoderRegistration, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, username, encoder_id, active
		 FROM encoder_registrations
		 WHERE active
		 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []EncoderRegistration
	for rows.Next() {
		var reg EncoderRegistration
		var userID int64
		if err := rows.Scan(&reg.ID, &userID, &reg.Username, &reg.EncoderID, &reg.Active); err != nil {
			return nil, err
		}
		reg.UserID = UserID(userID)
		list = append(list, reg)
	}
	return list, rows.Err()
}

// OpenSessionCount implements Store.OpenSessionCount.
func (s *PostgresStore) OpenSessionCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM live_sessions WHERE is_live AND ended_at IS NULL`).Scan(&n)
	return n, err
}

// scanSession reads a session from a single-row query, mapping no-rows to nil.
func scanSession(row pgx.Row) (*LiveSession, error) {
	sess, err := scanSessionValues(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

func scanSessionValues(row pgx.Row) (LiveSession, error) {
	var sess LiveSession
	var id string
	var userID int64
	err := row.Scan(&id, &userID, &sess.EncoderID, &sess.IsLive, &sess.StartedAt, &sess.EndedAt, &sess.ListenersPeak)
	if err != nil {
		return LiveSession{}, err
	}
	sess.ID = SessionID(id)
	sess.UserID = UserID(userID)
	return sess, nil
}
