package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/louaj-station/local-node/internal/model"
)

const sessionColumns = `id, staff_id, token, staff_data, is_active, last_activity, expires_at, created_offline`

// InsertSession records a new auth session issued by auth.login (§4.5).
func (s *Store) InsertSession(ctx context.Context, sess model.Session) error {
	_, err := s.db.querier(ctx).ExecContext(ctx, `
		INSERT INTO sessions (id, staff_id, token, staff_data, is_active, last_activity, expires_at, created_offline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID, sess.StaffID, sess.Token, sess.StaffData, sess.IsActive, sess.LastActivity, sess.ExpiresAt, sess.CreatedOffline)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetActiveSessionByToken looks up the session backing a bearer token
// (auth.verifyToken, §4.5).
func (s *Store) GetActiveSessionByToken(ctx context.Context, token string) (*model.Session, error) {
	var sess model.Session
	err := s.db.querier(ctx).GetContext(ctx, &sess, `
		SELECT `+sessionColumns+` FROM sessions WHERE token = $1 AND is_active = true`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return &sess, nil
}

// DeactivateSessionsForStaff closes any existing active sessions for a
// staff member, enforcing the at-most-one-active-session invariant before a
// new login is recorded.
func (s *Store) DeactivateSessionsForStaff(ctx context.Context, staffID string) error {
	_, err := s.db.querier(ctx).ExecContext(ctx,
		`UPDATE sessions SET is_active = false WHERE staff_id = $1 AND is_active = true`, staffID)
	if err != nil {
		return fmt.Errorf("deactivate sessions for staff: %w", err)
	}
	return nil
}

// DeactivateSessionByToken logs a session out (auth.logout, §4.5).
func (s *Store) DeactivateSessionByToken(ctx context.Context, token string) error {
	_, err := s.db.querier(ctx).ExecContext(ctx,
		`UPDATE sessions SET is_active = false WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return nil
}

// TouchSessionActivity refreshes a session's last_activity timestamp on
// each authenticated request.
func (s *Store) TouchSessionActivity(ctx context.Context, sessionID string) error {
	_, err := s.db.querier(ctx).ExecContext(ctx,
		`UPDATE sessions SET last_activity = now() WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("touch session activity: %w", err)
	}
	return nil
}

// ExpireStaleSessions deactivates every session past its expiry and returns
// how many it deactivated.
func (s *Store) ExpireStaleSessions(ctx context.Context) (int64, error) {
	res, err := s.db.querier(ctx).ExecContext(ctx,
		`UPDATE sessions SET is_active = false WHERE is_active = true AND expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("expire stale sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire stale sessions rows affected: %w", err)
	}
	return n, nil
}
