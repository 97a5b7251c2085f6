package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/louaj-station/local-node/internal/model"
)

const staffColumns = `id, cin, first_name, last_name, role, phone_number, password_hash, is_active, last_login`

// GetStaffByCIN looks up a staff member by their national ID card number,
// the login identifier in auth.login (§4.5).
func (s *Store) GetStaffByCIN(ctx context.Context, cin string) (*model.Staff, error) {
	var st model.Staff
	err := s.db.querier(ctx).GetContext(ctx, &st, `SELECT `+staffColumns+` FROM staff WHERE cin = $1`, cin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get staff by cin: %w", err)
	}
	return &st, nil
}

// GetStaffByID fetches a single staff member.
func (s *Store) GetStaffByID(ctx context.Context, id string) (*model.Staff, error) {
	var st model.Staff
	err := s.db.querier(ctx).GetContext(ctx, &st, `SELECT `+staffColumns+` FROM staff WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get staff by id: %w", err)
	}
	return &st, nil
}

// UpsertStaff inserts or updates a staff record keyed by ID, used when a
// central login is adopted locally.
func (s *Store) UpsertStaff(ctx context.Context, st model.Staff) error {
	_, err := s.db.querier(ctx).ExecContext(ctx, `
		INSERT INTO staff (id, cin, first_name, last_name, role, phone_number, password_hash, is_active, last_login)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			cin = EXCLUDED.cin, first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
			role = EXCLUDED.role, phone_number = EXCLUDED.phone_number, password_hash = EXCLUDED.password_hash,
			is_active = EXCLUDED.is_active, last_login = EXCLUDED.last_login
	`, st.ID, st.CIN, st.FirstName, st.LastName, st.Role, st.PhoneNumber, st.PasswordHash, st.IsActive, st.LastLogin)
	if err != nil {
		return fmt.Errorf("upsert staff: %w", err)
	}
	return nil
}

// UpdateStaffPasswordHash rewrites a staff member's stored hash
// (auth.changePassword, §4.5).
func (s *Store) UpdateStaffPasswordHash(ctx context.Context, staffID, newHash string) error {
	_, err := s.db.querier(ctx).ExecContext(ctx,
		`UPDATE staff SET password_hash = $1 WHERE id = $2`, newHash, staffID)
	if err != nil {
		return fmt.Errorf("update staff password hash: %w", err)
	}
	return nil
}

// TouchStaffLastLogin stamps last_login to now on a successful login.
func (s *Store) TouchStaffLastLogin(ctx context.Context, staffID string) error {
	_, err := s.db.querier(ctx).ExecContext(ctx,
		`UPDATE staff SET last_login = now() WHERE id = $1`, staffID)
	if err != nil {
		return fmt.Errorf("touch staff last login: %w", err)
	}
	return nil
}

// ListStaff returns every staff member known locally.
func (s *Store) ListStaff(ctx context.Context) ([]model.Staff, error) {
	var rows []model.Staff
	if err := s.db.querier(ctx).SelectContext(ctx, &rows, `SELECT `+staffColumns+` FROM staff ORDER BY last_name, first_name`); err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	return rows, nil
}
