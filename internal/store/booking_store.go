package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/louaj-station/local-node/internal/apperr"
	"github.com/louaj-station/local-node/internal/model"
)

const bookingColumns = `id, queue_id, seats_booked, total_amount, booking_source, payment_status,
	payment_method, verification_code, is_verified, verified_at, verified_by_id, created_by, created_at`

// InsertBooking records a new cash ticket (booking.createCash, §4.2).
func (s *Store) InsertBooking(ctx context.Context, b model.Booking) error {
	_, err := s.db.querier(ctx).ExecContext(ctx, `
		INSERT INTO bookings (id, queue_id, seats_booked, total_amount, booking_source, payment_status,
			payment_method, verification_code, is_verified, verified_at, verified_by_id, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		b.ID, b.QueueID, b.SeatsBooked, b.TotalAmount, b.BookingSource, b.PaymentStatus,
		b.PaymentMethod, b.VerificationCode, b.IsVerified, b.VerifiedAt, b.VerifiedByID, b.CreatedBy, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// GetBookingByVerificationCode looks up a ticket by the code read aloud at
// boarding (booking.verify, §4.2).
func (s *Store) GetBookingByVerificationCode(ctx context.Context, code string) (*model.Booking, error) {
	var b model.Booking
	err := s.db.querier(ctx).GetContext(ctx, &b, `SELECT `+bookingColumns+` FROM bookings WHERE verification_code = $1`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get booking by code: %w", err)
	}
	return &b, nil
}

// GetBookingByID fetches a single booking.
func (s *Store) GetBookingByID(ctx context.Context, id string) (*model.Booking, error) {
	var b model.Booking
	err := s.db.querier(ctx).GetContext(ctx, &b, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get booking by id: %w", err)
	}
	return &b, nil
}

// ListBookingsByQueueID returns every booking against a queue row, oldest
// first.
func (s *Store) ListBookingsByQueueID(ctx context.Context, queueID string) ([]model.Booking, error) {
	var rows []model.Booking
	if err := s.db.querier(ctx).SelectContext(ctx, &rows, `
		SELECT `+bookingColumns+` FROM bookings WHERE queue_id = $1 ORDER BY created_at ASC`, queueID); err != nil {
		return nil, fmt.Errorf("list bookings by queue: %w", err)
	}
	return rows, nil
}

// ListBookingsForDate returns every booking created on a given calendar
// day, for the daily cash-reconciliation report (staff.dailyReport, §6).
func (s *Store) ListBookingsForDate(ctx context.Context, date time.Time) ([]model.Booking, error) {
	var rows []model.Booking
	if err := s.db.querier(ctx).SelectContext(ctx, &rows, `
		SELECT `+bookingColumns+` FROM bookings WHERE created_at::date = $1::date ORDER BY created_at ASC`, date); err != nil {
		return nil, fmt.Errorf("list bookings for date: %w", err)
	}
	return rows, nil
}

// MarkBookingVerified flips a booking to verified and records who checked it
// in, failing with CodeAlreadyVerified on a second attempt (§4.2 edge case).
func (s *Store) MarkBookingVerified(ctx context.Context, bookingID, verifiedByStaffID string) error {
	res, err := s.db.querier(ctx).ExecContext(ctx, `
		UPDATE bookings SET is_verified = true, verified_at = now(), verified_by_id = $1
		WHERE id = $2 AND is_verified = false`, verifiedByStaffID, bookingID)
	if err != nil {
		return fmt.Errorf("mark booking verified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark booking verified rows affected: %w", err)
	}
	if n == 0 {
		return apperr.New(apperr.CodeAlreadyVerified, "booking already verified")
	}
	return nil
}

// CancelUnverifiedBookingsForQueue marks every unverified booking against a
// queue row as cancelled when a vehicle exits the queue with outstanding
// reservations (spec.md §9 open question, resolved in SPEC_FULL.md's
// redesigned exit policy). It does not change the row's available seats.
// Returns the total seats the cancelled bookings held.
func (s *Store) CancelUnverifiedBookingsForQueue(ctx context.Context, queueID string) (int, error) {
	var seatsReleased sql.NullInt64
	err := s.db.querier(ctx).GetContext(ctx, &seatsReleased, `
		WITH cancelled AS (
			UPDATE bookings SET payment_status = 'CANCELLED'
			WHERE queue_id = $1 AND is_verified = false AND payment_status <> 'CANCELLED'
			RETURNING seats_booked
		)
		SELECT COALESCE(SUM(seats_booked), 0) FROM cancelled`, queueID)
	if err != nil {
		return 0, fmt.Errorf("cancel unverified bookings: %w", err)
	}
	return int(seatsReleased.Int64), nil
}

// HasVerifiedBookings reports whether a queue row has at least one verified
// booking. Engine.Exit does not consult it.
func (s *Store) HasVerifiedBookings(ctx context.Context, queueID string) (bool, error) {
	var exists bool
	err := s.db.querier(ctx).GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM bookings WHERE queue_id = $1 AND is_verified = true)`, queueID)
	if err != nil {
		return false, fmt.Errorf("check verified bookings: %w", err)
	}
	return exists, nil
}

// HasUnverifiedBookings reports whether a queue row has at least one
// outstanding (not yet boarded, not cancelled) booking. Used by the
// refuse-on-exit policy (spec.md §7) when Config.Booking.CancelOnExit is
// false.
func (s *Store) HasUnverifiedBookings(ctx context.Context, queueID string) (bool, error) {
	var exists bool
	err := s.db.querier(ctx).GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM bookings WHERE queue_id = $1 AND is_verified = false AND payment_status <> 'CANCELLED')`, queueID)
	if err != nil {
		return false, fmt.Errorf("check unverified bookings: %w", err)
	}
	return exists, nil
}
