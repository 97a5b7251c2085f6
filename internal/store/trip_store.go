package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/louaj-station/local-node/internal/model"
)

const tripColumns = `id, vehicle_id, license_plate, destination_id, destination_name, queue_id,
	seats_booked, start_time, sync_status, retry_count`

// InsertTrip records a departure the instant a queue row transitions to
// READY (spec.md §4.1, §4.4 outbound sync).
func (s *Store) InsertTrip(ctx context.Context, t model.Trip) error {
	_, err := s.db.querier(ctx).ExecContext(ctx, `
		INSERT INTO trips (id, vehicle_id, license_plate, destination_id, destination_name, queue_id,
			seats_booked, start_time, sync_status, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.VehicleID, t.LicensePlate, t.DestinationID, t.DestinationName, t.QueueID,
		t.SeatsBooked, t.StartTime, t.SyncStatus, t.RetryCount)
	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}
	return nil
}

// GetTripByID fetches a single trip.
func (s *Store) GetTripByID(ctx context.Context, id string) (*model.Trip, error) {
	var t model.Trip
	err := s.db.querier(ctx).GetContext(ctx, &t, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get trip by id: %w", err)
	}
	return &t, nil
}

// ListPendingTrips returns trips the Reconciler's outbound drain still owes
// to central, oldest first (spec.md §4.4).
func (s *Store) ListPendingTrips(ctx context.Context, limit int) ([]model.Trip, error) {
	var rows []model.Trip
	if err := s.db.querier(ctx).SelectContext(ctx, &rows, `
		SELECT `+tripColumns+` FROM trips
		WHERE sync_status IN ('PENDING', 'FAILED')
		ORDER BY start_time ASC LIMIT $1`, limit); err != nil {
		return nil, fmt.Errorf("list pending trips: %w", err)
	}
	return rows, nil
}

// MarkTripSynced flips a trip to SYNCED once central acknowledges it.
func (s *Store) MarkTripSynced(ctx context.Context, tripID string) error {
	_, err := s.db.querier(ctx).ExecContext(ctx,
		`UPDATE trips SET sync_status = 'SYNCED' WHERE id = $1`, tripID)
	if err != nil {
		return fmt.Errorf("mark trip synced: %w", err)
	}
	return nil
}

// MarkTripFailedRetry flips a trip to FAILED and increments its retry
// counter after a failed outbound sync attempt.
func (s *Store) MarkTripFailedRetry(ctx context.Context, tripID string) error {
	_, err := s.db.querier(ctx).ExecContext(ctx,
		`UPDATE trips SET sync_status = 'FAILED', retry_count = retry_count + 1 WHERE id = $1`, tripID)
	if err != nil {
		return fmt.Errorf("mark trip failed: %w", err)
	}
	return nil
}
