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

const queueColumns = `id, vehicle_id, destination_id, destination_name, queue_type,
	queue_position, status, total_seats, available_seats, base_price, estimated_departure`

// GetActiveQueueEntryForVehicle returns the vehicle's single non-DEPARTED
// queue row, if any (Enter refuses a second one; idx_vehicle_queues_active_vehicle_dest
// enforces at most one per vehicle and destination).
func (s *Store) GetActiveQueueEntryForVehicle(ctx context.Context, vehicleID string) (*model.VehicleQueue, error) {
	var q model.VehicleQueue
	err := s.db.querier(ctx).GetContext(ctx, &q, `
		SELECT `+queueColumns+` FROM vehicle_queues
		WHERE vehicle_id = $1 AND status <> 'DEPARTED'`, vehicleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active queue entry: %w", err)
	}
	return &q, nil
}

// GetQueueEntryByID fetches a single queue row for read or for building a CAS update.
func (s *Store) GetQueueEntryByID(ctx context.Context, id string) (*model.VehicleQueue, error) {
	var q model.VehicleQueue
	err := s.db.querier(ctx).GetContext(ctx, &q, `SELECT `+queueColumns+` FROM vehicle_queues WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return &q, nil
}

// ListQueueByDestination returns a destination's non-DEPARTED queue ordered
// by queuePosition, the shape queue.listForDestination (§6) returns.
func (s *Store) ListQueueByDestination(ctx context.Context, destinationID string) ([]model.VehicleQueue, error) {
	var rows []model.VehicleQueue
	if err := s.db.querier(ctx).SelectContext(ctx, &rows, `
		SELECT `+queueColumns+` FROM vehicle_queues
		WHERE destination_id = $1 AND status <> 'DEPARTED'
		ORDER BY queue_position ASC`, destinationID); err != nil {
		return nil, fmt.Errorf("list queue by destination: %w", err)
	}
	return rows, nil
}

// ListAvailableDestinations aggregates non-DEPARTED queue rows per
// destination, for queue.listAvailableDestinations (§4.1, §6).
func (s *Store) ListAvailableDestinations(ctx context.Context) ([]model.VehicleQueue, error) {
	var rows []model.VehicleQueue
	if err := s.db.querier(ctx).SelectContext(ctx, &rows, `
		SELECT `+queueColumns+` FROM vehicle_queues
		WHERE status <> 'DEPARTED'
		ORDER BY destination_id, queue_position ASC`); err != nil {
		return nil, fmt.Errorf("list available destinations: %w", err)
	}
	return rows, nil
}

// MaxQueuePosition returns the highest queuePosition currently held in a
// destination's non-DEPARTED queue, or 0 if the queue is empty.
func (s *Store) MaxQueuePosition(ctx context.Context, destinationID string) (int, error) {
	var max sql.NullInt64
	if err := s.db.querier(ctx).GetContext(ctx, &max, `
		SELECT MAX(queue_position) FROM vehicle_queues
		WHERE destination_id = $1 AND status <> 'DEPARTED'`, destinationID); err != nil {
		return 0, fmt.Errorf("max queue position: %w", err)
	}
	return int(max.Int64), nil
}

// InsertQueueEntry creates a new queue row, entering a vehicle into a
// destination's queue (queue.enter, §4.1).
func (s *Store) InsertQueueEntry(ctx context.Context, q model.VehicleQueue) error {
	_, err := s.db.querier(ctx).ExecContext(ctx, `
		INSERT INTO vehicle_queues (id, vehicle_id, destination_id, destination_name, queue_type,
			queue_position, status, total_seats, available_seats, base_price, estimated_departure)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		q.ID, q.VehicleID, q.DestinationID, q.DestinationName, q.QueueType,
		q.QueuePosition, q.Status, q.TotalSeats, q.AvailableSeats, q.BasePrice, q.EstimatedDeparture)
	if err != nil {
		return fmt.Errorf("insert queue entry: %w", err)
	}
	return nil
}

// CompactPositions resequences a destination's non-DEPARTED queue to a
// contiguous 1..N run in current queuePosition order, closing the gap left
// by an exited or departed vehicle (spec.md §4.1 edge case).
func (s *Store) CompactPositions(ctx context.Context, destinationID string) error {
	rows, err := s.ListQueueByDestination(ctx, destinationID)
	if err != nil {
		return err
	}
	for i, row := range rows {
		newPos := i + 1
		if row.QueuePosition == newPos {
			continue
		}
		if _, err := s.db.querier(ctx).ExecContext(ctx,
			`UPDATE vehicle_queues SET queue_position = $1 WHERE id = $2`, newPos, row.ID); err != nil {
			return fmt.Errorf("compact queue position: %w", err)
		}
	}
	return nil
}

// DeleteQueueEntry removes a queue row outright (queue.exit, §4.1).
func (s *Store) DeleteQueueEntry(ctx context.Context, id string) error {
	res, err := s.db.querier(ctx).ExecContext(ctx, `DELETE FROM vehicle_queues WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete queue entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.CodeNotInQueue, "queue entry not found")
	}
	return nil
}

// DecrementAvailableSeatsCAS atomically reserves seats against a queue row,
// only succeeding if availableSeats has not changed since expectedAvailable
// was read and enough seats remain. A zero rows-affected result means either
// a concurrent writer won the race or seats ran out; the booking allocator
// treats either case as a ConcurrentConflict (spec.md §4.2, §7).
func (s *Store) DecrementAvailableSeatsCAS(ctx context.Context, queueID string, expectedAvailable, seats int) (bool, error) {
	res, err := s.db.querier(ctx).ExecContext(ctx, `
		UPDATE vehicle_queues SET available_seats = available_seats - $1
		WHERE id = $2 AND available_seats = $3 AND available_seats >= $1`,
		seats, queueID, expectedAvailable)
	if err != nil {
		return false, fmt.Errorf("decrement available seats: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decrement available seats rows affected: %w", err)
	}
	return n == 1, nil
}

// RestoreAvailableSeats releases previously reserved seats back onto a
// queue row, capped at its total seats.
func (s *Store) RestoreAvailableSeats(ctx context.Context, queueID string, seats int) error {
	_, err := s.db.querier(ctx).ExecContext(ctx, `
		UPDATE vehicle_queues SET available_seats = LEAST(total_seats, available_seats + $1)
		WHERE id = $2`, seats, queueID)
	if err != nil {
		return fmt.Errorf("restore available seats: %w", err)
	}
	return nil
}

// UpdateQueueStatus transitions a queue row's status (queue.updateStatus, §4.1).
func (s *Store) UpdateQueueStatus(ctx context.Context, queueID string, status model.QueueStatus) error {
	res, err := s.db.querier(ctx).ExecContext(ctx,
		`UPDATE vehicle_queues SET status = $1 WHERE id = $2`, status, queueID)
	if err != nil {
		return fmt.Errorf("update queue status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.CodeNotInQueue, "queue entry not found")
	}
	return nil
}

// SetEstimatedDeparture stamps (or, with nil, clears) a queue row's
// estimated departure.
func (s *Store) SetEstimatedDeparture(ctx context.Context, queueID string, t *time.Time) error {
	_, err := s.db.querier(ctx).ExecContext(ctx,
		`UPDATE vehicle_queues SET estimated_departure = $1 WHERE id = $2`, t, queueID)
	if err != nil {
		return fmt.Errorf("set estimated departure: %w", err)
	}
	return nil
}
