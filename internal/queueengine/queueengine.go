// Package queueengine maintains ordered per-destination vehicle queues and
// the WAITING→LOADING→READY→DEPARTED state machine (spec.md §4.1).
package queueengine

import (
	"context"
	"fmt"
	"sort"

	"github.com/louaj-station/local-node/internal/apperr"
	"github.com/louaj-station/local-node/internal/clock"
	"github.com/louaj-station/local-node/internal/eventbus"
	"github.com/louaj-station/local-node/internal/logging"
	"github.com/louaj-station/local-node/internal/model"
	"github.com/louaj-station/local-node/internal/store"
)

// Engine is the queue engine, operating against a single Store and emitting
// events on a shared Bus. It holds no other mutable state of its own; all
// ordering and accounting invariants live in the Store's transactional
// operations.
type Engine struct {
	store        *store.Store
	bus          *eventbus.Bus
	clk          clock.Clock
	ids          clock.IDGenerator
	log          *logging.Logger
	cancelOnExit bool
}

// New builds an Engine. cancelOnExit selects the queue-exit policy for
// outstanding unverified bookings (spec.md §7, §9 open question): true
// cascade-cancels them and releases their seats, false refuses the exit
// with CodeHasOutstandingBookings instead.
func New(st *store.Store, bus *eventbus.Bus, clk clock.Clock, ids clock.IDGenerator, log *logging.Logger, cancelOnExit bool) *Engine {
	return &Engine{store: st, bus: bus, clk: clk, ids: ids, log: log, cancelOnExit: cancelOnExit}
}

// EnterResult is returned by Enter.
type EnterResult struct {
	QueueID       string
	DestinationID string
	Position      int
}

// Enter admits a vehicle into its destination's queue (spec.md §4.1).
// destinationID/destinationName/basePrice/queueType are supplied by the
// caller (destination resolution is an input to this core); the row's total
// and available seats are taken from the vehicle's capacity.
func (e *Engine) Enter(ctx context.Context, licensePlate, stationID, destinationID, destinationName string, queueType model.QueueType, basePrice float64) (*EnterResult, error) {
	var res *EnterResult
	err := e.store.DB().WithSerializableTx(ctx, func(ctx context.Context) error {
		v, err := e.store.GetVehicleByLicensePlate(ctx, licensePlate)
		if err != nil {
			return err
		}
		if v == nil {
			return apperr.New(apperr.CodeVehicleUnknown, "vehicle not known locally")
		}
		if !v.IsActive {
			return apperr.New(apperr.CodeVehicleInactive, "vehicle is inactive")
		}
		authorized, err := e.store.IsAuthorizedForStation(ctx, v.ID, stationID)
		if err != nil {
			return err
		}
		if !authorized {
			return apperr.New(apperr.CodeVehicleNotAuthorized, "vehicle not authorized at this station")
		}
		existing, err := e.store.GetActiveQueueEntryForVehicle(ctx, v.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.New(apperr.CodeVehicleAlreadyQueued, "vehicle already queued")
		}

		maxPos, err := e.store.MaxQueuePosition(ctx, destinationID)
		if err != nil {
			return err
		}
		position := maxPos + 1

		q := model.VehicleQueue{
			ID:              e.ids.NewID(),
			VehicleID:       v.ID,
			DestinationID:   destinationID,
			DestinationName: destinationName,
			QueueType:       queueType,
			QueuePosition:   position,
			Status:          model.QueueStatusWaiting,
			TotalSeats:      v.Capacity,
			AvailableSeats:  v.Capacity,
			BasePrice:       basePrice,
		}
		if err := e.store.InsertQueueEntry(ctx, q); err != nil {
			return err
		}
		res = &EnterResult{QueueID: q.ID, DestinationID: destinationID, Position: position}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.bus.Publish(eventbus.Event{Type: eventbus.EventQueueEntered, Payload: map[string]any{
		"queueId": res.QueueID, "destinationId": res.DestinationID, "position": res.Position,
	}})
	return res, nil
}

// Exit removes a vehicle's active queue row, compacting remaining
// positions. The queue-exit policy on outstanding unverified bookings
// (spec.md §7) is selected by e.cancelOnExit: when true, they are
// cascade-cancelled and their seats released; when false, the exit is
// refused with CodeHasOutstandingBookings and the caller must cancel them
// through a separate path first.
func (e *Engine) Exit(ctx context.Context, licensePlate string) error {
	var queueID, destinationID, vehicleID string
	var seatsReleased int
	err := e.store.DB().WithSerializableTx(ctx, func(ctx context.Context) error {
		v, err := e.store.GetVehicleByLicensePlate(ctx, licensePlate)
		if err != nil {
			return err
		}
		if v == nil {
			return apperr.New(apperr.CodeVehicleUnknown, "vehicle not known locally")
		}
		q, err := e.store.GetActiveQueueEntryForVehicle(ctx, v.ID)
		if err != nil {
			return err
		}
		if q == nil {
			return apperr.New(apperr.CodeNotInQueue, "vehicle is not queued")
		}

		if e.cancelOnExit {
			seatsReleased, err = e.store.CancelUnverifiedBookingsForQueue(ctx, q.ID)
			if err != nil {
				return err
			}
		} else {
			outstanding, err := e.store.HasUnverifiedBookings(ctx, q.ID)
			if err != nil {
				return err
			}
			if outstanding {
				return apperr.New(apperr.CodeHasOutstandingBookings, "queue row has outstanding unverified bookings")
			}
		}
		if err := e.store.DeleteQueueEntry(ctx, q.ID); err != nil {
			return err
		}
		if err := e.store.CompactPositions(ctx, q.DestinationID); err != nil {
			return err
		}
		queueID, destinationID, vehicleID = q.ID, q.DestinationID, v.ID
		return nil
	})
	if err != nil {
		return err
	}

	e.bus.Publish(eventbus.Event{Type: eventbus.EventQueueExited, Payload: map[string]any{
		"queueId": queueID, "vehicleId": vehicleID, "destinationId": destinationID,
	}})
	if seatsReleased > 0 {
		e.bus.Publish(eventbus.Event{Type: eventbus.EventBookingCancelled, Payload: map[string]any{
			"queueId": queueID, "vehicleId": vehicleID, "destinationId": destinationID, "seatsReleased": seatsReleased,
		}})
	}
	return nil
}

var legalTransitions = map[model.QueueStatus][]model.QueueStatus{
	model.QueueStatusWaiting: {model.QueueStatusLoading, model.QueueStatusReady},
	model.QueueStatusLoading: {model.QueueStatusReady},
	model.QueueStatusReady:   {model.QueueStatusDeparted},
}

func isLegalTransition(from, to model.QueueStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// UpdateStatus enforces the queue row's legal state transitions (spec.md
// §4.1). Transitioning to READY requires availableSeats=0 unless force is
// true; force is never exposed to the cash-booking path.
func (e *Engine) UpdateStatus(ctx context.Context, licensePlate string, newStatus model.QueueStatus, force bool) error {
	var queueID string
	var oldStatus model.QueueStatus
	err := e.store.DB().WithSerializableTx(ctx, func(ctx context.Context) error {
		v, err := e.store.GetVehicleByLicensePlate(ctx, licensePlate)
		if err != nil {
			return err
		}
		if v == nil {
			return apperr.New(apperr.CodeVehicleUnknown, "vehicle not known locally")
		}
		q, err := e.store.GetActiveQueueEntryForVehicle(ctx, v.ID)
		if err != nil {
			return err
		}
		if q == nil {
			return apperr.New(apperr.CodeNotInQueue, "vehicle is not queued")
		}
		if !isLegalTransition(q.Status, newStatus) {
			return apperr.New(apperr.CodeIllegalStateTransition,
				fmt.Sprintf("cannot transition from %s to %s", q.Status, newStatus))
		}
		if newStatus == model.QueueStatusReady && q.AvailableSeats != 0 && !force {
			return apperr.New(apperr.CodeIllegalStateTransition, "cannot mark ready with seats remaining")
		}
		if err := e.store.UpdateQueueStatus(ctx, q.ID, newStatus); err != nil {
			return err
		}
		queueID, oldStatus = q.ID, q.Status
		return nil
	})
	if err != nil {
		return err
	}

	e.bus.Publish(eventbus.Event{Type: eventbus.EventQueueStatusChanged, Payload: map[string]any{
		"queueId": queueID, "oldStatus": oldStatus, "newStatus": newStatus,
	}})
	return nil
}

// ListAvailable returns non-DEPARTED rows with availableSeats > 0 in
// canonical order (queueType descending, then queuePosition ascending). An
// empty destinationID lists across all destinations.
func (e *Engine) ListAvailable(ctx context.Context, destinationID string) ([]model.VehicleQueue, error) {
	var rows []model.VehicleQueue
	var err error
	if destinationID != "" {
		rows, err = e.store.ListQueueByDestination(ctx, destinationID)
	} else {
		rows, err = e.store.ListAvailableDestinations(ctx)
	}
	if err != nil {
		return nil, err
	}

	out := rows[:0]
	for _, r := range rows {
		if r.AvailableSeats > 0 {
			out = append(out, r)
		}
	}
	sortCanonical(out)
	return out, nil
}

// sortCanonical orders rows by queueType descending (OVERNIGHT before
// REGULAR), then queuePosition ascending, per spec.md §3.
func sortCanonical(rows []model.VehicleQueue) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].QueueType != rows[j].QueueType {
			return rows[i].QueueType == model.QueueTypeOvernight
		}
		return rows[i].QueuePosition < rows[j].QueuePosition
	})
}

// DestinationStats summarizes a single destination's queue.
type DestinationStats struct {
	DestinationID  string
	VehicleCount   int
	AvailableSeats int
	TotalSeats     int
}

// Stats aggregates per-destination and global queue occupancy
// (queue.stats, §4.1, §6).
func (e *Engine) Stats(ctx context.Context) (perDestination []DestinationStats, globalAvailable, globalTotal int, err error) {
	rows, err := e.store.ListAvailableDestinations(ctx)
	if err != nil {
		return nil, 0, 0, err
	}

	byDest := make(map[string]*DestinationStats)
	order := make([]string, 0)
	for _, r := range rows {
		ds, ok := byDest[r.DestinationID]
		if !ok {
			ds = &DestinationStats{DestinationID: r.DestinationID}
			byDest[r.DestinationID] = ds
			order = append(order, r.DestinationID)
		}
		ds.VehicleCount++
		ds.AvailableSeats += r.AvailableSeats
		ds.TotalSeats += r.TotalSeats
		globalAvailable += r.AvailableSeats
		globalTotal += r.TotalSeats
	}
	for _, id := range order {
		perDestination = append(perDestination, *byDest[id])
	}
	return perDestination, globalAvailable, globalTotal, nil
}
