// Package booking implements the atomic cash-booking allocator: greedy
// multi-vehicle seat allocation under serializable transactions, and ticket
// verification at boarding (spec.md §4.2).
package booking

import (
	"context"
	"errors"

	"github.com/louaj-station/local-node/internal/apperr"
	"github.com/louaj-station/local-node/internal/clock"
	"github.com/louaj-station/local-node/internal/eventbus"
	"github.com/louaj-station/local-node/internal/logging"
	"github.com/louaj-station/local-node/internal/metrics"
	"github.com/louaj-station/local-node/internal/model"
	"github.com/louaj-station/local-node/internal/store"
)

// Allocator distributes cash seat requests across a destination's queued
// vehicles and issues verification-coded tickets.
type Allocator struct {
	store *store.Store
	bus   *eventbus.Bus
	clk   clock.Clock
	ids   clock.IDGenerator
	log   *logging.Logger
}

// New builds an Allocator.
func New(st *store.Store, bus *eventbus.Bus, clk clock.Clock, ids clock.IDGenerator, log *logging.Logger) *Allocator {
	return &Allocator{store: st, bus: bus, clk: clk, ids: ids, log: log}
}

// CreateCashBookingRequest is the input to CreateCashBooking.
type CreateCashBookingRequest struct {
	StationID       string
	DestinationID   string
	SeatsRequested  int
	StaffID         string
}

// CreateCashBookingResult is the output of CreateCashBooking.
type CreateCashBookingResult struct {
	Bookings    []model.Booking
	TotalAmount float64
	TicketIDs   []string
}

// allocationUnit is one greedy slice of the request against a single queue row.
type allocationUnit struct {
	queueID string
	take    int
}

// tripNotice carries the fields needed to publish trip.created after commit.
type tripNotice struct {
	tripID        string
	vehicleID     string
	destinationID string
	seatsBooked   int
}

// CreateCashBooking runs the greedy multi-vehicle allocation algorithm of
// spec.md §4.2 inside a single serializable transaction, retrying once on
// ConcurrentConflict per spec.md §7.
func (a *Allocator) CreateCashBooking(ctx context.Context, req CreateCashBookingRequest) (*CreateCashBookingResult, error) {
	var result *CreateCashBookingResult
	var seatsChangedQueueIDs []string
	var createdTrips []tripNotice

	attempt := func() error {
		return a.store.DB().WithSerializableTx(ctx, func(ctx context.Context) error {
			rows, err := a.store.ListQueueByDestination(ctx, req.DestinationID)
			if err != nil {
				return err
			}
			sortCanonical(rows)

			totalAvailable := 0
			for _, r := range rows {
				totalAvailable += r.AvailableSeats
			}
			if totalAvailable < req.SeatsRequested {
				return apperr.New(apperr.CodeInsufficientSeats, "not enough seats available at this destination")
			}

			units := planAllocation(rows, req.SeatsRequested)

			route, err := a.store.GetRouteByDestination(ctx, req.StationID, req.DestinationID)
			if err != nil {
				return err
			}

			bookings := make([]model.Booking, 0, len(units))
			ticketIDs := make([]string, 0, len(units))
			total := 0.0
			seatsChangedQueueIDs = seatsChangedQueueIDs[:0]
			createdTrips = createdTrips[:0]

			for _, u := range units {
				row, err := a.store.GetQueueEntryByID(ctx, u.queueID)
				if err != nil {
					return err
				}
				if row == nil || row.AvailableSeats < u.take {
					return apperr.New(apperr.CodeConcurrentConflict, "queue row changed since allocation plan was built")
				}

				price := row.BasePrice
				if route != nil {
					price = route.BasePrice
				}
				amount := price * float64(u.take)

				code, err := a.newUniqueTicketCode(ctx)
				if err != nil {
					return err
				}

				b := model.Booking{
					ID:               a.ids.NewID(),
					QueueID:          row.ID,
					SeatsBooked:      u.take,
					TotalAmount:      amount,
					BookingSource:    model.BookingSourceStation,
					PaymentStatus:    model.PaymentStatusPaid,
					PaymentMethod:    model.PaymentMethodCash,
					VerificationCode: code,
					CreatedBy:        req.StaffID,
					CreatedAt:        a.clk.Now(),
				}
				if err := a.store.InsertBooking(ctx, b); err != nil {
					return err
				}

				ok, err := a.store.DecrementAvailableSeatsCAS(ctx, row.ID, row.AvailableSeats, u.take)
				if err != nil {
					return err
				}
				if !ok {
					return apperr.New(apperr.CodeConcurrentConflict, "seat decrement lost the race")
				}

				bookings = append(bookings, b)
				ticketIDs = append(ticketIDs, b.ID)
				total += amount
				seatsChangedQueueIDs = append(seatsChangedQueueIDs, row.ID)

				if row.AvailableSeats-u.take == 0 {
					if err := a.store.UpdateQueueStatus(ctx, row.ID, model.QueueStatusReady); err != nil {
						return err
					}
					trip := model.Trip{
						ID:              a.ids.NewID(),
						VehicleID:       row.VehicleID,
						DestinationID:   row.DestinationID,
						DestinationName: row.DestinationName,
						QueueID:         row.ID,
						SeatsBooked:     row.TotalSeats,
						StartTime:       a.clk.Now(),
						SyncStatus:      model.SyncStatusPending,
					}
					if plate, err := a.vehicleLicensePlate(ctx, row.VehicleID); err == nil {
						trip.LicensePlate = plate
					}
					if err := a.store.InsertTrip(ctx, trip); err != nil {
						return err
					}
					createdTrips = append(createdTrips, tripNotice{
						tripID: trip.ID, vehicleID: trip.VehicleID,
						destinationID: trip.DestinationID, seatsBooked: trip.SeatsBooked,
					})
				}
			}

			result = &CreateCashBookingResult{Bookings: bookings, TotalAmount: total, TicketIDs: ticketIDs}
			return nil
		})
	}

	err := attempt()
	retried := false
	if err != nil && apperr.Is(err, apperr.CodeConcurrentConflict) {
		metrics.ConcurrentConflictsTotal.WithLabelValues("retry").Inc()
		retried = true
		err = attempt()
	}
	if err != nil {
		if apperr.Is(err, apperr.CodeConcurrentConflict) {
			metrics.ConcurrentConflictsTotal.WithLabelValues("final_failure").Inc()
		}
		return nil, err
	}
	if retried {
		metrics.ConcurrentConflictsTotal.WithLabelValues("success").Inc()
	}

	for _, b := range result.Bookings {
		plate := ""
		if row, err := a.store.GetQueueEntryByID(ctx, b.QueueID); err == nil && row != nil {
			plate, _ = a.vehicleLicensePlate(ctx, row.VehicleID)
		}
		a.bus.Publish(eventbus.Event{Type: eventbus.EventBookingCreated, Payload: map[string]any{
			"bookingId": b.ID, "queueId": b.QueueID, "seats": b.SeatsBooked,
			"amount": b.TotalAmount, "destinationId": req.DestinationID, "licensePlate": plate,
		}})
	}
	for _, qid := range seatsChangedQueueIDs {
		a.bus.Publish(eventbus.Event{Type: eventbus.EventQueueSeatsChanged, Payload: map[string]any{"queueId": qid}})
	}
	for _, t := range createdTrips {
		a.bus.Publish(eventbus.Event{Type: eventbus.EventTripCreated, Payload: map[string]any{
			"tripId": t.tripID, "vehicleId": t.vehicleID, "destinationId": t.destinationID, "seatsBooked": t.seatsBooked,
		}})
	}
	return result, nil
}

func (a *Allocator) vehicleLicensePlate(ctx context.Context, vehicleID string) (string, error) {
	v, err := a.store.GetVehicleByID(ctx, vehicleID)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", errors.New("vehicle not found")
	}
	return v.LicensePlate, nil
}

// planAllocation greedily takes min(remaining, row.availableSeats) along
// canonical order, stopping once the request is satisfied.
func planAllocation(rows []model.VehicleQueue, seatsRequested int) []allocationUnit {
	var units []allocationUnit
	remaining := seatsRequested
	for _, r := range rows {
		if remaining <= 0 {
			break
		}
		if r.AvailableSeats <= 0 {
			continue
		}
		take := remaining
		if r.AvailableSeats < take {
			take = r.AvailableSeats
		}
		units = append(units, allocationUnit{queueID: r.ID, take: take})
		remaining -= take
	}
	return units
}

const maxTicketCodeAttempts = 5

func (a *Allocator) newUniqueTicketCode(ctx context.Context) (string, error) {
	for i := 0; i < maxTicketCodeAttempts; i++ {
		code, err := a.ids.NewTicketCode()
		if err != nil {
			return "", err
		}
		existing, err := a.store.GetBookingByVerificationCode(ctx, code)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return code, nil
		}
	}
	return "", apperr.New(apperr.CodeConflict, "exhausted ticket code collision retries")
}

// VerifyTicket loads a booking by its verification code and marks it
// verified, failing with UnknownTicket or AlreadyVerified (spec.md §4.2).
func (a *Allocator) VerifyTicket(ctx context.Context, code, staffID string) (*model.Booking, error) {
	var result *model.Booking
	err := a.store.DB().WithSerializableTx(ctx, func(ctx context.Context) error {
		b, err := a.store.GetBookingByVerificationCode(ctx, code)
		if err != nil {
			return err
		}
		if b == nil {
			return apperr.New(apperr.CodeUnknownTicket, "no booking with that verification code")
		}
		if b.IsVerified {
			return apperr.New(apperr.CodeAlreadyVerified, "ticket already verified")
		}
		if err := a.store.MarkBookingVerified(ctx, b.ID, staffID); err != nil {
			return err
		}
		b.IsVerified = true
		now := a.clk.Now()
		b.VerifiedAt = &now
		b.VerifiedByID = &staffID
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.EventBookingVerified, Payload: map[string]any{
		"bookingId": result.ID, "verifiedBy": staffID,
	}})
	return result, nil
}

// AvailableDestinations lists non-DEPARTED rows with seats remaining in
// canonical order, for booking.availableDestinations (§6).
func (a *Allocator) AvailableDestinations(ctx context.Context) ([]model.VehicleQueue, error) {
	rows, err := a.store.ListAvailableDestinations(ctx)
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

func sortCanonical(rows []model.VehicleQueue) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && less(rows[j], rows[j-1]); j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
}

func less(a, b model.VehicleQueue) bool {
	if a.QueueType != b.QueueType {
		return a.QueueType == model.QueueTypeOvernight
	}
	return a.QueuePosition < b.QueuePosition
}
