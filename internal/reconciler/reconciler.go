// Package reconciler applies inbound vehicle sync deltas from central
// idempotently, and drains outbound pending Trip records with retry
// (spec.md §4.4). Inbound messages for the same vehicle are serialized via
// a per-vehicle keyed lock so update/delete cannot reorder; different
// vehicles proceed in parallel (spec.md §5).
package reconciler

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/louaj-station/local-node/internal/centrallink"
	"github.com/louaj-station/local-node/internal/clock"
	"github.com/louaj-station/local-node/internal/eventbus"
	"github.com/louaj-station/local-node/internal/logging"
	"github.com/louaj-station/local-node/internal/metrics"
	"github.com/louaj-station/local-node/internal/model"
	"github.com/louaj-station/local-node/internal/store"
)

// Reconciler is the component. It never initiates CentralLink sends other
// than sync acks and the outbound Trip drain.
type Reconciler struct {
	store *store.Store
	link  *centrallink.Link
	bus   *eventbus.Bus
	clk   clock.Clock
	log   *logging.Logger

	// vehicleLocks provides a per-vehicle mutex so inbound sync messages for
	// the same vehicle are applied serially, grounded on the gasbank
	// service's per-user lock pattern.
	vehicleLocks sync.Map // map[string]*sync.Mutex
}

// New builds a Reconciler and wires its inbound handlers onto link.
func New(st *store.Store, link *centrallink.Link, bus *eventbus.Bus, clk clock.Clock, log *logging.Logger) *Reconciler {
	r := &Reconciler{store: st, link: link, bus: bus, clk: clk, log: log}
	link.RegisterHandler(centrallink.TypeVehicleSyncFull, r.handleVehicleSyncFull)
	link.RegisterHandler(centrallink.TypeVehicleSyncUpdate, r.handleVehicleSyncUpdate)
	link.RegisterHandler(centrallink.TypeVehicleSyncDelete, r.handleVehicleSyncDelete)
	return r
}

func (r *Reconciler) getVehicleLock(vehicleID string) *sync.Mutex {
	lock, _ := r.vehicleLocks.LoadOrStore(vehicleID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// inboundVehicle is the wire shape of a vehicle in a sync payload.
type inboundVehicle struct {
	ID                 string   `json:"id"`
	LicensePlate       string   `json:"licensePlate"`
	Capacity           int      `json:"capacity"`
	Model              *string  `json:"model"`
	Year               *int     `json:"year"`
	Color              *string  `json:"color"`
	IsActive           bool     `json:"isActive"`
	IsAvailable        bool     `json:"isAvailable"`
	AuthorizedStations []string `json:"authorizedStations"`
	Driver             *struct {
		ID                  string  `json:"id"`
		CIN                 string  `json:"cin"`
		FirstName           string  `json:"firstName"`
		LastName            string  `json:"lastName"`
		PhoneNumber         string  `json:"phoneNumber"`
		OriginGovernorateID *string `json:"originGovernorateId"`
		OriginDelegationID  *string `json:"originDelegationId"`
		OriginAddress       *string `json:"originAddress"`
		AccountStatus       string  `json:"accountStatus"`
		IsActive            bool    `json:"isActive"`
	} `json:"driver"`
}

type vehicleSyncFullPayload struct {
	Vehicles  []inboundVehicle `json:"vehicles"`
	StationID string           `json:"stationId"`
	SyncTime  string           `json:"syncTime"`
	Count     int              `json:"count"`
	MessageID string           `json:"messageId"`
}

type vehicleSyncUpdatePayload struct {
	Vehicle   inboundVehicle `json:"vehicle"`
	StationID string         `json:"stationId"`
	MessageID string         `json:"messageId"`
}

type vehicleSyncDeletePayload struct {
	VehicleID string `json:"vehicleId"`
	MessageID string `json:"messageId"`
}

// SyncResult is the structured outcome of a sync batch (spec.md §4.4).
type SyncResult struct {
	Processed int
	Skipped   int
	Errors    []string
}

func (r *Reconciler) handleVehicleSyncFull(ctx context.Context, raw json.RawMessage) {
	var p vehicleSyncFullPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		r.log.With(ctx).WithError(err).Error("malformed vehicle_sync_full payload")
		return
	}

	result := r.ApplyVehicleSyncFull(ctx, p.StationID, p.Vehicles)

	if err := r.link.SendVehicleSyncAck(p.MessageID, "full", len(result.Errors) == 0, result.Errors); err != nil {
		r.log.With(ctx).WithError(err).Warn("failed to send vehicle_sync_ack")
	}
}

// ApplyVehicleSyncFull is the testable core of handleVehicleSyncFull.
func (r *Reconciler) ApplyVehicleSyncFull(ctx context.Context, stationID string, vehicles []inboundVehicle) SyncResult {
	result := SyncResult{}
	for _, v := range vehicles {
		outcome, err := r.applyVehicle(ctx, stationID, v)
		switch outcome {
		case outcomeProcessed:
			result.Processed++
		case outcomeSkipped:
			result.Skipped++
		}
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}
	return result
}

// handleVehicleSyncUpdate applies a single-vehicle delta. Unlike
// vehicle_sync_full (which silently skips a vehicle no longer authorized
// for this station, since the full batch is expected to omit it next
// time), an explicit update that drops this station's authorization means
// the vehicle must leave the local store now: it is translated into the
// same cascade delete vehicle_sync_delete uses (spec.md §4.4).
func (r *Reconciler) handleVehicleSyncUpdate(ctx context.Context, raw json.RawMessage) {
	var p vehicleSyncUpdatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		r.log.With(ctx).WithError(err).Error("malformed vehicle_sync_update payload")
		return
	}

	var err error
	if !containsStation(p.Vehicle.AuthorizedStations, p.StationID) {
		err = r.DeleteVehicle(ctx, p.Vehicle.ID)
	} else {
		_, err = r.applyVehicle(ctx, p.StationID, p.Vehicle)
	}
	success := err == nil
	var errs []string
	if err != nil {
		errs = []string{err.Error()}
	}
	if ackErr := r.link.SendVehicleSyncAck(p.MessageID, "update", success, errs); ackErr != nil {
		r.log.With(ctx).WithError(ackErr).Warn("failed to send vehicle_sync_ack")
	}
}

func (r *Reconciler) handleVehicleSyncDelete(ctx context.Context, raw json.RawMessage) {
	var p vehicleSyncDeletePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		r.log.With(ctx).WithError(err).Error("malformed vehicle_sync_delete payload")
		return
	}

	err := r.DeleteVehicle(ctx, p.VehicleID)
	success := err == nil
	var errs []string
	if err != nil {
		errs = []string{err.Error()}
	}
	if ackErr := r.link.SendVehicleSyncAck(p.MessageID, "delete", success, errs); ackErr != nil {
		r.log.With(ctx).WithError(ackErr).Warn("failed to send vehicle_sync_ack")
	}
}

// DeleteVehicle cascades authorized stations, driver, then vehicle.
// Missing locally is a no-op success (spec.md §4.4).
func (r *Reconciler) DeleteVehicle(ctx context.Context, vehicleID string) error {
	lock := r.getVehicleLock(vehicleID)
	lock.Lock()
	defer lock.Unlock()

	return r.store.DB().WithSerializableTx(ctx, func(ctx context.Context) error {
		existing, err := r.store.GetVehicleByID(ctx, vehicleID)
		if err != nil {
			return err
		}
		if existing == nil {
			return nil
		}
		return r.store.DeleteVehicleCascade(ctx, vehicleID)
	})
}

type applyOutcome int

const (
	outcomeSkipped applyOutcome = iota
	outcomeProcessed
)

// applyVehicle implements the NEW/CHANGED/UNCHANGED classification and
// upsert sequence of spec.md §4.4, serialized per vehicle ID.
func (r *Reconciler) applyVehicle(ctx context.Context, stationID string, v inboundVehicle) (applyOutcome, error) {
	if !containsStation(v.AuthorizedStations, stationID) {
		metrics.StaleInboundSyncDropsTotal.WithLabelValues("vehicle").Inc()
		r.log.With(ctx).Warn("dropping vehicle sync not authorized for this station")
		return outcomeSkipped, nil
	}
	if v.Driver != nil && v.Driver.CIN == "" {
		metrics.StaleInboundSyncDropsTotal.WithLabelValues("driver").Inc()
		r.log.With(ctx).Warn("dropping vehicle sync with driver missing cin")
		return outcomeSkipped, nil
	}

	lock := r.getVehicleLock(v.ID)
	lock.Lock()
	defer lock.Unlock()

	var outcome applyOutcome
	err := r.store.DB().WithSerializableTx(ctx, func(ctx context.Context) error {
		existingVehicle, err := r.store.GetVehicleByID(ctx, v.ID)
		if err != nil {
			return err
		}
		var existingDriver *model.Driver
		if existingVehicle != nil {
			existingDriver, err = r.store.GetDriverByVehicleID(ctx, existingVehicle.ID)
			if err != nil {
				return err
			}
		}

		if existingVehicle == nil {
			outcome = outcomeProcessed
		} else if vehicleUnchanged(existingVehicle, existingDriver, v) {
			outcome = outcomeSkipped
			return nil
		} else {
			outcome = outcomeProcessed
		}

		if err := r.store.UpsertVehicle(ctx, r.vehicleFromInbound(v)); err != nil {
			return err
		}

		if v.Driver == nil {
			if err := r.store.DeleteDriverByVehicleID(ctx, v.ID); err != nil {
				return err
			}
		} else {
			if err := r.store.UpsertDriver(ctx, driverFromInbound(v.ID, *v.Driver)); err != nil {
				return err
			}
		}

		if err := r.store.ReplaceAuthorizedStations(ctx, v.ID, v.AuthorizedStations); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return outcomeSkipped, err
	}

	if outcome == outcomeProcessed {
		r.bus.Publish(eventbus.Event{Type: eventbus.EventVehicleSynced, Payload: map[string]any{"vehicleId": v.ID}})
	}
	return outcome, nil
}

func containsStation(stations []string, stationID string) bool {
	for _, s := range stations {
		if s == stationID {
			return true
		}
	}
	return false
}

func (r *Reconciler) vehicleFromInbound(v inboundVehicle) model.Vehicle {
	return model.Vehicle{
		ID: v.ID, LicensePlate: v.LicensePlate, Capacity: v.Capacity,
		Model: v.Model, Year: v.Year, Color: v.Color,
		IsActive: v.IsActive, IsAvailable: v.IsAvailable,
		SyncedAt: r.clk.Now(),
	}
}

func driverFromInbound(vehicleID string, d struct {
	ID                  string  `json:"id"`
	CIN                 string  `json:"cin"`
	FirstName           string  `json:"firstName"`
	LastName            string  `json:"lastName"`
	PhoneNumber         string  `json:"phoneNumber"`
	OriginGovernorateID *string `json:"originGovernorateId"`
	OriginDelegationID  *string `json:"originDelegationId"`
	OriginAddress       *string `json:"originAddress"`
	AccountStatus       string  `json:"accountStatus"`
	IsActive            bool    `json:"isActive"`
}) model.Driver {
	return model.Driver{
		ID: d.ID, CIN: d.CIN, FirstName: d.FirstName, LastName: d.LastName,
		PhoneNumber: d.PhoneNumber, OriginGovernorateID: d.OriginGovernorateID,
		OriginDelegationID: d.OriginDelegationID, OriginAddress: d.OriginAddress,
		AccountStatus: d.AccountStatus, IsActive: d.IsActive, VehicleID: vehicleID,
	}
}

// vehicleUnchanged compares the inbound vehicle+driver against the locally
// stored pair over the field set spec.md §4.4 enumerates.
func vehicleUnchanged(ev *model.Vehicle, ed *model.Driver, v inboundVehicle) bool {
	if ev.LicensePlate != v.LicensePlate || ev.Capacity != v.Capacity ||
		!strPtrEqual(ev.Model, v.Model) || !intPtrEqual(ev.Year, v.Year) || !strPtrEqual(ev.Color, v.Color) ||
		ev.IsActive != v.IsActive || ev.IsAvailable != v.IsAvailable {
		return false
	}
	if (ed == nil) != (v.Driver == nil) {
		return false
	}
	if ed == nil {
		return true
	}
	d := v.Driver
	return ed.CIN == d.CIN && ed.PhoneNumber == d.PhoneNumber && ed.FirstName == d.FirstName &&
		ed.LastName == d.LastName && strPtrEqual(ed.OriginGovernorateID, d.OriginGovernorateID) &&
		strPtrEqual(ed.OriginDelegationID, d.OriginDelegationID) && strPtrEqual(ed.OriginAddress, d.OriginAddress) &&
		ed.AccountStatus == d.AccountStatus && ed.IsActive == d.IsActive
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
