package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/louaj-station/local-node/internal/model"
)

// GetVehicleByLicensePlate looks up a vehicle by its unique plate.
func (s *Store) GetVehicleByLicensePlate(ctx context.Context, plate string) (*model.Vehicle, error) {
	var v model.Vehicle
	err := s.db.querier(ctx).GetContext(ctx, &v, `
		SELECT id, license_plate, capacity, model, year, color, is_active, is_available, synced_at
		FROM vehicles WHERE license_plate = $1`, plate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vehicle by plate: %w", err)
	}
	return &v, nil
}

// GetVehicleByID looks up a vehicle by its central-assigned ID.
func (s *Store) GetVehicleByID(ctx context.Context, id string) (*model.Vehicle, error) {
	var v model.Vehicle
	err := s.db.querier(ctx).GetContext(ctx, &v, `
		SELECT id, license_plate, capacity, model, year, color, is_active, is_available, synced_at
		FROM vehicles WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vehicle by id: %w", err)
	}
	return &v, nil
}

// GetDriverByVehicleID looks up the 1:1 driver for a vehicle.
func (s *Store) GetDriverByVehicleID(ctx context.Context, vehicleID string) (*model.Driver, error) {
	var d model.Driver
	err := s.db.querier(ctx).GetContext(ctx, &d, `
		SELECT id, cin, first_name, last_name, phone_number, origin_governorate_id,
		       origin_delegation_id, origin_address, account_status, is_active, vehicle_id
		FROM drivers WHERE vehicle_id = $1`, vehicleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get driver by vehicle: %w", err)
	}
	return &d, nil
}

// GetVehicleByDriverCIN supports the vehicles.byDriverCin operation (§6).
func (s *Store) GetVehicleByDriverCIN(ctx context.Context, cin string) (*model.Vehicle, error) {
	var v model.Vehicle
	err := s.db.querier(ctx).GetContext(ctx, &v, `
		SELECT v.id, v.license_plate, v.capacity, v.model, v.year, v.color, v.is_active, v.is_available, v.synced_at
		FROM vehicles v JOIN drivers d ON d.vehicle_id = v.id
		WHERE d.cin = $1`, cin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vehicle by driver cin: %w", err)
	}
	return &v, nil
}

// IsAuthorizedForStation reports whether vehicleID may operate from stationID.
func (s *Store) IsAuthorizedForStation(ctx context.Context, vehicleID, stationID string) (bool, error) {
	var exists bool
	err := s.db.querier(ctx).GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM authorized_stations WHERE vehicle_id = $1 AND station_id = $2)`,
		vehicleID, stationID)
	if err != nil {
		return false, fmt.Errorf("check authorized station: %w", err)
	}
	return exists, nil
}

// UpsertVehicle inserts or updates a vehicle by its central ID.
func (s *Store) UpsertVehicle(ctx context.Context, v model.Vehicle) error {
	_, err := s.db.querier(ctx).ExecContext(ctx, `
		INSERT INTO vehicles (id, license_plate, capacity, model, year, color, is_active, is_available, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			license_plate = EXCLUDED.license_plate,
			capacity = EXCLUDED.capacity,
			model = EXCLUDED.model,
			year = EXCLUDED.year,
			color = EXCLUDED.color,
			is_active = EXCLUDED.is_active,
			is_available = EXCLUDED.is_available,
			synced_at = EXCLUDED.synced_at
	`, v.ID, v.LicensePlate, v.Capacity, v.Model, v.Year, v.Color, v.IsActive, v.IsAvailable, v.SyncedAt)
	if err != nil {
		return fmt.Errorf("upsert vehicle: %w", err)
	}
	return nil
}

// UpsertDriver inserts or updates a driver by its central ID.
func (s *Store) UpsertDriver(ctx context.Context, d model.Driver) error {
	_, err := s.db.querier(ctx).ExecContext(ctx, `
		INSERT INTO drivers (id, cin, first_name, last_name, phone_number, origin_governorate_id,
		                      origin_delegation_id, origin_address, account_status, is_active, vehicle_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			cin = EXCLUDED.cin,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			phone_number = EXCLUDED.phone_number,
			origin_governorate_id = EXCLUDED.origin_governorate_id,
			origin_delegation_id = EXCLUDED.origin_delegation_id,
			origin_address = EXCLUDED.origin_address,
			account_status = EXCLUDED.account_status,
			is_active = EXCLUDED.is_active,
			vehicle_id = EXCLUDED.vehicle_id
	`, d.ID, d.CIN, d.FirstName, d.LastName, d.PhoneNumber, d.OriginGovernorateID,
		d.OriginDelegationID, d.OriginAddress, d.AccountStatus, d.IsActive, d.VehicleID)
	if err != nil {
		return fmt.Errorf("upsert driver: %w", err)
	}
	return nil
}

// DeleteDriverByVehicleID removes the driver attached to a vehicle, if any.
func (s *Store) DeleteDriverByVehicleID(ctx context.Context, vehicleID string) error {
	_, err := s.db.querier(ctx).ExecContext(ctx, `DELETE FROM drivers WHERE vehicle_id = $1`, vehicleID)
	if err != nil {
		return fmt.Errorf("delete driver by vehicle: %w", err)
	}
	return nil
}

// ReplaceAuthorizedStations clears and rewrites a vehicle's authorized
// stations with deterministic IDs, per spec.md §4.4.
func (s *Store) ReplaceAuthorizedStations(ctx context.Context, vehicleID string, stationIDs []string) error {
	if _, err := s.db.querier(ctx).ExecContext(ctx, `DELETE FROM authorized_stations WHERE vehicle_id = $1`, vehicleID); err != nil {
		return fmt.Errorf("clear authorized stations: %w", err)
	}
	for _, stationID := range stationIDs {
		id := vehicleID + "_" + stationID
		_, err := s.db.querier(ctx).ExecContext(ctx, `
			INSERT INTO authorized_stations (id, vehicle_id, station_id) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING`, id, vehicleID, stationID)
		if err != nil {
			return fmt.Errorf("insert authorized station: %w", err)
		}
	}
	return nil
}

// DeleteVehicleCascade removes authorized stations, the driver, then the
// vehicle itself, per spec.md §4.4's vehicle_sync_delete contract.
func (s *Store) DeleteVehicleCascade(ctx context.Context, vehicleID string) error {
	if _, err := s.db.querier(ctx).ExecContext(ctx, `DELETE FROM authorized_stations WHERE vehicle_id = $1`, vehicleID); err != nil {
		return fmt.Errorf("cascade delete authorized stations: %w", err)
	}
	if err := s.DeleteDriverByVehicleID(ctx, vehicleID); err != nil {
		return err
	}
	if _, err := s.db.querier(ctx).ExecContext(ctx, `DELETE FROM vehicles WHERE id = $1`, vehicleID); err != nil {
		return fmt.Errorf("delete vehicle: %w", err)
	}
	return nil
}

// ListVehicles returns every locally known vehicle, for vehicles.list (§6).
func (s *Store) ListVehicles(ctx context.Context) ([]model.Vehicle, error) {
	var rows []model.Vehicle
	if err := s.db.querier(ctx).SelectContext(ctx, &rows, `
		SELECT id, license_plate, capacity, model, year, color, is_active, is_available, synced_at
		FROM vehicles ORDER BY license_plate`); err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	return rows, nil
}
