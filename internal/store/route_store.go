package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/louaj-station/local-node/internal/model"
)

// GetRouteByDestination looks up a station's active route pricing for a
// destination, used to resolve a queue row's base price (spec.md §4.2 step 4b).
func (s *Store) GetRouteByDestination(ctx context.Context, stationID, destinationID string) (*model.Route, error) {
	var r model.Route
	err := s.db.querier(ctx).GetContext(ctx, &r, `
		SELECT id, station_id, base_price, is_active FROM routes
		WHERE station_id = $1 AND id = $2 AND is_active = true`, stationID, destinationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get route by destination: %w", err)
	}
	return &r, nil
}

// UpsertRoute inserts or updates a route, keyed by its central-owned ID.
func (s *Store) UpsertRoute(ctx context.Context, r model.Route) error {
	_, err := s.db.querier(ctx).ExecContext(ctx, `
		INSERT INTO routes (id, station_id, base_price, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			station_id = EXCLUDED.station_id, base_price = EXCLUDED.base_price, is_active = EXCLUDED.is_active
	`, r.ID, r.StationID, r.BasePrice, r.IsActive)
	if err != nil {
		return fmt.Errorf("upsert route: %w", err)
	}
	return nil
}

// ListRoutes returns every route known for this station.
func (s *Store) ListRoutes(ctx context.Context, stationID string) ([]model.Route, error) {
	var rows []model.Route
	if err := s.db.querier(ctx).SelectContext(ctx, &rows, `
		SELECT id, station_id, base_price, is_active FROM routes WHERE station_id = $1 ORDER BY id`, stationID); err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	return rows, nil
}
