package store

import (
	"context"
	"fmt"
	"time"

	"github.com/louaj-station/local-node/internal/model"
)

// InsertDayPass records a day-pass purchase (dayPass.create, reporting
// aggregation only — spec.md §3, §9).
func (s *Store) InsertDayPass(ctx context.Context, d model.DayPass) error {
	_, err := s.db.querier(ctx).ExecContext(ctx, `
		INSERT INTO day_passes (id, license_plate, price, purchase_date, created_by)
		VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.LicensePlate, d.Price, d.PurchaseDate, d.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert day pass: %w", err)
	}
	return nil
}

// ListDayPassesForDate returns day passes purchased on a given calendar day,
// for the daily cash-reconciliation report.
func (s *Store) ListDayPassesForDate(ctx context.Context, date time.Time) ([]model.DayPass, error) {
	var rows []model.DayPass
	if err := s.db.querier(ctx).SelectContext(ctx, &rows, `
		SELECT id, license_plate, price, purchase_date, created_by
		FROM day_passes WHERE purchase_date = $1 ORDER BY license_plate`, date); err != nil {
		return nil, fmt.Errorf("list day passes for date: %w", err)
	}
	return rows, nil
}
