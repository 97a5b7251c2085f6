package reconciler

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/louaj-station/local-node/internal/centrallink"
	"github.com/louaj-station/local-node/internal/clock"
	"github.com/louaj-station/local-node/internal/eventbus"
	"github.com/louaj-station/local-node/internal/logging"
	"github.com/louaj-station/local-node/internal/store"
)

var vehicleCols = []string{
	"id", "license_plate", "capacity", "model", "year", "color", "is_active", "is_available", "synced_at",
}

func newTestReconciler(t *testing.T) (*Reconciler, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	st := store.New(store.NewDB(sqlx.NewDb(mockDB, "postgres")))
	bus := eventbus.New(eventbus.Config{QueueSize: 16, WorkerCount: 1, Logger: logging.New("test", "error", "text")})
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(bus.Stop)

	link := centrallink.New(centrallink.Config{StationID: "st-1", WSURL: "ws://unused", HealthURL: "http://unused"}, logging.New("test", "error", "text"), bus)
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
	r := New(st, link, bus, clk, logging.New("test", "error", "text"))
	return r, mock
}

func baseInboundVehicle() inboundVehicle {
	return inboundVehicle{
		ID: "v1", LicensePlate: "123TU4567", Capacity: 4,
		IsActive: true, IsAvailable: true,
		AuthorizedStations: []string{"st-1"},
	}
}

func TestApplyVehicleSyncFull_NewVehicleIsProcessed(t *testing.T) {
	r, mock := newTestReconciler(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM vehicles WHERE id = \$1`).
		WithArgs("v1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO vehicles`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM drivers WHERE vehicle_id = \$1`).
		WithArgs("v1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM authorized_stations WHERE vehicle_id = \$1`).
		WithArgs("v1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO authorized_stations`).
		WithArgs("v1_st-1", "v1", "st-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result := r.ApplyVehicleSyncFull(context.Background(), "st-1", []inboundVehicle{baseInboundVehicle()})
	require.Equal(t, 1, result.Processed)
	require.Equal(t, 0, result.Skipped)
	require.Empty(t, result.Errors)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyVehicleSyncFull_UnchangedVehicleIsSkipped(t *testing.T) {
	r, mock := newTestReconciler(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM vehicles WHERE id = \$1`).
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows(vehicleCols).
			AddRow("v1", "123TU4567", 4, nil, nil, nil, true, true, time.Now()))
	mock.ExpectQuery(`SELECT .+ FROM drivers WHERE vehicle_id = \$1`).
		WithArgs("v1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	result := r.ApplyVehicleSyncFull(context.Background(), "st-1", []inboundVehicle{baseInboundVehicle()})
	require.Equal(t, 0, result.Processed)
	require.Equal(t, 1, result.Skipped)
	require.Empty(t, result.Errors)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyVehicleSyncFull_DropsVehicleNotAuthorizedForStation(t *testing.T) {
	r, mock := newTestReconciler(t)

	v := baseInboundVehicle()
	v.AuthorizedStations = []string{"other-station"}

	result := r.ApplyVehicleSyncFull(context.Background(), "st-1", []inboundVehicle{v})
	require.Equal(t, 0, result.Processed)
	require.Equal(t, 1, result.Skipped)
	require.Empty(t, result.Errors)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleVehicleSyncUpdate_WithdrawnAuthorizationCascadesDelete(t *testing.T) {
	r, mock := newTestReconciler(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM vehicles WHERE id = \$1`).
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows(vehicleCols).
			AddRow("v1", "123TU4567", 4, nil, nil, nil, true, true, time.Now()))
	mock.ExpectExec(`DELETE FROM authorized_stations WHERE vehicle_id = \$1`).
		WithArgs("v1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM drivers WHERE vehicle_id = \$1`).
		WithArgs("v1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM vehicles WHERE id = \$1`).
		WithArgs("v1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	v := baseInboundVehicle()
	v.AuthorizedStations = []string{"other-station"}
	raw, err := json.Marshal(vehicleSyncUpdatePayload{Vehicle: v, StationID: "st-1", MessageID: "m1"})
	require.NoError(t, err)

	r.handleVehicleSyncUpdate(context.Background(), raw)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteVehicle_MissingLocallyIsNoOp(t *testing.T) {
	r, mock := newTestReconciler(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM vehicles WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	err := r.DeleteVehicle(context.Background(), "ghost")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
