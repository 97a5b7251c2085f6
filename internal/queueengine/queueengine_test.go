package queueengine

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/louaj-station/local-node/internal/apperr"
	"github.com/louaj-station/local-node/internal/clock"
	"github.com/louaj-station/local-node/internal/eventbus"
	"github.com/louaj-station/local-node/internal/logging"
	"github.com/louaj-station/local-node/internal/model"
	"github.com/louaj-station/local-node/internal/store"
)

var vehicleCols = []string{
	"id", "license_plate", "capacity", "model", "year", "color", "is_active", "is_available", "synced_at",
}

var queueCols = []string{
	"id", "vehicle_id", "destination_id", "destination_name", "queue_type",
	"queue_position", "status", "total_seats", "available_seats", "base_price", "estimated_departure",
}

type fixedIDs struct{}

func (fixedIDs) NewID() string                  { return "q-fixed" }
func (fixedIDs) NewTicketCode() (string, error) { return "ABC123", nil }

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	return newTestEngineWithPolicy(t, true)
}

func newTestEngineWithPolicy(t *testing.T, cancelOnExit bool) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	st := store.New(store.NewDB(sqlx.NewDb(mockDB, "postgres")))
	bus := eventbus.New(eventbus.Config{QueueSize: 16, WorkerCount: 1, Logger: logging.New("test", "error", "text")})
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(bus.Stop)

	clk := clock.NewFrozen(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
	e := New(st, bus, clk, fixedIDs{}, logging.New("test", "error", "text"), cancelOnExit)
	return e, mock
}

func TestEnter_VehicleAlreadyQueued(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM vehicles WHERE license_plate = \$1`).
		WithArgs("123TU4567").
		WillReturnRows(sqlmock.NewRows(vehicleCols).
			AddRow("v1", "123TU4567", 4, nil, nil, nil, true, true, time.Now()))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM authorized_stations`).
		WithArgs("v1", "st-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT .+ FROM vehicle_queues`).
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows(queueCols).
			AddRow("q-existing", "v1", "dest-1", "Sousse", "REGULAR", 1, "WAITING", 4, 4, 10.0, nil))
	mock.ExpectRollback()

	_, err := e.Enter(context.Background(), "123TU4567", "st-1", "dest-1", "Sousse", model.QueueTypeRegular, 10.0)
	require.Error(t, err)
	require.Equal(t, apperr.CodeVehicleAlreadyQueued, apperr.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnter_UnknownVehicle(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM vehicles WHERE license_plate = \$1`).
		WithArgs("999TU0000").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := e.Enter(context.Background(), "999TU0000", "st-1", "dest-1", "Sousse", model.QueueTypeRegular, 10.0)
	require.Error(t, err)
	require.Equal(t, apperr.CodeVehicleUnknown, apperr.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_IllegalTransition(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM vehicles WHERE license_plate = \$1`).
		WithArgs("123TU4567").
		WillReturnRows(sqlmock.NewRows(vehicleCols).
			AddRow("v1", "123TU4567", 4, nil, nil, nil, true, true, time.Now()))
	mock.ExpectQuery(`SELECT .+ FROM vehicle_queues`).
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows(queueCols).
			AddRow("q1", "v1", "dest-1", "Sousse", "REGULAR", 1, "WAITING", 4, 4, 10.0, nil))
	mock.ExpectRollback()

	err := e.UpdateStatus(context.Background(), "123TU4567", model.QueueStatusDeparted, false)
	require.Error(t, err)
	require.Equal(t, apperr.CodeIllegalStateTransition, apperr.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_ReadyWithSeatsRemaining(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM vehicles WHERE license_plate = \$1`).
		WithArgs("123TU4567").
		WillReturnRows(sqlmock.NewRows(vehicleCols).
			AddRow("v1", "123TU4567", 4, nil, nil, nil, true, true, time.Now()))
	mock.ExpectQuery(`SELECT .+ FROM vehicle_queues`).
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows(queueCols).
			AddRow("q1", "v1", "dest-1", "Sousse", "REGULAR", 1, "WAITING", 4, 2, 10.0, nil))
	mock.ExpectRollback()

	err := e.UpdateStatus(context.Background(), "123TU4567", model.QueueStatusReady, false)
	require.Error(t, err)
	require.Equal(t, apperr.CodeIllegalStateTransition, apperr.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExit_CascadeCancelsOutstandingBookings(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM vehicles WHERE license_plate = \$1`).
		WithArgs("123TU4567").
		WillReturnRows(sqlmock.NewRows(vehicleCols).
			AddRow("v1", "123TU4567", 4, nil, nil, nil, true, true, time.Now()))
	mock.ExpectQuery(`SELECT .+ FROM vehicle_queues`).
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows(queueCols).
			AddRow("q1", "v1", "dest-1", "Sousse", "REGULAR", 1, "WAITING", 4, 2, 10.0, nil))
	mock.ExpectQuery(`WITH cancelled AS`).
		WithArgs("q1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(2))
	mock.ExpectExec(`DELETE FROM vehicle_queues WHERE id = \$1`).
		WithArgs("q1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM vehicle_queues`).
		WithArgs("dest-1").
		WillReturnRows(sqlmock.NewRows(queueCols))
	mock.ExpectCommit()

	err := e.Exit(context.Background(), "123TU4567")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExit_RefusesWithOutstandingBookingsWhenCancelOnExitDisabled(t *testing.T) {
	e, mock := newTestEngineWithPolicy(t, false)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM vehicles WHERE license_plate = \$1`).
		WithArgs("123TU4567").
		WillReturnRows(sqlmock.NewRows(vehicleCols).
			AddRow("v1", "123TU4567", 4, nil, nil, nil, true, true, time.Now()))
	mock.ExpectQuery(`SELECT .+ FROM vehicle_queues`).
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows(queueCols).
			AddRow("q1", "v1", "dest-1", "Sousse", "REGULAR", 1, "WAITING", 4, 2, 10.0, nil))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM bookings WHERE queue_id = \$1 AND is_verified = false`).
		WithArgs("q1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := e.Exit(context.Background(), "123TU4567")
	require.Error(t, err)
	require.Equal(t, apperr.CodeHasOutstandingBookings, apperr.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
