package booking

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
	"github.com/louaj-station/local-node/internal/store"
)

var queueCols = []string{
	"id", "vehicle_id", "destination_id", "destination_name", "queue_type",
	"queue_position", "status", "total_seats", "available_seats", "base_price", "estimated_departure",
}

var vehicleCols = []string{
	"id", "license_plate", "capacity", "model", "year", "color", "is_active", "is_available", "synced_at",
}

func newTestAllocator(t *testing.T) (*Allocator, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	st := store.New(store.NewDB(sqlx.NewDb(mockDB, "postgres")))
	bus := eventbus.New(eventbus.Config{QueueSize: 16, WorkerCount: 1, Logger: logging.New("test", "error", "text")})
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(bus.Stop)

	frozen := clock.NewFrozen(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
	a := New(st, bus, frozen, fixedIDs{}, logging.New("test", "error", "text"))
	return a, mock
}

// fixedIDs yields deterministic IDs and a single ticket code for test assertions.
type fixedIDs struct{}

func (fixedIDs) NewID() string                  { return "id-fixed" }
func (fixedIDs) NewTicketCode() (string, error) { return "ABC123", nil }

func TestCreateCashBooking_InsufficientSeats(t *testing.T) {
	a, mock := newTestAllocator(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM vehicle_queues`).
		WithArgs("dest-1").
		WillReturnRows(sqlmock.NewRows(queueCols).
			AddRow("q1", "v1", "dest-1", "Sousse", "REGULAR", 1, "WAITING", 4, 2, 10.0, nil))
	mock.ExpectRollback()

	_, err := a.CreateCashBooking(context.Background(), CreateCashBookingRequest{
		StationID: "st-1", DestinationID: "dest-1", SeatsRequested: 5, StaffID: "staff-1",
	})
	require.Error(t, err)
	require.Equal(t, apperr.CodeInsufficientSeats, apperr.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCashBooking_SingleVehicleFillsRow(t *testing.T) {
	a, mock := newTestAllocator(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM vehicle_queues`).
		WithArgs("dest-1").
		WillReturnRows(sqlmock.NewRows(queueCols).
			AddRow("q1", "v1", "dest-1", "Sousse", "REGULAR", 1, "WAITING", 4, 4, 10.0, nil))
	mock.ExpectQuery(`SELECT .+ FROM routes`).
		WithArgs("st-1", "dest-1").
		WillReturnError(sql.ErrNoRows)

	// no active route: the allocator falls back to the queue row's own base price
	mock.ExpectQuery(`SELECT .+ FROM vehicle_queues WHERE id = \$1`).
		WithArgs("q1").
		WillReturnRows(sqlmock.NewRows(queueCols).
			AddRow("q1", "v1", "dest-1", "Sousse", "REGULAR", 1, "WAITING", 4, 4, 10.0, nil))
	mock.ExpectQuery(`SELECT .+ FROM bookings WHERE verification_code = \$1`).
		WithArgs("ABC123").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO bookings`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE vehicle_queues SET available_seats`).
		WithArgs(4, "q1", 4).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE vehicle_queues SET status = \$1 WHERE id = \$2`).
		WithArgs("READY", "q1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM vehicles WHERE id = \$1`).
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows(vehicleCols).
			AddRow("v1", "123TU4567", 4, nil, nil, nil, true, true, time.Now()))
	mock.ExpectExec(`INSERT INTO trips`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	// post-commit lookups for event payloads
	mock.ExpectQuery(`SELECT .+ FROM vehicle_queues WHERE id = \$1`).
		WithArgs("q1").
		WillReturnRows(sqlmock.NewRows(queueCols).
			AddRow("q1", "v1", "dest-1", "Sousse", "REGULAR", 1, "READY", 4, 0, 10.0, nil))
	mock.ExpectQuery(`SELECT .+ FROM vehicles WHERE id = \$1`).
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows(vehicleCols).
			AddRow("v1", "123TU4567", 4, nil, nil, nil, true, true, time.Now()))

	result, err := a.CreateCashBooking(context.Background(), CreateCashBookingRequest{
		StationID: "st-1", DestinationID: "dest-1", SeatsRequested: 4, StaffID: "staff-1",
	})
	require.NoError(t, err)
	require.Len(t, result.Bookings, 1)
	require.Equal(t, 4, result.Bookings[0].SeatsBooked)
	require.Equal(t, 40.0, result.TotalAmount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyTicket_UnknownTicket(t *testing.T) {
	a, mock := newTestAllocator(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM bookings WHERE verification_code = \$1`).
		WithArgs("ZZZ999").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := a.VerifyTicket(context.Background(), "ZZZ999", "staff-1")
	require.Error(t, err)
	require.Equal(t, apperr.CodeUnknownTicket, apperr.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
