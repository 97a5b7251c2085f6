package booking

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

var bookingCols = []string{
	"id", "queue_id", "seats_booked", "total_amount", "booking_source", "payment_status",
	"payment_method", "verification_code", "is_verified", "verified_at", "verified_by_id", "created_by", "created_at",
}

var dayPassCols = []string{"id", "license_plate", "price", "purchase_date", "created_by"}

func TestDailyReport_AggregatesBookingsAndDayPasses(t *testing.T) {
	a, mock := newTestAllocator(t)

	date := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .+ FROM bookings WHERE created_at::date = \$1::date`).
		WithArgs(date).
		WillReturnRows(sqlmock.NewRows(bookingCols).
			AddRow("b1", "q1", 2, 20.0, "STATION", "PAID", "CASH", "ABC123", true, nil, nil, "staff-1", time.Now()).
			AddRow("b2", "q1", 1, 10.0, "STATION", "CANCELLED", "CASH", "DEF456", false, nil, nil, "staff-1", time.Now()))
	mock.ExpectQuery(`SELECT id, license_plate, price, purchase_date, created_by FROM day_passes`).
		WithArgs(date).
		WillReturnRows(sqlmock.NewRows(dayPassCols).
			AddRow("dp1", "123TU4567", 5.0, date, "staff-1"))

	report, err := a.DailyReport(context.Background(), date)
	require.NoError(t, err)
	require.Equal(t, 1, report.BookingCount)
	require.Equal(t, 1, report.CancelledBookings)
	require.Equal(t, 20.0, report.BookingCashTotal)
	require.Equal(t, 1, report.DayPassCount)
	require.Equal(t, 5.0, report.DayPassTotal)
	require.Equal(t, 25.0, report.TotalCashCollected)
	require.NoError(t, mock.ExpectationsWereMet())
}
