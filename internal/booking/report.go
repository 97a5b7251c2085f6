package booking

import (
	"context"
	"time"

	"github.com/louaj-station/local-node/internal/model"
)

// DailyReportResult is the cash-reconciliation summary for a single
// calendar day (staff.dailyReport, spec.md §6): every cash ticket sold
// through the queue plus every day-pass purchase, independent of the
// seat-booking flow (spec.md §3, §9).
type DailyReportResult struct {
	Date               time.Time
	BookingCount       int
	BookingCashTotal   float64
	CancelledBookings  int
	DayPassCount       int
	DayPassTotal       float64
	TotalCashCollected float64
}

// DailyReport aggregates a station's cash takings for date, combining the
// bookings and day_passes tables. Cancelled bookings are counted and
// excluded from the cash total (cancellation releases seats, not cash).
func (a *Allocator) DailyReport(ctx context.Context, date time.Time) (*DailyReportResult, error) {
	bookings, err := a.store.ListBookingsForDate(ctx, date)
	if err != nil {
		return nil, err
	}
	passes, err := a.store.ListDayPassesForDate(ctx, date)
	if err != nil {
		return nil, err
	}

	report := &DailyReportResult{Date: date}
	for _, b := range bookings {
		if b.PaymentStatus == model.PaymentStatusCancelled {
			report.CancelledBookings++
			continue
		}
		report.BookingCount++
		report.BookingCashTotal += b.TotalAmount
	}
	for _, p := range passes {
		report.DayPassCount++
		report.DayPassTotal += p.Price
	}
	report.TotalCashCollected = report.BookingCashTotal + report.DayPassTotal
	return report, nil
}
