package reconciler

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/louaj-station/local-node/internal/metrics"
	"github.com/louaj-station/local-node/internal/model"
)

// tripUpdatePayload is the wire shape sent to central for a trip recorded
// when its queue row reached READY (spec.md §4.4 outbound sync).
type tripUpdatePayload struct {
	ID              string `json:"id"`
	VehicleID       string `json:"vehicleId"`
	LicensePlate    string `json:"licensePlate"`
	DestinationID   string `json:"destinationId"`
	DestinationName string `json:"destinationName"`
	SeatsBooked     int    `json:"seatsBooked"`
	StartTime       string `json:"startTime"`
	RetryCount      int    `json:"retryCount"`
}

const outboundDrainBatchSize = 50

// StartOutboundDrain schedules a periodic cron job that pushes PENDING and
// FAILED trips to central, respecting the configured retry cap. It returns
// the cron scheduler so the caller can Stop() it during shutdown.
func (r *Reconciler) StartOutboundDrain(ctx context.Context, cronSpec string, maxRetryAttempts int) *cron.Cron {
	c := cron.New()
	_, err := c.AddFunc(cronSpec, func() {
		r.drainPendingTrips(ctx, maxRetryAttempts)
	})
	if err != nil {
		r.log.With(ctx).WithError(err).Error("failed to schedule outbound trip drain")
	}
	c.Start()
	return c
}

// drainPendingTrips is the testable core of one outbound drain tick.
func (r *Reconciler) drainPendingTrips(ctx context.Context, maxRetryAttempts int) {
	trips, err := r.store.ListPendingTrips(ctx, outboundDrainBatchSize)
	if err != nil {
		r.log.With(ctx).WithError(err).Error("failed to list pending trips")
		return
	}
	metrics.PendingTripsGauge.Set(float64(len(trips)))

	for _, t := range trips {
		if t.RetryCount >= maxRetryAttempts {
			continue
		}
		if err := r.link.SendTripUpdate(tripUpdatePayloadFrom(t)); err != nil {
			r.log.With(ctx).WithError(err).Warn("trip sync send failed, will retry")
			if markErr := r.store.MarkTripFailedRetry(ctx, t.ID); markErr != nil {
				r.log.With(ctx).WithError(markErr).Error("failed to mark trip retry")
			}
			continue
		}
		if err := r.store.MarkTripSynced(ctx, t.ID); err != nil {
			r.log.With(ctx).WithError(err).Error("failed to mark trip synced")
		}
	}
}

func tripUpdatePayloadFrom(t model.Trip) tripUpdatePayload {
	return tripUpdatePayload{
		ID: t.ID, VehicleID: t.VehicleID, LicensePlate: t.LicensePlate,
		DestinationID: t.DestinationID, DestinationName: t.DestinationName,
		SeatsBooked: t.SeatsBooked, StartTime: t.StartTime.Format("2006-01-02T15:04:05Z07:00"),
		RetryCount: t.RetryCount,
	}
}
