package centrallink

import (
	"context"
	"time"
)

// setupAuthenticatedTimers starts the heartbeat and connection-test tickers
// and schedules the IP-refresh cron job (spec.md §4.3). The tickers stop
// with ctx when the connection drops; the cron entry is removed by
// teardownAuthenticatedTimers.
func (l *Link) setupAuthenticatedTimers(ctx context.Context) {
	go l.runHeartbeat(ctx)
	go l.runConnectionTest(ctx)
	l.scheduleIPRefresh(ctx)
}

func (l *Link) teardownAuthenticatedTimers() {
	if l.ipRefreshEntry != 0 {
		l.cron.Remove(l.ipRefreshEntry)
		l.ipRefreshEntry = 0
	}
}

// runHeartbeat sends a heartbeat frame with a system telemetry snapshot
// every HeartbeatInterval; missing two consecutive acks marks the session
// suspect and closes it, triggering reconnect (spec.md §5).
func (l *Link) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			missed := l.missedHeartbeats.Add(1)
			if missed > 2 {
				l.log.With(ctx).Warn("centrallink missed two consecutive heartbeat acks, reconnecting")
				l.closeActiveConn()
				return
			}
			if err := l.sendFrame(TypeHeartbeat, heartbeatSnapshot(ctx)); err != nil {
				l.log.With(ctx).WithError(err).Warn("failed to send heartbeat")
				return
			}
		}
	}
}

// runConnectionTest periodically exercises the channel independently of
// the heartbeat, per spec.md §4.3's separate 60s connection_test timer.
func (l *Link) runConnectionTest(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.ConnectionTestInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.sendFrame(TypeConnectionTest, struct{}{}); err != nil {
				l.log.With(ctx).WithError(err).Warn("failed to send connection test")
				return
			}
		}
	}
}

// scheduleIPRefresh registers a cron job, run every IPRefreshInterval
// (hourly by default), that compares the current public IP against the
// cached one and sends ip_update on a change (spec.md §4.3).
func (l *Link) scheduleIPRefresh(ctx context.Context) {
	entryID, err := l.cron.AddFunc("@every "+l.cfg.IPRefreshInterval.String(), func() {
		l.refreshPublicIP(ctx)
	})
	if err != nil {
		l.log.With(ctx).WithError(err).Error("failed to schedule ip refresh job")
		return
	}
	l.ipRefreshEntry = entryID
}

func (l *Link) refreshPublicIP(ctx context.Context) {
	if !l.IsAuthenticated() {
		return
	}
	newIP, err := detectPublicIP(ctx, l.cfg.IPLookupEndpoints, l.cfg.ReachabilityTimeout)
	if err != nil {
		l.log.With(ctx).WithError(err).Warn("ip refresh probe failed")
		return
	}
	cached, _ := l.lastPublicIP.Load().(string)
	if newIP == cached {
		return
	}
	if err := l.sendFrame(TypeIPUpdate, ipUpdatePayload{PublicIP: newIP}); err != nil {
		l.log.With(ctx).WithError(err).Warn("failed to send ip update")
		return
	}
	l.lastPublicIP.Store(newIP)
}
