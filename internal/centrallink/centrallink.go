// Package centrallink is the station node's persistent bidirectional
// session to the central server: reachability probing, auto-reconnect,
// authentication, heartbeat, address reporting, and typed message
// exchange (spec.md §4.3). It never touches the Store directly — inbound
// entity messages are handed to registered handlers (the Reconciler).
package centrallink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/louaj-station/local-node/internal/apperr"
	"github.com/louaj-station/local-node/internal/authverifier"
	"github.com/louaj-station/local-node/internal/eventbus"
	"github.com/louaj-station/local-node/internal/logging"
	"github.com/louaj-station/local-node/internal/metrics"
)

// InboundHandler processes the payload of a dispatched frame type. Handlers
// run on the read loop's goroutine and should not block long.
type InboundHandler func(ctx context.Context, payload json.RawMessage)

// Config tunes Link's endpoints and timer periods (spec.md §4.3, §6).
type Config struct {
	StationID              string
	WSURL                  string
	HealthURL              string
	IPLookupEndpoints      []string
	ReachabilityTimeout    time.Duration
	HeartbeatInterval      time.Duration
	ConnectionTestInterval time.Duration
	IPRefreshInterval      time.Duration
	ReconnectInterval      time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReachabilityTimeout <= 0 {
		c.ReachabilityTimeout = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ConnectionTestInterval <= 0 {
		c.ConnectionTestInterval = 60 * time.Second
	}
	if c.IPRefreshInterval <= 0 {
		c.IPRefreshInterval = time.Hour
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 30 * time.Second
	}
}

// Link is the CentralLink component.
type Link struct {
	cfg Config
	log *logging.Logger
	bus *eventbus.Bus

	state   stateHolder
	pending *pendingCalls
	cron    *cron.Cron

	connMu sync.Mutex
	conn   *websocket.Conn

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string]InboundHandler

	lastPublicIP     atomic.Value // string
	missedHeartbeats atomic.Int32
	ipRefreshEntry   cron.EntryID
}

// New builds a Link. Call Run in its own goroutine to start the connect
// loop; it returns when ctx is cancelled.
func New(cfg Config, log *logging.Logger, bus *eventbus.Bus) *Link {
	cfg.applyDefaults()
	l := &Link{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		pending:  newPendingCalls(),
		cron:     cron.New(),
		handlers: make(map[string]InboundHandler),
	}
	l.lastPublicIP.Store("")
	return l
}

// RegisterHandler subscribes to an inbound frame type, overwriting any
// existing registration. The Reconciler uses this to receive
// vehicle_sync_full/update/delete.
func (l *Link) RegisterHandler(frameType string, h InboundHandler) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	l.handlers[frameType] = h
}

// State returns the current connection state.
func (l *Link) State() State { return l.state.Load() }

// IsAuthenticated satisfies authverifier.CentralCaller.
func (l *Link) IsAuthenticated() bool { return l.state.Load() == StateAuthenticated }

// Run drives the reachability-probe → connect → authenticate → serve →
// reconnect loop at a fixed interval, indefinitely, until ctx is cancelled
// (spec.md §4.3: "no exponential backoff").
func (l *Link) Run(ctx context.Context) {
	l.cron.Start()
	defer l.cron.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := l.connectOnce(ctx); err != nil {
			l.log.With(ctx).WithError(err).Warn("centrallink connect attempt failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.cfg.ReconnectInterval):
		}
	}
}

// Stop closes any active connection with a normal closure code (graceful
// shutdown, spec.md §5).
func (l *Link) Stop() {
	l.connMu.Lock()
	conn := l.conn
	l.connMu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
		time.Now().Add(time.Second))
	_ = conn.Close()
}

func (l *Link) connectOnce(ctx context.Context) error {
	l.state.Store(StateTesting)
	metrics.CentralLinkState.Set(float64(StateTesting))
	if err := l.probeReachability(ctx); err != nil {
		l.state.Store(StateDisconnected)
		metrics.CentralLinkState.Set(float64(StateDisconnected))
		return fmt.Errorf("reachability probe: %w", err)
	}

	l.state.Store(StateConnecting)
	metrics.CentralLinkState.Set(float64(StateConnecting))
	metrics.CentralLinkReconnectsTotal.Inc()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.cfg.WSURL, nil)
	if err != nil {
		l.state.Store(StateDisconnected)
		metrics.CentralLinkState.Set(float64(StateDisconnected))
		return fmt.Errorf("dial central: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()

	l.state.Store(StateConnected)
	metrics.CentralLinkState.Set(float64(StateConnected))
	l.bus.Publish(eventbus.Event{Type: eventbus.EventCentralLinkConnected})

	ip, ipErr := detectPublicIP(ctx, l.cfg.IPLookupEndpoints, l.cfg.ReachabilityTimeout)
	if ipErr != nil {
		l.log.With(ctx).WithError(ipErr).Warn("public ip detection failed, authenticating without one")
	}
	l.lastPublicIP.Store(ip)

	if err := l.sendFrame(TypeAuthenticate, authenticatePayload{
		StationID: l.cfg.StationID,
		Timestamp: time.Now().UnixMilli(),
		PublicIP:  ip,
	}); err != nil {
		_ = conn.Close()
		l.state.Store(StateDisconnected)
		metrics.CentralLinkState.Set(float64(StateDisconnected))
		return fmt.Errorf("send authenticate: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		l.readLoop(runCtx, conn)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		_ = conn.Close()
		<-done
	}

	l.teardownAuthenticatedTimers()
	l.connMu.Lock()
	l.conn = nil
	l.connMu.Unlock()
	l.state.Store(StateDisconnected)
	metrics.CentralLinkState.Set(float64(StateDisconnected))
	l.bus.Publish(eventbus.Event{Type: eventbus.EventCentralLinkDropped})
	return nil
}

func (l *Link) probeReachability(ctx context.Context) error {
	if l.cfg.HealthURL == "" {
		return nil
	}
	reqCtx, cancel := context.WithTimeout(ctx, l.cfg.ReachabilityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, l.cfg.HealthURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

func (l *Link) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		l.dispatch(ctx, data)
	}
}

// sendFrame marshals payload, wraps it in a Frame, and writes it, guarded
// by writeMu since gorilla/websocket connections are not safe for
// concurrent writers.
func (l *Link) sendFrame(frameType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame := Frame{Type: frameType, Payload: raw, Timestamp: time.Now().UnixMilli()}
	return l.writeFrame(frame)
}

func (l *Link) sendRequestFrame(frameType, messageID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame := Frame{Type: frameType, Payload: raw, Timestamp: time.Now().UnixMilli(), MessageID: messageID}
	return l.writeFrame(frame)
}

func (l *Link) writeFrame(frame Frame) error {
	l.connMu.Lock()
	conn := l.conn
	l.connMu.Unlock()
	if conn == nil {
		return apperr.New(apperr.CodeNotConnected, "centrallink is not connected")
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

// SendVehicleSyncAck acknowledges a vehicle_sync_* batch (Reconciler, §4.4).
func (l *Link) SendVehicleSyncAck(messageID, syncType string, success bool, errs []string) error {
	return l.sendFrame(TypeVehicleSyncAck, vehicleSyncAckPayload{
		MessageID: messageID, SyncType: syncType, Success: success, Errors: errs, StationID: l.cfg.StationID,
	})
}

// SendBookingUpdate publishes a booking delta to central.
func (l *Link) SendBookingUpdate(payload any) error { return l.sendFrame(TypeBookingUpdate, payload) }

// SendVehicleUpdate publishes a vehicle delta to central.
func (l *Link) SendVehicleUpdate(payload any) error { return l.sendFrame(TypeVehicleUpdate, payload) }

// SendQueueUpdate publishes a queue delta to central.
func (l *Link) SendQueueUpdate(payload any) error { return l.sendFrame(TypeQueueUpdate, payload) }

// SendTripUpdate publishes a trip record to central during the Reconciler's
// outbound drain (spec.md §4.4).
func (l *Link) SendTripUpdate(payload any) error { return l.sendFrame(TypeTripUpdate, payload) }

// RequestStaffLogin satisfies authverifier.CentralCaller: sends
// staff_login_request and awaits staff_login_response with a 30s timeout.
func (l *Link) RequestStaffLogin(ctx context.Context, cin, password string) (*authverifier.CentralStaffLoginResult, error) {
	if !l.IsAuthenticated() {
		return nil, apperr.New(apperr.CodeNotConnected, "centrallink is not authenticated")
	}
	messageID := newMessageID("staff_login")
	pc := l.pending.register(messageID)

	if err := l.sendRequestFrame(TypeStaffLoginRequest, messageID, staffLoginRequestPayload{CIN: cin, Password: password}); err != nil {
		l.pending.forget(messageID)
		return nil, err
	}

	payload, err := l.pending.await(ctx, messageID, pc)
	if err != nil {
		return nil, err
	}

	var res struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
		Staff   struct {
			ID          string `json:"id"`
			CIN         string `json:"cin"`
			FirstName   string `json:"firstName"`
			LastName    string `json:"lastName"`
			Role        string `json:"role"`
			PhoneNumber string `json:"phoneNumber"`
			IsActive    bool   `json:"isActive"`
		} `json:"staff"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode staff_login_response: %w", err)
	}
	if !res.Success {
		return nil, apperr.New(apperr.CodeCentralRejected, res.Error)
	}

	return &authverifier.CentralStaffLoginResult{
		Token: res.Token,
		Staff: staffFromLoginResponse(res.Staff.ID, res.Staff.CIN, res.Staff.FirstName, res.Staff.LastName,
			res.Staff.Role, res.Staff.PhoneNumber, res.Staff.IsActive),
	}, nil
}

// RequestStaffVerify sends staff_verify_request and awaits
// staff_verify_response with a 30s timeout. Not currently called by
// AuthVerifier.VerifyToken (spec.md §9 defers central-side verification to
// a future extension); wired here so the request/response flow is
// exercised independently, e.g. by an operator-triggered re-sync.
func (l *Link) RequestStaffVerify(ctx context.Context, token string) (json.RawMessage, error) {
	if !l.IsAuthenticated() {
		return nil, apperr.New(apperr.CodeNotConnected, "centrallink is not authenticated")
	}
	messageID := newMessageID("staff_verify")
	pc := l.pending.register(messageID)

	if err := l.sendRequestFrame(TypeStaffVerifyRequest, messageID, struct {
		Token string `json:"token"`
	}{Token: token}); err != nil {
		l.pending.forget(messageID)
		return nil, err
	}
	return l.pending.await(ctx, messageID, pc)
}

func (l *Link) dispatch(ctx context.Context, data []byte) {
	env, err := parseEnvelope(data)
	if err != nil {
		l.log.With(ctx).WithError(err).Warn("centrallink received malformed frame")
		return
	}

	switch env.Type {
	case TypeAuthenticated:
		l.state.Store(StateAuthenticated)
		metrics.CentralLinkState.Set(float64(StateAuthenticated))
		l.missedHeartbeats.Store(0)
		l.setupAuthenticatedTimers(ctx)
	case TypeAuthError:
		l.log.With(ctx).Warn("centrallink authentication rejected")
		l.closeActiveConn()
	case TypeHeartbeatAck:
		l.missedHeartbeats.Store(0)
	case TypeConnectionTestResponse:
		l.missedHeartbeats.Store(0)
	case TypeIPUpdateAck, TypeIPUpdateError:
		// informational only
	case TypeStaffLoginResponse, TypeStaffVerifyResponse:
		if env.MessageID != "" {
			l.pending.resolve(env.MessageID, env.Payload)
		}
	default:
		l.handlersMu.RLock()
		h, ok := l.handlers[env.Type]
		l.handlersMu.RUnlock()
		if ok {
			h(ctx, env.Payload)
		} else {
			l.log.With(ctx).WithField("frame_type", env.Type).Debug("unhandled centrallink frame type")
		}
	}
}

func (l *Link) closeActiveConn() {
	l.connMu.Lock()
	conn := l.conn
	l.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// heartbeatSnapshot samples lightweight system telemetry via gopsutil,
// attached to every heartbeat frame (spec.md §2's CentralLink heartbeat
// responsibility, generalized with platform telemetry).
func heartbeatSnapshot(ctx context.Context) heartbeatPayload {
	var hp heartbeatPayload
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		hp.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hp.MemoryPercent = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		hp.DiskPercent = du.UsedPercent
	}
	return hp
}
