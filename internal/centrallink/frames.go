package centrallink

import "encoding/json"

// Frame is the wire envelope for every central message: JSON over the
// persistent bidirectional channel, UTF-8, no length prefix (spec.md §6).
type Frame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
	MessageID string          `json:"messageId,omitempty"`
}

// Outbound frame type vocabulary (spec.md §4.3).
const (
	TypeAuthenticate       = "authenticate"
	TypeHeartbeat          = "heartbeat"
	TypeIPUpdate           = "ip_update"
	TypeConnectionTest     = "connection_test"
	TypeSyncRequest        = "sync_request"
	TypeBookingUpdate      = "booking_update"
	TypeVehicleUpdate      = "vehicle_update"
	TypeQueueUpdate        = "queue_update"
	TypeTripUpdate         = "trip_update"
	TypeVehicleSyncAck     = "vehicle_sync_ack"
	TypeStaffLoginRequest  = "staff_login_request"
	TypeStaffVerifyRequest = "staff_verify_request"
)

// Inbound frame type vocabulary (spec.md §4.3).
const (
	TypeConnected              = "connected"
	TypeAuthenticated          = "authenticated"
	TypeAuthError              = "auth_error"
	TypeHeartbeatAck           = "heartbeat_ack"
	TypeIPUpdateAck            = "ip_update_ack"
	TypeIPUpdateError          = "ip_update_error"
	TypeConnectionTestResponse = "connection_test_response"
	TypeSyncResponse           = "sync_response"
	TypeBookingUpdateInbound   = "booking_update"
	TypeVehicleUpdateInbound   = "vehicle_update"
	TypeQueueUpdateInbound     = "queue_update"
	TypeDataUpdate             = "data_update"
	TypeStationStatusUpdate    = "station_status_update"
	TypeStaffLoginResponse     = "staff_login_response"
	TypeStaffVerifyResponse    = "staff_verify_response"
	TypeVehicleSyncFull        = "vehicle_sync_full"
	TypeVehicleSyncUpdate      = "vehicle_sync_update"
	TypeVehicleSyncDelete      = "vehicle_sync_delete"
	TypeVehicleSyncError       = "vehicle_sync_error"
	TypeError                  = "error"
)

// authenticatePayload is sent on channel open (spec.md §4.3).
type authenticatePayload struct {
	StationID string `json:"stationId"`
	Timestamp int64  `json:"timestamp"`
	PublicIP  string `json:"publicIp"`
}

// ipUpdatePayload reports a change in the node's public IP.
type ipUpdatePayload struct {
	PublicIP string `json:"publicIp"`
}

// heartbeatPayload attaches lightweight system telemetry to each heartbeat.
type heartbeatPayload struct {
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryPercent float64 `json:"memoryPercent"`
	DiskPercent   float64 `json:"diskPercent"`
}

// staffLoginRequestPayload is the outbound staff_login_request body.
type staffLoginRequestPayload struct {
	CIN      string `json:"cin"`
	Password string `json:"password"`
}

// vehicleSyncAckPayload acknowledges a vehicle_sync_full/update/delete batch.
type vehicleSyncAckPayload struct {
	MessageID string   `json:"messageId"`
	SyncType  string   `json:"syncType"`
	Success   bool     `json:"success"`
	Errors    []string `json:"errors,omitempty"`
	StationID string   `json:"stationId"`
}
