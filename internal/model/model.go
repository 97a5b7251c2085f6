// Package model holds the station node's persisted entity types (spec.md §3).
package model

import "time"

// QueueType distinguishes overnight queues, serviced before regular ones.
type QueueType string

const (
	QueueTypeRegular   QueueType = "REGULAR"
	QueueTypeOvernight QueueType = "OVERNIGHT"
)

// QueueStatus is the VehicleQueue state machine (spec.md §3, §4.1).
type QueueStatus string

const (
	QueueStatusWaiting  QueueStatus = "WAITING"
	QueueStatusLoading  QueueStatus = "LOADING"
	QueueStatusReady    QueueStatus = "READY"
	QueueStatusDeparted QueueStatus = "DEPARTED"
)

// PaymentStatus tracks a booking's settlement state. Cancelled is an
// addition for the redesigned exit policy (spec.md §9 open question).
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusPaid      PaymentStatus = "PAID"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// BookingSource distinguishes station-issued cash tickets from online bookings.
type BookingSource string

const (
	BookingSourceStation BookingSource = "STATION"
	BookingSourceOnline  BookingSource = "ONLINE"
)

// PaymentMethod is the settlement instrument for a Booking.
type PaymentMethod string

const (
	PaymentMethodCash PaymentMethod = "CASH"
)

// SyncStatus tracks a Trip's outbound delivery to central.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "PENDING"
	SyncStatusSynced  SyncStatus = "SYNCED"
	SyncStatusFailed  SyncStatus = "FAILED"
)

// StaffRole is the authorization tier for a Staff member.
type StaffRole string

const (
	StaffRoleWorker     StaffRole = "WORKER"
	StaffRoleSupervisor StaffRole = "SUPERVISOR"
	StaffRoleAdmin      StaffRole = "ADMIN"
)

// Station is the singleton station identity, immutable after boot except via
// a supervisor config refresh (internal/config).
type Station struct {
	StationID   string `db:"station_id"`
	StationName string `db:"station_name"`
	Delegation  string `db:"delegation"`
	Governorate string `db:"governorate"`
}

// Vehicle is owned by central; mutated locally only via the Reconciler.
type Vehicle struct {
	ID           string    `db:"id"`
	LicensePlate string    `db:"license_plate"`
	Capacity     int       `db:"capacity"`
	Model        *string   `db:"model"`
	Year         *int      `db:"year"`
	Color        *string   `db:"color"`
	IsActive     bool      `db:"is_active"`
	IsAvailable  bool      `db:"is_available"`
	SyncedAt     time.Time `db:"synced_at"`
}

// Driver is 1:1 with Vehicle via VehicleID; owned by central.
type Driver struct {
	ID                  string  `db:"id"`
	CIN                 string  `db:"cin"`
	FirstName           string  `db:"first_name"`
	LastName            string  `db:"last_name"`
	PhoneNumber         string  `db:"phone_number"`
	OriginGovernorateID *string `db:"origin_governorate_id"`
	OriginDelegationID  *string `db:"origin_delegation_id"`
	OriginAddress       *string `db:"origin_address"`
	AccountStatus       string  `db:"account_status"`
	IsActive            bool    `db:"is_active"`
	VehicleID           string  `db:"vehicle_id"`
}

// AuthorizedStation records that a vehicle may operate from a station.
// ID is deterministic: "<vehicleID>_<stationID>".
type AuthorizedStation struct {
	ID        string `db:"id"`
	VehicleID string `db:"vehicle_id"`
	StationID string `db:"station_id"`
}

// Route is owned by central; basePrice overrides the queue row's stored
// price when present and active (spec.md §4.2 step 4b).
type Route struct {
	ID        string  `db:"id"`
	StationID string  `db:"station_id"`
	BasePrice float64 `db:"base_price"`
	IsActive  bool    `db:"is_active"`
}

// Staff is a station employee with dual-path (local+central) authentication.
type Staff struct {
	ID           string     `db:"id"`
	CIN          string     `db:"cin"`
	FirstName    string     `db:"first_name"`
	LastName     string     `db:"last_name"`
	Role         StaffRole  `db:"role"`
	PhoneNumber  string     `db:"phone_number"`
	PasswordHash string     `db:"password_hash"`
	IsActive     bool       `db:"is_active"`
	LastLogin    *time.Time `db:"last_login"`
}

// Session is the local auth session table; at most one active session per
// StaffID at a time (spec.md §3).
type Session struct {
	ID             string    `db:"id"`
	StaffID        string    `db:"staff_id"`
	Token          string    `db:"token"`
	StaffData      []byte    `db:"staff_data"` // JSON snapshot
	IsActive       bool      `db:"is_active"`
	LastActivity   time.Time `db:"last_activity"`
	ExpiresAt      time.Time `db:"expires_at"`
	CreatedOffline bool      `db:"created_offline"`
}

// VehicleQueue is the ordered, per-destination queue row — the heart of the
// state machine (spec.md §3).
type VehicleQueue struct {
	ID                 string      `db:"id"`
	VehicleID          string      `db:"vehicle_id"`
	DestinationID      string      `db:"destination_id"`
	DestinationName    string      `db:"destination_name"`
	QueueType          QueueType   `db:"queue_type"`
	QueuePosition      int         `db:"queue_position"`
	Status             QueueStatus `db:"status"`
	TotalSeats         int         `db:"total_seats"`
	AvailableSeats     int         `db:"available_seats"`
	BasePrice          float64     `db:"base_price"`
	EstimatedDeparture *time.Time  `db:"estimated_departure"`
}

// Booking is a cash (or online) seat reservation against a queue row.
type Booking struct {
	ID               string        `db:"id"`
	QueueID          string        `db:"queue_id"`
	SeatsBooked      int           `db:"seats_booked"`
	TotalAmount      float64       `db:"total_amount"`
	BookingSource    BookingSource `db:"booking_source"`
	PaymentStatus    PaymentStatus `db:"payment_status"`
	PaymentMethod    PaymentMethod `db:"payment_method"`
	VerificationCode string        `db:"verification_code"`
	IsVerified       bool          `db:"is_verified"`
	VerifiedAt       *time.Time    `db:"verified_at"`
	VerifiedByID     *string       `db:"verified_by_id"`
	CreatedBy        string        `db:"created_by"`
	CreatedAt        time.Time     `db:"created_at"`
}

// Trip is created the instant a queue row transitions to READY.
type Trip struct {
	ID              string     `db:"id"`
	VehicleID       string     `db:"vehicle_id"`
	LicensePlate    string     `db:"license_plate"`
	DestinationID   string     `db:"destination_id"`
	DestinationName string     `db:"destination_name"`
	QueueID         string     `db:"queue_id"`
	SeatsBooked     int        `db:"seats_booked"`
	StartTime       time.Time  `db:"start_time"`
	SyncStatus      SyncStatus `db:"sync_status"`
	RetryCount      int        `db:"retry_count"`
}

// DayPass is used only in reporting aggregation (spec.md §3, §9).
type DayPass struct {
	ID           string    `db:"id"`
	LicensePlate string    `db:"license_plate"`
	Price        float64   `db:"price"`
	PurchaseDate time.Time `db:"purchase_date"`
	CreatedBy    string    `db:"created_by"`
}
