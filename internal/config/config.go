// Package config loads the station node's configuration from environment
// variables, an optional .env file, and a per-OS supervisor config file that
// can override the station's identity fields after boot.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// NetworkConfig controls the central link endpoints.
type NetworkConfig struct {
	CentralServerURL   string `env:"CENTRAL_SERVER_URL"`
	CentralServerWSURL string `env:"CENTRAL_SERVER_WS_URL"`
	APISecret          string `env:"API_SECRET"`
	Port               int    `env:"PORT"`
}

// StationConfig controls station identity, overridable by the supervisor file.
type StationConfig struct {
	StationID    string `env:"STATION_ID"`
	StationName  string `env:"STATION_NAME"`
	Governorate  string `env:"GOVERNORATE"`
	Delegation   string `env:"DELEGATION"`
	SupervisorCIN string `env:"-"`
}

// AuthConfig controls token issuance and session lifetime.
type AuthConfig struct {
	JWTSecret          string        `env:"JWT_SECRET"`
	JWTExpiresIn       time.Duration `env:"JWT_EXPIRES_IN,default=24h"`
	SessionTimeoutHours int          `env:"SESSION_TIMEOUT_HOURS,default=24"`
}

// SyncConfig paces reconciliation and central-link timers.
type SyncConfig struct {
	SyncIntervalSeconds       int `env:"SYNC_INTERVAL_SECONDS,default=30"`
	MaxRetryAttempts          int `env:"MAX_RETRY_ATTEMPTS,default=3"`
	BatchSyncSize             int `env:"BATCH_SYNC_SIZE,default=50"`
	TripSyncIntervalMS        int `env:"TRIP_SYNC_INTERVAL_MS,default=30000"`
	ConnectionCheckIntervalMS int `env:"CONNECTION_CHECK_INTERVAL_MS,default=60000"`
	MaxSyncRetryAttempts      int `env:"MAX_SYNC_RETRY_ATTEMPTS,default=3"`
	SyncRetryDelayMS          int `env:"SYNC_RETRY_DELAY_MS,default=5000"`
}

// BookingConfig controls allocator policy choices left open by the spec.
type BookingConfig struct {
	// CancelOnExit, when true, cascades-cancels outstanding unverified
	// bookings on exit instead of refusing with HasOutstandingBookings.
	CancelOnExit bool `env:"BOOKING_CANCEL_ON_EXIT,default=true"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
}

// DatabaseConfig controls the Postgres connection.
type DatabaseConfig struct {
	DSN            string `env:"DATABASE_DSN"`
	MaxOpenConns   int    `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns   int    `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	MigrateOnStart bool   `env:"DATABASE_MIGRATE_ON_START,default=true"`
}

// Config is the top-level configuration for the station node process.
type Config struct {
	Network  NetworkConfig
	Station  StationConfig
	Auth     AuthConfig
	Sync     SyncConfig
	Booking  BookingConfig
	Logging  LoggingConfig
	Database DatabaseConfig
}

// New returns a Config populated with defaults, before env/file overrides.
func New() *Config {
	return &Config{
		Auth: AuthConfig{
			JWTExpiresIn:        24 * time.Hour,
			SessionTimeoutHours: 24,
		},
		Sync: SyncConfig{
			SyncIntervalSeconds:       30,
			MaxRetryAttempts:          3,
			BatchSyncSize:             50,
			TripSyncIntervalMS:        30000,
			ConnectionCheckIntervalMS: 60000,
			MaxSyncRetryAttempts:      3,
			SyncRetryDelayMS:          5000,
		},
		Booking: BookingConfig{CancelOnExit: true},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			MaxOpenConns:   10,
			MaxIdleConns:   5,
			MigrateOnStart: true,
		},
	}
}

// Load reads a .env file if present, decodes environment variables, then
// applies the supervisor config file override (if any) on top.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()
	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	if err := ApplySupervisorFile(cfg, SupervisorConfigPath()); err != nil {
		return nil, fmt.Errorf("apply supervisor config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fatal-on-boot invariants (ConfigInvalid in apperr terms).
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Station.StationID) == "" {
		return fmt.Errorf("station id is required")
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database dsn is required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("jwt secret is required")
	}
	return nil
}

// supervisorFile mirrors the fields the central supervisor process writes.
type supervisorFile struct {
	StationInfo struct {
		StationID   string `yaml:"station_id"`
		StationName string `yaml:"station_name"`
		Delegation  string `yaml:"delegation"`
		Governorate string `yaml:"governorate"`
	} `yaml:"station_info"`
	CIN string `yaml:"cin"`
}

// SupervisorConfigPath returns the per-OS well-known path for the supervisor
// config file, honoring STATION_SUPERVISOR_CONFIG when set.
func SupervisorConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("STATION_SUPERVISOR_CONFIG")); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("ProgramData")
		if base == "" {
			base = `C:\ProgramData`
		}
		return filepath.Join(base, "louaj", "station.yaml")
	case "darwin":
		return "/Library/Application Support/louaj/station.yaml"
	default:
		return "/etc/louaj/station.yaml"
	}
}

// ApplySupervisorFile overlays the supervisor file's station identity fields
// onto cfg, when the file exists. Missing file is not an error.
func ApplySupervisorFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var sf supervisorFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return err
	}
	if sf.StationInfo.StationID != "" {
		cfg.Station.StationID = sf.StationInfo.StationID
	}
	if sf.StationInfo.StationName != "" {
		cfg.Station.StationName = sf.StationInfo.StationName
	}
	if sf.StationInfo.Delegation != "" {
		cfg.Station.Delegation = sf.StationInfo.Delegation
	}
	if sf.StationInfo.Governorate != "" {
		cfg.Station.Governorate = sf.StationInfo.Governorate
	}
	if sf.CIN != "" {
		cfg.Station.SupervisorCIN = sf.CIN
	}
	return nil
}

// RefreshMutableStationFields re-reads the supervisor file and applies only
// the mutable subset (name/delegation/governorate), per spec.md §3: the
// station is immutable after boot "unless refreshed from a supervisor config
// file". Intended to be polled on an interval by the caller.
func RefreshMutableStationFields(cfg *Config, path string) (changed bool, err error) {
	before := cfg.Station
	if err := ApplySupervisorFile(cfg, path); err != nil {
		return false, err
	}
	cfg.Station.StationID = before.StationID
	cfg.Station.SupervisorCIN = before.SupervisorCIN
	return before != cfg.Station, nil
}
