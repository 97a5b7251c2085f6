// Package authverifier implements dual-path staff authentication: a local
// database lookup first, a central fallback second, and stateless token
// verification backed by a local session table (spec.md §4.5).
package authverifier

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/louaj-station/local-node/internal/apperr"
	"github.com/louaj-station/local-node/internal/clock"
	"github.com/louaj-station/local-node/internal/eventbus"
	"github.com/louaj-station/local-node/internal/logging"
	"github.com/louaj-station/local-node/internal/model"
	"github.com/louaj-station/local-node/internal/store"
)

// loginAttemptRate and loginAttemptBurst bound repeated Login calls for a
// single CIN, independent of whether they hit the local path or the
// central fallback: at most loginAttemptBurst immediate attempts, then one
// every loginAttemptRate, so a wrong-password loop can't be used to probe
// passwords or to flood the central staff_login_request round trip.
const (
	loginAttemptRate  = rate.Limit(1.0 / 3.0) // one attempt every 3s, sustained
	loginAttemptBurst = 5
)

// PasswordVerifier hashes and compares passwords. Implemented outside this
// package (internal/authinfra) since password-hashing primitives are an
// external collaborator to the core, not part of it.
type PasswordVerifier interface {
	Hash(password string) (string, error)
	Compare(hash, password string) bool
}

// CentralStaffLoginResult is what a successful central staff_login_response
// carries back.
type CentralStaffLoginResult struct {
	Staff model.Staff
	Token string
}

// CentralCaller is the subset of CentralLink's capability AuthVerifier
// needs: whether the session is authenticated, and the staff_login_request
// / staff_login_response round trip. Kept as a narrow interface here so
// this package never imports internal/centrallink directly.
type CentralCaller interface {
	IsAuthenticated() bool
	RequestStaffLogin(ctx context.Context, cin, password string) (*CentralStaffLoginResult, error)
}

// Verifier is the AuthVerifier component.
type Verifier struct {
	store      *store.Store
	bus        *eventbus.Bus
	clk        clock.Clock
	ids        clock.IDGenerator
	log        *logging.Logger
	pwd        PasswordVerifier
	central    CentralCaller
	jwtSecret  []byte
	tokenTTL   time.Duration
	stationID  string

	loginLimitersMu sync.Mutex
	loginLimiters   map[string]*rate.Limiter
}

// Config configures a Verifier.
type Config struct {
	JWTSecret        string
	LocalTokenTTL    time.Duration // spec.md §9: recommend honoring configuration, not the source's 30-day local default.
	StationID        string
}

// New builds a Verifier. central may be nil if no CentralLink is wired yet.
func New(st *store.Store, bus *eventbus.Bus, clk clock.Clock, ids clock.IDGenerator, log *logging.Logger, pwd PasswordVerifier, central CentralCaller, cfg Config) *Verifier {
	ttl := cfg.LocalTokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Verifier{
		store: st, bus: bus, clk: clk, ids: ids, log: log, pwd: pwd, central: central,
		jwtSecret: []byte(cfg.JWTSecret), tokenTTL: ttl, stationID: cfg.StationID,
		loginLimiters: make(map[string]*rate.Limiter),
	}
}

// loginLimiterFor returns the per-CIN limiter, creating it on first use.
func (v *Verifier) loginLimiterFor(cin string) *rate.Limiter {
	v.loginLimitersMu.Lock()
	defer v.loginLimitersMu.Unlock()
	l, ok := v.loginLimiters[cin]
	if !ok {
		l = rate.NewLimiter(loginAttemptRate, loginAttemptBurst)
		v.loginLimiters[cin] = l
	}
	return l
}

// claims is the HMAC-signed token payload (spec.md §4.5).
type claims struct {
	StaffID   string `json:"staffId"`
	CIN       string `json:"cin"`
	Role      string `json:"role"`
	StationID string `json:"stationId"`
	jwt.RegisteredClaims
}

// LoginResult is returned by Login.
type LoginResult struct {
	Token string
	Staff model.Staff
}

// Login authenticates a staff member, local-first with a central fallback
// (spec.md §4.5).
func (v *Verifier) Login(ctx context.Context, cin, password string) (*LoginResult, error) {
	if !v.loginLimiterFor(cin).Allow() {
		return nil, apperr.New(apperr.CodeRateLimited, "too many login attempts, slow down")
	}

	staff, err := v.store.GetStaffByCIN(ctx, cin)
	if err != nil {
		return nil, err
	}
	if staff != nil && staff.IsActive && v.pwd.Compare(staff.PasswordHash, password) {
		return v.completeLocalLogin(ctx, *staff, false)
	}

	if v.central != nil && v.central.IsAuthenticated() {
		res, err := v.central.RequestStaffLogin(ctx, cin, password)
		if err != nil {
			return nil, err
		}
		return v.adoptCentralLogin(ctx, res)
	}

	return nil, apperr.New(apperr.CodeInvalidArgument, "invalid credentials")
}

func (v *Verifier) completeLocalLogin(ctx context.Context, staff model.Staff, createdOffline bool) (*LoginResult, error) {
	token, err := v.signToken(staff)
	if err != nil {
		return nil, err
	}

	err = v.store.DB().WithSerializableTx(ctx, func(ctx context.Context) error {
		if err := v.store.TouchStaffLastLogin(ctx, staff.ID); err != nil {
			return err
		}
		if err := v.store.DeactivateSessionsForStaff(ctx, staff.ID); err != nil {
			return err
		}
		now := v.clk.Now()
		sess := model.Session{
			ID:             v.ids.NewID(),
			StaffID:        staff.ID,
			Token:          token,
			IsActive:       true,
			LastActivity:   now,
			ExpiresAt:      now.Add(v.tokenTTL),
			CreatedOffline: createdOffline,
		}
		return v.store.InsertSession(ctx, sess)
	})
	if err != nil {
		return nil, err
	}

	return &LoginResult{Token: token, Staff: staff}, nil
}

// adoptCentralLogin persists a staff record and session returned by
// central, resolving CIN-uniqueness conflicts by deleting the colliding
// local record first (spec.md §4.5).
func (v *Verifier) adoptCentralLogin(ctx context.Context, res *CentralStaffLoginResult) (*LoginResult, error) {
	err := v.store.DB().WithSerializableTx(ctx, func(ctx context.Context) error {
		existing, err := v.store.GetStaffByCIN(ctx, res.Staff.CIN)
		if err != nil {
			return err
		}
		if existing != nil && existing.ID != res.Staff.ID {
			if err := v.store.DeactivateSessionsForStaff(ctx, existing.ID); err != nil {
				return err
			}
		}
		if err := v.store.UpsertStaff(ctx, res.Staff); err != nil {
			return err
		}
		if err := v.store.DeactivateSessionsForStaff(ctx, res.Staff.ID); err != nil {
			return err
		}
		now := v.clk.Now()
		sess := model.Session{
			ID:           v.ids.NewID(),
			StaffID:      res.Staff.ID,
			Token:        res.Token,
			IsActive:     true,
			LastActivity: now,
			ExpiresAt:    now.Add(v.tokenTTL),
		}
		return v.store.InsertSession(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: res.Token, Staff: res.Staff}, nil
}

func (v *Verifier) signToken(staff model.Staff) (string, error) {
	now := v.clk.Now()
	c := claims{
		StaffID:   staff.ID,
		CIN:       staff.CIN,
		Role:      string(staff.Role),
		StationID: v.stationID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.tokenTTL)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(v.jwtSecret)
}

// VerifyToken validates a bearer token against the local session table,
// refreshing lastActivity and auto-deactivating on expiry (spec.md §4.5).
// Central-side verification is a noted open extension; the local Session
// table is authoritative (spec.md §9).
func (v *Verifier) VerifyToken(ctx context.Context, token string) (*model.Staff, error) {
	sess, err := v.store.GetActiveSessionByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apperr.New(apperr.CodeNotFound, "no active session for token")
	}
	if v.clk.Now().After(sess.ExpiresAt) {
		_ = v.store.DeactivateSessionByToken(ctx, token)
		return nil, apperr.New(apperr.CodeNotFound, "session expired")
	}

	staff, err := v.store.GetStaffByID(ctx, sess.StaffID)
	if err != nil {
		return nil, err
	}
	if staff == nil || !staff.IsActive {
		return nil, apperr.New(apperr.CodeNotFound, "staff not active")
	}

	if err := v.store.TouchSessionActivity(ctx, sess.ID); err != nil {
		v.log.WithError(err).Warn("failed to refresh session activity")
	}
	return staff, nil
}

// ChangePassword verifies the current password and rewrites the stored
// hash (spec.md §4.5).
func (v *Verifier) ChangePassword(ctx context.Context, staffID, current, newPassword string) error {
	staff, err := v.store.GetStaffByID(ctx, staffID)
	if err != nil {
		return err
	}
	if staff == nil {
		return apperr.New(apperr.CodeNotFound, "staff not found")
	}
	if !v.pwd.Compare(staff.PasswordHash, current) {
		return apperr.New(apperr.CodeInvalidArgument, "current password does not match")
	}
	newHash, err := v.pwd.Hash(newPassword)
	if err != nil {
		return err
	}
	return v.store.UpdateStaffPasswordHash(ctx, staffID, newHash)
}

// Logout deactivates the session backing token (spec.md §4.5).
func (v *Verifier) Logout(ctx context.Context, token string) error {
	return v.store.DeactivateSessionByToken(ctx, token)
}
