package authverifier

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

var staffCols = []string{
	"id", "cin", "first_name", "last_name", "role", "phone_number", "password_hash", "is_active", "last_login",
}

type fixedIDs struct{}

func (fixedIDs) NewID() string                  { return "session-fixed" }
func (fixedIDs) NewTicketCode() (string, error) { return "ABC123", nil }

// plaintextPwd treats the stored hash as the plaintext password, for tests only.
type plaintextPwd struct{}

func (plaintextPwd) Hash(password string) (string, error) { return password, nil }
func (plaintextPwd) Compare(hash, password string) bool   { return hash == password }

// noCentral reports never-authenticated, forcing Login to fail fast on a
// local miss rather than attempt a round trip.
type noCentral struct{}

func (noCentral) IsAuthenticated() bool { return false }
func (noCentral) RequestStaffLogin(ctx context.Context, cin, password string) (*CentralStaffLoginResult, error) {
	panic("not reached")
}

func newTestVerifier(t *testing.T) (*Verifier, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	st := store.New(store.NewDB(sqlx.NewDb(mockDB, "postgres")))
	bus := eventbus.New(eventbus.Config{QueueSize: 16, WorkerCount: 1, Logger: logging.New("test", "error", "text")})
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(bus.Stop)

	clk := clock.NewFrozen(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
	v := New(st, bus, clk, fixedIDs{}, logging.New("test", "error", "text"), plaintextPwd{}, noCentral{}, Config{
		JWTSecret: "test-secret", LocalTokenTTL: time.Hour, StationID: "st-1",
	})
	return v, mock
}

func TestLogin_LocalSuccess(t *testing.T) {
	v, mock := newTestVerifier(t)

	mock.ExpectQuery(`SELECT .+ FROM staff WHERE cin = \$1`).
		WithArgs("12345678").
		WillReturnRows(sqlmock.NewRows(staffCols).
			AddRow("staff-1", "12345678", "Amine", "Gharbi", "WORKER", "20123456", "secret", true, nil))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE staff SET last_login`).
		WithArgs("staff-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE sessions SET is_active = false WHERE staff_id`).
		WithArgs("staff-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO sessions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := v.Login(context.Background(), "12345678", "secret")
	require.NoError(t, err)
	require.NotEmpty(t, result.Token)
	require.Equal(t, "staff-1", result.Staff.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogin_WrongPasswordNoCentralFallback(t *testing.T) {
	v, mock := newTestVerifier(t)

	mock.ExpectQuery(`SELECT .+ FROM staff WHERE cin = \$1`).
		WithArgs("12345678").
		WillReturnRows(sqlmock.NewRows(staffCols).
			AddRow("staff-1", "12345678", "Amine", "Gharbi", "WORKER", "20123456", "secret", true, nil))

	_, err := v.Login(context.Background(), "12345678", "wrong-password")
	require.Error(t, err)
	require.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyToken_ExpiredSessionIsDeactivated(t *testing.T) {
	v, mock := newTestVerifier(t)

	expired := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .+ FROM sessions WHERE token = \$1 AND is_active = true`).
		WithArgs("tok-expired").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "staff_id", "token", "staff_data", "is_active", "last_activity", "expires_at", "created_offline",
		}).AddRow("sess-1", "staff-1", "tok-expired", []byte("{}"), true, expired, expired, false))
	mock.ExpectExec(`UPDATE sessions SET is_active = false WHERE token = \$1`).
		WithArgs("tok-expired").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := v.VerifyToken(context.Background(), "tok-expired")
	require.Error(t, err)
	require.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyToken_UnknownToken(t *testing.T) {
	v, mock := newTestVerifier(t)

	mock.ExpectQuery(`SELECT .+ FROM sessions WHERE token = \$1 AND is_active = true`).
		WithArgs("tok-missing").
		WillReturnError(sql.ErrNoRows)

	_, err := v.VerifyToken(context.Background(), "tok-missing")
	require.Error(t, err)
	require.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangePassword_WrongCurrentPassword(t *testing.T) {
	v, mock := newTestVerifier(t)

	mock.ExpectQuery(`SELECT .+ FROM staff WHERE id = \$1`).
		WithArgs("staff-1").
		WillReturnRows(sqlmock.NewRows(staffCols).
			AddRow("staff-1", "12345678", "Amine", "Gharbi", "WORKER", "20123456", "secret", true, nil))

	err := v.ChangePassword(context.Background(), "staff-1", "not-the-current-password", "new-secret")
	require.Error(t, err)
	require.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
