// Package apperr enumerates the station node's error taxonomy. Every
// component returns these codes rather than ad-hoc errors so callers can
// branch on Code without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure. Values are stable and logged verbatim.
type Code string

const (
	// Input errors.
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeIllegalStateTransition Code = "ILLEGAL_STATE_TRANSITION"

	// Resource errors.
	CodeInsufficientSeats     Code = "INSUFFICIENT_SEATS"
	CodeVehicleUnknown        Code = "VEHICLE_UNKNOWN"
	CodeVehicleNotAuthorized  Code = "VEHICLE_NOT_AUTHORIZED_HERE"
	CodeVehicleAlreadyQueued  Code = "VEHICLE_ALREADY_QUEUED"
	CodeVehicleInactive       Code = "VEHICLE_INACTIVE"
	CodeNotInQueue            Code = "NOT_IN_QUEUE"
	CodeAlreadyVerified       Code = "ALREADY_VERIFIED"
	CodeUnknownTicket         Code = "UNKNOWN_TICKET"
	CodeHasOutstandingBookings Code = "HAS_OUTSTANDING_BOOKINGS"

	// Concurrency errors.
	CodeConcurrentConflict Code = "CONCURRENT_CONFLICT"

	// Throttling errors.
	CodeRateLimited Code = "RATE_LIMITED"

	// Transport errors.
	CodeNotConnected    Code = "NOT_CONNECTED"
	CodeRequestTimedOut Code = "REQUEST_TIMED_OUT"
	CodeCentralRejected Code = "CENTRAL_REJECTED"

	// Integrity errors.
	CodeStaleInboundSync Code = "STALE_INBOUND_SYNC"

	// Fatal errors.
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
	CodeConfigInvalid    Code = "CONFIG_INVALID"
)

// httpStatus hints an HTTP status for a consuming transport layer; this core
// never writes HTTP responses itself.
var httpStatus = map[Code]int{
	CodeInvalidArgument:        http.StatusBadRequest,
	CodeNotFound:               http.StatusNotFound,
	CodeConflict:               http.StatusConflict,
	CodeIllegalStateTransition: http.StatusConflict,
	CodeInsufficientSeats:      http.StatusConflict,
	CodeVehicleUnknown:         http.StatusNotFound,
	CodeVehicleNotAuthorized:   http.StatusForbidden,
	CodeVehicleAlreadyQueued:   http.StatusConflict,
	CodeVehicleInactive:        http.StatusConflict,
	CodeNotInQueue:             http.StatusNotFound,
	CodeAlreadyVerified:        http.StatusConflict,
	CodeUnknownTicket:          http.StatusNotFound,
	CodeHasOutstandingBookings: http.StatusConflict,
	CodeConcurrentConflict:     http.StatusConflict,
	CodeRateLimited:            http.StatusTooManyRequests,
	CodeNotConnected:           http.StatusServiceUnavailable,
	CodeRequestTimedOut:        http.StatusGatewayTimeout,
	CodeCentralRejected:        http.StatusBadGateway,
	CodeStaleInboundSync:       http.StatusUnprocessableEntity,
	CodeStoreUnavailable:       http.StatusServiceUnavailable,
	CodeConfigInvalid:          http.StatusInternalServerError,
}

// Error is a structured, wrappable error carrying a stable Code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped error for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the HTTP status a transport layer should map this to.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an *Error wrapping an existing error.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the Code from err, or "" if err isn't an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
