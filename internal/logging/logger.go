// Package logging provides structured, context-carrying logging for the
// station node, built on logrus the same way the rest of the platform does.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const (
	traceIDKey   ctxKey = "trace_id"
	stationIDKey ctxKey = "station_id"
	vehicleIDKey ctxKey = "vehicle_id"
)

// Logger wraps logrus.Logger with the fields this node attaches to every line.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a Logger for the given component name.
func New(component, level, format string) *Logger {
	l := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l, component: component}
}

// NewFromEnv builds a Logger using LOG_LEVEL/LOG_FORMAT, defaulting to info/json.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// With returns an entry carrying the component name plus any context-bound
// trace/station/vehicle identifiers.
func (l *Logger) With(ctx context.Context) *logrus.Entry {
	e := l.Logger.WithField("component", l.component)
	if v := ctx.Value(traceIDKey); v != nil {
		e = e.WithField("trace_id", v)
	}
	if v := ctx.Value(stationIDKey); v != nil {
		e = e.WithField("station_id", v)
	}
	if v := ctx.Value(vehicleIDKey); v != nil {
		e = e.WithField("vehicle_id", v)
	}
	return e
}

// WithFields returns an entry carrying the component name plus custom fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithError returns an entry carrying the component name plus the error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"component": l.component}).WithError(err)
}

// WithTraceID attaches a trace identifier to ctx for downstream logging.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithStationID attaches the station identifier to ctx.
func WithStationID(ctx context.Context, stationID string) context.Context {
	return context.WithValue(ctx, stationIDKey, stationID)
}

// WithVehicleID attaches a vehicle identifier to ctx.
func WithVehicleID(ctx context.Context, vehicleID string) context.Context {
	return context.WithValue(ctx, vehicleIDKey, vehicleID)
}

var defaultLogger *Logger

// InitDefault initializes the process-wide default logger.
func InitDefault(component, level, format string) {
	defaultLogger = New(component, level, format)
}

// Default returns the process-wide logger, creating a fallback if unset.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = New("stationnode", "info", "json")
	}
	return defaultLogger
}
