package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with ledger-specific helpers
type Logger struct {
	*logrus.Logger
}

// New creates a new logger instance writing JSON to stdout
func New(level string) *Logger {
	return NewWithOutput(level, os.Stdout)
}

// NewWithOutput creates a logger writing to out
func NewWithOutput(level string, out io.Writer) *Logger {
	log := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	log.SetOutput(out)

	return &Logger{Logger: log}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return NewWithOutput("panic", io.Discard)
}

// WithComponent creates a new logger entry with component name field
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.Logger.WithField("component", component)
}

// WithPrincipal creates a new logger entry with the caller principal
func (l *Logger) WithPrincipal(principal string) *logrus.Entry {
	return l.Logger.WithField("principal", principal)
}

// Decision logs an access-control decision. Denials are logged at warn.
func (l *Logger) Decision(operation, caller, patient string, allowed bool, fields logrus.Fields) {
	entry := l.Logger.WithFields(logrus.Fields{
		"decision":  true,
		"operation": operation,
		"caller":    caller,
		"patient":   patient,
		"allowed":   allowed,
	})
	if fields != nil {
		entry = entry.WithFields(fields)
	}

	if allowed {
		entry.Info("Access decision")
	} else {
		entry.Warn("Access denied")
	}
}

// Audit logs that an audit entry was committed to the ledger
func (l *Logger) Audit(logID uint64, patient, accessor, action string) {
	l.Logger.WithFields(logrus.Fields{
		"audit":    true,
		"log_id":   logID,
		"patient":  patient,
		"accessor": accessor,
		"action":   action,
	}).Info("Audit entry appended")
}

// Security logs security-related events
func (l *Logger) Security(event string, principal string, details map[string]interface{}) {
	l.Logger.WithFields(logrus.Fields{
		"security":  true,
		"event":     event,
		"principal": principal,
		"details":   details,
	}).Warn("Security event")
}

// RecordAccess logs a read of a patient record
func (l *Logger) RecordAccess(accessor, patient, action string, success bool) {
	entry := l.Logger.WithFields(logrus.Fields{
		"record_access": true,
		"accessor":      accessor,
		"patient":       patient,
		"action":        action,
		"success":       success,
		"sensitive":     true,
	})

	if success {
		entry.Info("Record access granted")
	} else {
		entry.Warn("Record access denied")
	}
}
