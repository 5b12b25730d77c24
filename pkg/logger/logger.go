package logger

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with additional functionality
type Logger struct {
	*logrus.Logger
}

// New creates a new logger instance
func New(level string) *Logger {
	log := logrus.New()

	// Set log level
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	// Set output format
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	// Set output destination
	log.SetOutput(os.Stdout)

	return &Logger{Logger: log}
}

// WithFields creates a new logger entry with the specified fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// WithField creates a new logger entry with a single field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithError creates a new logger entry with an error field
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err)
}

// WithUserID creates a new logger entry with user ID field
func (l *Logger) WithUserID(userID string) *logrus.Entry {
	return l.Logger.WithField("user_id", userID)
}

// WithComponent creates a new logger entry with component name field
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.Logger.WithField("component", component)
}

// Audit logs audit events with structured format
func (l *Logger) Audit(userID, action, resource string, success bool, details map[string]interface{}) {
	entry := l.Logger.WithFields(logrus.Fields{
		"audit":    true,
		"user_id":  userID,
		"action":   action,
		"resource": resource,
		"success":  success,
		"details":  details,
	})

	if success {
		entry.Info("Audit event")
	} else {
		entry.Warn("Audit event failed")
	}
}

// Security logs security-related events
func (l *Logger) Security(event string, userID string, details map[string]interface{}) {
	l.Logger.WithFields(logrus.Fields{
		"security": true,
		"event":    event,
		"user_id":  userID,
		"details":  details,
	}).Warn("Security event")
}

// Compliance logs compliance-related events
func (l *Logger) Compliance(event string, userID string, details map[string]interface{}) {
	l.Logger.WithFields(logrus.Fields{
		"compliance": true,
		"event":      event,
		"user_id":    userID,
		"details":    details,
	}).Info("Compliance event")
}

// PHIAccess logs PHI access events with enhanced security context
func (l *Logger) PHIAccess(ctx context.Context, userID, patientID, action, resource string, success bool, details map[string]interface{}) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"phi_access": true,
		"user_id":    userID,
		"patient_id": patientID,
		"action":     action,
		"resource":   resource,
		"success":    success,
		"details":    details,
		"sensitive":  true,
	})

	if success {
		entry.Info("PHI access granted")
	} else {
		entry.Warn("PHI access denied")
	}
}

// EmergencyOverride logs break-glass lifecycle events. These always emit at
// warn level so they stand out in the operational stream.
func (l *Logger) EmergencyOverride(event, staffID, patientID string, details map[string]interface{}) {
	l.Logger.WithFields(logrus.Fields{
		"emergency_override": true,
		"event":              event,
		"staff_id":           staffID,
		"patient_id":         patientID,
		"details":            details,
	}).Warn("Emergency override event")
}

// WithContext creates a logger with context-aware fields
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithFields(logrus.Fields{})

	// Add request ID if available
	if requestID := ctx.Value("request_id"); requestID != nil {
		entry = entry.WithField("request_id", requestID)
	}

	// Add user ID if available
	if userID := ctx.Value("user_id"); userID != nil {
		entry = entry.WithField("user_id", userID)
	}

	return entry
}
