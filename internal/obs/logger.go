package obs

import (
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextLogger carries a set of structured fields through a call chain,
// accumulating them with each With* call rather than mutating shared state.
type ContextLogger struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// NewContextLogger builds a ContextLogger seeded with the given fields.
// A nil logger falls back to the package-global Logger.
func NewContextLogger(logger *logrus.Logger, fields map[string]interface{}) *ContextLogger {
	if logger == nil {
		logger = Logger
	}
	base := make(logrus.Fields, len(fields))
	for k, v := range fields {
		base[k] = v
	}
	return &ContextLogger{logger: logger, fields: base}
}

func (cl *ContextLogger) with(fields map[string]interface{}) *ContextLogger {
	merged := make(logrus.Fields, len(cl.fields)+len(fields))
	for k, v := range cl.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &ContextLogger{logger: cl.logger, fields: merged}
}

func (cl *ContextLogger) WithField(key string, value interface{}) *ContextLogger {
	return cl.with(map[string]interface{}{key: value})
}

func (cl *ContextLogger) WithFields(fields map[string]interface{}) *ContextLogger {
	return cl.with(fields)
}

func (cl *ContextLogger) WithError(err error) *ContextLogger {
	return cl.with(map[string]interface{}{"error": err.Error()})
}

func (cl *ContextLogger) Debug(msg string) { cl.logger.WithFields(cl.fields).Debug(msg) }
func (cl *ContextLogger) Info(msg string)  { cl.logger.WithFields(cl.fields).Info(msg) }
func (cl *ContextLogger) Warn(msg string)  { cl.logger.WithFields(cl.fields).Warn(msg) }
func (cl *ContextLogger) Error(msg string) { cl.logger.WithFields(cl.fields).Error(msg) }

// ServiceLogger returns a ContextLogger pre-tagged with the component name,
// the way every long-lived task (reconciler, certificate updater, listener)
// identifies itself in logs.
func ServiceLogger(component string) *ContextLogger {
	return NewContextLogger(Logger, map[string]interface{}{"component": component})
}

// LogPanic recovers a panic within the calling goroutine, logs it with a
// stack trace, and swallows it. Intended to be deferred at the top of any
// goroutine whose death should not take down the process, keeping
// per-listener and per-connection tasks isolated from each other.
func LogPanic(logger *ContextLogger) {
	if r := recover(); r != nil {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		logger.WithFields(map[string]interface{}{
			"panic":      fmt.Sprintf("%v", r),
			"stacktrace": string(buf[:n]),
		}).Error("recovered from panic")
	}
}

// LogDuration returns a function that, when called, logs the elapsed time
// since LogDuration was invoked under the given operation name.
func LogDuration(logger *ContextLogger, operation string) func() {
	start := time.Now()
	return func() {
		logger.WithFields(map[string]interface{}{
			"operation":   operation,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("operation completed")
	}
}
