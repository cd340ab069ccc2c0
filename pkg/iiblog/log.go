// Package iiblog configures the process-wide logrus logger, following the
// field-scoped logging idiom used throughout the CI tooling this project
// is descended from (one *logrus.Entry per unit of work, fields attached
// once and carried through every subsequent call).
package iiblog

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Configure sets the level of the root logger from IIB_LOG_LEVEL, always
// installs a JSON formatter (there is no format setting), and bumps any additional
// named loggers to the same level, mirroring
// Config.IIB_ADDITIONAL_LOGGERS from the original Python configuration.
func Configure(level string, additionalLoggers []string) {
	logrus.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	logrus.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)

	// Additional loggers are modeled here as named child loggers; in this
	// single-process layout they share the root logger's level, which is
	// the only thing IIB_ADDITIONAL_LOGGERS ever controlled.
	for _, name := range additionalLoggers {
		logrus.WithField("logger", name).Debug("additional logger registered at configured level")
	}
}

// ForRequest returns a logger scoped to a single request's lifecycle.
func ForRequest(requestID int64) *logrus.Entry {
	return logrus.WithField("request_id", requestID)
}

// ForBatch returns a logger scoped to a batch of requests.
func ForBatch(batchID int64) *logrus.Entry {
	return logrus.WithField("batch_id", batchID)
}

// WithPhase narrows a request-scoped logger to the current build phase.
func WithPhase(entry *logrus.Entry, phase string) *logrus.Entry {
	return entry.WithField("phase", phase)
}
