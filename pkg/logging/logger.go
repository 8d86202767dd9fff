package logging

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
)

var logger = hclog.NewNullLogger()

// InitLogging initializes logging
func InitLogging(level string, jsonFormat bool) {
	logger = hclog.New(&hclog.LoggerOptions{
		Name:       "entitlement-api",
		Level:      hclog.LevelFromString(level),
		Output:     os.Stdout,
		JSONFormat: jsonFormat,
	})
}

// SetLogger replaces the underlying logger, mainly for tests.
func SetLogger(l hclog.Logger) {
	if l == nil {
		l = hclog.NewNullLogger()
	}
	logger = l
}

// Logger returns the underlying structured logger.
func Logger() hclog.Logger {
	return logger
}

// Debugf logs debug level messages
func Debugf(format string, v ...interface{}) {
	if logger.IsDebug() {
		logger.Debug(fmt.Sprintf(format, v...))
	}
}

// Infof logs info level messages
func Infof(format string, v ...interface{}) {
	logger.Info(fmt.Sprintf(format, v...))
}

// Warnf logs warn level messages
func Warnf(format string, v ...interface{}) {
	logger.Warn(fmt.Sprintf(format, v...))
}

// Errorf logs error level messages
func Errorf(format string, v ...interface{}) {
	logger.Error(fmt.Sprintf(format, v...))
}
