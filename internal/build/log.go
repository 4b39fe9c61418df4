// Package build wires up the logging backend shared by every subsystem,
// following the same per-subsystem btclog.Logger convention used
// throughout the daemon.
package build

import (
	"os"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// LogWriter is the central log rotator. It multiplexes to both stdout and
// a rotated on-disk file once initialized via InitLogRotator.
var LogWriter = &LogWriterWrapper{}

// LogWriterWrapper implements io.Writer so it can be handed to the
// backend log formatter before the rotator has actually been set up
// (useful for tests, which never call InitLogRotator).
type LogWriterWrapper struct {
	rotator *rotator.Rotator
}

func (w *LogWriterWrapper) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if w.rotator != nil {
		w.rotator.Write(p)
	}
	return len(p), nil
}

// InitLogRotator initializes the logging rotator to write logs to
// logFile and create roll files in the same directory. It must be called
// before the subsystem loggers are used if on-disk logging is desired.
func InitLogRotator(logFile string, maxRolls int) error {
	r, err := rotator.New(logFile, 10*1024, false, maxRolls)
	if err != nil {
		return err
	}
	LogWriter.rotator = r
	return nil
}

var backend = btclog.NewBackend(LogWriter)

// NewSubLogger creates a new btclog.Logger for the named subsystem at the
// given level (defaults to Info if level is empty), matching the
// per-package `var log btclog.Logger` convention used across the
// daemon's packages.
func NewSubLogger(subsystem string, level string) btclog.Logger {
	logger := backend.Logger(subsystem)
	lvl := btclog.LevelInfo
	if level != "" {
		if parsed, ok := btclog.LevelFromString(level); ok {
			lvl = parsed
		}
	}
	logger.SetLevel(lvl)
	return logger
}
