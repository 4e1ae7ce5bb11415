package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct {
	mu      sync.Mutex
	rotator *rotator.Rotator
}

func (w *logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)

	w.mu.Lock()
	r := w.rotator
	w.mu.Unlock()

	if r != nil {
		r.Write(p)
	}
	return len(p), nil
}

var (
	writer     = &logWriter{}
	backendLog = btclog.NewBackend(writer)

	subsystemMu      sync.Mutex
	subsystemLoggers = map[string]btclog.Logger{}

	mainLog = SubLogger("WLLT")
)

// Init sets up the log rotator writing to logFile. Rolled files are kept
// until maxFiles have accumulated; each roll happens at maxSizeKB.
func Init(logFile string, maxSizeKB int64, maxFiles int) error {
	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0700); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	r, err := rotator.New(logFile, maxSizeKB, false, maxFiles)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	writer.mu.Lock()
	old := writer.rotator
	writer.rotator = r
	writer.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// RotateLog closes the current rotator and opens a fresh one on logFile.
func RotateLog(logFile string, maxSizeKB int64, maxFiles int) error {
	Cleanup()
	return Init(logFile, maxSizeKB, maxFiles)
}

// Cleanup closes the log rotator when the application is done using it.
func Cleanup() {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	if writer.rotator != nil {
		writer.rotator.Close()
		writer.rotator = nil
	}
}

// SubLogger returns the logger registered for tag, creating it on first use.
func SubLogger(tag string) btclog.Logger {
	subsystemMu.Lock()
	defer subsystemMu.Unlock()

	if l, ok := subsystemLoggers[tag]; ok {
		return l
	}
	l := backendLog.Logger(tag)
	subsystemLoggers[tag] = l
	return l
}

// Subsystems returns the sorted list of registered subsystem tags.
func Subsystems() []string {
	subsystemMu.Lock()
	defer subsystemMu.Unlock()

	tags := make([]string, 0, len(subsystemLoggers))
	for tag := range subsystemLoggers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// SetLogLevel sets the logging level for the provided subsystem. Invalid
// subsystems are ignored. Uninitialized subsystems are dynamically created
// as needed.
func SetLogLevel(subsystemID string, logLevel string) {
	level, ok := btclog.LevelFromString(logLevel)
	if !ok {
		return
	}
	SubLogger(subsystemID).SetLevel(level)
}

// SetLogLevels sets the log level for all registered subsystem loggers.
func SetLogLevels(logLevel string) {
	for _, tag := range Subsystems() {
		SetLogLevel(tag, logLevel)
	}
}

// Info logs an informational message through the main wallet logger.
func Info(v ...interface{}) {
	mainLog.Info(v...)
}

// Error logs an error message through the main wallet logger.
func Error(v ...interface{}) {
	mainLog.Error(v...)
}
