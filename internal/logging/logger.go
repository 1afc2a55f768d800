package logging

import (
	"io"
	"log"
	"os"
	"sync"
)

// Logger is a small level-based logger shared by all drydock components.
type Logger struct {
	mu           sync.RWMutex
	debugEnabled bool
	out          *log.Logger
}

var globalLogger = newLogger(false)

func newLogger(debug bool) *Logger {
	var output io.Writer = os.Stdout
	if log.Writer() != os.Stderr {
		output = log.Writer()
	}
	return &Logger{
		debugEnabled: debug,
		out:          log.New(output, "", log.LstdFlags),
	}
}

// Initialize replaces the global logger, enabling or disabling debug output.
func Initialize(debugMode bool) {
	globalLogger = newLogger(debugMode)
}

// Info logs informational messages (always shown)
func Info(format string, args ...interface{}) {
	globalLogger.out.Printf(format, args...)
}

// Debug logs debug messages (only shown when debug mode is enabled)
func Debug(format string, args ...interface{}) {
	globalLogger.mu.RLock()
	enabled := globalLogger.debugEnabled
	globalLogger.mu.RUnlock()
	if enabled {
		globalLogger.out.Printf("DEBUG: "+format, args...)
	}
}

// Warn logs warning messages (always shown)
func Warn(format string, args ...interface{}) {
	globalLogger.out.Printf("WARN: "+format, args...)
}

// Error logs error messages (always shown)
func Error(format string, args ...interface{}) {
	globalLogger.out.Printf("ERROR: "+format, args...)
}

// IsDebugEnabled returns true if debug logging is enabled
func IsDebugEnabled() bool {
	globalLogger.mu.RLock()
	defer globalLogger.mu.RUnlock()
	return globalLogger.debugEnabled
}
