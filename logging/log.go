package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// ANSI Color Codes
const (
	Reset   = "\033[0m"
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Cyan    = "\033[36m"
	Magenta = "\033[35m"
	White   = "\033[97m"
)

type LogLevel int32

const (
	LogLevelError   LogLevel = 0
	LogLevelWarning LogLevel = 1
	LogLevelInfo    LogLevel = 2
	LogLevelDebug   LogLevel = 3
)

var logLevel atomic.Int32 // zero value is LogLevelError

func SetLogLevel(newLevel LogLevel) {
	logLevel.Store(int32(newLevel))
}

func Level() LogLevel {
	return LogLevel(logLevel.Load())
}

// ParseLevel maps a config string to a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarning, nil
	case "", "info":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	}
	return LogLevelError, fmt.Errorf("unknown log level %q", name)
}

func SetLogFile(logFile io.Writer) {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
}

// SetOutput replaces the destination entirely, used by tests to silence or
// capture output.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func enabled(level LogLevel) bool {
	return Level() >= level
}

func printf(color, prefix, format string, args ...interface{}) {
	log.Printf(color+"["+prefix+"] "+format+Reset, args...)
}

func Fatalf(format string, args ...interface{}) {
	log.Fatalf(Red+"[FATAL] "+format+Reset, args...)
}

func Debugf(format string, args ...interface{}) {
	if enabled(LogLevelDebug) {
		printf(Cyan, "DEBUG", format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if enabled(LogLevelInfo) {
		printf(White, "INFO", format, args...)
	}
}

// Successf prints in green, for events like an accepted block or share.
func Successf(format string, args ...interface{}) {
	if enabled(LogLevelInfo) {
		printf(Green, "SUCCESS", format, args...)
	}
}

// Noticef prints in magenta, for noteworthy events like receiving new work.
func Noticef(format string, args ...interface{}) {
	if enabled(LogLevelInfo) {
		printf(Magenta, "NOTICE", format, args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if enabled(LogLevelWarning) {
		printf(Yellow, "WARN", format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if enabled(LogLevelError) {
		printf(Red, "ERROR", format, args...)
	}
}

// StatusFunc adapts the info logger to the func(string) status callbacks used
// by the builder, coordinator and pool client.
func StatusFunc(component string) func(string) {
	return func(msg string) {
		Infof("%s: %s", component, msg)
	}
}
