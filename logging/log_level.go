package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// Levels accepted by LOG_LEVEL and --log-level.
const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

// ParseLogLevelString maps a level name to a zap level, ignoring case and
// surrounding space. "warning" is accepted for warn. Empty, unknown and
// process-ending levels (dpanic, panic, fatal) yield defaultLevel.
func ParseLogLevelString(levelStr string, defaultLevel zapcore.Level) zapcore.Level {
	name := strings.ToLower(strings.TrimSpace(levelStr))
	if name == "warning" {
		name = "warn"
	}
	if name == "" {
		return defaultLevel
	}
	level, err := zapcore.ParseLevel(name)
	if err != nil || level > ErrorLevel {
		return defaultLevel
	}
	return level
}
