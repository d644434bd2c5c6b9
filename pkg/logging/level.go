package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Level is an enumeration encapsulating the logging level.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// levels maps accepted spellings (upper-cased) to their zapcore counterpart.
// The empty string is INFO.
var levels = map[string]struct {
	level Level
	zap   zapcore.Level
}{
	"":        {LevelInfo, zapcore.InfoLevel},
	"DEBUG":   {LevelDebug, zapcore.DebugLevel},
	"INFO":    {LevelInfo, zapcore.InfoLevel},
	"WARN":    {LevelWarn, zapcore.WarnLevel},
	"WARNING": {LevelWarn, zapcore.WarnLevel},
	"ERROR":   {LevelError, zapcore.ErrorLevel},
}

// ParseLevel parses the logging level.
func ParseLevel(level string) (Level, error) {
	l, ok := levels[strings.ToUpper(level)]
	if !ok {
		return "", fmt.Errorf("unknown log level: %s", level)
	}
	return l.level, nil
}

// Validate validates whether this Level is valid.
func (l Level) Validate() error {
	if _, ok := levels[strings.ToUpper(string(l))]; !ok {
		return fmt.Errorf("unknown log level: %s", l)
	}
	return nil
}

// String implements fmt.Stringer.
func (l Level) String() string { return strings.ToUpper(string(l)) }

func (l Level) toZapCoreLevel() (zapcore.Level, error) {
	entry, ok := levels[strings.ToUpper(string(l))]
	if !ok {
		return zapcore.InfoLevel, fmt.Errorf("can't convert log level to zapcore.Level: %s", l)
	}
	return entry.zap, nil
}

// toZapCoreLevel returns the zapcore.Level determined from this config.
func (c *Config) toZapCoreLevel() (zapcore.Level, error) {
	if c.Debug {
		return zapcore.DebugLevel, nil
	}

	return c.Level.toZapCoreLevel()
}
