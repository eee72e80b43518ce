// Package obs provides structured logging for the recording storage
// engine, backed by zerolog.
package obs

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Level selects the minimum severity a Logger emits.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the wire format.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// ParseLevel converts a string flag value to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", s)
	}
}

// ParseFormat converts a string flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "console", "text":
		return FormatConsole, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (must be console or json)", s)
	}
}

func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config configures a Logger: level, format, destination file.
type Config struct {
	Level      Level
	Format     Format
	OutputFile string
}

// NewConfig returns the default configuration.
func NewConfig() *Config {
	return &Config{Level: LevelInfo, Format: FormatConsole}
}

// Logger wraps zerolog.Logger with component- and stream-tagging
// helpers.
type Logger struct {
	zerolog.Logger
	file *os.File
}

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
)

// New builds a Logger from cfg.
func New(cfg *Config) (*Logger, error) {
	var w io.Writer = os.Stdout
	var file *os.File

	if cfg.OutputFile != "" {
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.OutputFile, err)
		}
		w = f
		file = f
	}

	if cfg.Format == FormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	zl := zerolog.New(w).Level(cfg.Level.zerologLevel()).With().Timestamp().Logger()
	return &Logger{Logger: zl, file: file}, nil
}

// Close closes the underlying log file, if one was opened.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Component returns a child logger tagged with a "component" field.
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.Logger.With().Str("component", name).Logger(), file: l.file}
}

// Stream returns a child logger additionally tagged with the owning
// stream.
func (l *Logger) Stream(streamID int32) *Logger {
	return &Logger{Logger: l.Logger.With().Int32("stream_id", streamID).Logger(), file: l.file}
}

// SetDefault installs l as the package default.
func SetDefault(l *Logger) { defaultLogger = l }

// Default returns the package default logger, creating a stdout console
// logger at info level if none was installed.
func Default() *Logger {
	defaultOnce.Do(func() {
		if defaultLogger == nil {
			l, err := New(NewConfig())
			if err != nil {
				l = &Logger{Logger: zerolog.New(os.Stdout)}
			}
			defaultLogger = l
		}
	})
	return defaultLogger
}
