// Package logging holds the key/value Logger every hivecore component logs
// through, plus slog and zerolog backed implementations.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// Config selects a backend. Format is one of json, text or console.
type Config struct {
	Level     string    `json:"level" yaml:"level" toml:"level"`
	Format    string    `json:"format" yaml:"format" toml:"format"`
	Component string    `json:"component" yaml:"component" toml:"component"`
	Output    io.Writer `json:"-" yaml:"-" toml:"-"`
}

func DefaultConfig() Config {
	return Config{Level: "info", Format: "json", Output: os.Stdout}
}

func New(cfg Config) Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	switch strings.ToLower(cfg.Format) {
	case "console":
		return NewZerolog(cfg)
	case "text":
		return NewSlog(slog.New(slog.NewTextHandler(cfg.Output, &slog.HandlerOptions{Level: slogLevel(cfg.Level)})), cfg.Component)
	default:
		return NewSlog(slog.New(slog.NewJSONHandler(cfg.Output, &slog.HandlerOptions{Level: slogLevel(cfg.Level)})), cfg.Component)
	}
}

// SlogAdapter wraps *slog.Logger.
type SlogAdapter struct {
	*slog.Logger
}

func NewSlog(l *slog.Logger, component string) *SlogAdapter {
	if component != "" {
		l = l.With("component", component)
	}
	return &SlogAdapter{Logger: l}
}

func (s *SlogAdapter) Debug(msg string, args ...interface{}) { s.Logger.Debug(msg, args...) }
func (s *SlogAdapter) Info(msg string, args ...interface{})  { s.Logger.Info(msg, args...) }
func (s *SlogAdapter) Warn(msg string, args ...interface{})  { s.Logger.Warn(msg, args...) }
func (s *SlogAdapter) Error(msg string, args ...interface{}) { s.Logger.Error(msg, args...) }

// ZerologAdapter renders human readable console output.
type ZerologAdapter struct {
	logger zerolog.Logger
}

func NewZerolog(cfg Config) *ZerologAdapter {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	ctx := zerolog.New(output).Level(zerologLevel(cfg.Level)).With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	return &ZerologAdapter{logger: ctx.Logger()}
}

func (z *ZerologAdapter) Debug(msg string, args ...interface{}) {
	z.logger.Debug().Fields(pairs(args)).Msg(msg)
}

func (z *ZerologAdapter) Info(msg string, args ...interface{}) {
	z.logger.Info().Fields(pairs(args)).Msg(msg)
}

func (z *ZerologAdapter) Warn(msg string, args ...interface{}) {
	z.logger.Warn().Fields(pairs(args)).Msg(msg)
}

func (z *ZerologAdapter) Error(msg string, args ...interface{}) {
	z.logger.Error().Fields(pairs(args)).Msg(msg)
}

// pairs turns alternating key/value args into a field map. A dangling value
// is kept under "!BADKEY" the way slog does.
func pairs(args []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fields["!BADKEY"] = args[i]
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if err, ok := args[i+1].(error); ok {
			fields[key] = err.Error()
			continue
		}
		fields[key] = args[i+1]
	}
	return fields
}

func slogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func zerologLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NoOp discards everything.
type NoOp struct{}

func (NoOp) Debug(string, ...interface{}) {}
func (NoOp) Info(string, ...interface{})  {}
func (NoOp) Warn(string, ...interface{})  {}
func (NoOp) Error(string, ...interface{}) {}

// OrNoOp returns l, or NoOp when l is nil.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOp{}
	}
	return l
}
