// Package log is the focus daemon's logging facade. Components depend on the
// Logger interface and receive an instance through their options structs; the
// global logger exists for process wiring in cmd/ and for quick call sites.
package log

import (
	"fmt"
	"maps"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global Logger = newZapLogger(false, zapcore.InfoLevel) // default to prod/info

// Logger defines the focus logging interface.
type Logger interface {
	Info(fields map[string]any, msg string)
	Error(fields map[string]any, msg string)
	Debug(fields map[string]any, msg string)
	Warn(fields map[string]any, msg string)
	Panic(fields map[string]any, msg string)
	Fatal(fields map[string]any, msg string)
}

// SetLogger replaces the global logger instance.
func SetLogger(l Logger) {
	global = l
}

// GetLogger returns the current global logger instance.
func GetLogger() Logger {
	return global
}

// Configure sets up the global logger based on env and level.
// Any env other than "prod" selects the human-readable console encoder.
func Configure(env, level string) error {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	global = newZapLogger(env != "prod", lvl)
	return nil
}

// With returns a Logger that adds fields to every entry written through it.
// Per-call fields win over the bound ones on key collision.
func With(l Logger, fields map[string]any) Logger {
	if len(fields) == 0 {
		return l
	}
	if fl, ok := l.(*fieldLogger); ok {
		merged := maps.Clone(fl.fields)
		maps.Copy(merged, fields)
		return &fieldLogger{next: fl.next, fields: merged}
	}
	return &fieldLogger{next: l, fields: maps.Clone(fields)}
}

// Component is shorthand for With(l, {"component": name}).
func Component(l Logger, name string) Logger {
	return With(l, map[string]any{"component": name})
}

// Info logs at info level using the global logger.
func Info(fields map[string]any, msg string) { global.Info(fields, msg) }

// Error logs at error level using the global logger.
func Error(fields map[string]any, msg string) { global.Error(fields, msg) }

// Debug logs at debug level using the global logger.
func Debug(fields map[string]any, msg string) { global.Debug(fields, msg) }

// Warn logs at warn level using the global logger.
func Warn(fields map[string]any, msg string) { global.Warn(fields, msg) }

// Panic logs at panic level using the global logger.
func Panic(fields map[string]any, msg string) { global.Panic(fields, msg) }

// Fatal logs at fatal level using the global logger.
func Fatal(fields map[string]any, msg string) { global.Fatal(fields, msg) }

// zapLogger implements Logger using Uber's zap.
type zapLogger struct {
	base *zap.Logger
}

func newZapLogger(dev bool, level zapcore.Level) Logger {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.LevelKey = "level"

	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return &zapLogger{base: logger}
}

func (l *zapLogger) Info(fields map[string]any, msg string) {
	l.base.Info(msg, zapFields(fields)...)
}

func (l *zapLogger) Error(fields map[string]any, msg string) {
	l.base.Error(msg, zapFields(fields)...)
}

func (l *zapLogger) Debug(fields map[string]any, msg string) {
	l.base.Debug(msg, zapFields(fields)...)
}

func (l *zapLogger) Warn(fields map[string]any, msg string) {
	l.base.Warn(msg, zapFields(fields)...)
}

func (l *zapLogger) Panic(fields map[string]any, msg string) {
	l.base.Panic(msg, zapFields(fields)...)
}

func (l *zapLogger) Fatal(fields map[string]any, msg string) {
	l.base.Fatal(msg, zapFields(fields)...)
}

// zapFields converts the field map, unwrapping errors so zap renders them
// under its error encoder instead of as opaque structs.
func zapFields(m map[string]any) []zap.Field {
	fields := make([]zap.Field, 0, len(m))
	for k, v := range m {
		if err, ok := v.(error); ok {
			fields = append(fields, zap.NamedError(k, err))
			continue
		}
		fields = append(fields, zap.Any(k, v))
	}
	return fields
}

// fieldLogger binds a fixed set of fields in front of another Logger.
type fieldLogger struct {
	next   Logger
	fields map[string]any
}

func (l *fieldLogger) merge(fields map[string]any) map[string]any {
	out := maps.Clone(l.fields)
	maps.Copy(out, fields)
	return out
}

func (l *fieldLogger) Info(f map[string]any, msg string)  { l.next.Info(l.merge(f), msg) }
func (l *fieldLogger) Error(f map[string]any, msg string) { l.next.Error(l.merge(f), msg) }
func (l *fieldLogger) Debug(f map[string]any, msg string) { l.next.Debug(l.merge(f), msg) }
func (l *fieldLogger) Warn(f map[string]any, msg string)  { l.next.Warn(l.merge(f), msg) }
func (l *fieldLogger) Panic(f map[string]any, msg string) { l.next.Panic(l.merge(f), msg) }
func (l *fieldLogger) Fatal(f map[string]any, msg string) { l.next.Fatal(l.merge(f), msg) }

// noopLogger is a Logger implementation that discards all log messages.
type noopLogger struct{}

func (n *noopLogger) Info(map[string]any, string)  {}
func (n *noopLogger) Error(map[string]any, string) {}
func (n *noopLogger) Debug(map[string]any, string) {}
func (n *noopLogger) Warn(map[string]any, string)  {}
func (n *noopLogger) Panic(map[string]any, string) {}
func (n *noopLogger) Fatal(map[string]any, string) {}

// NewNoopLogger returns a Logger that discards all log messages.
func NewNoopLogger() Logger {
	return &noopLogger{}
}
