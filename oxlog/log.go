// Package oxlog is the structured-logging facade every Oxcache
// component logs through. It exists so the core engine never imports a
// concrete logging library directly — callers that already run their
// own zap, logr, or slog pipeline adapt it to this interface instead of
// getting a second one bolted on.
package oxlog

import "go.uber.org/zap"

// Field is a structured log attribute. Build them with String, Int,
// Err, etc. below; they are a thin indirection over zap.Field so
// callers never import zap directly just to log.
type Field = zap.Field

// Logger is the minimal structured-logging surface Oxcache depends on.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// String, Int, Uint64, Err, Duration are re-exported zap field
// constructors so callers building Fields don't need a zap import.
var (
	String   = zap.String
	Int      = zap.Int
	Uint64   = zap.Uint64
	Err      = zap.Error
	Duration = zap.Duration
	Bool     = zap.Bool
)

// zapLogger adapts *zap.Logger to Logger.
type zapLogger struct {
	l *zap.Logger
}

// NewZap wraps a *zap.Logger as a Logger. Pass zap.NewProduction() or
// zap.NewDevelopment() output, or any custom-built *zap.Logger.
func NewZap(l *zap.Logger) Logger {
	return &zapLogger{l: l}
}

// NewNop returns a Logger that discards everything — the default when
// a caller doesn't supply one, matching the teacher's "works with zero
// configuration" posture for optional collaborators.
func NewNop() Logger {
	return &zapLogger{l: zap.NewNop()}
}

func (z *zapLogger) Debug(msg string, fields ...Field) { z.l.Debug(msg, fields...) }
func (z *zapLogger) Info(msg string, fields ...Field)  { z.l.Info(msg, fields...) }
func (z *zapLogger) Warn(msg string, fields ...Field)  { z.l.Warn(msg, fields...) }
func (z *zapLogger) Error(msg string, fields ...Field) { z.l.Error(msg, fields...) }
func (z *zapLogger) With(fields ...Field) Logger       { return &zapLogger{l: z.l.With(fields...)} }
