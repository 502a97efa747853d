// Package logging wraps zap with key redaction and a level that follows settings.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"friday/internal/domain"
)

// Logger is a sugared zap logger whose level can change at runtime.
type Logger struct {
	SugaredLogger *zap.SugaredLogger
	level         zap.AtomicLevel
}

// New builds a logger for mode ("prod"/"production" or anything else for dev).
func New(mode string, level domain.LogLevel) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(toZapLevel(level))

	zapLogger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return &Logger{SugaredLogger: zapLogger.Sugar(), level: cfg.Level}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), level: zap.NewAtomicLevel()}
}

// NewWithCore builds a logger on top of an explicit core (used by tests).
func NewWithCore(core zapcore.Core, level zap.AtomicLevel) *Logger {
	return &Logger{SugaredLogger: zap.New(core).Sugar(), level: level}
}

// SetLevel changes verbosity for this logger and every child created by With.
func (l *Logger) SetLevel(level domain.LogLevel) {
	l.level.SetLevel(toZapLevel(level))
}

// Level reports the current verbosity.
func (l *Logger) Level() domain.LogLevel {
	switch l.level.Level() {
	case zapcore.DebugLevel:
		return domain.LogLevelDebug
	case zapcore.WarnLevel:
		return domain.LogLevelWarning
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return domain.LogLevelError
	default:
		return domain.LogLevelInfo
	}
}

func (l *Logger) Sync() {
	_ = l.SugaredLogger.Sync()
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Debugw(msg, sanitizeKVs(keysAndValues)...)
}
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Infow(msg, sanitizeKVs(keysAndValues)...)
}
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Warnw(msg, sanitizeKVs(keysAndValues)...)
}
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, sanitizeKVs(keysAndValues)...)
}
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		SugaredLogger: l.SugaredLogger.With(sanitizeKVs(keysAndValues)...),
		level:         l.level,
	}
}

func toZapLevel(level domain.LogLevel) zapcore.Level {
	switch level {
	case domain.LogLevelDebug:
		return zapcore.DebugLevel
	case domain.LogLevelWarning:
		return zapcore.WarnLevel
	case domain.LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

var redactKeys = []string{"api_key", "apikey", "api_keys", "apikeys", "secret", "token", "password", "authorization"}

func sanitizeKVs(kv []interface{}) []interface{} {
	if len(kv) == 0 {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		if i == len(kv)-1 {
			out = append(out, kv[i])
			break
		}
		key := fmt.Sprint(kv[i])
		if isRedactKey(key) {
			out = append(out, key, "[REDACTED]")
			continue
		}
		out = append(out, key, kv[i+1])
	}
	return out
}

func isRedactKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, candidate := range redactKeys {
		if strings.Contains(k, candidate) {
			return true
		}
	}
	return false
}
