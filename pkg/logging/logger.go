// Package logging is the structured logger shared by every core component.
// Adapted from the teacher's internal/auth/features/shared/infrastructure/logging
// package: same Logger interface and Field shape, backed by logrus, promoted
// to a top-level pkg so non-auth packages (cache, worker, notify) can share it.
package logging

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logging interface used throughout the service.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	Fatal(msg string, err error, fields ...Field)

	WithContext(ctx context.Context) Logger
	WithFields(fields ...Field) Logger
	WithError(err error) Logger
}

// Level is the logging level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// Field is a structured key-value pair.
type Field struct {
	Key   string
	Value interface{}
}

func String(key, value string) Field         { return Field{Key: key, Value: value} }
func Int(key string, value int) Field         { return Field{Key: key, Value: value} }
func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }
func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }
func Err(err error) Field                     { return Field{Key: "error", Value: err} }

type structuredLogger struct {
	logger  *logrus.Logger
	level   Level
	context context.Context
	fields  logrus.Fields
}

// New creates a new structured logger from the given config.
func New(cfg Config) Logger {
	cfg.Validate()

	logger := logrus.New()
	logger.SetOutput(cfg.Output)

	switch cfg.Format {
	case LogFormatJSON:
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	case LogFormatText:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	logger.SetLevel(toLogrusLevel(Level(cfg.Level)))
	logger.SetReportCaller(cfg.EnableCaller)

	base := logger.WithFields(logrus.Fields{})
	for k, v := range cfg.Metadata {
		base = base.WithField(k, v)
	}

	return &structuredLogger{
		logger: logger,
		level:  Level(cfg.Level),
		fields: toLogrusFields(base.Data),
	}
}

func toLogrusLevel(l Level) logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelInfo:
		return logrus.InfoLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.FatalLevel
	}
}

func toLogrusFields(m map[string]interface{}) logrus.Fields {
	f := make(logrus.Fields, len(m))
	for k, v := range m {
		f[k] = v
	}
	return f
}

func (l *structuredLogger) Debug(msg string, fields ...Field) {
	if l.level > LevelDebug {
		return
	}
	l.entry(fields...).Debug(msg)
}

func (l *structuredLogger) Info(msg string, fields ...Field) {
	if l.level > LevelInfo {
		return
	}
	l.entry(fields...).Info(msg)
}

func (l *structuredLogger) Warn(msg string, fields ...Field) {
	if l.level > LevelWarn {
		return
	}
	l.entry(fields...).Warn(msg)
}

func (l *structuredLogger) Error(msg string, err error, fields ...Field) {
	if l.level > LevelError {
		return
	}
	entry := l.entry(fields...)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}

func (l *structuredLogger) Fatal(msg string, err error, fields ...Field) {
	entry := l.entry(fields...)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Fatal(msg)
}

func (l *structuredLogger) WithContext(ctx context.Context) Logger {
	return &structuredLogger{logger: l.logger, level: l.level, context: ctx, fields: l.fields}
}

func (l *structuredLogger) WithFields(fields ...Field) Logger {
	next := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		next[k] = v
	}
	for _, f := range fields {
		next[f.Key] = f.Value
	}
	return &structuredLogger{logger: l.logger, level: l.level, context: l.context, fields: next}
}

func (l *structuredLogger) WithError(err error) Logger {
	return l.WithFields(Err(err))
}

func (l *structuredLogger) entry(fields ...Field) *logrus.Entry {
	entry := l.logger.WithFields(l.fields)

	if l.context != nil {
		if v := l.context.Value(ctxKeyRequestID); v != nil {
			entry = entry.WithField("request_id", v)
		}
	}

	for _, f := range fields {
		entry = entry.WithField(f.Key, f.Value)
	}

	if l.logger.ReportCaller {
		if pc, file, line, ok := runtime.Caller(2); ok {
			entry = entry.WithField("function", runtime.FuncForPC(pc).Name())
			entry = entry.WithField("file", fmt.Sprintf("%s:%d", file, line))
		}
	}

	return entry
}

type ctxKey string

const ctxKeyRequestID ctxKey = "request_id"

// WithRequestID attaches a request id to ctx for correlation in log lines.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

var global Logger

// InitGlobal sets the process-wide default logger.
func InitGlobal(cfg Config) {
	global = New(cfg)
}

// Global returns the process-wide logger, initializing a default one on first use.
func Global() Logger {
	if global == nil {
		global = New(DefaultConfig())
	}
	return global
}
