package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Field type
type Field = zapcore.Field

// Level type
type Level = zapcore.Level

const (
	// DebugLevel level
	DebugLevel Level = zapcore.DebugLevel
	// InfoLevel level
	InfoLevel Level = zapcore.InfoLevel
	// WarnLevel level
	WarnLevel Level = zapcore.WarnLevel
	// ErrorLevel level
	ErrorLevel Level = zapcore.ErrorLevel
	// FatalLevel level
	FatalLevel Level = zapcore.FatalLevel
)

// Logger interface
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	With(fields ...Field) Logger
	Named(name string) Logger
	Sync() error
}

// Config defines logger configuration
type Config struct {
	Level         string                 `json:"level" yaml:"level" mapstructure:"level"`
	Encoding      string                 `json:"encoding" yaml:"encoding" mapstructure:"encoding"`
	OutputPaths   []string               `json:"outputPaths" yaml:"outputPaths" mapstructure:"outputPaths"`
	ErrorPaths    []string               `json:"errorPaths" yaml:"errorPaths" mapstructure:"errorPaths"`
	MaxSize       int                    `json:"maxSize" yaml:"maxSize" mapstructure:"maxSize"` // MB
	MaxBackups    int                    `json:"maxBackups" yaml:"maxBackups" mapstructure:"maxBackups"`
	MaxAge        int                    `json:"maxAge" yaml:"maxAge" mapstructure:"maxAge"` // days
	Compress      bool                   `json:"compress" yaml:"compress" mapstructure:"compress"`
	Development   bool                   `json:"development" yaml:"development" mapstructure:"development"`
	InitialFields map[string]interface{} `json:"initialFields" yaml:"initialFields" mapstructure:"initialFields"`
}

type logger struct {
	zap *zap.Logger
}

// Option defines logger option function
type Option func(*Config)

// WithLevel sets logger level
func WithLevel(level string) Option {
	return func(c *Config) {
		c.Level = level
	}
}

// WithEncoding sets logger encoding
func WithEncoding(encoding string) Option {
	return func(c *Config) {
		c.Encoding = encoding
	}
}

// WithOutputPaths sets logger output paths
func WithOutputPaths(paths []string) Option {
	return func(c *Config) {
		c.OutputPaths = paths
	}
}

// WithDevelopment toggles zap development mode
func WithDevelopment(dev bool) Option {
	return func(c *Config) {
		c.Development = dev
	}
}

// WithInitialFields attaches fields to every entry
func WithInitialFields(fields map[string]interface{}) Option {
	return func(c *Config) {
		for k, v := range fields {
			c.InitialFields[k] = v
		}
	}
}

// WithRotation configures lumberjack rotation for file outputs
func WithRotation(maxSizeMB, maxBackups, maxAgeDays int, compress bool) Option {
	return func(c *Config) {
		c.MaxSize = maxSizeMB
		c.MaxBackups = maxBackups
		c.MaxAge = maxAgeDays
		c.Compress = compress
	}
}

// WithErrorPaths sets the paths receiving internal zap errors
func WithErrorPaths(paths []string) Option {
	return func(c *Config) {
		c.ErrorPaths = paths
	}
}

// WithConfig applies every non-zero setting of c
func WithConfig(c Config) Option {
	return func(cfg *Config) {
		if c.Level != "" {
			cfg.Level = c.Level
		}
		if c.Encoding != "" {
			cfg.Encoding = c.Encoding
		}
		if len(c.OutputPaths) > 0 {
			cfg.OutputPaths = c.OutputPaths
		}
		if len(c.ErrorPaths) > 0 {
			cfg.ErrorPaths = c.ErrorPaths
		}
		if c.MaxSize > 0 {
			cfg.MaxSize = c.MaxSize
		}
		if c.MaxBackups > 0 {
			cfg.MaxBackups = c.MaxBackups
		}
		if c.MaxAge > 0 {
			cfg.MaxAge = c.MaxAge
		}
		cfg.Compress = c.Compress
		cfg.Development = c.Development
		for k, v := range c.InitialFields {
			cfg.InitialFields[k] = v
		}
	}
}

// NewNop returns a logger that discards everything
func NewNop() Logger {
	return &logger{zap: zap.NewNop()}
}

// NewLogger creates a new logger instance
func NewLogger(opts ...Option) (Logger, error) {
	// Default config
	cfg := &Config{
		Level:         "info",
		Encoding:      "json",
		OutputPaths:   []string{"stdout"},
		ErrorPaths:    []string{"stderr"},
		MaxSize:       100,
		MaxBackups:    3,
		MaxAge:        7,
		Compress:      true,
		InitialFields: make(map[string]interface{}),
	}

	// Apply options
	for _, opt := range opts {
		opt(cfg)
	}

	// Create directories if needed
	for _, path := range append(cfg.OutputPaths, cfg.ErrorPaths...) {
		if path != "stdout" && path != "stderr" {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, fmt.Errorf("can't create log directory: %w", err)
			}
		}
	}

	// Create core encoder
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// Parse log level
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("can't parse log level: %w", err)
	}

	// Create writers for each output path
	var cores []zapcore.Core
	for _, path := range cfg.OutputPaths {
		writer := cfg.writer(path)

		var encoder zapcore.Encoder
		if cfg.Encoding == "json" {
			encoder = zapcore.NewJSONEncoder(encoderConfig)
		} else {
			encoder = zapcore.NewConsoleEncoder(encoderConfig)
		}

		cores = append(cores, zapcore.NewCore(
			encoder,
			writer,
			level,
		))
	}

	// Create options
	options := []zap.Option{
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	}

	if cfg.Development {
		options = append(options, zap.Development())
	}

	// Internal zap errors go to the error paths
	if len(cfg.ErrorPaths) > 0 {
		sinks := make([]zapcore.WriteSyncer, 0, len(cfg.ErrorPaths))
		for _, path := range cfg.ErrorPaths {
			sinks = append(sinks, cfg.writer(path))
		}
		options = append(options, zap.ErrorOutput(zapcore.Lock(zapcore.NewMultiWriteSyncer(sinks...))))
	}

	// Add initial fields
	if len(cfg.InitialFields) > 0 {
		fields := make([]zap.Field, 0, len(cfg.InitialFields))
		for k, v := range cfg.InitialFields {
			fields = append(fields, zap.Any(k, v))
		}
		options = append(options, zap.Fields(fields...))
	}

	// Create logger
	zapLogger := zap.New(
		zapcore.NewTee(cores...),
		options...,
	)

	return &logger{zap: zapLogger}, nil
}

// writer returns the sink for path: the std streams or a rotated file
func (c *Config) writer(path string) zapcore.WriteSyncer {
	switch path {
	case "stdout":
		return zapcore.AddSync(os.Stdout)
	case "stderr":
		return zapcore.AddSync(os.Stderr)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
		Compress:   c.Compress,
	})
}

// Various field constructors
func String(key string, val string) Field          { return zap.String(key, val) }
func Int(key string, val int) Field                { return zap.Int(key, val) }
func Int64(key string, val int64) Field            { return zap.Int64(key, val) }
func Float64(key string, val float64) Field        { return zap.Float64(key, val) }
func Bool(key string, val bool) Field              { return zap.Bool(key, val) }
func Any(key string, val interface{}) Field        { return zap.Any(key, val) }
func Error(err error) Field                        { return zap.Error(err) }
func Time(key string, val time.Time) Field         { return zap.Time(key, val) }
func Duration(key string, val time.Duration) Field { return zap.Duration(key, val) }
func Stack() Field                                 { return zap.Stack("stacktrace") }
func Strings(key string, val []string) Field       { return zap.Strings(key, val) }

// Logger implementation
func (l *logger) Debug(msg string, fields ...Field) {
	l.zap.Debug(msg, fields...)
}

func (l *logger) Info(msg string, fields ...Field) {
	l.zap.Info(msg, fields...)
}

func (l *logger) Warn(msg string, fields ...Field) {
	l.zap.Warn(msg, fields...)
}

func (l *logger) Error(msg string, fields ...Field) {
	l.zap.Error(msg, fields...)
}

func (l *logger) Fatal(msg string, fields ...Field) {
	l.zap.Fatal(msg, fields...)
}

func (l *logger) With(fields ...Field) Logger {
	return &logger{zap: l.zap.With(fields...)}
}

func (l *logger) Named(name string) Logger {
	return &logger{zap: l.zap.Named(name)}
}

func (l *logger) Sync() error {
	return l.zap.Sync()
}

type contextKey string

// RunIDKey is the context key carrying the current migration run id
const RunIDKey contextKey = "run_id"

// ContextWithRunID stores runID in ctx for FromContext
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// FromContext returns l enriched with the run id carried by ctx, if any
func FromContext(ctx context.Context, l Logger) Logger {
	if runID, ok := ctx.Value(RunIDKey).(string); ok && runID != "" {
		return l.With(String("runId", runID))
	}
	return l
}

// RunIDFromContext returns the run id stored by ContextWithRunID
func RunIDFromContext(ctx context.Context) string {
	runID, _ := ctx.Value(RunIDKey).(string)
	return runID
}
