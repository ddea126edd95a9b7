package lg

import (
	"context"
	"flag"
	"log"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a structured log field, aliasing zapcore.Field.
type Field = zapcore.Field

func String(key, value string) Field    { return zap.String(key, value) }
func Int(key string, value int) Field   { return zap.Int(key, value) }
func Bool(key string, value bool) Field { return zap.Bool(key, value) }
func Err(err error) Field               { return zap.Error(err) }

// Logger is the minimal structured logging surface used across torito.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
	Sync() error
}

type Config struct {
	ServiceName string
	Debug       bool
	Format      string // "json" or "console"
}

// RegisterFlags binds -debug and -log-format on fs.
func RegisterFlags(fs *flag.FlagSet, serviceName string) *Config {
	cfg := &Config{ServiceName: serviceName}
	fs.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")
	fs.StringVar(&cfg.Format, "log-format", "console", "json or console")
	return cfg
}

// New builds a zap-backed Logger. Debug switches to the development config.
func New(cfg *Config) Logger {
	var baseCfg zap.Config
	if cfg.Debug {
		baseCfg = zap.NewDevelopmentConfig()
		baseCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		baseCfg = zap.NewProductionConfig()
		baseCfg.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}

	format := strings.ToLower(cfg.Format)
	if format != "json" {
		format = "console"
	}
	baseCfg.Encoding = format
	baseCfg.OutputPaths = []string{"stderr"}
	baseCfg.EncoderConfig.TimeKey = "timestamp"
	baseCfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	if cfg.ServiceName != "" {
		baseCfg.InitialFields = map[string]any{"service": cfg.ServiceName}
	}

	logger, err := baseCfg.Build(zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		log.Printf("[FATAL] cannot initialize zap logger: %v", err)
		return Discard
	}
	return &zapLogger{l: logger}
}

// Wrap adapts an existing *zap.Logger, e.g. zaptest loggers in tests.
func Wrap(l *zap.Logger) Logger {
	return &zapLogger{l: l}
}

type zapLogger struct{ l *zap.Logger }

func (z *zapLogger) Debug(msg string, fields ...Field) { z.l.Debug(msg, fields...) }
func (z *zapLogger) Info(msg string, fields ...Field)  { z.l.Info(msg, fields...) }
func (z *zapLogger) Warn(msg string, fields ...Field)  { z.l.Warn(msg, fields...) }
func (z *zapLogger) Error(msg string, fields ...Field) { z.l.Error(msg, fields...) }
func (z *zapLogger) With(fields ...Field) Logger       { return &zapLogger{z.l.With(fields...)} }
func (z *zapLogger) Sync() error                       { return z.l.Sync() }

type ctxKey struct{}

// Attach returns a new context carrying l.
func Attach(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the attached Logger, or Discard.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
		return l
	}
	return Discard
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Warn(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}
func (noopLogger) With(...Field) Logger   { return noopLogger{} }
func (noopLogger) Sync() error            { return nil }

var Discard Logger = noopLogger{}
