package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/isdmx/codecrate/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "codecrate"

type options struct {
	sink zapcore.WriteSyncer
}

// Option customizes logger construction
type Option func(*options)

// WithSink redirects log output. The default is stderr, since stdout belongs
// to the MCP stdio transport.
func WithSink(sink zapcore.WriteSyncer) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// NewFromConfig builds the application logger from the logging section.
func NewFromConfig(cfg *config.Config) (*zap.Logger, error) {
	return New(cfg.Logging.Mode, cfg.Logging.Level)
}

// New creates a logger. Production mode writes JSON with ISO8601
// timestamps; development mode writes colored console lines and adds
// caller and stack information.
func New(mode, level string, opts ...Option) (*zap.Logger, error) {
	o := options{sink: zapcore.Lock(os.Stderr)}
	for _, opt := range opts {
		opt(&o)
	}

	logLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging level: %s, must be one of 'debug', 'info', 'warn', 'error', 'dpanic', 'panic', 'fatal'", level)
	}

	var (
		encoder   zapcore.Encoder
		zapOpts   []zap.Option
		stackFrom = zapcore.ErrorLevel
	)

	switch mode {
	case "development":
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
		stackFrom = zapcore.WarnLevel
		zapOpts = append(zapOpts, zap.Development())
	case "production":
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "timestamp"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("invalid logging mode: %s, must be 'production' or 'development'", mode)
	}

	core := zapcore.NewCore(encoder, o.sink, zap.NewAtomicLevelAt(logLevel))

	zapOpts = append(zapOpts,
		zap.AddCaller(),
		zap.AddStacktrace(stackFrom),
		zap.ErrorOutput(o.sink),
		zap.Fields(zap.String("service", ServiceName)),
	)

	return zap.New(core, zapOpts...), nil
}
