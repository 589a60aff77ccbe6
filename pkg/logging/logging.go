// Package logging builds the shared structured logger used across the
// module. Log calls go through ectologger; zap is the output backend.
package logging

import (
	"strings"

	"github.com/Gobusters/ectologger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	Level  string
	Pretty bool
}

// New creates an ectologger writing through a zap backend. Pretty
// enables the console encoder for local development.
func New(cfg Config) (ectologger.Logger, func(), error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Pretty {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	backend, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, nil, err
	}
	sugar := backend.Sugar()

	logger := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		fields := make([]any, 0, 2*len(msg.Fields)+2)
		for k, v := range msg.Fields {
			fields = append(fields, k, v)
		}
		if msg.Err != nil {
			fields = append(fields, "error", msg.Err)
		}

		switch strings.ToLower(msg.Level) {
		case "debug":
			sugar.Debugw(msg.Message, fields...)
		case "warn", "warning":
			sugar.Warnw(msg.Message, fields...)
		case "error":
			sugar.Errorw(msg.Message, fields...)
		case "fatal":
			sugar.Fatalw(msg.Message, fields...)
		default:
			sugar.Infow(msg.Message, fields...)
		}
	})

	flush := func() { _ = backend.Sync() }
	return logger, flush, nil
}

// Nop creates a logger that drops everything. Used by tests and as the
// default before configuration is loaded.
func Nop() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
