package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log formats accepted by New.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New creates a logger. FormatJSON selects the production encoder and
// FormatConsole the development one. An empty level keeps the format's
// default.
func New(format, level string) (*zap.Logger, error) {
	var config zap.Config

	switch format {
	case FormatJSON:
		config = zap.NewProductionConfig()
	case FormatConsole:
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parsing log level: %w", err)
		}

		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	return config.Build(zap.AddCaller())
}
