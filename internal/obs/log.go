package obs

import (
	"fmt"
	"os"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig controls logger construction.
type LogConfig struct {
	Level string
	Dev   bool
	// File enables a rotating file sink next to stdout when set.
	File   string
	MaxAge time.Duration
}

func levelFromString(l string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(l)) {
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

// NewLogger builds the shared structured logger used across the service.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	lvl := levelFromString(cfg.Level)
	if cfg.Dev {
		c := zap.NewDevelopmentConfig()
		c.Level = zap.NewAtomicLevelAt(lvl)
		return c.Build()
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	sink := zapcore.AddSync(os.Stdout)

	if cfg.File != "" {
		maxAge := cfg.MaxAge
		if maxAge <= 0 {
			maxAge = 7 * 24 * time.Hour
		}
		rl, err := rotatelogs.New(
			cfg.File+".%Y%m%d",
			rotatelogs.WithLinkName(cfg.File),
			rotatelogs.WithMaxAge(maxAge),
			rotatelogs.WithRotationTime(24*time.Hour),
		)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(rl))
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, lvl)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}
