package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger beyond the environment preset.
type Options struct {
	Level string // debug, info, warn, error; empty keeps the environment default
	File  *FileOptions
}

// FileOptions enables a rotating JSON log file next to the console output.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewLogger creates a zap logger for the given environment.
// prod uses JSON output, local/dev use colored console output.
// When opts.File is set, entries are also written as JSON to a rotating file.
func NewLogger(env string, opts Options) (*zap.Logger, error) {
	var (
		level   zapcore.Level
		encoder zapcore.Encoder
	)
	switch env {
	case "prod":
		level = zapcore.InfoLevel
		encoder = zapcore.NewJSONEncoder(productionEncoderConfig())
	case "local", "dev", "docker":
		level = zapcore.DebugLevel
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(ec)
	default:
		return nil, fmt.Errorf("unknown environment %q for logger", env)
	}

	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}
	atom := zap.NewAtomicLevelAt(level)

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), atom)
	if f := opts.File; f != nil && f.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   f.Path,
			MaxSize:    f.MaxSizeMB,
			MaxBackups: f.MaxBackups,
			MaxAge:     f.MaxAgeDays,
			Compress:   f.Compress,
		}
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(productionEncoderConfig()),
			zapcore.AddSync(rotator),
			atom,
		)
		core = zapcore.NewTee(core, fileCore)
	}

	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func productionEncoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	return ec
}
