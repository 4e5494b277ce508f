// Package logging builds the application logger. Components receive a
// named SugaredLogger (e.g. "hold", "routing") so log lines carry the
// subsystem tag.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/yswin-stack/campusride/config"
)

// New creates a zap logger from config. An empty LOG_FILE logs to stdout
// with console encoding; otherwise JSON lines go to a size-rotated file.
func New(cfg config.LogConfig) (*zap.SugaredLogger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: parse level %q: %w", cfg.Level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var core zapcore.Core
	if cfg.File == "" {
		devEnc := zap.NewDevelopmentEncoderConfig()
		devEnc.EncodeLevel = zapcore.CapitalLevelEncoder
		core = zapcore.NewCore(
			zapcore.NewConsoleEncoder(devEnc),
			zapcore.Lock(os.Stdout),
			level,
		)
	} else {
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, level)
	}

	return zap.New(core, zap.AddCaller()).Sugar(), nil
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *zap.SugaredLogger { return zap.NewNop().Sugar() }
