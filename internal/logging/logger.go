// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the console encoding and the append-only log files.
type Options struct {
	Development bool
	// HistoryFile receives info and above in a human-readable form.
	HistoryFile string
	// ErrorFile receives error and above.
	ErrorFile string
}

// New builds a zap.Logger that writes to stderr and to the configured files.
func New(opts Options) (*zap.Logger, error) {
	base, err := consoleLogger(opts.Development)
	if err != nil {
		return nil, err
	}
	cores := []zapcore.Core{base.Core()}
	for _, sink := range []struct {
		path  string
		level zapcore.Level
	}{
		{opts.HistoryFile, zapcore.InfoLevel},
		{opts.ErrorFile, zapcore.ErrorLevel},
	} {
		if sink.path == "" {
			continue
		}
		core, err := fileCore(sink.path, sink.level)
		if err != nil {
			return nil, err
		}
		cores = append(cores, core)
	}
	if len(cores) == 1 {
		return base, nil
	}
	return zap.New(
		zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	), nil
}

func consoleLogger(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

func fileCore(path string, level zapcore.Level) (zapcore.Core, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir for %s: %w", path, err)
	}
	ws, _, err := zap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, level), nil
}
