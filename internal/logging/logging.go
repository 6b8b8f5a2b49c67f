// Package logging builds the host logger and the console stream that mirrors
// host log lines to the backend as console_log events.
//
// Every component receives a *zap.Logger at construction and scopes it with
// Named. The logger returned by New is a tee of the local output core and a
// StreamCore, so anything logged anywhere in the process can reach the panel
// console once a LogSink is attached.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Level is debug, info, warn or error. Empty means info.
	Level string

	// File additionally writes JSON lines to this path when set.
	File string

	// Console is where human-readable lines go. Defaults to stderr.
	Console io.Writer
}

// Logger bundles the process logger with the handles needed to adjust it at
// runtime.
type Logger struct {
	*zap.Logger

	// Level can be changed while running.
	Level zap.AtomicLevel

	// Stream forwards entries to an attached LogSink.
	Stream *StreamCore

	file *os.File
}

// New builds a Logger.
func New(opts Options) (*Logger, error) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level.SetLevel(parsed)
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(console), level),
	}

	var file *os.File
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(f), level))
	}

	stream := NewStreamCore(level)
	cores = append(cores, stream)

	return &Logger{
		Logger: zap.New(zapcore.NewTee(cores...)),
		Level:  level,
		Stream: stream,
		file:   file,
	}, nil
}

// Close flushes and releases the log file.
func (l *Logger) Close() error {
	_ = l.Logger.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
