// Package logging provides the narrow logging interface used across the
// voicebridge runtime, backed by zap with lumberjack-rotated file sinks.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the only logging surface the rest of the codebase depends on.
// Keeping it narrow lets call sites stay agnostic of zap's full API.
type Logger interface {
	Infof(template string, args ...interface{})
	Debugf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorf(template string, args ...interface{})
	With(keysAndValues ...interface{}) Logger
}

type sugared struct {
	s *zap.SugaredLogger
}

// Config controls where logs go and how verbose they are.
type Config struct {
	Level      string // debug, info, warn, error
	FilePath   string // empty disables file rotation, stderr only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a Logger from Config. An empty Config produces an info-level
// logger writing to stderr only.
func New(cfg Config) (Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	var cores []zapcore.Core
	cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level))

	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}

	core := zapcore.NewTee(cores...)
	l := zap.New(core, zap.AddCaller())
	return &sugared{s: l.Sugar()}, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (l *sugared) Infof(template string, args ...interface{})  { l.s.Infof(template, args...) }
func (l *sugared) Debugf(template string, args ...interface{}) { l.s.Debugf(template, args...) }
func (l *sugared) Errorf(template string, args ...interface{}) { l.s.Errorf(template, args...) }
func (l *sugared) Warnw(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, keysAndValues...)
}
func (l *sugared) With(keysAndValues ...interface{}) Logger {
	return &sugared{s: l.s.With(keysAndValues...)}
}

// NewNop returns a Logger that discards everything. Useful for tests.
func NewNop() Logger {
	return &sugared{s: zap.NewNop().Sugar()}
}
