// Package zaplog adapts a zap logger to the pion LoggerFactory used by the
// library packages, so binaries get one structured log stream.
package zaplog

import (
	"fmt"
	"strings"

	"github.com/pion/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps a level name to a zap level. "trace" is zap's debug level.
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(name) {
	case "trace":
		return zapcore.DebugLevel, nil
	case "":
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return l, fmt.Errorf("zaplog: unknown level %q", name)
	}
	return l, nil
}

// New builds a console logger at level writing to stderr.
func New(level string) (*zap.Logger, error) {
	l, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(l)
	config.DisableStacktrace = true
	return config.Build()
}

// Factory is a logging.LoggerFactory backed by zap. Scopes become logger
// names.
type Factory struct {
	logger *zap.Logger
}

var _ logging.LoggerFactory = (*Factory)(nil)

// NewFactory wraps logger. A nil logger discards everything.
func NewFactory(logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{logger: logger}
}

// NewLogger implements logging.LoggerFactory.
func (f *Factory) NewLogger(scope string) logging.LeveledLogger {
	return &leveled{s: f.logger.Named(scope).WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

type leveled struct {
	s *zap.SugaredLogger
}

func (l *leveled) Trace(msg string)                          { l.s.Debug(msg) }
func (l *leveled) Tracef(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l *leveled) Debug(msg string)                          { l.s.Debug(msg) }
func (l *leveled) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l *leveled) Info(msg string)                           { l.s.Info(msg) }
func (l *leveled) Infof(format string, args ...interface{})  { l.s.Infof(format, args...) }
func (l *leveled) Warn(msg string)                           { l.s.Warn(msg) }
func (l *leveled) Warnf(format string, args ...interface{})  { l.s.Warnf(format, args...) }
func (l *leveled) Error(msg string)                          { l.s.Error(msg) }
func (l *leveled) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }
