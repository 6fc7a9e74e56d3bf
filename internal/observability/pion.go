// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package observability

import (
	"fmt"

	"github.com/pion/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerFactory routes pion-style scoped loggers into a zap.Logger, so the
// stm library logs into the same sinks as the application.
type LoggerFactory struct {
	base *zap.Logger
}

// NewLoggerFactory returns a factory over base.
func NewLoggerFactory(base *zap.Logger) *LoggerFactory {
	return &LoggerFactory{base: base.WithOptions(zap.AddCallerSkip(1))}
}

// NewLogger returns a logger tagged with scope.
func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &zapLeveled{l: f.base.Named(scope)}
}

type zapLeveled struct {
	l *zap.Logger
}

func (z *zapLeveled) log(lvl zapcore.Level, msg string) {
	if ce := z.l.Check(lvl, msg); ce != nil {
		ce.Write()
	}
}

func (z *zapLeveled) logf(lvl zapcore.Level, format string, args ...interface{}) {
	if !z.l.Core().Enabled(lvl) {
		return
	}
	z.log(lvl, fmt.Sprintf(format, args...))
}

func (z *zapLeveled) Trace(msg string) { z.log(TraceLevel, msg) }
func (z *zapLeveled) Tracef(format string, args ...interface{}) {
	z.logf(TraceLevel, format, args...)
}
func (z *zapLeveled) Debug(msg string) { z.log(zap.DebugLevel, msg) }
func (z *zapLeveled) Debugf(format string, args ...interface{}) {
	z.logf(zap.DebugLevel, format, args...)
}
func (z *zapLeveled) Info(msg string) { z.log(zap.InfoLevel, msg) }
func (z *zapLeveled) Infof(format string, args ...interface{}) {
	z.logf(zap.InfoLevel, format, args...)
}
func (z *zapLeveled) Warn(msg string) { z.log(zap.WarnLevel, msg) }
func (z *zapLeveled) Warnf(format string, args ...interface{}) {
	z.logf(zap.WarnLevel, format, args...)
}
func (z *zapLeveled) Error(msg string) { z.log(zap.ErrorLevel, msg) }
func (z *zapLeveled) Errorf(format string, args ...interface{}) {
	z.logf(zap.ErrorLevel, format, args...)
}
