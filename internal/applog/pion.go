package applog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// Factory implements pion's logging.LoggerFactory on top of slog. Each scope
// becomes a "scope" attribute on the records it emits.
type Factory struct {
	logger *slog.Logger
}

var _ logging.LoggerFactory = (*Factory)(nil)

func NewLoggerFactory(logger *slog.Logger) *Factory {
	return &Factory{logger: logger}
}

func (f *Factory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{logger: f.logger.With(slog.String("scope", scope))}
}

type leveledLogger struct {
	logger *slog.Logger
}

func (l *leveledLogger) log(level slog.Level, msg string) {
	l.logger.Log(context.Background(), level, msg)
}

func (l *leveledLogger) logf(level slog.Level, format string, args ...any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.Log(ctx, level, fmt.Sprintf(format, args...))
}

func (l *leveledLogger) Trace(msg string)                  { l.log(LevelTrace, msg) }
func (l *leveledLogger) Tracef(format string, args ...any) { l.logf(LevelTrace, format, args...) }
func (l *leveledLogger) Debug(msg string)                  { l.log(slog.LevelDebug, msg) }
func (l *leveledLogger) Debugf(format string, args ...any) { l.logf(slog.LevelDebug, format, args...) }
func (l *leveledLogger) Info(msg string)                   { l.log(slog.LevelInfo, msg) }
func (l *leveledLogger) Infof(format string, args ...any)  { l.logf(slog.LevelInfo, format, args...) }
func (l *leveledLogger) Warn(msg string)                   { l.log(slog.LevelWarn, msg) }
func (l *leveledLogger) Warnf(format string, args ...any)  { l.logf(slog.LevelWarn, format, args...) }
func (l *leveledLogger) Error(msg string)                  { l.log(slog.LevelError, msg) }
func (l *leveledLogger) Errorf(format string, args ...any) { l.logf(slog.LevelError, format, args...) }
