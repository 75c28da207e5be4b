package logging

import (
	"context"
	"fmt"
	"log/slog"

	pionlog "github.com/pion/logging"
)

// PionFactory routes pion's internal loggers into slog. Each pion scope
// becomes a "scope" attribute. pion is chatty at debug, so everything below
// warn is emitted at debug.
type PionFactory struct {
	Logger *slog.Logger
}

var _ pionlog.LoggerFactory = PionFactory{}

// NewLogger implements pion/logging.LoggerFactory.
func (f PionFactory) NewLogger(scope string) pionlog.LeveledLogger {
	base := f.Logger
	if base == nil {
		base = slog.Default()
	}
	return &pionLogger{logger: base.With("scope", "pion/"+scope)}
}

type pionLogger struct {
	logger *slog.Logger
}

func (l *pionLogger) log(level slog.Level, msg string) {
	l.logger.Log(context.Background(), level, msg)
}

func (l *pionLogger) Trace(msg string)                          { l.log(slog.LevelDebug-4, msg) }
func (l *pionLogger) Tracef(format string, args ...interface{}) { l.Trace(fmt.Sprintf(format, args...)) }
func (l *pionLogger) Debug(msg string)                          { l.log(slog.LevelDebug, msg) }
func (l *pionLogger) Debugf(format string, args ...interface{}) { l.Debug(fmt.Sprintf(format, args...)) }
func (l *pionLogger) Info(msg string)                           { l.log(slog.LevelDebug, msg) }
func (l *pionLogger) Infof(format string, args ...interface{})  { l.Info(fmt.Sprintf(format, args...)) }
func (l *pionLogger) Warn(msg string)                           { l.log(slog.LevelWarn, msg) }
func (l *pionLogger) Warnf(format string, args ...interface{})  { l.Warn(fmt.Sprintf(format, args...)) }
func (l *pionLogger) Error(msg string)                          { l.log(slog.LevelError, msg) }
func (l *pionLogger) Errorf(format string, args ...interface{}) { l.Error(fmt.Sprintf(format, args...)) }
