// Package logging bridges the application's structured logging (logrus)
// into the pion/logging.LoggerFactory/LeveledLogger interfaces consumed by
// the transport and stack layers, so both ends of the log pipeline share
// one set of handlers, levels and output formatting.
package logging

import (
	"github.com/pion/logging"
	"github.com/sirupsen/logrus"
)

// LogrusFactory creates scoped LeveledLoggers backed by a shared
// logrus.Logger. The scope passed to NewLogger becomes the "scope" field
// on every entry from that logger.
type LogrusFactory struct {
	Logger *logrus.Logger
}

// NewLogrusFactory wraps an existing logrus.Logger. A nil logger uses
// logrus.StandardLogger().
func NewLogrusFactory(logger *logrus.Logger) *LogrusFactory {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusFactory{Logger: logger}
}

// NewLogger implements logging.LoggerFactory.
func (f *LogrusFactory) NewLogger(scope string) logging.LeveledLogger {
	return &logrusLeveledLogger{entry: f.Logger.WithField("scope", scope)}
}

type logrusLeveledLogger struct {
	entry *logrus.Entry
}

func (l *logrusLeveledLogger) Trace(msg string)                          { l.entry.Trace(msg) }
func (l *logrusLeveledLogger) Tracef(format string, args ...interface{}) { l.entry.Tracef(format, args...) }
func (l *logrusLeveledLogger) Debug(msg string)                          { l.entry.Debug(msg) }
func (l *logrusLeveledLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLeveledLogger) Info(msg string)                           { l.entry.Info(msg) }
func (l *logrusLeveledLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLeveledLogger) Warn(msg string)                           { l.entry.Warn(msg) }
func (l *logrusLeveledLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLeveledLogger) Error(msg string)                          { l.entry.Error(msg) }
func (l *logrusLeveledLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

var _ logging.LoggerFactory = (*LogrusFactory)(nil)
