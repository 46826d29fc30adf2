// Package logger provides the structured logger passed explicitly down
// through the swarm, replacing a global logger with dynamic name munging.
package logger

import "github.com/sirupsen/logrus"

// Logger is the structured logging surface used throughout the swarm. It is
// always obtained via New or WithField, never a package-level instance.
type Logger interface {
	Debugln(args ...interface{})
	Infoln(args ...interface{})
	Warningln(args ...interface{})
	Errorln(args ...interface{})
	WithField(key string, value interface{}) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New returns a root logger writing structured fields to stderr.
func New() Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) Debugln(args ...interface{})   { l.entry.Debugln(args...) }
func (l *logrusLogger) Infoln(args ...interface{})    { l.entry.Infoln(args...) }
func (l *logrusLogger) Warningln(args ...interface{}) { l.entry.Warningln(args...) }
func (l *logrusLogger) Errorln(args ...interface{})   { l.entry.Errorln(args...) }

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}
