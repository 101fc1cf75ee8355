// Package rlog is the structured logging wrapper shared by the packages in
// this module that log. It wraps logrus rather than introducing a
// bespoke logger, grounded on the teacher corpus's cmd/get binaries
// (runZeroInc-conniver and runZeroInc-sockstats), which both import
// sirupsen/logrus directly for connection lifecycle logging of exactly
// this shape.
package rlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is a per-session logger carrying fixed fields (session id, role,
// peer address) so every call site doesn't have to repeat them.
type Logger struct {
	entry *logrus.Entry
}

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetLevel parses and applies a log level name ("debug", "info", "warn",
// "error"), ignoring unrecognized values by leaving the current level.
func SetLevel(name string) {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return
	}
	base.SetLevel(lvl)
}

// New creates a Logger carrying the given fixed fields.
func New(fields logrus.Fields) *Logger {
	return &Logger{entry: base.WithFields(fields)}
}

// With returns a derived Logger with additional fixed fields merged in.
func (l *Logger) With(fields logrus.Fields) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
