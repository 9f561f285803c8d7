// Package logging holds the process-wide logrus logger used by every facescan
// package. Packages log through Component entries so lines can be filtered by
// the part of the pipeline that produced them.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Logger is the shared logger. Tests may replace it.
var Logger = newLogger()

// Fields is an alias for logrus.Fields.
type Fields = logrus.Fields

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

// Init applies the level and, when file is set, also writes log lines to it.
// The closer must be closed on exit; without a file it does nothing.
func Init(level, file string) (io.Closer, error) {
	SetLevel(level)
	if file == "" {
		return nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nopCloser{}, err
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nopCloser{}, err
	}

	Logger.SetOutput(io.MultiWriter(os.Stderr, f))
	return f, nil
}

// SetLevel parses a logrus level name. Anything unparsable means info.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Logger.SetLevel(lvl)
}

// Debug logs at debug level.
func Debug(args ...interface{}) { Logger.Debug(args...) }

// Info logs at info level.
func Info(args ...interface{}) { Logger.Info(args...) }

// Warn logs at warning level.
func Warn(args ...interface{}) { Logger.Warn(args...) }

func Debugf(format string, args ...interface{}) { Logger.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { Logger.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { Logger.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { Logger.Errorf(format, args...) }

// WithFields returns an entry carrying fields.
func WithFields(fields Fields) *logrus.Entry {
	return Logger.WithFields(fields)
}

// WithError returns an entry carrying err.
func WithError(err error) *logrus.Entry {
	return Logger.WithError(err)
}

// Component returns an entry tagged with component=name.
func Component(name string) *logrus.Entry {
	return Logger.WithField("component", name)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
