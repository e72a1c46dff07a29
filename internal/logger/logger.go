// Package logger provides the process-wide logrus logger.
//
// Packages keep a named entry:
//
//	var log = logger.WithName("scanner")
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
		if os.Getenv("GO_ENV") == "test" {
			level = "silent"
		}
	}
	_ = apply(l, level) //nolint:errcheck // falls back to info
	return l
}

// Get returns the shared logger.
func Get() *logrus.Logger {
	return base
}

// WithName returns an entry tagged with a component name.
func WithName(name string) *logrus.Entry {
	return base.WithField("component", name)
}

// SetOutput redirects all log output.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// Configure sets the level from a config string. "silent" discards output.
// GO_ENV=test always wins so test runs stay quiet.
func Configure(level string) error {
	if os.Getenv("GO_ENV") == "test" {
		base.SetOutput(io.Discard)
		return nil
	}
	return apply(base, level)
}

func apply(l *logrus.Logger, level string) error {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "silent" {
		l.SetOutput(io.Discard)
		return nil
	}
	if l.Out == io.Discard {
		l.SetOutput(os.Stderr)
	}
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		l.SetLevel(logrus.InfoLevel)
		return err
	}
	l.SetLevel(lvl)
	return nil
}
