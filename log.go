package gocdp

import "github.com/sirupsen/logrus"

// baseLogger is the package-wide fallback used whenever a component is
// constructed without an explicit *logrus.Entry, mirroring the original client library's
// package-level Logger var.
var baseLogger = logrus.StandardLogger()

// componentLogger returns entry tagged with component, falling back to the
// package-wide logger (itself tagged) when entry is nil.
func componentLogger(entry *logrus.Entry, component string) *logrus.Entry {
	if entry == nil {
		entry = logrus.NewEntry(baseLogger)
	}
	return entry.WithField("component", component)
}

// SetLogLevel adjusts the verbosity of the package-wide fallback logger. It
// has no effect on Browsers constructed WithLogEntry.
func SetLogLevel(level logrus.Level) {
	baseLogger.SetLevel(level)
}
