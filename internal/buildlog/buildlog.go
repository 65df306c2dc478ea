// Package buildlog is the observer's logging surface: a thin wrapper around
// logrus that gives every fatal, recoverable, and debug line a single place
// to go through. The observer shares its address space with untrusted
// child code, so Fatal here calls os.Exit directly — there is no
// panic/recover boundary worth relying on.
package buildlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func init() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		DisableColors:    true,
		FullTimestamp:    true,
		DisableSorting:   true,
		QuoteEmptyFields: true,
	})
	if os.Getenv("BXL_OBSERVER_DEBUG") != "" {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
}

// Fatalf logs a fatal configuration error (missing manifest env var,
// unreadable manifest, unparseable blob, oversize non-debug record) and
// terminates the process with exit code 1. It never returns.
func Fatalf(format string, args ...interface{}) {
	log.Fatalf(format, args...)
}

// FatalPtracef logs a fatal ptrace error (PTRACE_SEIZE/PTRACE_INTERRUPT
// failure) and terminates with -1, scoped to the tracer process only.
func FatalPtracef(format string, args ...interface{}) {
	log.Errorf(format, args...)
	os.Exit(255) // -1 as an unsigned exit code
}

// Debugf logs a recoverable/transient condition: suppressed reports,
// cache-lock contention, mq_send failures. These never abort the pip.
func Debugf(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

// Errorf logs an observable condition worth surfacing without aborting.
func Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}
