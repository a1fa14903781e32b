package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// New builds the process logger. Debug output goes to stderr so it never
// mixes with json/yaml snapshots on stdout.
func New(debug bool) *log.Logger {
	l := log.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&log.TextFormatter{
		DisableColors:    !isTerminal(os.Stderr),
		FullTimestamp:    true,
		TimestampFormat:  "15:04:05.000",
		QuoteEmptyFields: true,
	})
	l.SetLevel(log.WarnLevel)
	if debug {
		l.SetLevel(log.DebugLevel)
	}
	return l
}

// Discard returns a logger that drops everything. Used as the default when
// a component is constructed without one.
func Discard() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l log.FieldLogger) log.FieldLogger {
	if l == nil {
		return Discard()
	}
	return l
}
