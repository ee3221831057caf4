// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Standard field names.
const (
	FieldGroupID      = "group_id"
	FieldMarker       = "generation_marker"
	FieldOp           = "op"
	FieldBatch        = "batch"
	FieldAllocationID = "allocation_id"
	FieldKey          = "key"
)

// Options configure New.
type Options struct {
	Level  string // logrus level name; empty means info
	Format string // "json" or "text"; empty means json
	Output io.Writer
}

// New returns a configured logger.
func New(opts Options) (*logrus.Logger, error) {
	log := logrus.New()

	level := logrus.InfoLevel
	if opts.Level != "" {
		var err error
		if level, err = logrus.ParseLevel(opts.Level); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	log.SetLevel(level)

	switch strings.ToLower(opts.Format) {
	case "", "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	default:
		return nil, fmt.Errorf("log format %q: want json or text", opts.Format)
	}

	if opts.Output != nil {
		log.SetOutput(opts.Output)
	} else {
		log.SetOutput(os.Stderr)
	}
	return log, nil
}

// Discard returns a logger that writes nothing.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// OrDiscard returns log, or a discarding logger when log is nil.
func OrDiscard(log logrus.FieldLogger) logrus.FieldLogger {
	if log == nil {
		return Discard()
	}
	return log
}

// ForGroup scopes log to one group run.
func ForGroup(log logrus.FieldLogger, groupID, marker string) logrus.FieldLogger {
	fields := logrus.Fields{FieldGroupID: groupID}
	if marker != "" {
		fields[FieldMarker] = marker
	}
	return OrDiscard(log).WithFields(fields)
}
