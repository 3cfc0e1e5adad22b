package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds the process logger. format is "json" or "text".
func New(level, format string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return logger, nil
}

// KeyValue adapts logrus to loggers that take a message plus alternating
// key/value pairs. It satisfies both the Temporal SDK log.Logger and the
// gocron Logger interfaces.
type KeyValue struct {
	entry *logrus.Entry
}

// NewKeyValue wraps logger, tagging every line with component
func NewKeyValue(logger *logrus.Logger, component string) *KeyValue {
	return &KeyValue{entry: logger.WithField("component", component)}
}

func (l *KeyValue) Debug(msg string, keyvals ...interface{}) {
	l.entry.WithFields(fields(keyvals)).Debug(msg)
}

func (l *KeyValue) Info(msg string, keyvals ...interface{}) {
	l.entry.WithFields(fields(keyvals)).Info(msg)
}

func (l *KeyValue) Warn(msg string, keyvals ...interface{}) {
	l.entry.WithFields(fields(keyvals)).Warn(msg)
}

func (l *KeyValue) Error(msg string, keyvals ...interface{}) {
	l.entry.WithFields(fields(keyvals)).Error(msg)
}

func fields(keyvals []interface{}) logrus.Fields {
	out := make(logrus.Fields, len(keyvals)/2+1)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if i+1 == len(keyvals) {
			out["extra"] = keyvals[i]
			break
		}
		out[key] = keyvals[i+1]
	}
	return out
}
