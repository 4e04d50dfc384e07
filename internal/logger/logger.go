package logger

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger defines the bridgestore logging contract.
// Implementations should support standard log levels and be safe for concurrent use.
// Components receive a Logger through their constructors; there is no package default.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// LogrusLogger implements Logger on top of a logrus entry.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrus creates a LogrusLogger writing text records to w.
// level is any level name logrus understands; an empty level means "info".
func NewLogrus(w io.Writer, level string) (*LogrusLogger, error) {
	lvl := logrus.InfoLevel
	if strings.TrimSpace(level) != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		lvl = parsed
	}

	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return &LogrusLogger{entry: logrus.NewEntry(l)}, nil
}

func (l *LogrusLogger) Info(msg string, args ...any) {
	l.entry.Infof(msg, args...)
}

func (l *LogrusLogger) Warn(msg string, args ...any) {
	l.entry.Warnf(msg, args...)
}

func (l *LogrusLogger) Error(msg string, args ...any) {
	l.entry.Errorf(msg, args...)
}

func (l *LogrusLogger) Debug(msg string, args ...any) {
	l.entry.Debugf(msg, args...)
}

// WithField returns a copy of the logger that adds key=value to every record.
func (l *LogrusLogger) WithField(key string, value any) *LogrusLogger {
	return &LogrusLogger{entry: l.entry.WithField(key, value)}
}

// With adds a field when l supports fields and returns l unchanged otherwise.
func With(l Logger, key string, value any) Logger {
	if ll, ok := l.(*LogrusLogger); ok {
		return ll.WithField(key, value)
	}
	return l
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Debug(string, ...any) {}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}
