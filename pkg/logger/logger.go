package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// ServiceName is added to every entry.
const ServiceName = "adengine"

type Logger struct {
	*logrus.Logger
}

type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	// AccountIDKey carries the report caller set by the account middleware
	AccountIDKey ContextKey = "account_id"
)

func New(level string) *Logger {
	return NewWithOutput(level, os.Stdout)
}

// NewWithOutput builds a JSON logger writing to out
func NewWithOutput(level string, out io.Writer) *Logger {
	logger := logrus.New()

	// Unknown levels fall back to info
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// JSON with the field names our log pipeline indexes on
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	logger.SetOutput(out)
	logger.AddHook(defaultFields{"service": ServiceName})

	return &Logger{Logger: logger}
}

// Discard is a logger for tests
func Discard() *Logger {
	return NewWithOutput("panic", io.Discard)
}

// defaultFields fills in fields an entry does not set itself.
type defaultFields logrus.Fields

func (h defaultFields) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h defaultFields) Fire(entry *logrus.Entry) error {
	for key, value := range h {
		if _, ok := entry.Data[key]; !ok {
			entry.Data[key] = value
		}
	}
	return nil
}

// Request-scoped entry
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithContext(ctx)

	if requestID := ctx.Value(RequestIDKey); requestID != nil {
		entry = entry.WithField("request_id", requestID)
	}
	if accountID := ctx.Value(AccountIDKey); accountID != nil {
		entry = entry.WithField("account_id", accountID)
	}

	return entry
}

func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

func (l *Logger) WithField(key string, value any) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err)
}
