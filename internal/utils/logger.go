// internal/utils/logger.go

package utils

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger defines the interface for logging throughout the application.
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...interface{})
	Info(msg string)
	Infof(format string, args ...interface{})
	Warn(msg string)
	Warnf(format string, args ...interface{})
	Error(msg string)
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// LogConfig selects level and output format for the process logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // text, json
}

var (
	baseLogger *logrus.Logger
	loggerOnce sync.Once
	loggerMu   sync.RWMutex
)

// ConfigureLogging (re)initialises the process logger. It is safe to call
// more than once; later calls replace level and formatter.
func ConfigureLogging(cfg LogConfig) {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
			FullTimestamp:   true,
		})
	}

	loggerMu.Lock()
	baseLogger = l
	loggerMu.Unlock()
}

// SetLogOutput redirects the process logger, mainly for tests.
func SetLogOutput(w io.Writer) {
	root().SetOutput(w)
}

func root() *logrus.Logger {
	loggerOnce.Do(func() {
		loggerMu.RLock()
		configured := baseLogger != nil
		loggerMu.RUnlock()
		if configured {
			return
		}
		level := os.Getenv("LOG_LEVEL")
		if level == "" {
			level = "info"
		}
		ConfigureLogging(LogConfig{Level: level, Format: os.Getenv("LOG_FORMAT")})
	})
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return baseLogger
}

// GetLogger returns a logger tagged with the given component name.
func GetLogger(component string) Logger {
	return &logrusLogger{entry: root().WithField("component", component)}
}

// NewLogger creates an untagged logger instance.
func NewLogger() Logger {
	return &logrusLogger{entry: logrus.NewEntry(root())}
}

// logrusLogger adapts a logrus entry to Logger.
type logrusLogger struct {
	entry *logrus.Entry
}

func (l *logrusLogger) Debug(msg string) { l.entry.Debug(msg) }

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

func (l *logrusLogger) Info(msg string) { l.entry.Info(msg) }

func (l *logrusLogger) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

func (l *logrusLogger) Warn(msg string) { l.entry.Warn(msg) }

func (l *logrusLogger) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

func (l *logrusLogger) Error(msg string) { l.entry.Error(msg) }

func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}
