package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Fields = logrus.Fields

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type Logger struct {
	base *logrus.Logger
	// entry carries fields bound through With.
	entry *logrus.Entry
}

func New(cfg LogConfig) (*Logger, error) {
	base := logrus.New()

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	base.SetLevel(parsed)

	switch strings.ToLower(cfg.Format) {
	case "text":
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	case "", "json":
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.Format)
	}

	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		base.SetOutput(os.Stdout)
	case "stderr":
		base.SetOutput(os.Stderr)
	case "file":
		if cfg.File == "" {
			return nil, fmt.Errorf("log output 'file' requires a file path")
		}
		base.SetOutput(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    withDefault(cfg.MaxSizeMB, 100),
			MaxBackups: withDefault(cfg.MaxBackups, 5),
			MaxAge:     withDefault(cfg.MaxAgeDays, 28),
			Compress:   cfg.Compress,
		})
	default:
		return nil, fmt.Errorf("unsupported log output %q", cfg.Output)
	}

	return &Logger{base: base, entry: logrus.NewEntry(base)}, nil
}

// Discard returns a logger that writes nowhere.
func Discard() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	base.SetLevel(logrus.PanicLevel)
	return &Logger{base: base, entry: logrus.NewEntry(base)}
}

func withDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

// With returns a child logger with the key/value pairs bound to every entry.
func (logger *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{base: logger.base, entry: logger.entry.WithFields(toFields(keysAndValues))}
}

func (logger *Logger) WithError(err error) *logrus.Entry {
	return logger.entry.WithError(err)
}

func (logger *Logger) WithFields(fields Fields) *logrus.Entry {
	return logger.entry.WithFields(fields)
}

func (logger *Logger) Debug(msg string, keysAndValues ...interface{}) {
	logger.entry.WithFields(toFields(keysAndValues)).Debug(msg)
}

func (logger *Logger) Info(msg string, keysAndValues ...interface{}) {
	logger.entry.WithFields(toFields(keysAndValues)).Info(msg)
}

func (logger *Logger) Warn(msg string, keysAndValues ...interface{}) {
	logger.entry.WithFields(toFields(keysAndValues)).Warn(msg)
}

func (logger *Logger) Error(msg string, keysAndValues ...interface{}) {
	logger.entry.WithFields(toFields(keysAndValues)).Error(msg)
}

// LogService records one call against an external service or store.
func (logger *Logger) LogService(service, operation string, duration time.Duration, fields map[string]interface{}, err error) {
	entry := logger.entry.WithFields(Fields{
		"service":     service,
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	})
	if fields != nil {
		entry = entry.WithFields(fields)
	}

	if err != nil {
		entry.WithError(err).Error("Service operation failed")
		return
	}
	entry.Debug("Service operation completed")
}

func (logger *Logger) LogAgent(sessionID, agent, operation string, duration time.Duration, fields map[string]interface{}) {
	entry := logger.entry.WithFields(Fields{
		"session_id":  sessionID,
		"agent":       agent,
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	})
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	entry.Info("Agent operation")
}

func (logger *Logger) LogSession(sessionID, event string, duration time.Duration, err error) {
	entry := logger.entry.WithFields(Fields{
		"session_id":  sessionID,
		"event":       event,
		"duration_ms": duration.Milliseconds(),
	})

	if err != nil {
		entry.WithError(err).Error("Session event failed")
		return
	}
	entry.Info("Session event")
}

func toFields(keysAndValues []interface{}) Fields {
	fields := make(Fields, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keysAndValues[i])
		}
		if i+1 < len(keysAndValues) {
			fields[key] = keysAndValues[i+1]
		} else {
			fields[key] = "MISSING"
		}
	}
	return fields
}
