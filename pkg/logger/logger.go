package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ruyacapital/ruya-assistant/internal/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ServiceName is stamped on every entry so shared log pipelines can
// separate the assistant from the website backend.
const ServiceName = "ruya-assistant"

// NewLogger builds the process logger from the logging section
func NewLogger(cfg *config.LoggingConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	out, err := newOutput(cfg)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetLevel(level)
	log.SetFormatter(newFormatter(cfg.Format))
	log.SetOutput(out)
	log.AddHook(serviceHook{})
	return log, nil
}

func newFormatter(format string) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		}
	}
	return &logrus.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
	}
}

// newOutput returns stdout, stderr, a rotating file, or stdout plus the
// file for "both".
func newOutput(cfg *config.LoggingConfig) (io.Writer, error) {
	switch cfg.Output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "file", "both":
		if cfg.File.Path == "" {
			return nil, fmt.Errorf("logging.file.path is required for %s output", cfg.Output)
		}
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0755); err != nil {
			return nil, err
		}
		rotated := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize, // megabytes
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge, // days
			Compress:   true,
		}
		if cfg.Output == "both" {
			return io.MultiWriter(os.Stdout, rotated), nil
		}
		return rotated, nil
	default:
		return nil, fmt.Errorf("unsupported log output: %s", cfg.Output)
	}
}

type serviceHook struct{}

func (serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (serviceHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["service"]; !ok {
		entry.Data["service"] = ServiceName
	}
	return nil
}

// WithSession returns an entry carrying the session and, when known, the user
func WithSession(log *logrus.Logger, sessionID, userID string) *logrus.Entry {
	fields := logrus.Fields{"session_id": sessionID}
	if userID != "" {
		fields["user_id"] = userID
	}
	return log.WithFields(fields)
}

// WithChannel tags an entry with the transport a message arrived on
func WithChannel(log *logrus.Logger, channel string) *logrus.Entry {
	return log.WithField("channel", channel)
}
