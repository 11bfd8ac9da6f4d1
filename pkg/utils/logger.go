package utils

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide logger. Components take a reference through
// GetLogger at construction time; reconfiguration after startup is not
// supported.
var Logger *logrus.Logger

// Defaults used when the logger is touched before InitLogger runs, e.g.
// from tests that never load a config.
const (
	defaultLogLevel  = "info"
	defaultLogFormat = "json"

	logTimestampFormat = "2006-01-02T15:04:05.000Z07:00"
)

// InitLogger configures the global logger from the logging config section.
// format selects json or text output; output routes to stdout unless it is
// "file" with a path.
func InitLogger(level, format, output, file string) error {
	logger := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(parsed)

	switch format {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: logTimestampFormat,
		})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: logTimestampFormat,
		})
	}

	if output == "file" && file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		logger.SetOutput(f)
	} else {
		logger.SetOutput(os.Stdout)
	}

	Logger = logger
	return nil
}

// GetLogger returns the global logger, initializing it with defaults on
// first use.
func GetLogger() *logrus.Logger {
	if Logger == nil {
		InitLogger(defaultLogLevel, defaultLogFormat, "stdout", "")
	}
	return Logger
}
