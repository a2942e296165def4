package configuration

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ConfigureLogging sets up the standard logger. When a log file is configured, logs are written
// to stderr and to the rotated file; the returned closer closes the file.
func ConfigureLogging(config LoggingConfig) (io.Closer, error) {
	level := log.InfoLevel
	if config.Level != "" {
		parsed, err := log.ParseLevel(config.Level)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid log level '%s'", config.Level)
		}
		level = parsed
	}
	log.SetLevel(level)

	switch strings.ToLower(config.Format) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return nil, errors.Errorf("invalid log format '%s', expected text or json", config.Format)
	}

	if config.File == "" {
		log.SetOutput(os.Stderr)
		return noFile{}, nil
	}

	file := &lumberjack.Logger{
		Filename:   config.File,
		MaxSize:    config.MaxSizeMB,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAgeDays,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, file))
	return file, nil
}

type noFile struct{}

func (noFile) Close() error { return nil }
