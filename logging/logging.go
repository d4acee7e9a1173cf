// Package logging builds the bot's logrus logger: colorized console output,
// plus a rotating JSON file when one is configured.
package logging

import (
	"fmt"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
	"github.com/snowzach/rotatefilehook"

	"github.com/rustyeddy/krwbot/config"
)

// New creates a logger from the logging configuration.
func New(cfg config.LoggingConfig) (*logrus.Logger, error) {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		var err error
		level, err = logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(colorable.NewColorableStdout())
	logger.SetFormatter(&logrus.TextFormatter{
		ForceColors: true, FullTimestamp: true, TimestampFormat: time.RFC822,
	})

	if cfg.File != "" {
		hook, err := rotatefilehook.NewRotateFileHook(rotatefilehook.RotateFileConfig{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 50),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Level:      level,
			Formatter: &logrus.JSONFormatter{
				TimestampFormat: time.RFC822,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("init rotate file hook: %w", err)
		}
		logger.AddHook(hook)
	}

	return logger, nil
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
