// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

// Package logger provides the shared logrus logger used by every tool in
// this repository.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Log is the shared logger instance. It must be initialized with one of the
// Init functions before use.
var Log *logrus.Logger

const (
	LevelsFlag        = "log-level"
	LevelsHelp        = "Minimum log level to print."
	LevelsPlaceholder = "(panic|fatal|error|warn|info|debug|trace)"

	FileFlag     = "log-file"
	FileFlagHelp = "Path to a file to additionally write all logs to."

	ColorFlag         = "log-color"
	ColorFlagHelp     = "Color setting for terminal output."
	ColorsPlaceholder = "(always|auto|never)"

	defaultLogLevel = logrus.InfoLevel
)

const (
	colorAlways = "always"
	colorAuto   = "auto"
	colorNever  = "never"
)

// LogFlags holds the values of the standard logging command-line flags.
type LogFlags struct {
	LogColor *string
	LogFile  *string
	LogLevel *string
}

// Levels returns the set of valid values for the log level flag.
func Levels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}
	return levels
}

// Colors returns the set of valid values for the log color flag.
func Colors() []string {
	return []string{colorAlways, colorAuto, colorNever}
}

// InitStderrLog initializes the logger with default settings, writing to
// stderr only. Intended for tests and early startup.
func InitStderrLog() {
	Log = logrus.New()
	Log.SetOutput(os.Stderr)
	Log.SetLevel(defaultLogLevel)
	Log.SetFormatter(newFormatter(colorAuto))
}

// InitBestEffort initializes the logger from command-line flags, falling back
// to defaults for anything unset or invalid rather than failing startup.
func InitBestEffort(flags *LogFlags) {
	InitStderrLog()

	if flags == nil {
		return
	}

	if flags.LogColor != nil && *flags.LogColor != "" {
		Log.SetFormatter(newFormatter(*flags.LogColor))
	}

	if flags.LogLevel != nil && *flags.LogLevel != "" {
		level, err := logrus.ParseLevel(*flags.LogLevel)
		if err != nil {
			Log.Warnf("Invalid log level (%s). Defaulting to (%s)", *flags.LogLevel, defaultLogLevel)
		} else {
			Log.SetLevel(level)
		}
	}

	if flags.LogFile != nil && *flags.LogFile != "" {
		logFile, err := os.OpenFile(*flags.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			Log.Warnf("Failed to open log file (%s): %v", *flags.LogFile, err)
		} else {
			Log.SetOutput(io.MultiWriter(os.Stderr, logFile))
			// File output cannot render terminal colors.
			Log.SetFormatter(newFormatter(colorNever))
		}
	}
}

type stderrFormatter struct {
	useColor bool
}

func newFormatter(colorSetting string) logrus.Formatter {
	useColor := false
	switch colorSetting {
	case colorAlways:
		useColor = true
	case colorAuto:
		useColor = !color.NoColor
	case colorNever:
		useColor = false
	}
	return &stderrFormatter{useColor: useColor}
}

func (f *stderrFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	level := strings.ToUpper(entry.Level.String())

	if f.useColor {
		switch entry.Level {
		case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
			level = color.RedString(level)
		case logrus.WarnLevel:
			level = color.YellowString(level)
		case logrus.DebugLevel, logrus.TraceLevel:
			level = color.HiBlackString(level)
		}
	}

	timestamp := entry.Time.Format("2006-01-02T15:04:05")
	message := fmt.Sprintf("%s [%s] %s\n", timestamp, level, entry.Message)
	return []byte(message), nil
}
