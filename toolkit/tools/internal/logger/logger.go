// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

const (
	ColorFlag         = "log-color"
	ColorFlagHelp     = "Color setting for log terminal output."
	ColorsPlaceholder = "(always|auto|never)"

	FileFlag     = "log-file"
	FileFlagHelp = "Path to an image builder log file."

	LevelsFlag        = "log-level"
	LevelsHelp        = "The minimum log level."
	LevelsPlaceholder = "(panic|fatal|error|warn|info|debug|trace)"

	ColorAlways = "always"
	ColorAuto   = "auto"
	ColorNever  = "never"

	defaultStderrLogLevel = logrus.InfoLevel
	defaultFileLogLevel   = logrus.DebugLevel
)

var (
	// Log is the shared logger. It writes to stderr and, optionally, to a log file.
	Log *logrus.Logger

	stderrHook *writerHook
)

type LogFlags struct {
	LogColor *string
	LogFile  *string
	LogLevel *string
}

func Colors() []string {
	return []string{ColorAlways, ColorAuto, ColorNever}
}

func Levels() []string {
	levels := []string(nil)
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}
	return levels
}

// InitStderrLog initializes the logger to print to stderr only.
func InitStderrLog() {
	initLogger(ColorAuto)
}

// InitBestEffort initializes the logger from command-line flags. Failures to open
// the log file are reported but do not stop the program.
func InitBestEffort(lf *LogFlags) {
	color := ColorAuto
	if lf != nil && lf.LogColor != nil && *lf.LogColor != "" {
		color = *lf.LogColor
	}

	initLogger(color)

	if lf == nil {
		return
	}

	if lf.LogLevel != nil && *lf.LogLevel != "" {
		err := SetStderrLogLevel(*lf.LogLevel)
		if err != nil {
			Log.Warnf("%s", err)
		}
	}

	if lf.LogFile != nil && *lf.LogFile != "" {
		err := addFileHook(*lf.LogFile)
		if err != nil {
			Log.Warnf("Failed to open log file (%s):\n%s", *lf.LogFile, err)
		}
	}
}

// SetStderrLogLevel changes the minimum level of records written to stderr.
func SetStderrLogLevel(level string) error {
	parsedLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level (%s):\n%w", level, err)
	}

	stderrHook.setLevel(parsedLevel)
	return nil
}

func initLogger(color string) {
	Log = logrus.New()
	Log.SetOutput(io.Discard)
	Log.SetLevel(logrus.TraceLevel)

	stderrHook = newWriterHook(os.Stderr, defaultStderrLogLevel, newTextFormatter(color))
	Log.AddHook(stderrHook)
}

func addFileHook(path string) error {
	err := os.MkdirAll(filepath.Dir(path), os.ModePerm)
	if err != nil {
		return err
	}

	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	Log.AddHook(newWriterHook(logFile, defaultFileLogLevel, newTextFormatter(ColorNever)))
	return nil
}

func newTextFormatter(color string) *logrus.TextFormatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		ForceColors:     color == ColorAlways,
		DisableColors:   color == ColorNever,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	}
}
