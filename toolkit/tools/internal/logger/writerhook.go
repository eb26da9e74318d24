// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package logger

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// writerHook writes every entry at or above its level to a writer using its own formatter.
type writerHook struct {
	lock      sync.Mutex
	writer    io.Writer
	level     logrus.Level
	formatter logrus.Formatter
}

func newWriterHook(writer io.Writer, level logrus.Level, formatter logrus.Formatter) *writerHook {
	return &writerHook{
		writer:    writer,
		level:     level,
		formatter: formatter,
	}
}

func (h *writerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *writerHook) setLevel(level logrus.Level) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.level = level
}

func (h *writerHook) Fire(entry *logrus.Entry) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if entry.Level > h.level {
		return nil
	}

	msg, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}

	_, err = h.writer.Write(msg)
	return err
}
