// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package logger

// Keeps log records in memory so that unit tests can assert on progress messages.

import (
	"sync"

	"github.com/sirupsen/logrus"
)

type MemoryLogHook struct {
	messagesLock sync.Mutex
	messages     []MemoryLogMessage
}

type MemoryLogMessage struct {
	Message string
	Level   logrus.Level
}

func NewMemoryLogHook() *MemoryLogHook {
	return &MemoryLogHook{}
}

func (h *MemoryLogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *MemoryLogHook) Fire(entry *logrus.Entry) error {
	h.messagesLock.Lock()
	defer h.messagesLock.Unlock()

	h.messages = append(h.messages, MemoryLogMessage{
		Message: entry.Message,
		Level:   entry.Level,
	})
	return nil
}

// ConsumeMessages returns the records captured since the last call and clears them.
func (h *MemoryLogHook) ConsumeMessages() []MemoryLogMessage {
	h.messagesLock.Lock()
	defer h.messagesLock.Unlock()

	messages := h.messages
	h.messages = nil
	return messages
}

// ConsumeMessagesAtLevel is like ConsumeMessages but only returns the text of records at the given level.
func (h *MemoryLogHook) ConsumeMessagesAtLevel(level logrus.Level) []string {
	filtered := []string(nil)
	for _, message := range h.ConsumeMessages() {
		if message.Level == level {
			filtered = append(filtered, message.Message)
		}
	}
	return filtered
}
