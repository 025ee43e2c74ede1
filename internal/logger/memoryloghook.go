// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package logger

// Captures log messages in memory so tests can assert on them.

import (
	"sync"

	"github.com/sirupsen/logrus"
)

type MemoryLogHook struct {
	mutex    sync.Mutex
	messages []MemoryLogMessage
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
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.messages = append(h.messages, MemoryLogMessage{
		Message: entry.Message,
		Level:   entry.Level,
	})
	return nil
}

// ConsumeMessages returns all messages captured since the last call and
// resets the buffer.
func (h *MemoryLogHook) ConsumeMessages() []MemoryLogMessage {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	messages := h.messages
	h.messages = nil
	return messages
}
