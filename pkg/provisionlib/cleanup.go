// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionlib

import (
	"errors"
	"fmt"

	"github.com/clearlinux/verity-image-tools/internal/logger"
)

// cleanupStack releases pipeline resources in reverse order of acquisition.
// Every step runs even when earlier steps fail; failures are collected so a
// leaked mount or loopback device is never silent.
type cleanupStack struct {
	entries []cleanupEntry
}

type cleanupEntry struct {
	name string
	fn   func() error
}

func (s *cleanupStack) push(name string, fn func() error) {
	s.entries = append(s.entries, cleanupEntry{name: name, fn: fn})
}

// run executes all pushed steps, newest first. The stack is emptied, so
// calling run again is a no-op.
func (s *cleanupStack) run() error {
	var errs []error
	for i := len(s.entries) - 1; i >= 0; i-- {
		entry := s.entries[i]
		err := entry.fn()
		if err != nil {
			logger.Log.Warnf("Cleanup step (%s) failed: %v", entry.name, err)
			errs = append(errs, fmt.Errorf("cleanup step (%s) failed:\n%w", entry.name, err))
		}
	}
	s.entries = nil
	return errors.Join(errs...)
}
