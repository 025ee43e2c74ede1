// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionlib

import (
	"os"
	"testing"

	"github.com/clearlinux/verity-image-tools/internal/logger"
)

var (
	logMessagesHook *logger.MemoryLogHook
)

func TestMain(m *testing.M) {
	logger.InitStderrLog()

	logMessagesHook = logger.NewMemoryLogHook()
	logger.Log.Hooks.Add(logMessagesHook)

	retVal := m.Run()

	os.Exit(retVal)
}
