// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package shell

import (
	"os"
	"testing"

	"github.com/clearlinux/verity-image-tools/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	logger.InitStderrLog()
	os.Exit(m.Run())
}

func TestExecuteCapturesStdout(t *testing.T) {
	stdout, stderr, err := Execute("echo", "hello")
	assert.NoError(t, err)
	assert.Equal(t, "hello\n", stdout)
	assert.Equal(t, "", stderr)
}

func TestExecuteMissingProgram(t *testing.T) {
	_, _, err := Execute("this-program-does-not-exist")
	assert.ErrorContains(t, err, "failed to start (this-program-does-not-exist)")
}

func TestExecuteNonZeroExit(t *testing.T) {
	_, _, err := Execute("false")
	assert.ErrorContains(t, err, "failed to execute (false)")
}

func TestExecBuilderStdin(t *testing.T) {
	stdout, _, err := NewExecBuilder("cat").
		Stdin("piped input").
		ExecuteCaptureOutput()
	assert.NoError(t, err)
	assert.Equal(t, "piped input\n", stdout)
}

func TestExecBuilderStdoutCallback(t *testing.T) {
	lines := []string(nil)
	_, _, err := NewExecBuilder("printf", "one\\ntwo\\n").
		StdoutCallback(func(line string) {
			lines = append(lines, line)
		}).
		ExecuteCaptureOutput()
	assert.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, lines)
}

func TestExecuteLiveSquashErrors(t *testing.T) {
	err := ExecuteLive(true /*squashErrors*/, "true")
	assert.NoError(t, err)
}
