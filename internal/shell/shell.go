// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

// Package shell runs external programs with their output routed through the
// shared logger.
package shell

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/clearlinux/verity-image-tools/internal/logger"
	"github.com/sirupsen/logrus"
)

// DefaultWarnLogLines is the default number of trailing stderr lines repeated
// at warn level when a command fails.
const DefaultWarnLogLines = 3

// Execute runs the program and returns its captured stdout and stderr.
func Execute(program string, args ...string) (stdout string, stderr string, err error) {
	return NewExecBuilder(program, args...).ExecuteCaptureOutput()
}

// ExecuteLive runs the program, streaming its output to the logger.
// If squashErrors is set, stderr is logged at debug level instead of warn.
func ExecuteLive(squashErrors bool, program string, args ...string) error {
	stderrLevel := logrus.WarnLevel
	if squashErrors {
		stderrLevel = logrus.DebugLevel
	}

	return NewExecBuilder(program, args...).
		LogLevel(logrus.DebugLevel, stderrLevel).
		Execute()
}

// ExecBuilder configures a single external program invocation.
type ExecBuilder struct {
	program          string
	args             []string
	stdinString      string
	stdoutLogLevel   logrus.Level
	stderrLogLevel   logrus.Level
	stdoutCallback   func(line string)
	warnLogLines     int
	errorStderrLines int
}

// NewExecBuilder creates an ExecBuilder for the given program and arguments.
func NewExecBuilder(program string, args ...string) ExecBuilder {
	return ExecBuilder{
		program:        program,
		args:           args,
		stdoutLogLevel: logrus.DebugLevel,
		stderrLogLevel: logrus.DebugLevel,
	}
}

// Stdin provides a string to feed to the program's stdin.
func (b ExecBuilder) Stdin(value string) ExecBuilder {
	b.stdinString = value
	return b
}

// LogLevel sets the log levels used for the program's stdout and stderr.
func (b ExecBuilder) LogLevel(stdoutLogLevel logrus.Level, stderrLogLevel logrus.Level) ExecBuilder {
	b.stdoutLogLevel = stdoutLogLevel
	b.stderrLogLevel = stderrLogLevel
	return b
}

// StdoutCallback registers a callback invoked for every stdout line.
func (b ExecBuilder) StdoutCallback(callback func(line string)) ExecBuilder {
	b.stdoutCallback = callback
	return b
}

// WarnLogLines repeats the last n stderr lines at warn level on failure.
func (b ExecBuilder) WarnLogLines(lines int) ExecBuilder {
	b.warnLogLines = lines
	return b
}

// ErrorStderrLines includes the last n stderr lines in the returned error.
func (b ExecBuilder) ErrorStderrLines(lines int) ExecBuilder {
	b.errorStderrLines = lines
	return b
}

// Execute runs the program, streaming output to the logger.
func (b ExecBuilder) Execute() error {
	_, _, err := b.run(false)
	return err
}

// ExecuteCaptureOutput runs the program and returns its full stdout and
// stderr in addition to logging them.
func (b ExecBuilder) ExecuteCaptureOutput() (string, string, error) {
	return b.run(true)
}

func (b ExecBuilder) run(captureOutput bool) (string, string, error) {
	logger.Log.Debugf("Executing: %s %s", b.program, strings.Join(b.args, " "))

	cmd := exec.Command(b.program, b.args...)
	if b.stdinString != "" {
		cmd.Stdin = strings.NewReader(b.stdinString)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", fmt.Errorf("failed to create stdout pipe for (%s):\n%w", b.program, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", "", fmt.Errorf("failed to create stderr pipe for (%s):\n%w", b.program, err)
	}

	err = cmd.Start()
	if err != nil {
		return "", "", fmt.Errorf("failed to start (%s):\n%w", b.program, err)
	}

	var wg sync.WaitGroup
	var stdoutBuilder, stderrBuilder strings.Builder
	var stderrTail []string

	wg.Add(2)
	go func() {
		defer wg.Done()
		b.consumeStream(stdoutPipe, b.stdoutLogLevel, captureOutput, &stdoutBuilder, b.stdoutCallback, nil)
	}()
	go func() {
		defer wg.Done()
		b.consumeStream(stderrPipe, b.stderrLogLevel, captureOutput, &stderrBuilder, nil, &stderrTail)
	}()
	wg.Wait()

	err = cmd.Wait()
	if err != nil {
		if b.warnLogLines > 0 {
			for _, line := range lastLines(stderrTail, b.warnLogLines) {
				logger.Log.Warn(line)
			}
		}

		if b.errorStderrLines > 0 {
			tail := strings.Join(lastLines(stderrTail, b.errorStderrLines), "\n")
			err = fmt.Errorf("%s\n%w", tail, err)
		}

		return stdoutBuilder.String(), stderrBuilder.String(),
			fmt.Errorf("failed to execute (%s):\n%w", b.program, err)
	}

	return stdoutBuilder.String(), stderrBuilder.String(), nil
}

func (b ExecBuilder) consumeStream(reader io.Reader, level logrus.Level, capture bool,
	builder *strings.Builder, callback func(line string), tail *[]string,
) {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()

		logger.Log.Log(level, line)

		if capture {
			builder.WriteString(line)
			builder.WriteString("\n")
		}
		if callback != nil {
			callback(line)
		}
		if tail != nil {
			*tail = append(*tail, line)
		}
	}
}

func lastLines(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
