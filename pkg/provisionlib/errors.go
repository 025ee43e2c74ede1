// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionlib

import (
	"errors"
	"fmt"
)

var (
	// ErrAttach indicates the disk image could not be exposed as a block
	// device, or the attachment was ambiguous.
	ErrAttach = errors.New("failed to attach disk image")

	// ErrPartitionMismatch indicates a resolved partition did not hold a
	// mountable filesystem of the expected kind.
	ErrPartitionMismatch = errors.New("partition does not hold the expected filesystem")

	// ErrFormatterOutput indicates the integrity formatter's output could not
	// be parsed into a valid binding.
	ErrFormatterOutput = errors.New("unexpected veritysetup output")

	// ErrVerificationFailed indicates the formatter's verify pass rejected
	// the binding. Always fatal.
	ErrVerificationFailed = errors.New("verity verification failed")

	// ErrNoBootEntries indicates no boot entry matched the configured glob.
	// Fatal only for root-on-verity.
	ErrNoBootEntries = errors.New("no boot entries matched")

	// ErrPatchCorruption indicates a rewrite pattern matched zero or multiple
	// locations where exactly one was expected.
	ErrPatchCorruption = errors.New("boot entry patch anchor mismatch")

	// ErrPersistence indicates the binding could not be recorded. The binding
	// itself is still valid; re-running the pipeline is safe.
	ErrPersistence = errors.New("failed to record binding")
)

// Stage identifies a pipeline failure domain in errors and exit messages.
type Stage string

const (
	StageAttach  Stage = "attach"
	StageFormat  Stage = "format"
	StagePatch   Stage = "patch"
	StagePersist Stage = "persist"
	StageVerify  Stage = "verify"
)

// PipelineError tags an error with the pipeline stage it occurred in.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s stage failed:\n%v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
