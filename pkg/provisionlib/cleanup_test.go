// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionlib

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanupStackRunsInReverseOrder(t *testing.T) {
	stack := &cleanupStack{}

	order := []string(nil)
	stack.push("first", func() error {
		order = append(order, "first")
		return nil
	})
	stack.push("second", func() error {
		order = append(order, "second")
		return nil
	})

	err := stack.run()
	assert.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, order)
}

func TestCleanupStackRunsAllStepsDespiteFailures(t *testing.T) {
	stack := &cleanupStack{}

	stepErr := errors.New("unmount failed")
	ranFirst := false
	stack.push("first", func() error {
		ranFirst = true
		return nil
	})
	stack.push("second", func() error {
		return stepErr
	})

	err := stack.run()
	assert.ErrorIs(t, err, stepErr)
	assert.ErrorContains(t, err, "cleanup step (second) failed")
	assert.True(t, ranFirst)
}

func TestCleanupStackSecondRunIsNoOp(t *testing.T) {
	stack := &cleanupStack{}

	runCount := 0
	stack.push("step", func() error {
		runCount++
		return nil
	})

	assert.NoError(t, stack.run())
	assert.NoError(t, stack.run())
	assert.Equal(t, 1, runCount)
}
