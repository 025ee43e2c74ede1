// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModeIsValid(t *testing.T) {
	assert.NoError(t, ModeData.IsValid())
	assert.NoError(t, ModeRoot.IsValid())
	assert.NoError(t, ModeInitramfs.IsValid())
}

func TestModeIsValidBadValue(t *testing.T) {
	err := Mode("full").IsValid()
	assert.ErrorContains(t, err, "invalid mode (full)")
}

func TestModeRootOnVerity(t *testing.T) {
	assert.False(t, ModeData.RootOnVerity())
	assert.True(t, ModeRoot.RootOnVerity())
	assert.True(t, ModeInitramfs.RootOnVerity())
}
