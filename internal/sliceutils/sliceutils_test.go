// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package sliceutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsValue(t *testing.T) {
	assert.True(t, ContainsValue([]int{1, 2, 3}, 2))
	assert.False(t, ContainsValue([]int{1, 2, 3}, 4))
	assert.False(t, ContainsValue(nil, 1))
}

func TestFindValueFunc(t *testing.T) {
	value, found := FindValueFunc([]string{"a", "bb", "ccc"}, func(s string) bool {
		return len(s) == 2
	})
	assert.True(t, found)
	assert.Equal(t, "bb", value)
}

func TestFindValueFuncNoMatch(t *testing.T) {
	value, found := FindValueFunc([]string{"a"}, func(s string) bool {
		return false
	})
	assert.False(t, found)
	assert.Equal(t, "", value)
}

func TestMapToSlice(t *testing.T) {
	result := MapToSlice([]int{1, 2, 3}, func(n int) int {
		return n * 2
	})
	assert.Equal(t, []int{2, 4, 6}, result)
}
