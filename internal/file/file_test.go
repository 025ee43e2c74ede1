// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.txt")

	err := Write("hello", path)
	assert.NoError(t, err)

	contents, err := Read(path)
	assert.NoError(t, err)
	assert.Equal(t, "hello", contents)
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorContains(t, err, "failed to read file")
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entry.conf")

	err := Write("old contents", path)
	assert.NoError(t, err)

	err = WriteAtomic("new contents", path)
	assert.NoError(t, err)

	contents, err := Read(path)
	assert.NoError(t, err)
	assert.Equal(t, "new contents", contents)

	// No temp files left behind.
	dirEntries, err := os.ReadDir(dir)
	assert.NoError(t, err)
	assert.Len(t, dirEntries, 1)
}

func TestWriteAtomicMissingDir(t *testing.T) {
	err := WriteAtomic("contents", filepath.Join(t.TempDir(), "missing", "file.txt"))
	assert.ErrorContains(t, err, "failed to create temp file")
}

func TestReadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lines.txt")

	err := Write("one\ntwo\nthree\n", path)
	assert.NoError(t, err)

	lines, err := ReadLines(path)
	assert.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, lines)
}

func TestPathExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.txt")

	exists, err := PathExists(path)
	assert.NoError(t, err)
	assert.False(t, exists)

	err = Write("x", path)
	assert.NoError(t, err)

	exists, err = PathExists(path)
	assert.NoError(t, err)
	assert.True(t, exists)
}
