// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

// Package file contains small filesystem helpers shared across the tools.
package file

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// Read reads the full contents of a file as a string.
func Read(filePath string) (string, error) {
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file (%s):\n%w", filePath, err)
	}
	return string(contents), nil
}

// Write writes the string to the given file, truncating any existing content.
func Write(contents string, filePath string) error {
	err := os.WriteFile(filePath, []byte(contents), 0o644)
	if err != nil {
		return fmt.Errorf("failed to write file (%s):\n%w", filePath, err)
	}
	return nil
}

// WriteAtomic writes the string to a temporary file in the same directory and
// renames it over the target, so an interrupted write never leaves a
// truncated file behind.
func WriteAtomic(contents string, filePath string) (err error) {
	dir := filepath.Dir(filePath)

	tempFile, err := os.CreateTemp(dir, filepath.Base(filePath)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in (%s):\n%w", dir, err)
	}
	tempPath := tempFile.Name()
	defer func() {
		if err != nil {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	_, err = tempFile.WriteString(contents)
	if err != nil {
		return fmt.Errorf("failed to write temp file (%s):\n%w", tempPath, err)
	}

	err = tempFile.Sync()
	if err != nil {
		return fmt.Errorf("failed to sync temp file (%s):\n%w", tempPath, err)
	}

	err = tempFile.Close()
	if err != nil {
		return fmt.Errorf("failed to close temp file (%s):\n%w", tempPath, err)
	}

	err = os.Chmod(tempPath, 0o644)
	if err != nil {
		return fmt.Errorf("failed to set temp file permissions (%s):\n%w", tempPath, err)
	}

	err = os.Rename(tempPath, filePath)
	if err != nil {
		return fmt.Errorf("failed to rename temp file over (%s):\n%w", filePath, err)
	}

	return nil
}

// ReadLines reads a file and returns its lines, without line endings.
func ReadLines(filePath string) ([]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file (%s):\n%w", filePath, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	err = scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to read lines from (%s):\n%w", filePath, err)
	}

	return lines, nil
}

// PathExists reports whether the given path exists.
func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
