// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

// Package initrdutils writes gzip-compressed cpio archives in the format the
// kernel accepts as (concatenable) initramfs segments.
package initrdutils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/cavaliercoder/go-cpio"
	"github.com/klauspost/pgzip"
)

// CreateImageFromFolder packs the contents of inputDir into a
// gzip-compressed cpio archive at outputImagePath.
func CreateImageFromFolder(inputDir, outputImagePath string) (err error) {
	// The inputDir permissions become the permissions of the archive root
	// when the initramfs is unpacked.
	err = os.Chmod(inputDir, 0o755)
	if err != nil {
		return fmt.Errorf("failed to change folder permissions for (%s):\n%w", inputDir, err)
	}

	outputFile, err := os.Create(outputImagePath)
	if err != nil {
		return fmt.Errorf("failed to create image file (%s):\n%w", outputImagePath, err)
	}
	defer outputFile.Close()

	gzipWriter := pgzip.NewWriter(outputFile)
	defer gzipWriter.Close()

	cpioWriter := cpio.NewWriter(gzipWriter)
	defer func() {
		closeErr := cpioWriter.Close()
		if err == nil {
			err = closeErr
		}
	}()

	err = filepath.Walk(inputDir, func(path string, info os.FileInfo, fileErr error) error {
		if fileErr != nil {
			return fmt.Errorf("encountered a file walk error on path (%s):\n%w", path, fileErr)
		}
		if path == inputDir {
			return nil
		}

		err := addFileToCpioArchive(inputDir, path, info, cpioWriter)
		if err != nil {
			return fmt.Errorf("failed to add (%s) to archive (%s):\n%w", path, outputImagePath, err)
		}
		return nil
	})

	return err
}

func buildCpioHeader(inputDir, path string, info os.FileInfo, link string) (*cpio.Header, error) {
	cpioHeader, err := cpio.FileInfoHeader(info, link)
	if err != nil {
		return nil, fmt.Errorf("failed to convert OS file info into a cpio header for (%s):\n%w", path, err)
	}

	relPath, err := filepath.Rel(inputDir, path)
	if err != nil {
		return nil, fmt.Errorf("failed to get relative path of (%s) using root (%s):\n%w", path, inputDir, err)
	}
	cpioHeader.Name = relPath

	// cpio.FileInfoHeader() does not set the owners.
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		cpioHeader.UID = int(stat.Uid)
		cpioHeader.GID = int(stat.Gid)
	}

	return cpioHeader, nil
}

func addFileToCpioArchive(inputDir, path string, info os.FileInfo, cpioWriter *cpio.Writer) error {
	var link string
	var err error
	if info.Mode()&os.ModeSymlink != 0 {
		link, err = os.Readlink(path)
		if err != nil {
			return fmt.Errorf("failed to read link information of (%s):\n%w", path, err)
		}
	}

	cpioHeader, err := buildCpioHeader(inputDir, path, info, link)
	if err != nil {
		return err
	}

	err = cpioWriter.WriteHeader(cpioHeader)
	if err != nil {
		return fmt.Errorf("failed to write cpio header for (%s):\n%w", path, err)
	}

	switch {
	case info.Mode().IsRegular():
		fileToAdd, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open (%s):\n%w", path, err)
		}
		defer fileToAdd.Close()

		_, err = io.Copy(cpioWriter, fileToAdd)
		if err != nil {
			return fmt.Errorf("failed to write (%s) to cpio archive:\n%w", path, err)
		}

	case info.Mode()&os.ModeSymlink != 0:
		_, err = cpioWriter.Write([]byte(link))
		if err != nil {
			return fmt.Errorf("failed to write link (%s):\n%w", path, err)
		}
	}

	// All other special files are header-only entries.
	return nil
}
