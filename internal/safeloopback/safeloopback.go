// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

// Package safeloopback provides a loopback device attachment that is
// guaranteed to be detached, including on panic and error paths.
package safeloopback

import (
	"github.com/clearlinux/verity-image-tools/internal/diskutils"
	"github.com/clearlinux/verity-image-tools/internal/logger"
)

type Loopback struct {
	devicePath   string
	diskFilePath string
	isAttached   bool
}

// NewLoopback attaches the disk file to a new loop device with partition
// scanning enabled and waits for the partition device nodes to appear.
func NewLoopback(diskFilePath string) (l *Loopback, err error) {
	loopback := &Loopback{
		diskFilePath: diskFilePath,
	}
	defer func() {
		if err != nil {
			loopback.Close()
		}
	}()

	loopback.devicePath, err = diskutils.SetupLoopbackDevice(diskFilePath)
	if err != nil {
		return nil, err
	}
	loopback.isAttached = true

	err = diskutils.WaitForDevicesToSettle()
	if err != nil {
		return nil, err
	}

	return loopback, nil
}

func (l *Loopback) DevicePath() string {
	return l.devicePath
}

func (l *Loopback) DiskFilePath() string {
	return l.diskFilePath
}

// CleanClose detaches the loop device and waits for the kernel to release it.
// Safe to call multiple times.
func (l *Loopback) CleanClose() error {
	return l.close(true)
}

// Close detaches the loop device, logging any failure instead of returning
// it. Safe to call multiple times.
func (l *Loopback) Close() {
	err := l.close(false)
	if err != nil {
		logger.Log.Warnf("%v", err)
	}
}

func (l *Loopback) close(waitForDetach bool) error {
	if !l.isAttached {
		return nil
	}

	err := diskutils.DetachLoopbackDevice(l.devicePath)
	if err != nil {
		return err
	}
	l.isAttached = false

	if waitForDetach {
		err = diskutils.WaitForLoopbackToDetach(l.devicePath, l.diskFilePath)
		if err != nil {
			return err
		}
	}

	return nil
}
