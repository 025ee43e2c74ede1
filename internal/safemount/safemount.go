// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

// Package safemount provides a filesystem mount that is guaranteed to be
// released, including on panic and error paths.
package safemount

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/clearlinux/verity-image-tools/internal/logger"
	"github.com/clearlinux/verity-image-tools/internal/retry"
	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

type Mount struct {
	target     string
	isMounted  bool
	dirCreated bool
}

// NewMount mounts the device at the target path and returns an object that
// tracks the mount's lifetime. If makeAndDeleteDir is set, the target
// directory is created now and removed on clean close.
func NewMount(source, target, fstype string, flags uintptr, data string, makeAndDeleteDir bool,
) (m *Mount, err error) {
	mount := &Mount{
		target: target,
	}
	defer func() {
		if err != nil {
			mount.Close()
		}
	}()

	if makeAndDeleteDir {
		err = os.MkdirAll(target, 0o755)
		if err != nil {
			return nil, fmt.Errorf("failed to create mount directory (%s):\n%w", target, err)
		}
		mount.dirCreated = true
	}

	logger.Log.Debugf("Mounting (%s) at (%s)", source, target)
	err = unix.Mount(source, target, fstype, flags, data)
	if err != nil {
		return nil, fmt.Errorf("failed to mount (%s) at (%s):\n%w", source, target, err)
	}
	mount.isMounted = true

	return mount, nil
}

// Target returns the mount's target directory.
func (m *Mount) Target() string {
	return m.target
}

// IsMounted reports whether the mount is still held by this object.
func (m *Mount) IsMounted() bool {
	return m.isMounted
}

// CleanClose unmounts the target and removes the mount directory if this
// object created it. Safe to call multiple times.
func (m *Mount) CleanClose() error {
	return m.close()
}

// Close unmounts the target, logging any failure instead of returning it.
// Used on error paths where a cleanup failure must not mask the original
// error. Safe to call multiple times.
func (m *Mount) Close() {
	err := m.close()
	if err != nil {
		logger.Log.Warnf("%v", err)
	}
}

func (m *Mount) close() error {
	if m.isMounted {
		// The mount may have already been released by a sibling namespace or a
		// forced detach. Unmounting an already-unmounted path is a no-op.
		stillMounted, err := mountinfo.Mounted(m.target)
		if err != nil {
			return fmt.Errorf("failed to query mount state of (%s):\n%w", m.target, err)
		}

		if stillMounted {
			logger.Log.Debugf("Unmounting (%s)", m.target)
			err = unmountWithRetry(m.target)
			if err != nil {
				return err
			}
		}
		m.isMounted = false
	}

	if m.dirCreated {
		err := os.Remove(m.target)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove mount directory (%s):\n%w", m.target, err)
		}
		m.dirCreated = false
	}

	return nil
}

func unmountWithRetry(target string) error {
	// A just-written filesystem can keep the mount busy briefly.
	err := retry.Run(func() error {
		return unix.Unmount(target, 0)
	}, 5, 200*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to unmount (%s):\n%w", target, err)
	}
	return nil
}
