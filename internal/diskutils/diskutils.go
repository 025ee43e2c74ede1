// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

// Package diskutils wraps the block-device plumbing needed to expose a disk
// image's partitions: loopback attach/detach and kernel partition discovery.
package diskutils

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clearlinux/verity-image-tools/internal/file"
	"github.com/clearlinux/verity-image-tools/internal/logger"
	"github.com/clearlinux/verity-image-tools/internal/retry"
	"github.com/clearlinux/verity-image-tools/internal/shell"
	"golang.org/x/sys/unix"
)

type blockDevicesOutput struct {
	Devices []PartitionInfo `json:"blockdevices"`
}

// PartitionInfo is the kernel's view of a single partition, as reported by
// lsblk.
type PartitionInfo struct {
	Name           string `json:"name"`       // Example: loop0p1
	Path           string `json:"path"`       // Example: /dev/loop0p1
	FileSystemType string `json:"fstype"`     // Example: ext4
	Uuid           string `json:"uuid"`       // Example: 4BD9-3A78
	PartUuid       string `json:"partuuid"`   // Example: 7b1367a6-5845-43f2-99b1-a742d873f590
	PartLabel      string `json:"partlabel"`  // Example: data
	Mountpoint     string `json:"mountpoint"` // Example: /mnt/os/boot
	Type           string `json:"type"`       // Example: part
	SizeInBytes    uint64 `json:"size"`       // Example: 4096
}

type loopbackListOutput struct {
	Devices []loopbackDevice `json:"loopdevices"`
}

type loopbackDevice struct {
	Name        string `json:"name"`
	BackingFile string `json:"back-file"`
}

// SetupLoopbackDevice creates a /dev/loop device for the given disk file,
// with partition scanning enabled.
func SetupLoopbackDevice(diskFilePath string) (string, error) {
	logger.Log.Debugf("Attaching loopback: %s", diskFilePath)
	stdout, stderr, err := shell.Execute("losetup", "--show", "-f", "-P", diskFilePath)
	if err != nil {
		return "", fmt.Errorf("failed to create loopback device using losetup:\n%v\n%w", stderr, err)
	}

	// losetup prints exactly one device path on success. Anything else means
	// the attach is ambiguous and must not be used.
	lines := strings.Fields(strings.TrimSpace(stdout))
	if len(lines) != 1 {
		return "", fmt.Errorf("losetup returned unexpected output (%s): expected a single device path", stdout)
	}

	devicePath := lines[0]
	logger.Log.Debugf("Created loopback device at device path: %s", devicePath)
	return devicePath, nil
}

// DetachLoopbackDevice detaches the given loop device.
func DetachLoopbackDevice(diskDevPath string) error {
	logger.Log.Debugf("Detaching loopback device path: %s", diskDevPath)
	_, stderr, err := shell.Execute("losetup", "-d", diskDevPath)
	if err != nil {
		return fmt.Errorf("failed to detach loopback device using losetup:\n%v\n%w", stderr, err)
	}
	return nil
}

// WaitForLoopbackToDetach waits until the kernel no longer reports the loop
// device as backed by the given disk file.
func WaitForLoopbackToDetach(devicePath string, diskPath string) error {
	if !filepath.IsAbs(diskPath) {
		return fmt.Errorf("internal error: loopback disk path must be absolute (%s)", diskPath)
	}

	_, err := retry.RunWithExpBackoff(context.Background(), func() error {
		stdout, _, err := shell.Execute("losetup", "--list", "--json", "--output", "NAME,BACK-FILE")
		if err != nil {
			return fmt.Errorf("failed to read loopback list:\n%w", err)
		}

		var output loopbackListOutput
		if stdout != "" {
			err = json.Unmarshal([]byte(stdout), &output)
			if err != nil {
				return fmt.Errorf("failed to parse loopback devices list JSON:\n%w", err)
			}
		}

		for _, device := range output.Devices {
			if device.Name == devicePath && device.BackingFile == diskPath {
				return fmt.Errorf("loopback device (%s) for disk (%s) is still attached", devicePath, diskPath)
			}
		}
		return nil
	}, 10 /*attempts*/, 120*time.Millisecond, 2.0 /*factor*/)
	if err != nil {
		return fmt.Errorf("timed out waiting for loopback device (%s) for disk (%s) to close:\n%w",
			devicePath, diskPath, err)
	}

	return nil
}

// GetDiskPartitions gets the kernel's view of a disk's partitions.
func GetDiskPartitions(diskDevPath string) ([]PartitionInfo, error) {
	jsonString, _, err := shell.Execute("lsblk", diskDevPath, "--output",
		"NAME,PATH,FSTYPE,UUID,PARTUUID,PARTLABEL,MOUNTPOINT,TYPE,SIZE", "--bytes", "--json", "--list")
	if err != nil {
		return nil, fmt.Errorf("failed to list disk (%s) partitions:\n%w", diskDevPath, err)
	}

	var output blockDevicesOutput
	if jsonString != "" {
		err = json.Unmarshal([]byte(jsonString), &output)
		if err != nil {
			return nil, fmt.Errorf("failed to parse disk (%s) partitions JSON:\n%w", diskDevPath, err)
		}
	}

	return output.Devices, nil
}

// PartitionDevPath returns the device path of the numbered partition on the
// given disk, waiting for the device node to appear.
//
// There are two partition naming conventions:
//   - /dev/sdN<x>
//   - /dev/loopNp<x>
//
// If the disk path ends in a digit, only the 'p<x>' style is checked to avoid
// ambiguities such as /dev/loop1 vs. /dev/loop11.
func PartitionDevPath(diskDevPath string, partitionNumber int) (string, error) {
	const (
		totalAttempts = 5
		retryDuration = time.Second
	)

	testPartDevPaths := []string{
		fmt.Sprintf("%sp%d", diskDevPath, partitionNumber),
	}
	if !isDigit(diskDevPath[len(diskDevPath)-1]) {
		testPartDevPaths = append(testPartDevPaths, fmt.Sprintf("%s%d", diskDevPath, partitionNumber))
	}

	partDevPath := ""
	err := retry.Run(func() error {
		for _, testPartDevPath := range testPartDevPaths {
			exists, err := file.PathExists(testPartDevPath)
			if err != nil {
				return fmt.Errorf("failed to find device path (%s):\n%w", testPartDevPath, err)
			}
			if exists {
				partDevPath = testPartDevPath
				return nil
			}
		}
		return fmt.Errorf("could not find partition (%d) of disk (%s) in /dev", partitionNumber, diskDevPath)
	}, totalAttempts, retryDuration)
	if err != nil {
		return "", err
	}

	return partDevPath, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// WaitForDevicesToSettle waits for all udev events to be processed on the
// system. This can be used to wait for partition device nodes to be
// discovered after attaching a disk.
func WaitForDevicesToSettle() error {
	logger.Log.Debugf("Waiting for devices to settle")
	_, _, err := shell.Execute("udevadm", "settle")
	if err != nil {
		return fmt.Errorf("failed to wait for devices to settle:\n%w", err)
	}
	return nil
}

// RefreshPartitions requests that the kernel reread the disk's partition
// table, then waits for the partition device nodes to settle.
func RefreshPartitions(diskDevPath string) error {
	err := requestKernelRereadPartitionTable(diskDevPath)
	if err != nil {
		return fmt.Errorf("failed to request partition table reread (%s):\n%w", diskDevPath, err)
	}

	return WaitForDevicesToSettle()
}

func requestKernelRereadPartitionTable(diskDevPath string) error {
	diskFile, err := os.OpenFile(diskDevPath, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer diskFile.Close()

	waitTime := 125 * time.Millisecond
	retries := 10
	for i := 0; ; i++ {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, diskFile.Fd(), unix.BLKRRPART, 0)
		switch {
		case errno == unix.EBUSY && i < retries:
			// Something else is using the disk at the moment.
			time.Sleep(waitTime)
			waitTime *= 2
			continue

		case errno != 0:
			return errno

		default:
			return nil
		}
	}
}
