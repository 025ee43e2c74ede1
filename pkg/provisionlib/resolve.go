// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionlib

import (
	"fmt"

	"github.com/clearlinux/verity-image-tools/api/provisionapi"
	"github.com/clearlinux/verity-image-tools/internal/diskutils"
	"github.com/clearlinux/verity-image-tools/internal/logger"
	"github.com/clearlinux/verity-image-tools/internal/sliceutils"
)

// Device path of the disk as the provisioned image sees it at boot. The
// values baked into boot entries and the recreate script must use the
// in-image naming, not the host's loopback naming.
const targetDiskDevPath = "/dev/sda"

// PartitionHandle pairs a configured partition role with the device nodes it
// resolved to. DevicePath is the host-side node used for formatting and
// mounting; TargetDevicePath is the path the booted image will see.
type PartitionHandle struct {
	Role             provisionapi.PartitionRole
	Number           int
	DevicePath       string
	TargetDevicePath string
	FileSystemType   string
	SizeInBytes      uint64
}

// SizeInSectors returns the partition size in 512-byte sectors.
func (h PartitionHandle) SizeInSectors() uint64 {
	return h.SizeInBytes / 512
}

// resolvePartitions maps every configured partition role to its device nodes
// on the attached disk. Every requested partition number must exist in the
// kernel's view of the disk, otherwise the config does not describe this
// image and nothing may be formatted.
func resolvePartitions(diskDevPath string, partitions map[provisionapi.PartitionRole]int,
) (map[provisionapi.PartitionRole]PartitionHandle, error) {
	partitionInfos, err := diskutils.GetDiskPartitions(diskDevPath)
	if err != nil {
		return nil, fmt.Errorf("%w:\n%w", ErrPartitionMismatch, err)
	}

	logger.Log.Debugf("Disk (%s) partitions: %v", diskDevPath,
		sliceutils.MapToSlice(partitionInfos, func(p diskutils.PartitionInfo) string {
			return p.Path
		}))

	handles := make(map[provisionapi.PartitionRole]PartitionHandle, len(partitions))
	for role, number := range partitions {
		devPath, err := diskutils.PartitionDevPath(diskDevPath, number)
		if err != nil {
			// The kernel may not have picked up the partition table yet.
			// Force a reread and try once more.
			refreshErr := diskutils.RefreshPartitions(diskDevPath)
			if refreshErr != nil {
				logger.Log.Warnf("Failed to refresh partitions on (%s): %v", diskDevPath, refreshErr)
			}
			devPath, err = diskutils.PartitionDevPath(diskDevPath, number)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: partition %d (%s) not found on disk (%s):\n%w",
				ErrPartitionMismatch, number, role, diskDevPath, err)
		}

		info, found := sliceutils.FindValueFunc(partitionInfos, func(p diskutils.PartitionInfo) bool {
			return p.Path == devPath
		})
		if !found {
			return nil, fmt.Errorf("%w: partition %d (%s) device (%s) missing from kernel partition list",
				ErrPartitionMismatch, number, role, devPath)
		}
		if info.Type != "part" {
			return nil, fmt.Errorf("%w: device (%s) is a (%s), not a partition",
				ErrPartitionMismatch, devPath, info.Type)
		}

		handles[role] = PartitionHandle{
			Role:             role,
			Number:           number,
			DevicePath:       devPath,
			TargetDevicePath: fmt.Sprintf("%s%d", targetDiskDevPath, number),
			FileSystemType:   info.FileSystemType,
			SizeInBytes:      info.SizeInBytes,
		}

		logger.Log.Debugf("Resolved partition role (%s): number=%d device=%s", role, number, devPath)
	}

	return handles, nil
}

// checkHashPartitionCapacity estimates the size of the hash tree that will be
// built over the data partition and fails fast when the hash partition cannot
// hold it. Without this, veritysetup fails midway with the hash partition
// partially overwritten.
func checkHashPartitionCapacity(dataHandle PartitionHandle, hashHandle PartitionHandle,
	blockSize uint32, algorithm provisionapi.HashAlgorithm,
) error {
	digestSize, err := algorithm.DigestSize()
	if err != nil {
		return err
	}

	dataBlocks := dataHandle.SizeInBytes / uint64(blockSize)
	treeSize, err := hashTreeSizeInBytes(dataBlocks, blockSize, blockSize, uint32(digestSize))
	if err != nil {
		return err
	}

	if treeSize > hashHandle.SizeInBytes {
		return fmt.Errorf("%w: hash partition (%s) is too small: need %d bytes, have %d",
			ErrPartitionMismatch, hashHandle.DevicePath, treeSize, hashHandle.SizeInBytes)
	}

	return nil
}
