// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionlib

import (
	"testing"

	"github.com/clearlinux/verity-image-tools/api/provisionapi"
	"github.com/stretchr/testify/assert"
)

func TestPartitionHandleSizeInSectors(t *testing.T) {
	handle := PartitionHandle{SizeInBytes: 41943040}
	assert.Equal(t, uint64(81920), handle.SizeInSectors())
}

func TestCheckHashPartitionCapacity(t *testing.T) {
	dataHandle := PartitionHandle{
		Role:        provisionapi.PartitionRoleData,
		DevicePath:  "/dev/loop0p4",
		SizeInBytes: 10240 * 4096,
	}
	hashHandle := PartitionHandle{
		Role:        provisionapi.PartitionRoleHash,
		DevicePath:  "/dev/loop0p5",
		SizeInBytes: 82 * 4096,
	}

	err := checkHashPartitionCapacity(dataHandle, hashHandle, 4096,
		provisionapi.HashAlgorithmSha256)
	assert.NoError(t, err)
}

func TestCheckHashPartitionCapacityTooSmall(t *testing.T) {
	dataHandle := PartitionHandle{
		Role:        provisionapi.PartitionRoleData,
		DevicePath:  "/dev/loop0p4",
		SizeInBytes: 10240 * 4096,
	}
	hashHandle := PartitionHandle{
		Role:        provisionapi.PartitionRoleHash,
		DevicePath:  "/dev/loop0p5",
		SizeInBytes: 81 * 4096,
	}

	err := checkHashPartitionCapacity(dataHandle, hashHandle, 4096,
		provisionapi.HashAlgorithmSha256)
	assert.ErrorIs(t, err, ErrPartitionMismatch)
	assert.ErrorContains(t, err, "hash partition (/dev/loop0p5) is too small")
}
