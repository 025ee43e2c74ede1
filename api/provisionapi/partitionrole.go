// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionapi

import (
	"fmt"
)

// PartitionRole names the function a physical partition serves in the
// provisioning pipeline. The role to partition-number mapping is a deployment
// contract supplied by configuration, never discovered dynamically.
type PartitionRole string

const (
	// PartitionRoleBoot is the partition holding boot-loader entry files.
	PartitionRoleBoot PartitionRole = "boot"

	// PartitionRoleRoot is the root filesystem partition.
	PartitionRoleRoot PartitionRole = "root"

	// PartitionRoleData is the partition protected by the hash tree.
	PartitionRoleData PartitionRole = "data"

	// PartitionRoleHash is the partition receiving the hash tree.
	PartitionRoleHash PartitionRole = "hash"

	// PartitionRoleStore is the partition recording the binding artifacts.
	PartitionRoleStore PartitionRole = "store"
)

func (r PartitionRole) IsValid() error {
	switch r {
	case PartitionRoleBoot, PartitionRoleRoot, PartitionRoleData, PartitionRoleHash, PartitionRoleStore:
		return nil

	default:
		return fmt.Errorf("invalid partition role (%s)", r)
	}
}
