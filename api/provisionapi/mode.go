// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionapi

import (
	"fmt"
)

// Mode selects which variant of the provisioning pipeline runs.
type Mode string

const (
	// ModeData protects a data partition only. Boot entries are patched when
	// present but an empty boot partition is not an error.
	ModeData Mode = "data"

	// ModeRoot protects the root filesystem. Boot entries must exist and the
	// root device reference is rewritten to the verity mapper device.
	ModeRoot Mode = "root"

	// ModeInitramfs is root verity with the binding artifacts packed into an
	// initramfs payload instead of a metadata partition.
	ModeInitramfs Mode = "initramfs"
)

func (m Mode) IsValid() error {
	switch m {
	case ModeData, ModeRoot, ModeInitramfs:
		return nil

	default:
		return fmt.Errorf("invalid mode (%s)", m)
	}
}

// RootOnVerity reports whether the mode places the root filesystem itself
// behind the verity mapper device.
func (m Mode) RootOnVerity() bool {
	return m == ModeRoot || m == ModeInitramfs
}
