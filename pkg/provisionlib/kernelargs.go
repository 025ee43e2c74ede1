// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionlib

import (
	"fmt"
	"strings"
)

const deviceMapperPath = "/dev/mapper"

// verityArgNames are the kernel command-line argument names owned by this
// tool. Any existing occurrence is stripped before the new values are
// inserted, which is what makes re-provisioning idempotent.
var verityArgNames = []string{
	"systemd.verity",
	"rd.systemd.verity",
	"roothash",
	"systemd.verity_root_data",
	"systemd.verity_root_hash",
	"systemd.verity_root_options",
}

// VerityKernelArgs is the pure projection of an integrity binding plus the
// involved partition handles into the tokens the kernel's verity subsystem
// expects. It is always recomputed from the binding, never stored, so the
// command line cannot drift from the recorded root hash.
type VerityKernelArgs struct {
	MapperName     string
	RootHash       string
	DataDevicePath string
	HashDevicePath string
}

// Tokens returns the command-line tokens in their fixed order.
func (a VerityKernelArgs) Tokens() []string {
	return []string{
		"systemd.verity=yes",
		fmt.Sprintf("roothash=%s", a.RootHash),
		fmt.Sprintf("systemd.verity_root_data=%s", a.DataDevicePath),
		fmt.Sprintf("systemd.verity_root_hash=%s", a.HashDevicePath),
	}
}

// MapperDevicePath returns the path of the verity device the kernel creates.
func (a VerityKernelArgs) MapperDevicePath() string {
	return deviceMapperPath + "/" + a.MapperName
}

// isVerityArgToken reports whether the token sets one of the argument names
// owned by this tool. Matching is on the full name before '=', so unrelated
// arguments that merely share a prefix are never touched.
func isVerityArgToken(token string) bool {
	name, _, _ := strings.Cut(token, "=")
	for _, argName := range verityArgNames {
		if name == argName {
			return true
		}
	}
	return false
}
