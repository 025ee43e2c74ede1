// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package osinfo

import (
	"strings"

	"github.com/clearlinux/verity-image-tools/internal/file"
)

const osReleaseFile = "/etc/os-release"

// GetDistroAndVersion reads the host distro name and version from
// /etc/os-release. Returns "Unknown" values if the file is unreadable.
func GetDistroAndVersion() (string, string) {
	distro := "Unknown Distribution"
	version := "Unknown Version"

	lines, err := file.ReadLines(osReleaseFile)
	if err != nil {
		return distro, version
	}

	for _, line := range lines {
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)

		switch key {
		case "NAME":
			distro = value
		case "VERSION_ID":
			version = value
		}
	}

	return distro, version
}
