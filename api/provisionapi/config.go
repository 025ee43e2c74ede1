// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionapi

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/clearlinux/verity-image-tools/internal/sliceutils"
)

const (
	DefaultBlockSize     = uint32(4096)
	DefaultBootEntryGlob = "loader/entries/*.conf"
	DefaultCmdlineAnchor = "quiet"
	DefaultMapperName    = "root"

	minBlockSize = 512
	maxBlockSize = 65536
)

var (
	mapperNameRegex = regexp.MustCompile("^[a-z][a-z0-9]*$")
)

// Config describes one provisioning run.
type Config struct {
	// Path to the disk image to provision.
	Image string `yaml:"image"`

	// Which pipeline variant to run.
	Mode Mode `yaml:"mode"`

	// The name of the verity mapper block device.
	// Must be 'root' for root-on-verity.
	MapperName string `yaml:"mapperName"`

	// Data and hash block size in bytes. Must match the filesystem's block
	// size or verification fails at boot, so there is no formatter default.
	BlockSize uint32 `yaml:"blockSize"`

	// 1-based partition number for each role the mode requires.
	Partitions map[PartitionRole]int `yaml:"partitions"`

	// Glob, relative to the boot partition root, matching boot entry files.
	BootEntryGlob string `yaml:"bootEntryGlob"`

	// The command-line token the verity parameters are inserted before.
	// Empty means append at end of line.
	CmdlineAnchor string `yaml:"cmdlineAnchor"`

	// Content hash for the integrity tree.
	HashAlgorithm HashAlgorithm `yaml:"hashAlgorithm"`

	// Whether to run the formatter's verify pass after binding. Root modes
	// always verify regardless of this setting.
	Verify *bool `yaml:"verify"`

	// Output path for the binding payload in initramfs mode.
	InitrdPath string `yaml:"initrdPath"`
}

// WithDefaults returns a copy of the config with unset optional fields
// replaced by their defaults.
func (c Config) WithDefaults() Config {
	if c.MapperName == "" {
		c.MapperName = DefaultMapperName
	}
	if c.BlockSize == 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.BootEntryGlob == "" {
		c.BootEntryGlob = DefaultBootEntryGlob
	}
	if c.CmdlineAnchor == "" {
		c.CmdlineAnchor = DefaultCmdlineAnchor
	}
	if c.HashAlgorithm == "" {
		c.HashAlgorithm = HashAlgorithmSha256
	}
	if c.Verify == nil {
		verify := true
		c.Verify = &verify
	}
	return c
}

// VerifyEnabled reports whether the verify pass will run. Data-only mode may
// opt out; root modes never complete without verification.
func (c Config) VerifyEnabled() bool {
	if c.Mode.RootOnVerity() {
		return true
	}
	return c.Verify == nil || *c.Verify
}

func (c *Config) IsValid() error {
	if c.Image == "" {
		return fmt.Errorf("'image' may not be empty")
	}
	if !filepath.IsAbs(c.Image) {
		return fmt.Errorf("'image' must be an absolute path (%s)", c.Image)
	}

	if err := c.Mode.IsValid(); err != nil {
		return err
	}

	if c.MapperName != "" && !mapperNameRegex.MatchString(c.MapperName) {
		return fmt.Errorf("invalid 'mapperName' value (%s)", c.MapperName)
	}
	if c.Mode.RootOnVerity() && c.MapperName != "" && c.MapperName != DefaultMapperName {
		return fmt.Errorf("'mapperName' must be (%s) when mode is (%s)", DefaultMapperName, c.Mode)
	}

	if c.BlockSize != 0 {
		if err := validateBlockSize(c.BlockSize); err != nil {
			return err
		}
	}

	if c.HashAlgorithm != "" {
		if err := c.HashAlgorithm.IsValid(); err != nil {
			return err
		}
	}

	if err := c.validatePartitions(); err != nil {
		return err
	}

	if c.Mode == ModeInitramfs {
		if c.InitrdPath == "" {
			return fmt.Errorf("'initrdPath' may not be empty when mode is (%s)", ModeInitramfs)
		}
	} else if c.InitrdPath != "" {
		return fmt.Errorf("'initrdPath' is only valid when mode is (%s)", ModeInitramfs)
	}

	return nil
}

func (c *Config) validatePartitions() error {
	requiredRoles := []PartitionRole{PartitionRoleData, PartitionRoleHash}
	if c.Mode.RootOnVerity() {
		requiredRoles = append(requiredRoles, PartitionRoleBoot, PartitionRoleRoot)
	}
	if c.Mode != ModeInitramfs {
		requiredRoles = append(requiredRoles, PartitionRoleStore)
	}

	for role, number := range c.Partitions {
		if err := role.IsValid(); err != nil {
			return err
		}
		if number < 1 {
			return fmt.Errorf("partition number for role (%s) must be >= 1 (got %d)", role, number)
		}
	}

	for _, role := range requiredRoles {
		if _, exists := c.Partitions[role]; !exists {
			return fmt.Errorf("mode (%s) requires a partition number for role (%s)", c.Mode, role)
		}
	}

	// Two roles sharing a partition would let one stage clobber another's
	// externally-visible state.
	seen := []int(nil)
	for _, number := range c.Partitions {
		if sliceutils.ContainsValue(seen, number) {
			return fmt.Errorf("partition number (%d) is assigned to more than one role", number)
		}
		seen = append(seen, number)
	}

	return nil
}

func validateBlockSize(blockSize uint32) error {
	if blockSize < minBlockSize || blockSize > maxBlockSize {
		return fmt.Errorf("'blockSize' (%d) must be between %d and %d", blockSize, minBlockSize, maxBlockSize)
	}
	if blockSize&(blockSize-1) != 0 {
		return fmt.Errorf("'blockSize' (%d) must be a power of two", blockSize)
	}
	return nil
}
