// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

// Tool to inspect dm-verity superblocks and recorded binding artifacts.

package main

import (
	"fmt"
	"maps"

	"github.com/alecthomas/kong"
	"github.com/clearlinux/verity-image-tools/internal/exekong"
	"github.com/clearlinux/verity-image-tools/internal/logger"
	"github.com/clearlinux/verity-image-tools/internal/ptrutils"
	"github.com/clearlinux/verity-image-tools/pkg/provisionlib"
	"github.com/google/uuid"
)

type SuperblockCmd struct {
	Path string `arg:"" help:"Hash partition device or image file starting with a dm-verity superblock."`
}

type StoreCmd struct {
	Dir string `arg:"" help:"Directory holding recorded binding artifacts (hash.txt, salt.txt)."`
}

type InspectCmd struct {
	Superblock SuperblockCmd `cmd:"" help:"Decode and print a dm-verity superblock."`
	Store      StoreCmd      `cmd:"" help:"Validate and print recorded binding artifacts."`
	Version    kong.VersionFlag
	exekong.LogFlags
}

func main() {
	cli := &InspectCmd{}

	vars := kong.Vars{
		"version": provisionlib.ToolVersion,
	}
	maps.Copy(vars, exekong.KongVars)

	ktx := kong.Parse(cli,
		vars,
		kong.HelpOptions{
			Compact:   true,
			FlagsLast: true,
		},
		kong.UsageOnError())

	logger.InitBestEffort(ptrutils.PtrTo(cli.LogFlags.AsLoggerFlags()))

	err := ktx.Run()
	ktx.FatalIfErrorf(err)
}

func (c *SuperblockCmd) Run() error {
	superblock, err := provisionlib.ReadVeritySuperblock(c.Path)
	if err != nil {
		return err
	}

	hashDeviceUuid, err := uuid.FromBytes(superblock.Uuid[:])
	if err != nil {
		return fmt.Errorf("failed to decode superblock UUID:\n%w", err)
	}

	treeSize, err := superblock.HashTreeSizeInBytes()
	if err != nil {
		return err
	}

	fmt.Printf("Version:         %d\n", superblock.Version)
	fmt.Printf("Hash type:       %d\n", superblock.HashType)
	fmt.Printf("UUID:            %s\n", hashDeviceUuid)
	fmt.Printf("Algorithm:       %s\n", superblock.AlgorithmName())
	fmt.Printf("Data block size: %d\n", superblock.DataBlockSize)
	fmt.Printf("Hash block size: %d\n", superblock.HashBlockSize)
	fmt.Printf("Data blocks:     %d\n", superblock.DataBlocks)
	fmt.Printf("Salt:            %s\n", superblock.EncodedSalt())
	fmt.Printf("Hash tree size:  %d bytes\n", treeSize)
	return nil
}

func (c *StoreCmd) Run() error {
	rootHash, salt, err := provisionlib.ReadStoredBinding(c.Dir)
	if err != nil {
		return err
	}

	fmt.Printf("Root hash: %s\n", rootHash)
	fmt.Printf("Salt:      %s\n", salt)
	return nil
}
