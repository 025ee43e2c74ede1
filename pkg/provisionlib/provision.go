// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

// Package provisionlib implements the verity provisioning pipeline: attach a
// disk image, build a hash tree over its data partition, patch the boot
// configuration, record the binding, and verify the result.
package provisionlib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clearlinux/verity-image-tools/api/provisionapi"
	"github.com/clearlinux/verity-image-tools/internal/file"
	"github.com/clearlinux/verity-image-tools/internal/logger"
	"github.com/clearlinux/verity-image-tools/internal/safeloopback"
	"github.com/clearlinux/verity-image-tools/internal/safemount"
	"github.com/google/uuid"
	"github.com/moby/sys/mountinfo"
	"go.opentelemetry.io/otel"
	"golang.org/x/sys/unix"
)

const provisionTracerName = "verityprovision"

// Options carries debug knobs that are not part of the image description.
type Options struct {
	// SeedFiles maps data-partition relative paths to file contents, written
	// before the hash tree is built. Debug aid; empty in production use.
	SeedFiles map[string]string
}

type pipeline struct {
	config    provisionapi.Config
	options   Options
	workspace string

	loopback *safeloopback.Loopback
	handles  map[provisionapi.PartitionRole]PartitionHandle
	binding  IntegrityBinding
}

// ProvisionWithConfigFile runs the pipeline described by a YAML config file.
func ProvisionWithConfigFile(ctx context.Context, buildDir string, configFilePath string) error {
	config := &provisionapi.Config{}
	err := provisionapi.UnmarshalAndValidateYamlFile(configFilePath, config)
	if err != nil {
		return fmt.Errorf("failed to load config file (%s):\n%w", configFilePath, err)
	}

	return Provision(ctx, buildDir, *config)
}

// Provision runs the full provisioning pipeline against the configured disk
// image. The caller must ensure no other pipeline is operating on the same
// image file; concurrent runs against one image corrupt the hash partition.
func Provision(ctx context.Context, buildDir string, config provisionapi.Config) error {
	return ProvisionWithOptions(ctx, buildDir, config, Options{})
}

func ProvisionWithOptions(ctx context.Context, buildDir string, config provisionapi.Config,
	options Options,
) (err error) {
	config = config.WithDefaults()
	err = config.IsValid()
	if err != nil {
		return fmt.Errorf("invalid config:\n%w", err)
	}

	workspace := filepath.Join(buildDir, "run-"+uuid.New().String())
	err = os.MkdirAll(workspace, os.ModePerm)
	if err != nil {
		return fmt.Errorf("failed to create workspace (%s):\n%w", workspace, err)
	}

	p := &pipeline{
		config:    config,
		options:   options,
		workspace: workspace,
	}

	cleanup := &cleanupStack{}
	cleanup.push("remove workspace", func() error {
		return removeWorkspace(workspace)
	})
	defer func() {
		cleanupErr := cleanup.run()
		if err == nil {
			err = cleanupErr
		}
	}()

	logger.Log.Infof("Provisioning image (%s) in (%s) mode", config.Image, config.Mode)

	err = runStage(ctx, StageAttach, func(ctx context.Context) error {
		return p.attach(cleanup)
	})
	if err != nil {
		return err
	}

	err = runStage(ctx, StageFormat, p.format)
	if err != nil {
		return err
	}

	err = runStage(ctx, StagePatch, p.patch)
	if err != nil {
		return err
	}

	err = runStage(ctx, StagePersist, p.persist)
	if err != nil {
		return err
	}

	err = runStage(ctx, StageVerify, p.verify)
	if err != nil {
		return err
	}

	logger.Log.Infof("Provisioning succeeded")
	return nil
}

// runStage executes one pipeline stage under a telemetry span, tagging any
// failure with the stage name. Cancellation is observed between stages: a
// stage that has started runs to completion.
func runStage(ctx context.Context, stage Stage, f func(ctx context.Context) error) error {
	if ctx.Err() != nil {
		return &PipelineError{Stage: stage, Err: ctx.Err()}
	}

	ctx, span := otel.GetTracerProvider().Tracer(provisionTracerName).Start(ctx,
		string(stage)+"_stage")
	defer span.End()

	logger.Log.Debugf("Running stage: %s", stage)

	err := f(ctx)
	if err != nil {
		return &PipelineError{Stage: stage, Err: err}
	}
	return nil
}

func (p *pipeline) attach(cleanup *cleanupStack) error {
	loopback, err := safeloopback.NewLoopback(p.config.Image)
	if err != nil {
		return fmt.Errorf("%w:\n%w", ErrAttach, err)
	}
	p.loopback = loopback
	cleanup.push("detach loopback", loopback.CleanClose)

	p.handles, err = resolvePartitions(loopback.DevicePath(), p.config.Partitions)
	if err != nil {
		return err
	}

	return nil
}

func (p *pipeline) format(ctx context.Context) error {
	dataHandle := p.handles[provisionapi.PartitionRoleData]
	hashHandle := p.handles[provisionapi.PartitionRoleHash]

	if len(p.options.SeedFiles) > 0 {
		err := p.seedDataPartition(dataHandle)
		if err != nil {
			return err
		}
	}

	err := checkHashPartitionCapacity(dataHandle, hashHandle, p.config.BlockSize,
		p.config.HashAlgorithm)
	if err != nil {
		return err
	}

	p.binding, err = formatVerityDevice(dataHandle.DevicePath, hashHandle.DevicePath,
		p.config.BlockSize, p.config.HashAlgorithm)
	if err != nil {
		return err
	}

	return p.checkSuperblockConsistency(hashHandle)
}

// seedDataPartition writes the debug payload files into the data partition.
// The partition must be unmounted again before the hash tree is built, so the
// mount does not outlive this function.
func (p *pipeline) seedDataPartition(dataHandle PartitionHandle) error {
	mount, err := p.mountPartition(dataHandle, "data", false /*readOnly*/)
	if err != nil {
		return err
	}
	defer mount.Close()

	for relPath, contents := range p.options.SeedFiles {
		seedPath := filepath.Join(mount.Target(), relPath)
		err := os.MkdirAll(filepath.Dir(seedPath), os.ModePerm)
		if err != nil {
			return fmt.Errorf("failed to seed data partition:\n%w", err)
		}
		err = file.Write(contents, seedPath)
		if err != nil {
			return fmt.Errorf("failed to seed data partition:\n%w", err)
		}
	}

	return mount.CleanClose()
}

// checkSuperblockConsistency cross-checks the formatter's reported binding
// against the superblock it wrote. A mismatch means the hash device does not
// describe the tree the binding claims, which would only surface at boot.
func (p *pipeline) checkSuperblockConsistency(hashHandle PartitionHandle) error {
	superblock, err := ReadVeritySuperblock(hashHandle.DevicePath)
	if err != nil {
		return err
	}

	if superblock.DataBlockSize != p.binding.DataBlockSize ||
		superblock.HashBlockSize != p.binding.HashBlockSize {
		return fmt.Errorf("%w: superblock block sizes (%d/%d) do not match requested (%d/%d)",
			ErrFormatterOutput, superblock.DataBlockSize, superblock.HashBlockSize,
			p.binding.DataBlockSize, p.binding.HashBlockSize)
	}

	if superblock.AlgorithmName() != string(p.binding.Algorithm) {
		return fmt.Errorf("%w: superblock algorithm (%s) does not match requested (%s)",
			ErrFormatterOutput, superblock.AlgorithmName(), p.binding.Algorithm)
	}

	if superblock.EncodedSalt() != p.binding.Salt {
		return fmt.Errorf("%w: superblock salt does not match formatter output", ErrFormatterOutput)
	}

	return nil
}

func (p *pipeline) kernelArgs() VerityKernelArgs {
	return VerityKernelArgs{
		MapperName:     p.config.MapperName,
		RootHash:       p.binding.RootHash,
		DataDevicePath: p.handles[provisionapi.PartitionRoleData].TargetDevicePath,
		HashDevicePath: p.handles[provisionapi.PartitionRoleHash].TargetDevicePath,
	}
}

func (p *pipeline) patch(ctx context.Context) error {
	rootOnVerity := p.config.Mode.RootOnVerity()
	args := p.kernelArgs()

	bootHandle, hasBoot := p.handles[provisionapi.PartitionRoleBoot]
	if !hasBoot {
		logger.Log.Debugf("No boot partition configured. Skipping boot entry patching")
		return nil
	}

	mount, err := p.mountPartition(bootHandle, "boot", false /*readOnly*/)
	if err != nil {
		return err
	}
	defer mount.Close()

	patchedCount, err := patchBootEntries(mount.Target(), p.config.BootEntryGlob, args,
		rootOnVerity, p.config.CmdlineAnchor)
	if err != nil {
		return err
	}

	err = p.checkPatchedEntryCount(patchedCount, rootOnVerity)
	if err != nil {
		return err
	}

	err = mount.CleanClose()
	if err != nil {
		return err
	}

	if rootOnVerity {
		err = p.patchRootCmdlineFragments(args)
		if err != nil {
			return err
		}
	}

	return nil
}

// checkPatchedEntryCount enforces the boot entry requirement: an image whose
// root is on verity cannot boot without a patched entry, so zero matches is
// fatal there and only a warning in data mode.
func (p *pipeline) checkPatchedEntryCount(patchedCount int, rootOnVerity bool) error {
	if patchedCount != 0 {
		return nil
	}

	if rootOnVerity {
		return fmt.Errorf("%w: glob (%s)", ErrNoBootEntries, p.config.BootEntryGlob)
	}

	logger.Log.Warnf("No boot entries matched glob (%s)", p.config.BootEntryGlob)
	return nil
}

func (p *pipeline) patchRootCmdlineFragments(args VerityKernelArgs) error {
	rootHandle := p.handles[provisionapi.PartitionRoleRoot]

	mount, err := p.mountPartition(rootHandle, "root", false /*readOnly*/)
	if err != nil {
		return err
	}
	defer mount.Close()

	_, err = patchCmdlineFragments(mount.Target(), args, true /*rootOnVerity*/)
	if err != nil {
		return err
	}

	return mount.CleanClose()
}

func (p *pipeline) persist(ctx context.Context) error {
	dataHandle := p.handles[provisionapi.PartitionRoleData]
	hashHandle := p.handles[provisionapi.PartitionRoleHash]

	script := recreateScript{
		MapperName:        p.config.MapperName,
		DataDevicePath:    dataHandle.TargetDevicePath,
		HashDevicePath:    hashHandle.TargetDevicePath,
		DataBlockSize:     p.binding.DataBlockSize,
		HashBlockSize:     p.binding.HashBlockSize,
		RootHash:          p.binding.RootHash,
		DataDeviceSectors: dataHandle.SizeInSectors(),
	}

	if p.config.Mode == provisionapi.ModeInitramfs {
		return persistBindingToInitrd(p.workspace, p.config.InitrdPath, p.binding, script)
	}

	storeHandle := p.handles[provisionapi.PartitionRoleStore]

	mount, err := p.mountPartition(storeHandle, "store", false /*readOnly*/)
	if err != nil {
		return err
	}
	defer mount.Close()

	err = persistBindingToStore(mount.Target(), p.binding, script)
	if err != nil {
		return err
	}

	return mount.CleanClose()
}

func (p *pipeline) verify(ctx context.Context) error {
	if !p.config.VerifyEnabled() {
		logger.Log.Infof("Verification disabled. Skipping")
		return nil
	}

	dataHandle := p.handles[provisionapi.PartitionRoleData]
	hashHandle := p.handles[provisionapi.PartitionRoleHash]
	return verifyVerityDevice(dataHandle.DevicePath, hashHandle.DevicePath, p.binding)
}

// removeWorkspace deletes the workspace directory. If a partition mount
// survived its unmount retries and is still live under the workspace, the
// directory is left in place: recursing through the mount would delete the
// partition's contents, not just scratch files.
func removeWorkspace(workspace string) error {
	mounts, err := mountinfo.GetMounts(mountinfo.PrefixFilter(workspace))
	if err != nil {
		return fmt.Errorf("failed to query mounts under workspace (%s):\n%w", workspace, err)
	}
	if len(mounts) > 0 {
		return fmt.Errorf("workspace (%s) still contains a mounted filesystem (%s): not removing",
			workspace, mounts[0].Mountpoint)
	}

	return os.RemoveAll(workspace)
}

func (p *pipeline) mountPartition(handle PartitionHandle, name string, readOnly bool,
) (*safemount.Mount, error) {
	flags := uintptr(0)
	if readOnly {
		flags = unix.MS_RDONLY
	}

	target := filepath.Join(p.workspace, name)
	mount, err := safemount.NewMount(handle.DevicePath, target, handle.FileSystemType, flags, "",
		true /*makeAndDeleteDir*/)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to mount (%s) partition (%s):\n%w",
			ErrPartitionMismatch, handle.Role, handle.DevicePath, err)
	}

	return mount, nil
}
