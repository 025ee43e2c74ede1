// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionlib

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/clearlinux/verity-image-tools/internal/file"
	"github.com/clearlinux/verity-image-tools/internal/initrdutils"
	"github.com/clearlinux/verity-image-tools/internal/logger"
)

const (
	rootHashFileName       = "hash.txt"
	saltFileName           = "salt.txt"
	recreateScriptFileName = "vcreate.sh"

	// Directory inside the initramfs payload that holds the binding artifacts.
	initrdMetadataDir = "etc/verity.d"
)

// recreateScript captures everything needed to re-open the verity mapping by
// hand on a booted system.
type recreateScript struct {
	MapperName        string
	DataDevicePath    string
	HashDevicePath    string
	DataBlockSize     uint32
	HashBlockSize     uint32
	RootHash          string
	DataDeviceSectors uint64
}

func (s recreateScript) render() string {
	script := "#!/bin/sh\n"
	if s.DataDeviceSectors > 0 {
		script += fmt.Sprintf("# data device size: %d 512-byte sectors\n", s.DataDeviceSectors)
	}
	script += fmt.Sprintf("veritysetup --verbose --data-block-size=%d --hash-block-size=%d create %s %s %s %s\n",
		s.DataBlockSize, s.HashBlockSize, s.MapperName, s.DataDevicePath, s.HashDevicePath, s.RootHash)
	script += "mkdir -p /mnt/verity\n"
	script += fmt.Sprintf("mount -o ro /dev/mapper/%s /mnt/verity\n", s.MapperName)
	return script
}

// persistBindingToStore writes the binding artifacts into the mounted store
// partition's directory. Existing artifacts from a previous run are
// overwritten, keeping the store consistent with the freshly formatted tree.
func persistBindingToStore(storeDir string, binding IntegrityBinding, script recreateScript) error {
	err := writeBindingArtifacts(storeDir, binding, script)
	if err != nil {
		return fmt.Errorf("%w: failed to write binding artifacts to store (%s):\n%w",
			ErrPersistence, storeDir, err)
	}

	logger.Log.Infof("Recorded integrity binding on metadata store")
	return nil
}

// persistBindingToInitrd packs the binding artifacts into a gzip-compressed
// cpio archive at outputPath. The archive is suitable for concatenation onto
// an existing initramfs, where the artifacts land under /etc/verity.d.
func persistBindingToInitrd(stagingDir string, outputPath string, binding IntegrityBinding,
	script recreateScript,
) error {
	payloadRoot := filepath.Join(stagingDir, "initrd-root")
	artifactsDir := filepath.Join(payloadRoot, initrdMetadataDir)

	err := os.MkdirAll(artifactsDir, os.ModePerm)
	if err != nil {
		return fmt.Errorf("%w: failed to stage initramfs payload dir:\n%w", ErrPersistence, err)
	}

	err = writeBindingArtifacts(artifactsDir, binding, script)
	if err != nil {
		return fmt.Errorf("%w: failed to stage binding artifacts:\n%w", ErrPersistence, err)
	}

	err = initrdutils.CreateImageFromFolder(payloadRoot, outputPath)
	if err != nil {
		return fmt.Errorf("%w: failed to create initramfs payload (%s):\n%w",
			ErrPersistence, outputPath, err)
	}

	logger.Log.Infof("Recorded integrity binding in initramfs payload: %s", outputPath)
	return nil
}

func writeBindingArtifacts(dir string, binding IntegrityBinding, script recreateScript) error {
	err := file.Write(binding.RootHash, filepath.Join(dir, rootHashFileName))
	if err != nil {
		return err
	}

	err = file.Write(binding.Salt, filepath.Join(dir, saltFileName))
	if err != nil {
		return err
	}

	scriptPath := filepath.Join(dir, recreateScriptFileName)
	err = file.Write(script.render(), scriptPath)
	if err != nil {
		return err
	}

	err = os.Chmod(scriptPath, 0o755)
	if err != nil {
		return fmt.Errorf("failed to mark recreate script executable:\n%w", err)
	}

	return nil
}

// ReadStoredBinding loads hash.txt and salt.txt from a binding artifacts
// directory. Used by the inspector; provisioning never reads these back.
func ReadStoredBinding(dir string) (rootHash string, salt string, err error) {
	rootHash, err = file.Read(filepath.Join(dir, rootHashFileName))
	if err != nil {
		return "", "", err
	}
	rootHash = strings.TrimSpace(rootHash)

	salt, err = file.Read(filepath.Join(dir, saltFileName))
	if err != nil {
		return "", "", err
	}
	salt = strings.TrimSpace(salt)

	err = validateHexValue("stored root hash", rootHash)
	if err != nil {
		return "", "", err
	}
	err = validateHexValue("stored salt", salt)
	if err != nil {
		return "", "", err
	}

	return rootHash, salt, nil
}
