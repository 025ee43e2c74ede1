// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionlib

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cavaliercoder/go-cpio"
	"github.com/clearlinux/verity-image-tools/api/provisionapi"
	"github.com/clearlinux/verity-image-tools/internal/file"
	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
)

func testBinding() IntegrityBinding {
	return IntegrityBinding{
		RootHash:      testRootHash,
		Salt:          "ab12",
		Algorithm:     provisionapi.HashAlgorithmSha256,
		DataBlockSize: 4096,
		HashBlockSize: 4096,
		DataBlocks:    10240,
	}
}

func testRecreateScript() recreateScript {
	return recreateScript{
		MapperName:        "root",
		DataDevicePath:    "/dev/sda4",
		HashDevicePath:    "/dev/sda5",
		DataBlockSize:     4096,
		HashBlockSize:     4096,
		RootHash:          testRootHash,
		DataDeviceSectors: 81920,
	}
}

func TestPersistBindingToStore(t *testing.T) {
	storeDir := t.TempDir()

	err := persistBindingToStore(storeDir, testBinding(), testRecreateScript())
	assert.NoError(t, err)

	rootHash, err := file.Read(filepath.Join(storeDir, "hash.txt"))
	assert.NoError(t, err)
	assert.Equal(t, testRootHash, rootHash)

	salt, err := file.Read(filepath.Join(storeDir, "salt.txt"))
	assert.NoError(t, err)
	assert.Equal(t, "ab12", salt)

	script, err := file.Read(filepath.Join(storeDir, "vcreate.sh"))
	assert.NoError(t, err)
	assert.Contains(t, script, "#!/bin/sh\n")
	assert.Contains(t, script, "# data device size: 81920 512-byte sectors\n")
	assert.Contains(t, script,
		"veritysetup --verbose --data-block-size=4096 --hash-block-size=4096 create root "+
			"/dev/sda4 /dev/sda5 "+testRootHash+"\n")
	assert.Contains(t, script, "mount -o ro /dev/mapper/root /mnt/verity\n")

	info, err := os.Stat(filepath.Join(storeDir, "vcreate.sh"))
	assert.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestPersistBindingToStoreOverwritesPreviousRun(t *testing.T) {
	storeDir := t.TempDir()

	err := file.Write("stale", filepath.Join(storeDir, "hash.txt"))
	assert.NoError(t, err)

	err = persistBindingToStore(storeDir, testBinding(), testRecreateScript())
	assert.NoError(t, err)

	rootHash, err := file.Read(filepath.Join(storeDir, "hash.txt"))
	assert.NoError(t, err)
	assert.Equal(t, testRootHash, rootHash)
}

func TestPersistBindingToStoreMissingDir(t *testing.T) {
	storeDir := filepath.Join(t.TempDir(), "missing")

	err := persistBindingToStore(storeDir, testBinding(), testRecreateScript())
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestReadStoredBinding(t *testing.T) {
	storeDir := t.TempDir()

	err := persistBindingToStore(storeDir, testBinding(), testRecreateScript())
	assert.NoError(t, err)

	rootHash, salt, err := ReadStoredBinding(storeDir)
	assert.NoError(t, err)
	assert.Equal(t, testRootHash, rootHash)
	assert.Equal(t, "ab12", salt)
}

func TestReadStoredBindingBadHex(t *testing.T) {
	storeDir := t.TempDir()

	err := file.Write("not hex!", filepath.Join(storeDir, "hash.txt"))
	assert.NoError(t, err)
	err = file.Write("ab12", filepath.Join(storeDir, "salt.txt"))
	assert.NoError(t, err)

	_, _, err = ReadStoredBinding(storeDir)
	assert.ErrorIs(t, err, ErrFormatterOutput)
}

func TestPersistBindingToInitrd(t *testing.T) {
	stagingDir := t.TempDir()
	outputPath := filepath.Join(t.TempDir(), "verity-binding.img")

	err := persistBindingToInitrd(stagingDir, outputPath, testBinding(), testRecreateScript())
	assert.NoError(t, err)

	archive, err := os.Open(outputPath)
	assert.NoError(t, err)
	defer archive.Close()

	gzipReader, err := pgzip.NewReader(archive)
	assert.NoError(t, err)
	defer gzipReader.Close()

	entries := map[string]string{}
	cpioReader := cpio.NewReader(gzipReader)
	for {
		header, err := cpioReader.Next()
		if err == io.EOF {
			break
		}
		assert.NoError(t, err)

		contents, err := io.ReadAll(cpioReader)
		assert.NoError(t, err)
		entries[header.Name] = string(contents)
	}

	assert.Contains(t, entries, "etc/verity.d")
	assert.Equal(t, testRootHash, entries["etc/verity.d/hash.txt"])
	assert.Equal(t, "ab12", entries["etc/verity.d/salt.txt"])
	assert.Contains(t, entries["etc/verity.d/vcreate.sh"], "veritysetup")
}
