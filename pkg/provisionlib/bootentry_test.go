// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionlib

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/clearlinux/verity-image-tools/internal/file"
	"github.com/stretchr/testify/assert"
)

var testKernelArgs = VerityKernelArgs{
	MapperName:     "root",
	RootHash:       "deadbeef",
	DataDevicePath: "/dev/sda4",
	HashDevicePath: "/dev/sda5",
}

func TestPatchCmdlineRootOnVerity(t *testing.T) {
	patched, err := PatchCmdline("root=/dev/sda3 rw quiet", testKernelArgs, true, "quiet")
	assert.NoError(t, err)
	assert.Equal(t, "root=/dev/mapper/root systemd.verity=yes roothash=deadbeef "+
		"systemd.verity_root_data=/dev/sda4 systemd.verity_root_hash=/dev/sda5 ro quiet",
		patched)
}

func TestPatchCmdlineIdempotent(t *testing.T) {
	patched, err := PatchCmdline("root=/dev/sda3 rw quiet", testKernelArgs, true, "quiet")
	assert.NoError(t, err)

	repatched, err := PatchCmdline(patched, testKernelArgs, true, "quiet")
	assert.NoError(t, err)
	assert.Equal(t, patched, repatched)
}

func TestPatchCmdlineNewRootHashReplacesOld(t *testing.T) {
	patched, err := PatchCmdline("root=/dev/sda3 rw quiet", testKernelArgs, true, "quiet")
	assert.NoError(t, err)

	newArgs := testKernelArgs
	newArgs.RootHash = "feedf00d"

	repatched, err := PatchCmdline(patched, newArgs, true, "quiet")
	assert.NoError(t, err)
	assert.Contains(t, repatched, "roothash=feedf00d")
	assert.NotContains(t, repatched, "deadbeef")
}

func TestPatchCmdlineDoesNotTouchLookalikeTokens(t *testing.T) {
	patched, err := PatchCmdline("root=/dev/sda1 rootfstype=ext4 rootwait rw quiet",
		testKernelArgs, true, "quiet")
	assert.NoError(t, err)
	assert.Contains(t, patched, "rootfstype=ext4")
	assert.Contains(t, patched, "rootwait")
	assert.Contains(t, patched, "root=/dev/mapper/root")
	assert.NotContains(t, patched, "root=/dev/sda1")
}

func TestPatchCmdlineMissingRootToken(t *testing.T) {
	_, err := PatchCmdline("console=ttyS0 quiet", testKernelArgs, true, "quiet")
	assert.ErrorIs(t, err, ErrPatchCorruption)
	assert.ErrorContains(t, err, "expected exactly one 'root=' token, found 0")
}

func TestPatchCmdlineMultipleRootTokens(t *testing.T) {
	_, err := PatchCmdline("root=/dev/sda3 root=/dev/sda7 quiet", testKernelArgs, true, "quiet")
	assert.ErrorIs(t, err, ErrPatchCorruption)
	assert.ErrorContains(t, err, "found 2")
}

func TestPatchCmdlineMissingAnchor(t *testing.T) {
	_, err := PatchCmdline("root=/dev/sda3 rw", testKernelArgs, true, "quiet")
	assert.ErrorIs(t, err, ErrPatchCorruption)
	assert.ErrorContains(t, err, "anchor")
}

func TestPatchCmdlineMultipleAnchors(t *testing.T) {
	_, err := PatchCmdline("root=/dev/sda3 quiet rw quiet", testKernelArgs, true, "quiet")
	assert.ErrorIs(t, err, ErrPatchCorruption)
}

func TestPatchCmdlineNoAnchorAppends(t *testing.T) {
	patched, err := PatchCmdline("root=/dev/sda3 rw", testKernelArgs, true, "")
	assert.NoError(t, err)
	assert.Equal(t, "root=/dev/mapper/root systemd.verity=yes roothash=deadbeef "+
		"systemd.verity_root_data=/dev/sda4 systemd.verity_root_hash=/dev/sda5 ro",
		patched)
}

func TestPatchCmdlineDataModeKeepsRootDevice(t *testing.T) {
	patched, err := PatchCmdline("root=/dev/sda3 rw quiet", testKernelArgs, false, "quiet")
	assert.NoError(t, err)
	assert.Contains(t, patched, "root=/dev/sda3")
	assert.Contains(t, patched, "roothash=deadbeef")
}

func TestPatchCmdlineNoWriteFlagMeansNoReadOnlyFlag(t *testing.T) {
	patched, err := PatchCmdline("root=/dev/sda3 quiet", testKernelArgs, true, "quiet")
	assert.NoError(t, err)
	assert.NotContains(t, " "+patched+" ", " ro ")
}

func TestPatchBootEntryContent(t *testing.T) {
	content := "title Clear Linux\n" +
		"linux /EFI/org.clearlinux/kernel-native\n" +
		"options root=/dev/sda3 rw quiet\n"

	patched, changed, err := patchBootEntryContent(content, testKernelArgs, true, "quiet")
	assert.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, patched, "title Clear Linux\n")
	assert.Contains(t, patched, "linux /EFI/org.clearlinux/kernel-native\n")
	assert.Contains(t, patched, "options root=/dev/mapper/root systemd.verity=yes")
}

func TestPatchBootEntryContentNoOptionsLine(t *testing.T) {
	content := "title Clear Linux\nlinux /EFI/org.clearlinux/kernel-native\n"

	patched, changed, err := patchBootEntryContent(content, testKernelArgs, true, "quiet")
	assert.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, content, patched)
}

func TestPatchBootEntryContentMultipleOptionsLines(t *testing.T) {
	content := "options root=/dev/sda3 rw quiet\noptions console=ttyS0 quiet\n"

	_, _, err := patchBootEntryContent(content, testKernelArgs, true, "quiet")
	assert.ErrorIs(t, err, ErrPatchCorruption)
	assert.ErrorContains(t, err, "multiple 'options' lines")
}

func TestPatchBootEntries(t *testing.T) {
	bootDir := t.TempDir()
	entriesDir := filepath.Join(bootDir, "loader/entries")
	err := os.MkdirAll(entriesDir, os.ModePerm)
	assert.NoError(t, err)

	entryContent := "title Clear Linux\noptions root=/dev/sda3 rw quiet\n"
	err = file.Write(entryContent, filepath.Join(entriesDir, "clear-native.conf"))
	assert.NoError(t, err)
	err = file.Write(entryContent, filepath.Join(entriesDir, "clear-lts.conf"))
	assert.NoError(t, err)
	err = file.Write("not an entry", filepath.Join(entriesDir, "readme.txt"))
	assert.NoError(t, err)

	count, err := patchBootEntries(bootDir, "loader/entries/*.conf", testKernelArgs, true, "quiet")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)

	patched, err := file.Read(filepath.Join(entriesDir, "clear-native.conf"))
	assert.NoError(t, err)
	assert.Contains(t, patched, "root=/dev/mapper/root")
	assert.Contains(t, patched, "roothash=deadbeef")

	untouched, err := file.Read(filepath.Join(entriesDir, "readme.txt"))
	assert.NoError(t, err)
	assert.Equal(t, "not an entry", untouched)
}

func TestPatchBootEntriesNoMatches(t *testing.T) {
	bootDir := t.TempDir()

	count, err := patchBootEntries(bootDir, "loader/entries/*.conf", testKernelArgs, true, "quiet")
	assert.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPatchCmdlineFragments(t *testing.T) {
	rootDir := t.TempDir()
	kernelDir := filepath.Join(rootDir, "usr/lib/kernel")
	err := os.MkdirAll(kernelDir, os.ModePerm)
	assert.NoError(t, err)

	err = file.Write("root=/dev/sda3 rw\n", filepath.Join(kernelDir, "cmdline-6.1.0-native"))
	assert.NoError(t, err)

	count, err := patchCmdlineFragments(rootDir, testKernelArgs, true)
	assert.NoError(t, err)
	assert.Equal(t, 1, count)

	patched, err := file.Read(filepath.Join(kernelDir, "cmdline-6.1.0-native"))
	assert.NoError(t, err)
	assert.Equal(t, "root=/dev/mapper/root systemd.verity=yes roothash=deadbeef "+
		"systemd.verity_root_data=/dev/sda4 systemd.verity_root_hash=/dev/sda5 ro\n",
		patched)
}
