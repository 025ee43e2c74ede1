// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionlib

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/clearlinux/verity-image-tools/internal/file"
	"github.com/clearlinux/verity-image-tools/internal/logger"
)

const (
	bootEntryOptionsPrefix = "options "

	// Root partition path, relative to the root filesystem, holding kernel
	// command-line fragments (systemd-boot style).
	cmdlineFragmentGlob = "usr/lib/kernel/cmdline-*"
)

// PatchCmdline applies the verity rewrite rules to a single kernel command
// line and returns the new line. The transform is idempotent: applying it to
// its own output yields the same result.
//
// All matching is token-anchored. Tokens are compared by their full name
// before '=', so 'root=' never matches inside 'rootfstype=' and 'rw' never
// matches inside another word.
func PatchCmdline(cmdline string, args VerityKernelArgs, rootOnVerity bool, anchor string) (string, error) {
	tokens := strings.Fields(cmdline)

	// Strip any verity parameters from a previous provisioning run.
	stripped := make([]string, 0, len(tokens))
	hadWriteFlag := false
	for _, token := range tokens {
		if isVerityArgToken(token) {
			continue
		}
		if token == "rw" || token == "ro" {
			// The write flag is re-inserted, downgraded, with the verity
			// parameter block below.
			hadWriteFlag = true
			continue
		}
		stripped = append(stripped, token)
	}
	tokens = stripped

	if rootOnVerity {
		var err error
		tokens, err = replaceRootDevice(tokens, args.MapperDevicePath())
		if err != nil {
			return "", err
		}
	}

	// The verity device is read-only at the block layer, so any read-write
	// mount flag is downgraded rather than preserved.
	verityBlock := args.Tokens()
	if hadWriteFlag {
		verityBlock = append(verityBlock, "ro")
	}

	tokens, err := insertAtAnchor(tokens, verityBlock, anchor)
	if err != nil {
		return "", err
	}

	return strings.Join(tokens, " "), nil
}

func replaceRootDevice(tokens []string, mapperDevicePath string) ([]string, error) {
	rootIndex := -1
	rootCount := 0
	for i, token := range tokens {
		name, _, found := strings.Cut(token, "=")
		if found && name == "root" {
			rootIndex = i
			rootCount++
		}
	}

	if rootCount != 1 {
		return nil, fmt.Errorf("%w: expected exactly one 'root=' token, found %d", ErrPatchCorruption, rootCount)
	}

	tokens[rootIndex] = "root=" + mapperDevicePath
	return tokens, nil
}

// insertAtAnchor inserts the block immediately before the anchor token. The
// anchor must occur exactly once; appending blindly to end-of-line is not an
// option for anchored entries, since bootloaders are sensitive to trailing
// token order. An empty anchor means append.
func insertAtAnchor(tokens []string, block []string, anchor string) ([]string, error) {
	if anchor == "" {
		return append(tokens, block...), nil
	}

	anchorIndex := -1
	anchorCount := 0
	for i, token := range tokens {
		if token == anchor {
			anchorIndex = i
			anchorCount++
		}
	}

	if anchorCount != 1 {
		return nil, fmt.Errorf("%w: expected exactly one (%s) anchor token, found %d",
			ErrPatchCorruption, anchor, anchorCount)
	}

	result := make([]string, 0, len(tokens)+len(block))
	result = append(result, tokens[:anchorIndex]...)
	result = append(result, block...)
	result = append(result, tokens[anchorIndex:]...)
	return result, nil
}

// patchBootEntryContent rewrites the 'options' line of a boot-loader entry
// file. Other lines are key-prefixed records this tool does not own and are
// passed through untouched.
func patchBootEntryContent(content string, args VerityKernelArgs, rootOnVerity bool, anchor string,
) (string, bool, error) {
	lines := strings.Split(content, "\n")

	optionsCount := 0
	for i, line := range lines {
		if !strings.HasPrefix(line, bootEntryOptionsPrefix) {
			continue
		}
		optionsCount++
		if optionsCount > 1 {
			return "", false, fmt.Errorf("%w: boot entry has multiple 'options' lines", ErrPatchCorruption)
		}

		cmdline := strings.TrimPrefix(line, bootEntryOptionsPrefix)
		newCmdline, err := PatchCmdline(cmdline, args, rootOnVerity, anchor)
		if err != nil {
			return "", false, err
		}
		lines[i] = bootEntryOptionsPrefix + newCmdline
	}

	if optionsCount == 0 {
		return content, false, nil
	}

	return strings.Join(lines, "\n"), true, nil
}

// patchBootEntries rewrites every boot entry under bootDir whose path
// matches the glob, and returns the number of entries patched. Each file is
// rewritten atomically so an interrupted run never leaves a truncated entry.
func patchBootEntries(bootDir string, entryGlob string, args VerityKernelArgs, rootOnVerity bool,
	anchor string,
) (int, error) {
	entryPaths, err := filepath.Glob(filepath.Join(bootDir, entryGlob))
	if err != nil {
		return 0, fmt.Errorf("invalid boot entry glob (%s):\n%w", entryGlob, err)
	}

	patchedCount := 0
	for _, entryPath := range entryPaths {
		content, err := file.Read(entryPath)
		if err != nil {
			return patchedCount, err
		}

		newContent, patched, err := patchBootEntryContent(content, args, rootOnVerity, anchor)
		if err != nil {
			return patchedCount, fmt.Errorf("failed to patch boot entry (%s):\n%w", entryPath, err)
		}
		if !patched {
			logger.Log.Debugf("Boot entry (%s) has no options line. Skipping", entryPath)
			continue
		}

		err = file.WriteAtomic(newContent, entryPath)
		if err != nil {
			return patchedCount, err
		}

		logger.Log.Infof("Patched boot entry: %s", filepath.Base(entryPath))
		patchedCount++
	}

	return patchedCount, nil
}

// patchCmdlineFragments rewrites the kernel command-line fragment files on
// the root filesystem, when present. Fragments carry no trailing marker
// token, so the verity parameters are appended.
func patchCmdlineFragments(rootDir string, args VerityKernelArgs, rootOnVerity bool) (int, error) {
	fragmentPaths, err := filepath.Glob(filepath.Join(rootDir, cmdlineFragmentGlob))
	if err != nil {
		return 0, fmt.Errorf("invalid cmdline fragment glob:\n%w", err)
	}

	patchedCount := 0
	for _, fragmentPath := range fragmentPaths {
		content, err := file.Read(fragmentPath)
		if err != nil {
			return patchedCount, err
		}

		newCmdline, err := PatchCmdline(strings.TrimSpace(content), args, rootOnVerity, "")
		if err != nil {
			return patchedCount, fmt.Errorf("failed to patch cmdline fragment (%s):\n%w", fragmentPath, err)
		}

		err = file.WriteAtomic(newCmdline+"\n", fragmentPath)
		if err != nil {
			return patchedCount, err
		}

		logger.Log.Infof("Patched cmdline fragment: %s", filepath.Base(fragmentPath))
		patchedCount++
	}

	return patchedCount, nil
}
