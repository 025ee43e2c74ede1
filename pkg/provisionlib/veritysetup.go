// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionlib

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/clearlinux/verity-image-tools/api/provisionapi"
	"github.com/clearlinux/verity-image-tools/internal/logger"
	"github.com/clearlinux/verity-image-tools/internal/shell"
)

// formatterOutput holds the fields extracted from 'veritysetup format'.
type formatterOutput struct {
	rootHash      string
	salt          string
	hashAlgorithm string
	dataBlocks    uint64
}

// formatVerityDevice builds the hash tree over the data device, storing it on
// the hash device, and returns the resulting binding. Block sizes are always
// passed explicitly: the formatter's default need not match the filesystem's
// block size, and a mismatch only surfaces as a verification failure at boot.
func formatVerityDevice(dataDevicePath string, hashDevicePath string, blockSize uint32,
	algorithm provisionapi.HashAlgorithm,
) (IntegrityBinding, error) {
	stdout, stderr, err := shell.NewExecBuilder("veritysetup", "--verbose",
		fmt.Sprintf("--data-block-size=%d", blockSize),
		fmt.Sprintf("--hash-block-size=%d", blockSize),
		fmt.Sprintf("--hash=%s", algorithm),
		"format", dataDevicePath, hashDevicePath).
		WarnLogLines(shell.DefaultWarnLogLines).
		ExecuteCaptureOutput()
	if err != nil {
		return IntegrityBinding{}, fmt.Errorf("veritysetup format (%s) (%s) failed:\n%v\n%w",
			dataDevicePath, hashDevicePath, stderr, err)
	}

	output, err := parseFormatterOutput(stdout, algorithm)
	if err != nil {
		return IntegrityBinding{}, err
	}

	binding := IntegrityBinding{
		RootHash:      output.rootHash,
		Salt:          output.salt,
		Algorithm:     algorithm,
		DataBlockSize: blockSize,
		HashBlockSize: blockSize,
		DataBlocks:    output.dataBlocks,
	}

	binding.HashBlocks, err = hashTreeBlockCount(binding)
	if err != nil {
		return IntegrityBinding{}, fmt.Errorf("%w: %w", ErrFormatterOutput, err)
	}

	logger.Log.Debugf("Formatted hash tree: algorithm=%s dataBlocks=%d hashBlocks=%d", algorithm,
		output.dataBlocks, binding.HashBlocks)
	return binding, nil
}

// parseFormatterOutput extracts the salt and root hash from veritysetup's
// key:value output lines. Lines are matched by exact key, not by position:
// veritysetup adds and reorders informational lines between versions, so
// counting lines from the end of the output is not stable.
func parseFormatterOutput(output string, algorithm provisionapi.HashAlgorithm) (formatterOutput, error) {
	parsed := formatterOutput{}

	for _, line := range strings.Split(output, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "Root hash":
			parsed.rootHash = value

		case "Salt":
			parsed.salt = value

		case "Hash algorithm":
			parsed.hashAlgorithm = value

		case "Data blocks":
			blocks, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return formatterOutput{}, fmt.Errorf("%w: invalid 'Data blocks' value (%s)", ErrFormatterOutput, value)
			}
			parsed.dataBlocks = blocks
		}
	}

	if parsed.rootHash == "" {
		return formatterOutput{}, fmt.Errorf("%w: 'Root hash' line not found", ErrFormatterOutput)
	}
	if parsed.salt == "" {
		return formatterOutput{}, fmt.Errorf("%w: 'Salt' line not found", ErrFormatterOutput)
	}

	err := validateHexValue("root hash", parsed.rootHash)
	if err != nil {
		return formatterOutput{}, err
	}
	err = validateHexValue("salt", parsed.salt)
	if err != nil {
		return formatterOutput{}, err
	}

	if parsed.hashAlgorithm != "" && parsed.hashAlgorithm != string(algorithm) {
		return formatterOutput{}, fmt.Errorf("%w: hash algorithm mismatch: requested (%s), got (%s)",
			ErrFormatterOutput, algorithm, parsed.hashAlgorithm)
	}

	digestSize, err := algorithm.DigestSize()
	if err != nil {
		return formatterOutput{}, err
	}
	if len(parsed.rootHash) != digestSize*2 {
		return formatterOutput{}, fmt.Errorf("%w: root hash length (%d) does not match %s digest size",
			ErrFormatterOutput, len(parsed.rootHash), algorithm)
	}

	return parsed, nil
}

func validateHexValue(name string, value string) error {
	if len(value)%2 != 0 || !govalidator.IsHexadecimal(value) {
		return fmt.Errorf("%w: %s (%s) is not a valid hex string", ErrFormatterOutput, name, value)
	}
	return nil
}

// verifyVerityDevice re-checks the data device against the hash tree and root
// hash. A failure here means the binding must not be trusted and the pipeline
// must not report success.
func verifyVerityDevice(dataDevicePath string, hashDevicePath string, binding IntegrityBinding) error {
	err := shell.ExecuteLive(true /*squashErrors*/, "veritysetup", "verify",
		dataDevicePath, hashDevicePath, binding.RootHash)
	if err != nil {
		return fmt.Errorf("%w: veritysetup verify (%s) (%s) failed:\n%v",
			ErrVerificationFailed, dataDevicePath, hashDevicePath, err)
	}
	return nil
}
