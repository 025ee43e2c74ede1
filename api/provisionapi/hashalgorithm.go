// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionapi

import (
	"fmt"
)

// HashAlgorithm is the content hash used for the integrity tree.
type HashAlgorithm string

const (
	HashAlgorithmSha256 HashAlgorithm = "sha256"
	HashAlgorithmSha384 HashAlgorithm = "sha384"
	HashAlgorithmSha512 HashAlgorithm = "sha512"
)

func (a HashAlgorithm) IsValid() error {
	switch a {
	case HashAlgorithmSha256, HashAlgorithmSha384, HashAlgorithmSha512:
		return nil

	default:
		return fmt.Errorf("invalid hash algorithm (%s)", a)
	}
}

// DigestSize returns the algorithm's digest size in bytes.
func (a HashAlgorithm) DigestSize() (int, error) {
	switch a {
	case HashAlgorithmSha256:
		return 32, nil
	case HashAlgorithmSha384:
		return 48, nil
	case HashAlgorithmSha512:
		return 64, nil

	default:
		return 0, fmt.Errorf("invalid hash algorithm (%s)", a)
	}
}
