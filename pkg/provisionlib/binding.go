// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionlib

import (
	"github.com/clearlinux/verity-image-tools/api/provisionapi"
)

// IntegrityBinding is the result of formatting a hash tree over a data
// partition. It is produced exactly once per run and is the single source of
// truth for every downstream patch and artifact.
//
// RootHash and Salt are trust-root material: they are written only to the
// configured metadata destination and logged only at debug level.
type IntegrityBinding struct {
	// Lowercase hex digest committing to the whole data partition.
	RootHash string

	// Lowercase hex salt mixed into every content hash.
	Salt string

	// Content hash algorithm of the tree.
	Algorithm provisionapi.HashAlgorithm

	// Block sizes the tree was built with. These must match the values on the
	// kernel command line or verification fails at boot.
	DataBlockSize uint32
	HashBlockSize uint32

	// Number of data blocks covered by the tree.
	DataBlocks uint64

	// Number of hash blocks in the tree, superblock included.
	HashBlocks uint64
}
