// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionlib

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
)

// From: https://gitlab.com/cryptsetup/cryptsetup/-/wikis/DMVerity
type VeritySuperblock struct {
	Signature     [8]uint8   // "verity\0\0"
	Version       uint32     // Superblock version: 1
	HashType      uint32     // 0: Chrome OS, 1: normal
	Uuid          [16]uint8  // UUID of hash device
	Algorithm     [32]uint8  // Hash algorithm name
	DataBlockSize uint32     // Data block in bytes
	HashBlockSize uint32     // Hash block in bytes
	DataBlocks    uint64     // Number of data blocks
	SaltSize      uint16     // Salt size
	Pad1          [6]uint8   // Padding
	Salt          [256]uint8 // Salt
	Pad2          [168]uint8 // Padding
}

const veritySignature = "verity\x00\x00"

// ReadVeritySuperblock reads and validates the dm-verity superblock at the
// start of the given hash device or file.
func ReadVeritySuperblock(hashPath string) (*VeritySuperblock, error) {
	hashFile, err := os.Open(hashPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open hash device (%s):\n%w", hashPath, err)
	}
	defer hashFile.Close()

	superblock := &VeritySuperblock{}
	err = binary.Read(hashFile, binary.LittleEndian, superblock)
	if err != nil {
		return nil, fmt.Errorf("failed to read superblock from hash device (%s):\n%w", hashPath, err)
	}

	err = superblock.validate()
	if err != nil {
		return nil, fmt.Errorf("hash device's (%s) superblock is invalid:\n%w", hashPath, err)
	}

	return superblock, nil
}

func (sb *VeritySuperblock) validate() error {
	if string(sb.Signature[:]) != veritySignature {
		return fmt.Errorf("wrong superblock signature")
	}

	if sb.Version != 1 {
		return fmt.Errorf("unsupported version (%d)", sb.Version)
	}

	if sb.HashType != 1 {
		return fmt.Errorf("unsupported hash type (%d)", sb.HashType)
	}

	return nil
}

// AlgorithmName returns the hash algorithm recorded in the superblock.
func (sb *VeritySuperblock) AlgorithmName() string {
	algorithmBytes, _, _ := bytes.Cut(sb.Algorithm[:], []byte{0})
	return string(algorithmBytes)
}

// EncodedSalt returns the superblock's salt as a hex string.
func (sb *VeritySuperblock) EncodedSalt() string {
	saltSize := int(sb.SaltSize)
	if saltSize > len(sb.Salt) {
		saltSize = len(sb.Salt)
	}
	return hex.EncodeToString(sb.Salt[:saltSize])
}

// HashTreeSizeInBytes computes the on-disk size of the superblock's hash
// tree, superblock included. Used to fail fast when the hash partition is too
// small for the data partition it must cover.
func (sb *VeritySuperblock) HashTreeSizeInBytes() (uint64, error) {
	hashSize := uint32(0)
	switch sb.AlgorithmName() {
	case "sha256":
		hashSize = 32

	case "sha384":
		hashSize = 48

	case "sha512":
		hashSize = 64

	default:
		return 0, fmt.Errorf("unknown hash algorithm (%s)", sb.AlgorithmName())
	}

	return hashTreeSizeInBytes(sb.DataBlocks, sb.DataBlockSize, sb.HashBlockSize, hashSize)
}

// hashTreeBlockCount returns the number of hash blocks, superblock included,
// of the tree the binding describes.
func hashTreeBlockCount(binding IntegrityBinding) (uint64, error) {
	digestSize, err := binding.Algorithm.DigestSize()
	if err != nil {
		return 0, err
	}

	treeSize, err := hashTreeSizeInBytes(binding.DataBlocks, binding.DataBlockSize,
		binding.HashBlockSize, uint32(digestSize))
	if err != nil {
		return 0, err
	}

	return treeSize / uint64(binding.HashBlockSize), nil
}

func hashTreeSizeInBytes(dataBlocksCount uint64, dataBlockSize uint32, hashBlockSize uint32,
	hashSize uint32,
) (uint64, error) {
	if !isPowerOf2(dataBlockSize) {
		return 0, fmt.Errorf("invalid data block size (%d)", dataBlockSize)
	}

	if !isPowerOf2(hashBlockSize) || hashBlockSize < hashSize {
		return 0, fmt.Errorf("invalid hash block size (%d)", hashBlockSize)
	}

	// dm-verity pads each hash to the nearest power-of-2 to make the math easier.
	hashSizeFull := roundUpToPowerOf2(hashSize)

	hashesPerBlock := uint64(hashBlockSize / hashSizeFull)

	totalTreeBlocks := uint64(0)
	prevLevelTreeBlocks := dataBlocksCount
	for prevLevelTreeBlocks > 1 {
		levelTreeBlocks := prevLevelTreeBlocks / hashesPerBlock
		if prevLevelTreeBlocks%hashesPerBlock != 0 {
			// Round up to the nearest whole block.
			levelTreeBlocks += 1
		}

		totalTreeBlocks += levelTreeBlocks
		prevLevelTreeBlocks = levelTreeBlocks
	}

	totalBlocks := totalTreeBlocks + 1 // add superblock
	return totalBlocks * uint64(hashBlockSize), nil
}

func isPowerOf2(n uint32) bool {
	return n != 0 && (n&(n-1)) == 0
}

func roundUpToPowerOf2(n uint32) uint32 {
	res := uint32(1)
	for res < n {
		res *= 2
	}
	return res
}
