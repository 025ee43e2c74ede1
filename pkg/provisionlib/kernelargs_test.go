// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionlib

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerityKernelArgsTokens(t *testing.T) {
	args := VerityKernelArgs{
		MapperName:     "root",
		RootHash:       "deadbeef",
		DataDevicePath: "/dev/sda4",
		HashDevicePath: "/dev/sda5",
	}

	expected := []string{
		"systemd.verity=yes",
		"roothash=deadbeef",
		"systemd.verity_root_data=/dev/sda4",
		"systemd.verity_root_hash=/dev/sda5",
	}
	assert.Equal(t, expected, args.Tokens())
}

func TestVerityKernelArgsMapperDevicePath(t *testing.T) {
	args := VerityKernelArgs{MapperName: "root"}
	assert.Equal(t, "/dev/mapper/root", args.MapperDevicePath())
}

func TestIsVerityArgToken(t *testing.T) {
	assert.True(t, isVerityArgToken("systemd.verity=yes"))
	assert.True(t, isVerityArgToken("roothash=deadbeef"))
	assert.True(t, isVerityArgToken("systemd.verity_root_data=/dev/sda4"))
	assert.True(t, isVerityArgToken("rd.systemd.verity=1"))
}

func TestIsVerityArgTokenDoesNotMatchPrefixes(t *testing.T) {
	assert.False(t, isVerityArgToken("roothashsig=/etc/sig"))
	assert.False(t, isVerityArgToken("root=/dev/sda3"))
	assert.False(t, isVerityArgToken("quiet"))
	assert.False(t, isVerityArgToken("systemd.verity_root_data_extra=x"))
}
