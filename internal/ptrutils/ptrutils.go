// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package ptrutils

// PtrTo returns a pointer to the provided value.
func PtrTo[T any](value T) *T {
	return &value
}
