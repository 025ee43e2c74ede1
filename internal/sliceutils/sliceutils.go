// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package sliceutils

// ContainsValue returns true if the slice contains the given value.
func ContainsValue[T comparable](values []T, value T) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// FindValueFunc returns the first value for which the predicate returns true.
func FindValueFunc[T any](values []T, predicate func(T) bool) (T, bool) {
	for _, v := range values {
		if predicate(v) {
			return v, true
		}
	}

	var zero T
	return zero, false
}

// MapToSlice applies fn to every element and returns the results.
func MapToSlice[T any, R any](values []T, fn func(T) R) []R {
	result := make([]R, 0, len(values))
	for _, v := range values {
		result = append(result, fn(v))
	}
	return result
}
