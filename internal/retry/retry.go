// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package retry

import (
	"context"
	"time"
)

// Run calls f up to attempts times, sleeping for sleep between attempts,
// until f returns nil.
func Run(f func() error, attempts int, sleep time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(sleep)
		}

		err = f()
		if err == nil {
			return nil
		}
	}
	return err
}

// RunWithExpBackoff calls f up to attempts times with exponentially growing
// sleeps between attempts. The returned bool reports whether the context was
// cancelled before f succeeded.
func RunWithExpBackoff(ctx context.Context, f func() error, attempts int, initialSleep time.Duration,
	factor float64,
) (bool, error) {
	var err error
	sleep := initialSleep
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return true, ctx.Err()
			case <-time.After(sleep):
			}
			sleep = time.Duration(float64(sleep) * factor)
		}

		err = f()
		if err == nil {
			return false, nil
		}
	}
	return false, err
}
