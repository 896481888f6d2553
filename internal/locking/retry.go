// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package locking

import (
	"context"
	"fmt"
	"time"
)

// RetryWithBackoff calls fn up to attempts times, doubling the delay after
// each failure. Errors for which retryable returns false end the loop early;
// a nil retryable retries every error.
func RetryWithBackoff(ctx context.Context, attempts int, initialDelay time.Duration, retryable func(error) bool, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := initialDelay

	for i := 0; i < attempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted: %w", lastErr)
		case <-timer.C:
		}
		delay *= 2 // Exponential backoff
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
