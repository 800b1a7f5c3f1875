// Package retry provides a small bounded-retry helper for store writes.
package retry

import (
	"context"
	"time"
)

// Do runs fn up to attempts times, sleeping delay between tries. It returns
// nil on the first success, the last error once attempts are exhausted, or
// the context error if the context ends while waiting.
func Do(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
