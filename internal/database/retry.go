package database

import (
	"fmt"
	"strings"
	"time"
)

const retryAttempts = 3

// isTransient reports whether an error is worth retrying. The busy_timeout
// PRAGMA absorbs most lock contention inside the driver; these surface only
// when the timeout itself is exhausted.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// Retry runs fn, retrying on transient lock contention with exponential
// backoff. Non-transient errors return immediately.
func Retry(fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < retryAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}

		if attempt < retryAttempts-1 {
			waitTime := time.Duration(1<<uint(attempt)) * 50 * time.Millisecond
			time.Sleep(waitTime)
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", retryAttempts, lastErr)
}
