package db

import (
	"strings"
	"time"
)

const (
	busyRetries = 5
	busyBackoff = 50 * time.Millisecond
)

// RetryOnBusy runs fn, retrying with linear backoff while sqlite reports the
// database as busy or locked. Other errors are returned immediately.
func RetryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		if err = fn(); err == nil || !IsBusy(err) {
			return err
		}
		if attempt == busyRetries {
			break
		}
		time.Sleep(time.Duration(attempt+1) * busyBackoff)
	}
	return err
}

// IsBusy reports whether err is a sqlite busy/locked error.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
