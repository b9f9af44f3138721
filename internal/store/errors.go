package store

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
)

// ErrCursorRegression is returned when a batch would move a chain's
// last_synced_block backwards. The cursor is monotonic; regression indicates
// a programming error and is fatal.
var ErrCursorRegression = errors.New("cursor regression: last_synced_block may not decrease")

// IsTransient reports whether a store error is expected to clear on retry:
// lock contention (locked or busy) or a bad, closed or reset connection. The indexer
// loop retries transient store errors a bounded number of times per
// iteration before surfacing them.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked") ||
		strings.Contains(errStr, "busy") ||
		strings.Contains(errStr, "connection reset")
}
