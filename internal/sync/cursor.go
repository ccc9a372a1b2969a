// Package sync keeps the local inbox in step with the mailbox using the
// Gmail history API: cheap deltas when the stored cursor is fresh, a full
// refetch when it is missing or expired.
package sync

import (
	"strconv"

	"github.com/mailpane/mailpane/internal/cache"
)

const cursorKeyPrefix = "syncCursor:"

// Cursors persists the per-user history cursor in a durable key-value
// store. A missing or unparseable cursor reads as absent, which callers
// treat as "full refetch required".
type Cursors struct {
	store cache.DurableStore
}

// NewCursors creates a cursor store over the given durable tier.
func NewCursors(store cache.DurableStore) *Cursors {
	return &Cursors{store: store}
}

// Get returns the stored cursor for the user, or false when none is
// usable.
func (c *Cursors) Get(userID string) (uint64, bool) {
	data, ok, err := c.store.Get(cursorKeyPrefix + userID)
	if err != nil || !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// Set stores the cursor for the user.
func (c *Cursors) Set(userID string, historyID uint64) error {
	return c.store.Set(cursorKeyPrefix+userID, []byte(strconv.FormatUint(historyID, 10)))
}

// Clear removes the user's cursor, forcing the next sync to refetch.
func (c *Cursors) Clear(userID string) error {
	return c.store.Delete(cursorKeyPrefix + userID)
}
