package nfc

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/buntdb"
)

// TagCache remembers when each card UID was last seen in the field so a card
// left on the reader is reported once. Entries live in an in-memory buntdb
// and expire after the presence window.
type TagCache struct {
	db     *buntdb.DB
	window time.Duration
	now    func() time.Time
}

// NewTagCache creates a TagCache with the given presence window.
func NewTagCache(window time.Duration) (*TagCache, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open tag cache: %w", err)
	}
	if window <= 0 {
		window = DefaultPresenceWindow
	}
	return &TagCache{db: db, window: window, now: time.Now}, nil
}

// Seen records uid as present and reports whether it was already present
// within the window.
func (c *TagCache) Seen(uid string) (bool, error) {
	now := c.now()
	var present bool
	err := c.db.Update(func(tx *buntdb.Tx) error {
		val, err := tx.Get(tagKey(uid))
		if err == nil {
			last, perr := strconv.ParseInt(val, 10, 64)
			present = perr == nil && now.Sub(time.Unix(0, last)) < c.window
		} else if !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		_, _, err = tx.Set(tagKey(uid), strconv.FormatInt(now.UnixNano(), 10),
			&buntdb.SetOptions{Expires: true, TTL: c.window})
		return err
	})
	return present, err
}

// Close releases the underlying store.
func (c *TagCache) Close() error {
	return c.db.Close()
}

func tagKey(uid string) string {
	return "tag:" + uid
}
