package notifications

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Marker performs the server-side read-state mutation. Implemented by
// authapi.Client, which routes it through the request gateway.
type Marker interface {
	MarkNotificationsRead(ctx context.Context, ids []string) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// Cache is the local notification list. It is eventually consistent with
// the server: push events are applied in receipt order, and the newest-first
// invariant (by CreatedAt) always holds. A read-state update never moves a
// notification's position.
type Cache struct {
	mu    sync.Mutex
	items []Notification // newest-first
	index map[string]int // id -> position in items
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{index: make(map[string]int)}
}

// Replace seeds the cache from a server list, discarding local state.
func (c *Cache) Replace(list []Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = c.items[:0]
	c.index = make(map[string]int, len(list))
	for _, n := range list {
		c.insertLocked(n)
	}
}

// Upsert applies a push event: a new notification is inserted at its
// CreatedAt position, a known ID has its fields updated in place.
func (c *Cache) Upsert(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, ok := c.index[n.ID]; ok {
		// Position by CreatedAt is unchanged on update.
		n.CreatedAt = c.items[i].CreatedAt
		c.items[i] = n
		return
	}
	c.insertLocked(n)
}

// ApplyRead flips the given IDs to read. Used for read-state push events;
// unknown IDs are ignored.
func (c *Cache) ApplyRead(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if i, ok := c.index[id]; ok {
			c.items[i].IsRead = true
		}
	}
}

// MarkRead optimistically flips the given IDs to read, then confirms with
// the server through the marker. On failure the local flips are reverted,
// so a failed call never leaves phantom read state.
func (c *Cache) MarkRead(ctx context.Context, marker Marker, ids ...string) error {
	flipped := c.flip(ids, true)
	if len(flipped) == 0 {
		return nil
	}
	if err := marker.MarkNotificationsRead(ctx, flipped); err != nil {
		c.flip(flipped, false)
		return errors.Wrap(err, "[Cache.MarkRead]")
	}
	return nil
}

// MarkAllRead optimistically flips every unread notification, reverting on
// server failure.
func (c *Cache) MarkAllRead(ctx context.Context, marker Marker) error {
	flipped := c.flipAll()
	if len(flipped) == 0 {
		return nil
	}
	if err := marker.MarkAllNotificationsRead(ctx); err != nil {
		c.flip(flipped, false)
		return errors.Wrap(err, "[Cache.MarkAllRead]")
	}
	return nil
}

// Unread returns the count of cached notifications with IsRead == false.
func (c *Cache) Unread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, n := range c.items {
		if !n.IsRead {
			count++
		}
	}
	return count
}

// Snapshot returns a copy of the cache, newest-first.
func (c *Cache) Snapshot() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of cached notifications.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// flip sets IsRead on the given IDs and returns the IDs whose state
// actually changed, enabling an exact revert.
func (c *Cache) flip(ids []string, read bool) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := make([]string, 0, len(ids))
	for _, id := range ids {
		if i, ok := c.index[id]; ok && c.items[i].IsRead != read {
			c.items[i].IsRead = read
			changed = append(changed, id)
		}
	}
	return changed
}

func (c *Cache) flipAll() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := make([]string, 0, len(c.items))
	for i := range c.items {
		if !c.items[i].IsRead {
			c.items[i].IsRead = true
			changed = append(changed, c.items[i].ID)
		}
	}
	return changed
}

// insertLocked places n at its newest-first position. Equal timestamps keep
// the later arrival first.
func (c *Cache) insertLocked(n Notification) {
	pos := len(c.items)
	for i := range c.items {
		if !c.items[i].CreatedAt.After(n.CreatedAt) {
			pos = i
			break
		}
	}
	c.items = append(c.items, Notification{})
	copy(c.items[pos+1:], c.items[pos:])
	c.items[pos] = n
	for i := pos; i < len(c.items); i++ {
		c.index[c.items[i].ID] = i
	}
}
