package chat

import (
	"sort"
	"sync"
)

// DefaultCacheSize bounds how many messages a channel keeps in memory
const DefaultCacheSize = 500

// Channel holds the state the bot keeps for one conversation: its recent
// messages (with their mark state) and its members.
type Channel struct {
	ID string

	mu        sync.Mutex
	name      string
	members   map[string]struct{}
	cache     map[string]*Message
	order     []string
	cacheSize int

	scanMu sync.Mutex
}

// NewChannel creates a channel with an empty message cache
func NewChannel(id, name string, members []string, cacheSize int) *Channel {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	c := &Channel{
		ID:        id,
		name:      name,
		members:   make(map[string]struct{}, len(members)),
		cache:     make(map[string]*Message),
		cacheSize: cacheSize,
	}
	for _, member := range members {
		c.members[member] = struct{}{}
	}
	return c
}

// Name returns the channel's display name
func (c *Channel) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Rename updates the display name
func (c *Channel) Rename(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

// MemberJoined records a new member
func (c *Channel) MemberJoined(userID string) {
	c.mu.Lock()
	c.members[userID] = struct{}{}
	c.mu.Unlock()
}

// MemberLeft forgets a member
func (c *Channel) MemberLeft(userID string) {
	c.mu.Lock()
	delete(c.members, userID)
	c.mu.Unlock()
}

// HasMember reports whether userID is a known member
func (c *Channel) HasMember(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.members[userID]
	return ok
}

// Members returns the member IDs in sorted order
func (c *Channel) Members() []string {
	c.mu.Lock()
	members := make([]string, 0, len(c.members))
	for member := range c.members {
		members = append(members, member)
	}
	c.mu.Unlock()

	sort.Strings(members)
	return members
}

// Absorb normalizes raw into the cache and returns the cached message. A
// message seen before keeps its instance, and therefore its mark state; if its
// text changed (an edit surfaced by history) it is re-normalized and the mark
// carries over.
func (c *Channel) Absorb(raw RawEvent) *Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if raw.Timestamp != "" {
		if cached, ok := c.cache[raw.Timestamp]; ok {
			if cached.Text == raw.Text {
				return cached
			}
			msg := NewMessage(raw, c.ID)
			if cached.IsMarked() {
				msg.Mark()
			}
			c.cache[raw.Timestamp] = msg
			return msg
		}
	}

	msg := NewMessage(raw, c.ID)
	if raw.Timestamp == "" {
		// synthetic messages have no ordering token and are never cached
		return msg
	}

	c.cache[raw.Timestamp] = msg
	c.order = append(c.order, raw.Timestamp)
	for len(c.order) > c.cacheSize {
		delete(c.cache, c.order[0])
		c.order = c.order[1:]
	}
	return msg
}

// AbsorbAll absorbs a batch of raw events, preserving order
func (c *Channel) AbsorbAll(raws []RawEvent) []*Message {
	messages := make([]*Message, 0, len(raws))
	for _, raw := range raws {
		messages = append(messages, c.Absorb(raw))
	}
	return messages
}

// Message looks up a cached message by timestamp
func (c *Channel) Message(ts string) (*Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.cache[ts]
	return msg, ok
}

// CacheLen returns the number of cached messages
func (c *Channel) CacheLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// LockScan blocks until no other scan of this channel is running. The
// returned func releases the lock.
func (c *Channel) LockScan() func() {
	c.scanMu.Lock()
	return c.scanMu.Unlock
}
