package chat

import (
	"sort"
	"sync"
)

// Team is the per-workspace channel registry
type Team struct {
	ID     string
	Name   string
	Domain string

	mu        sync.RWMutex
	channels  map[string]*Channel
	cacheSize int
}

// NewTeam creates an empty registry. cacheSize is applied to every channel.
func NewTeam(id, name, domain string, cacheSize int) *Team {
	return &Team{
		ID:        id,
		Name:      name,
		Domain:    domain,
		channels:  make(map[string]*Channel),
		cacheSize: cacheSize,
	}
}

// AddChannel registers a channel, or refreshes the name of one already known
func (t *Team) AddChannel(id, name string, members []string) *Channel {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.channels[id]; ok {
		if name != "" {
			existing.Rename(name)
		}
		for _, member := range members {
			existing.MemberJoined(member)
		}
		return existing
	}

	ch := NewChannel(id, name, members, t.cacheSize)
	t.channels[id] = ch
	return ch
}

// RemoveChannel drops a channel and its cache
func (t *Team) RemoveChannel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.channels[id]; !ok {
		return false
	}
	delete(t.channels, id)
	return true
}

// Channel looks up a registered channel
func (t *Team) Channel(id string) (*Channel, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ch, ok := t.channels[id]
	return ch, ok
}

// Channels returns every registered channel ordered by ID
func (t *Team) Channels() []*Channel {
	t.mu.RLock()
	channels := make([]*Channel, 0, len(t.channels))
	for _, ch := range t.channels {
		channels = append(channels, ch)
	}
	t.mu.RUnlock()

	sort.Slice(channels, func(i, j int) bool { return channels[i].ID < channels[j].ID })
	return channels
}

// Len returns the number of registered channels
func (t *Team) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.channels)
}
