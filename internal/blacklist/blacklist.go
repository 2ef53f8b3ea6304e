package blacklist

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// ErrInvalidArgument is returned when ban or unban is called with empty input
var ErrInvalidArgument = errors.New("blacklist: text is empty")

// Blacklist is a process-wide set of banned text fragments shared by every bot.
// Entries live in memory only and are reset on restart.
type Blacklist struct {
	mu      sync.RWMutex
	entries map[string]struct{}
}

// New creates an empty blacklist
func New() *Blacklist {
	return &Blacklist{entries: make(map[string]struct{})}
}

// NewSeeded creates a blacklist from a delimited list such as "spam.com,ads."
func NewSeeded(list, sep string) *Blacklist {
	b := New()
	b.Seed(list, sep)
	return b
}

// Seed bans every non-empty fragment of a delimited list
func (b *Blacklist) Seed(list, sep string) {
	if strings.TrimSpace(list) == "" {
		return
	}
	for _, part := range strings.Split(list, sep) {
		// blank segments like "a,,b" are skipped
		_ = b.Ban(part)
	}
	slog.Info("Blacklist seeded", "entries", b.Len())
}

// Ban adds the normalized text to the blacklist
func (b *Blacklist) Ban(text string) error {
	key, err := normalize(text)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.entries[key] = struct{}{}
	b.mu.Unlock()
	return nil
}

// Unban removes the normalized text from the blacklist
func (b *Blacklist) Unban(text string) error {
	key, err := normalize(text)
	if err != nil {
		return err
	}

	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
	return nil
}

// Values returns the banned fragments in sorted order for display
func (b *Blacklist) Values() []string {
	b.mu.RLock()
	values := make([]string, 0, len(b.entries))
	for key := range b.entries {
		values = append(values, key)
	}
	b.mu.RUnlock()

	sort.Strings(values)
	return values
}

// Len returns the number of banned fragments
func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Blocks reports whether href contains any banned fragment
func (b *Blacklist) Blocks(href string) bool {
	lowered := strings.ToLower(href)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for fragment := range b.entries {
		if strings.Contains(lowered, fragment) {
			return true
		}
	}
	return false
}

func normalize(text string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(text))
	if key == "" {
		return "", ErrInvalidArgument
	}
	return key, nil
}
