package chat

import (
	"strconv"
	"strings"
	"time"
)

// RawEvent is a chat message as delivered by the platform, before normalization.
// It is filled from both live stream events and channel history.
type RawEvent struct {
	Type      string
	SubType   string
	User      string
	BotID     string
	Text      string
	Timestamp string
	Reactions []Reaction
}

// Reaction is an emoji reaction already present on a message
type Reaction struct {
	Name  string
	Users []string
}

// HasReaction reports whether user already reacted to the message with the named emoji
func (r RawEvent) HasReaction(name, user string) bool {
	if user == "" {
		return false
	}
	for _, reaction := range r.Reactions {
		if !strings.EqualFold(reaction.Name, name) {
			continue
		}
		for _, u := range reaction.Users {
			if u == user {
				return true
			}
		}
	}
	return false
}

// Link is a URL extracted from a chat message
type Link struct {
	Href      string
	ChannelID string
	Author    string
	Timestamp string
}

// ParseTimestamp converts a Slack ts ("1234567890.123456") to a time.
// Unparseable input yields the zero time.
func ParseTimestamp(ts string) time.Time {
	secPart, fracPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}
	}

	var micros int64
	if fracPart != "" {
		if len(fracPart) > 6 {
			fracPart = fracPart[:6]
		}
		for len(fracPart) < 6 {
			fracPart += "0"
		}
		micros, _ = strconv.ParseInt(fracPart, 10, 64)
	}

	return time.Unix(sec, micros*int64(time.Microsecond)).UTC()
}
