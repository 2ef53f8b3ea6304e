package chat

// EventKind names a stream event, using the platform's own type strings
type EventKind string

const (
	EventHello         EventKind = "hello"
	EventPing          EventKind = "ping"
	EventPong          EventKind = "pong"
	EventConnecting    EventKind = "connecting"
	EventConnected     EventKind = "connected"
	EventLatencyReport EventKind = "latency_report"
	EventReconnectURL  EventKind = "reconnect_url"
	EventMessage       EventKind = "message"
	EventMemberJoined  EventKind = "member_joined_channel"
	EventMemberLeft    EventKind = "member_left_channel"
	EventChannelJoined EventKind = "channel_joined"
	EventChannelLeft   EventKind = "channel_left"
	EventChannelRename EventKind = "channel_rename"
	EventInvalidAuth   EventKind = "invalid_auth"
	EventUnknown       EventKind = "unknown"
)

var housekeeping = map[EventKind]struct{}{
	EventHello:         {},
	EventPing:          {},
	EventPong:          {},
	EventConnecting:    {},
	EventConnected:     {},
	EventLatencyReport: {},
	EventReconnectURL:  {},
}

// IsHousekeeping reports whether the kind carries no state for the bot
func (k EventKind) IsHousekeeping() bool {
	_, ok := housekeeping[k]
	return ok
}

// Event is one item from a team's live stream
type Event struct {
	Kind        EventKind
	ChannelID   string
	ChannelName string
	UserID      string
	Members     []string
	Message     RawEvent
}

// Identity describes who a token belongs to
type Identity struct {
	TeamID     string
	TeamName   string
	TeamDomain string
	BotUserID  string
}

// ChannelInfo is a conversation the bot is a member of
type ChannelInfo struct {
	ID      string
	Name    string
	Members []string
}
