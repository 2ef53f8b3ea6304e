package storage

import (
	"context"
	"time"
)

type Link struct {
	ID          string    `json:"id"`
	Href        string    `json:"href"`
	TeamID      string    `json:"team_id"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name,omitempty"`
	Author      string    `json:"author"`
	MessageTS   string    `json:"message_ts"` // Slack ts of the message the link was found in
	PostedAt    time.Time `json:"posted_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// BotRecord is an installed bot, one per team
type BotRecord struct {
	TeamID    string    `json:"team_id"`
	BotUserID string    `json:"bot_user_id"`
	Token     string    `json:"-"`
	Scopes    []string  `json:"scopes"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TeamRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	BotUserID string    `json:"bot_user_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

type LinkFilter struct {
	TeamID    string
	ChannelID string
	Limit     int
	Offset    int
}

// LinkStore is what a scan needs: one membership lookup and one bulk write
type LinkStore interface {
	// FindExisting returns the subset of hrefs already persisted
	FindExisting(ctx context.Context, hrefs []string) (map[string]struct{}, error)
	// BulkInsert writes links atomically, skipping hrefs that already exist,
	// and returns how many rows were actually inserted
	BulkInsert(ctx context.Context, links []Link) (int, error)
}

type LinkReader interface {
	ListLinks(ctx context.Context, filter LinkFilter) ([]Link, error)
	CountLinks(ctx context.Context) (int, error)
}

type BotStore interface {
	UpsertBot(ctx context.Context, bot BotRecord) error
	ListBots(ctx context.Context) ([]BotRecord, error)
	DisableBot(ctx context.Context, teamID string) error
	UpsertTeam(ctx context.Context, team TeamRecord) error
}

type Store interface {
	LinkStore
	LinkReader
	BotStore
	Ping(ctx context.Context) error
	Close() error
}
