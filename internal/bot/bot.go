package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"starbot/internal/blacklist"
	"starbot/internal/chat"
	"starbot/internal/commands"
	"starbot/internal/logging"
	"starbot/internal/metrics"
	"starbot/internal/scanner"
	"starbot/internal/scheduler"
	"starbot/internal/storage"
)

var (
	// ErrInvalidAuth means the token was revoked or the app uninstalled
	ErrInvalidAuth = errors.New("bot: invalid auth")
	// ErrNotStarted is returned by operations that need an authenticated bot
	ErrNotStarted = errors.New("bot: not authenticated")

	ErrUnknownChannel = errors.New("bot: unknown channel")
)

// Client is the platform Web API a bot session uses
type Client interface {
	scanner.Transport
	commands.Replier
	Identity(ctx context.Context) (chat.Identity, error)
	Channels(ctx context.Context, botUserID string) ([]chat.ChannelInfo, error)
}

// Stream delivers a team's live events. Run blocks until ctx is cancelled or
// the connection ends for good, calling handle for one event at a time.
type Stream interface {
	Run(ctx context.Context, teamID string, handle func(chat.Event)) error
}

// Store is the persistence a bot session needs
type Store interface {
	storage.LinkStore
	storage.BotStore
}

type Config struct {
	Emoji        string
	ScanInterval time.Duration
	HistoryLimit int
}

// Bot is one team's session: its channel registry, command dispatcher and
// scan scheduler, fed by a single stream connection.
type Bot struct {
	record    storage.BotRecord
	client    Client
	stream    Stream
	store     Store
	blacklist *blacklist.Blacklist
	config    Config

	mu         sync.Mutex
	team       *chat.Team
	scanner    *scanner.Scanner
	dispatcher *commands.Dispatcher
	scheduler  *scheduler.ScanScheduler
	logger     *slog.Logger

	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
	stopped sync.Once
}

func New(record storage.BotRecord, client Client, stream Stream, store Store, list *blacklist.Blacklist, config Config) *Bot {
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = scanner.DefaultHistoryLimit
	}
	return &Bot{
		record:    record,
		client:    client,
		stream:    stream,
		store:     store,
		blacklist: list,
		config:    config,
		logger:    slog.Default().With("team_id", record.TeamID),
	}
}

// Authenticate resolves the bot's identity, builds the channel registry from
// the conversations it belongs to and records the team and bot.
func (b *Bot) Authenticate(ctx context.Context) error {
	identity, err := b.client.Identity(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve identity: %w", err)
	}
	if b.record.TeamID != "" && identity.TeamID != b.record.TeamID {
		return fmt.Errorf("token belongs to team %s, expected %s", identity.TeamID, b.record.TeamID)
	}

	logger := logging.BotLogger(ctx, identity.TeamID, identity.BotUserID)

	channels, err := b.client.Channels(ctx, identity.BotUserID)
	if err != nil {
		return fmt.Errorf("failed to list channels: %w", err)
	}

	// the cache must hold at least one full history page so marks survive between scans
	team := chat.NewTeam(identity.TeamID, identity.TeamName, identity.TeamDomain, 2*b.config.HistoryLimit)
	for _, ch := range channels {
		team.AddChannel(ch.ID, ch.Name, ch.Members)
	}

	record := b.record
	record.TeamID = identity.TeamID
	record.BotUserID = identity.BotUserID

	if err := b.store.UpsertTeam(ctx, storage.TeamRecord{
		ID:        identity.TeamID,
		Name:      identity.TeamName,
		Domain:    identity.TeamDomain,
		BotUserID: identity.BotUserID,
	}); err != nil {
		return fmt.Errorf("failed to save team: %w", err)
	}
	if err := b.store.UpsertBot(ctx, record); err != nil {
		return fmt.Errorf("failed to save bot: %w", err)
	}

	s := scanner.New(b.client, b.store, b.blacklist, scanner.Config{
		TeamID:       identity.TeamID,
		BotUserID:    identity.BotUserID,
		Emoji:        b.config.Emoji,
		HistoryLimit: b.config.HistoryLimit,
	})
	dispatcher := commands.NewDispatcher(identity.BotUserID, b.client,
		commands.NewScanCommand(s),
		commands.NewBanCommand(b.blacklist),
		commands.NewUnbanCommand(b.blacklist),
	)

	b.mu.Lock()
	b.record = record
	b.team = team
	b.scanner = s
	b.dispatcher = dispatcher
	b.scheduler = scheduler.New(identity.BotUserID, b.config.ScanInterval, team, dispatcher)
	b.logger = logger
	b.mu.Unlock()

	logger.Info("Bot authenticated", "team_name", identity.TeamName, "channels", team.Len())
	return nil
}

// Start authenticates, starts the scan scheduler and consumes the stream in
// the background. Done is closed when the stream ends.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.Authenticate(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(logging.ContextWithLogger(ctx, b.logger))
	b.cancel = cancel
	b.done = make(chan struct{})

	b.scheduler.Start(runCtx)

	go func() {
		defer close(b.done)
		defer b.scheduler.Stop()

		err := b.stream.Run(runCtx, b.TeamID(), func(ev chat.Event) {
			if err := b.HandleEvent(runCtx, ev); errors.Is(err, ErrInvalidAuth) {
				b.runErr = err
				cancel()
			}
		})
		if err != nil && b.runErr == nil && runCtx.Err() == nil {
			b.runErr = err
			b.logger.Error("Stream ended", "error", err)
		}
	}()

	return nil
}

// Run starts the bot and blocks until its stream ends
func (b *Bot) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}
	<-b.done
	return b.runErr
}

// Done is closed once a started bot's stream has ended
func (b *Bot) Done() <-chan struct{} { return b.done }

// Err reports why the stream ended. Valid after Done is closed.
func (b *Bot) Err() error { return b.runErr }

// Stop halts the scheduler before closing the stream and waits for both
func (b *Bot) Stop() {
	b.stopped.Do(func() {
		b.mu.Lock()
		sched := b.scheduler
		b.mu.Unlock()

		if sched != nil {
			sched.Stop()
		}
		if b.cancel != nil {
			b.cancel()
			<-b.done
		}
		b.logger.Info("Bot stopped")
	})
}

// TeamID returns the team the bot serves
func (b *Bot) TeamID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.record.TeamID
}

// Team returns the channel registry, nil before authentication
func (b *Bot) Team() *chat.Team {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.team
}

// ScanChannel runs a scan outside the command path
func (b *Bot) ScanChannel(ctx context.Context, channelID string) (scanner.Result, error) {
	b.mu.Lock()
	team, s := b.team, b.scanner
	b.mu.Unlock()

	if team == nil {
		return scanner.Result{}, ErrNotStarted
	}
	ch, ok := team.Channel(channelID)
	if !ok {
		return scanner.Result{}, fmt.Errorf("%w: %s", ErrUnknownChannel, channelID)
	}
	return s.Scan(ctx, ch)
}

// HandleEvent applies one stream event. Housekeeping events and events for
// channels the bot does not know are ignored, joins excepted.
func (b *Bot) HandleEvent(ctx context.Context, ev chat.Event) error {
	b.mu.Lock()
	team, dispatcher, record := b.team, b.dispatcher, b.record
	b.mu.Unlock()

	if team == nil {
		return ErrNotStarted
	}

	metrics.SlackEventsReceived.WithLabelValues(string(ev.Kind)).Inc()
	if ev.Kind.IsHousekeeping() {
		return nil
	}

	switch ev.Kind {
	case chat.EventInvalidAuth:
		b.logger.Warn("Token revoked, disabling bot")
		if err := b.store.DisableBot(ctx, record.TeamID); err != nil {
			b.logger.Error("Failed to disable bot", "error", err)
		}
		return ErrInvalidAuth

	case chat.EventChannelJoined:
		team.AddChannel(ev.ChannelID, ev.ChannelName, ev.Members)
		b.logger.Info("Joined channel", "channel_id", ev.ChannelID, "channel_name", ev.ChannelName)
		return nil

	case chat.EventMemberJoined:
		if ch, ok := team.Channel(ev.ChannelID); ok {
			ch.MemberJoined(ev.UserID)
			return nil
		}
		if ev.UserID == record.BotUserID {
			team.AddChannel(ev.ChannelID, ev.ChannelName, []string{ev.UserID})
			b.logger.Info("Joined channel", "channel_id", ev.ChannelID)
		}
		return nil
	}

	ch, ok := team.Channel(ev.ChannelID)
	if !ok {
		return nil
	}

	switch ev.Kind {
	case chat.EventMessage:
		msg := ch.Absorb(ev.Message)
		if !msg.IsPlainText() || msg.Author == record.BotUserID {
			return nil
		}
		_, err := dispatcher.Dispatch(ctx, msg, ch, commands.SourceLive)
		return err

	case chat.EventMemberLeft:
		if ev.UserID == record.BotUserID {
			team.RemoveChannel(ch.ID)
			b.logger.Info("Left channel", "channel_id", ch.ID)
			return nil
		}
		ch.MemberLeft(ev.UserID)

	case chat.EventChannelLeft:
		team.RemoveChannel(ch.ID)
		b.logger.Info("Left channel", "channel_id", ch.ID)

	case chat.EventChannelRename:
		ch.Rename(ev.ChannelName)
	}

	return nil
}
