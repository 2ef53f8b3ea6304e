package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"starbot/internal/blacklist"
	"starbot/internal/metrics"
	"starbot/internal/storage"
)

// Connector opens the platform client and stream for a bot token
type Connector func(token string) (Client, Stream)

// Manager owns every running bot, one per team. Teams run concurrently and
// share only the blacklist.
type Manager struct {
	connect   Connector
	store     Store
	blacklist *blacklist.Blacklist
	config    Config

	mu   sync.Mutex
	bots map[string]*Bot
	wg   sync.WaitGroup
}

func NewManager(connect Connector, store Store, list *blacklist.Blacklist, config Config) *Manager {
	return &Manager{
		connect:   connect,
		store:     store,
		blacklist: list,
		config:    config,
		bots:      make(map[string]*Bot),
	}
}

// Launch starts a bot for record, replacing any bot already running for the
// same team. It returns once the bot is authenticated.
func (m *Manager) Launch(ctx context.Context, record storage.BotRecord) (*Bot, error) {
	if record.Token == "" {
		return nil, errors.New("bot record has no token")
	}

	client, stream := m.connect(record.Token)
	b := New(record, client, stream, m.store, m.blacklist, m.config)
	if err := b.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start bot for team %s: %w", record.TeamID, err)
	}

	teamID := b.TeamID()

	m.mu.Lock()
	previous := m.bots[teamID]
	m.bots[teamID] = b
	metrics.ActiveBots.Set(float64(len(m.bots)))
	m.mu.Unlock()

	if previous != nil {
		slog.Info("Replacing running bot", "team_id", teamID)
		previous.Stop()
	}

	m.wg.Add(1)
	go m.watch(teamID, b)

	return b, nil
}

// watch forgets a bot once its stream ends on its own, e.g. after uninstall
func (m *Manager) watch(teamID string, b *Bot) {
	defer m.wg.Done()
	<-b.Done()

	m.mu.Lock()
	if m.bots[teamID] == b {
		delete(m.bots, teamID)
	}
	metrics.ActiveBots.Set(float64(len(m.bots)))
	m.mu.Unlock()

	if err := b.Err(); err != nil {
		slog.Warn("Bot session ended", "team_id", teamID, "error", err)
	}
}

// Remove stops and forgets the bot serving teamID
func (m *Manager) Remove(teamID string) bool {
	m.mu.Lock()
	b, ok := m.bots[teamID]
	delete(m.bots, teamID)
	metrics.ActiveBots.Set(float64(len(m.bots)))
	m.mu.Unlock()

	if ok {
		b.Stop()
	}
	return ok
}

// Rehydrate launches every enabled bot in the store. Bots that fail to start
// are logged and skipped.
func (m *Manager) Rehydrate(ctx context.Context) (int, error) {
	records, err := m.store.ListBots(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list bots: %w", err)
	}

	launched := 0
	for _, record := range records {
		if _, err := m.Launch(ctx, record); err != nil {
			slog.Error("Failed to rehydrate bot", "team_id", record.TeamID, "error", err)
			continue
		}
		launched++
	}

	slog.Info("Bots rehydrated", "launched", launched, "stored", len(records))
	return launched, nil
}

// Get returns the bot serving teamID
func (m *Manager) Get(teamID string) (*Bot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[teamID]
	return b, ok
}

// Active lists the teams with a running bot
func (m *Manager) Active() []string {
	m.mu.Lock()
	teams := make([]string, 0, len(m.bots))
	for teamID := range m.bots {
		teams = append(teams, teamID)
	}
	m.mu.Unlock()

	sort.Strings(teams)
	return teams
}

// Shutdown stops every bot and waits for their sessions to end
func (m *Manager) Shutdown() {
	m.mu.Lock()
	bots := make([]*Bot, 0, len(m.bots))
	for _, b := range m.bots {
		bots = append(bots, b)
	}
	m.bots = make(map[string]*Bot)
	metrics.ActiveBots.Set(0)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, b := range bots {
		wg.Add(1)
		go func(b *Bot) {
			defer wg.Done()
			b.Stop()
		}(b)
	}
	wg.Wait()
	m.wg.Wait()
}
