package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"starbot/internal/metrics"
	"starbot/internal/storage"
)

const defaultStatsInterval = 60 * time.Second

// BotLister reports the teams with a running bot
type BotLister interface {
	Active() []string
}

// Sizer reports how many entries the blacklist holds
type Sizer interface {
	Len() int
}

type Stats struct {
	TotalLinks       int       `json:"total_links"`
	LinksSinceLast   int       `json:"links_since_last_refresh"`
	ActiveTeams      []string  `json:"active_teams"`
	BlacklistEntries int       `json:"blacklist_entries"`
	RefreshedAt      time.Time `json:"refreshed_at"`
}

// StatsJob periodically refreshes the link and bot gauges and keeps the
// latest snapshot for the stats endpoint
type StatsJob struct {
	links     storage.LinkReader
	bots      BotLister
	blacklist Sizer
	interval  time.Duration
	done      chan struct{}
	stopOnce  sync.Once

	mu   sync.Mutex
	last *Stats
}

func NewStatsJob(links storage.LinkReader, bots BotLister, blacklist Sizer) *StatsJob {
	return &StatsJob{
		links:     links,
		bots:      bots,
		blacklist: blacklist,
		interval:  defaultStatsInterval,
		done:      make(chan struct{}),
	}
}

// Start refreshes on every tick until ctx is cancelled or Stop is called
func (j *StatsJob) Start(ctx context.Context) {
	slog.Info("Starting stats job", slog.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Stats job stopped due to context cancellation")
			return
		case <-j.done:
			slog.Info("Stats job stopped")
			return
		case <-ticker.C:
			if _, err := j.Refresh(ctx); err != nil {
				slog.Error("Error refreshing stats", "error", err)
			}
		}
	}
}

func (j *StatsJob) Stop() {
	j.stopOnce.Do(func() { close(j.done) })
}

// Refresh takes a new snapshot. CountLinks also updates the links gauge.
func (j *StatsJob) Refresh(ctx context.Context) (Stats, error) {
	total, err := j.links.CountLinks(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		TotalLinks:       total,
		ActiveTeams:      j.bots.Active(),
		BlacklistEntries: j.blacklist.Len(),
		RefreshedAt:      time.Now().UTC(),
	}
	metrics.ActiveBots.Set(float64(len(stats.ActiveTeams)))
	metrics.BlacklistSize.Set(float64(stats.BlacklistEntries))

	j.mu.Lock()
	if j.last != nil {
		stats.LinksSinceLast = total - j.last.TotalLinks
	}
	j.last = &stats
	j.mu.Unlock()

	if stats.LinksSinceLast > 0 {
		slog.Info("Links saved since last refresh",
			slog.Int("new", stats.LinksSinceLast),
			slog.Int("total", total))
	}

	return stats, nil
}

// Stats returns the latest snapshot, taking the first one on demand
func (j *StatsJob) Stats(ctx context.Context) (Stats, error) {
	j.mu.Lock()
	last := j.last
	j.mu.Unlock()

	if last != nil {
		return *last, nil
	}
	return j.Refresh(ctx)
}

// SetInterval updates the refresh interval; takes effect on the next Start
func (j *StatsJob) SetInterval(interval time.Duration) {
	if interval >= time.Second && interval <= time.Hour {
		j.interval = interval
		slog.Info("Updated stats job interval", slog.Duration("new_interval", interval))
	}
}
