package scheduler

import (
	"context"
	"sync"
	"time"

	"starbot/internal/chat"
	"starbot/internal/commands"
	"starbot/internal/logging"
	"starbot/internal/metrics"
)

// ChannelSource lists the channels to scan on every tick
type ChannelSource interface {
	Channels() []*chat.Channel
}

// Dispatcher runs a command message, as commands.Dispatcher does
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *chat.Message, ch *chat.Channel, source commands.Source) (bool, error)
}

// ScanScheduler periodically feeds a synthetic "<@bot> scan" message for every
// channel through the same dispatcher live commands use.
type ScanScheduler struct {
	botUserID  string
	interval   time.Duration
	channels   ChannelSource
	dispatcher Dispatcher

	mu       sync.Mutex
	inFlight map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(botUserID string, interval time.Duration, channels ChannelSource, dispatcher Dispatcher) *ScanScheduler {
	return &ScanScheduler{
		botUserID:  botUserID,
		interval:   interval,
		channels:   channels,
		dispatcher: dispatcher,
		inFlight:   make(map[string]struct{}),
	}
}

// Start launches the tick loop and returns immediately. A zero interval
// leaves the scheduler idle.
func (s *ScanScheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		logging.LoggerFromContext(ctx).Info("Scan scheduler disabled")
		return
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.loop()

	logging.LoggerFromContext(ctx).Info("Scan scheduler started", "interval", s.interval)
}

// Stop cancels the loop and waits for in-flight scans to return
func (s *ScanScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *ScanScheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Tick(s.ctx)
		}
	}
}

// Tick starts one scheduled scan per channel, skipping channels whose
// previous scheduled scan has not finished. It returns the number started.
func (s *ScanScheduler) Tick(ctx context.Context) int {
	logger := logging.LoggerFromContext(ctx)
	command := "<@" + s.botUserID + "> scan"

	started := 0
	for _, ch := range s.channels.Channels() {
		if !s.claim(ch.ID) {
			metrics.ScheduledScansSkipped.Inc()
			logger.Debug("Skipping scheduled scan, previous one still running", "channel_id", ch.ID)
			continue
		}

		msg := chat.NewMessage(chat.RawEvent{Type: "message", Text: command}, ch.ID)

		s.wg.Add(1)
		started++
		go func(ch *chat.Channel) {
			defer s.wg.Done()
			defer s.release(ch.ID)

			if _, err := s.dispatcher.Dispatch(ctx, msg, ch, commands.SourceSchedule); err != nil {
				logger.Warn("Scheduled scan failed", "channel_id", ch.ID, "error", err)
			}
		}(ch)
	}
	return started
}

func (s *ScanScheduler) claim(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[channelID]; busy {
		return false
	}
	s.inFlight[channelID] = struct{}{}
	return true
}

func (s *ScanScheduler) release(channelID string) {
	s.mu.Lock()
	delete(s.inFlight, channelID)
	s.mu.Unlock()
}
