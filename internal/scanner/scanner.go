package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"starbot/internal/chat"
	"starbot/internal/logging"
	"starbot/internal/metrics"
	"starbot/internal/storage"
)

var (
	// ErrTransport wraps failures fetching channel history
	ErrTransport = errors.New("scanner: transport failure")
	// ErrStore wraps failures of the membership lookup or the batch insert
	ErrStore = errors.New("scanner: store failure")
	// ErrAlreadyReacted is returned by a Transport when the reaction is already present
	ErrAlreadyReacted = errors.New("scanner: already reacted")
)

// DefaultHistoryLimit is how many recent messages one scan inspects
const DefaultHistoryLimit = 200

// Transport is the part of the chat platform a scan talks to
type Transport interface {
	History(ctx context.Context, channelID string, limit int) ([]chat.RawEvent, error)
	AddReaction(ctx context.Context, channelID, timestamp, emoji string) error
}

// Filter drops links before they become candidates
type Filter interface {
	Blocks(href string) bool
}

type Config struct {
	TeamID       string
	BotUserID    string
	Emoji        string
	HistoryLimit int
}

type Scanner struct {
	transport Transport
	store     storage.LinkStore
	filter    Filter
	config    Config
}

// Result summarizes one scan
type Result struct {
	Messages         int // qualifying messages
	Candidates       int // distinct hrefs found
	Known            int // hrefs already stored
	Inserted         int
	Reacted          int
	ReactionFailures int
}

// New creates a scanner. filter may be nil.
func New(transport Transport, store storage.LinkStore, filter Filter, config Config) *Scanner {
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = DefaultHistoryLimit
	}
	return &Scanner{
		transport: transport,
		store:     store,
		filter:    filter,
		config:    config,
	}
}

type candidate struct {
	msg   *chat.Message
	links []chat.Link
}

// Scan fetches recent history for ch, persists links not seen before and
// reacts once to every qualifying message. Scans of the same channel are
// serialized.
func (s *Scanner) Scan(ctx context.Context, ch *chat.Channel) (result Result, err error) {
	unlock := ch.LockScan()
	defer unlock()

	start := time.Now()
	defer func() {
		metrics.ScanDuration.Observe(time.Since(start).Seconds())
		metrics.ScansTotal.WithLabelValues(metrics.Status(err)).Inc()
	}()

	logger := logging.LoggerFromContext(ctx).With("channel_id", ch.ID)

	raws, err := s.transport.History(ctx, ch.ID, s.config.HistoryLimit)
	if err != nil {
		return Result{}, fmt.Errorf("%w: failed to fetch history for %s: %v", ErrTransport, ch.ID, err)
	}

	candidates := s.collect(ch, raws)
	result.Messages = len(candidates)

	// first occurrence of an href wins
	seen := make(map[string]struct{})
	var hrefs []string
	var staged []chat.Link
	for _, c := range candidates {
		for _, link := range c.links {
			if _, dup := seen[link.Href]; dup {
				continue
			}
			seen[link.Href] = struct{}{}
			hrefs = append(hrefs, link.Href)
			staged = append(staged, link)
		}
	}
	result.Candidates = len(hrefs)
	metrics.LinksDiscovered.Add(float64(len(hrefs)))

	if len(hrefs) > 0 {
		known, err := s.store.FindExisting(ctx, hrefs)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrStore, err)
		}
		result.Known = len(known)

		batch := make([]storage.Link, 0, len(staged))
		for _, link := range staged {
			if _, ok := known[link.Href]; ok {
				continue
			}
			batch = append(batch, s.toRecord(ch, link))
		}

		if len(batch) > 0 {
			inserted, err := s.store.BulkInsert(ctx, batch)
			if err != nil {
				return Result{}, fmt.Errorf("%w: %v", ErrStore, err)
			}
			result.Inserted = inserted
			metrics.LinksSaved.Add(float64(inserted))
		}
	}

	for _, c := range candidates {
		if c.msg.IsMarked() {
			continue
		}

		err := s.transport.AddReaction(ctx, ch.ID, c.msg.Timestamp, s.config.Emoji)
		switch {
		case err == nil:
			c.msg.Mark()
			result.Reacted++
			metrics.Reactions.WithLabelValues("success").Inc()
		case errors.Is(err, ErrAlreadyReacted):
			c.msg.Mark()
			metrics.Reactions.WithLabelValues("already_reacted").Inc()
		default:
			result.ReactionFailures++
			metrics.Reactions.WithLabelValues("error").Inc()
			logger.Warn("Failed to react to message", "ts", c.msg.Timestamp, "error", err)
		}
	}

	logger.Info("Channel scanned",
		"messages", result.Messages,
		"candidates", result.Candidates,
		"known", result.Known,
		"inserted", result.Inserted,
		"reacted", result.Reacted,
		"reaction_failures", result.ReactionFailures)

	return result, nil
}

// collect normalizes history through the channel cache and keeps the messages
// worth processing: plain text from someone other than the bot with at least
// one link the filter lets through.
func (s *Scanner) collect(ch *chat.Channel, raws []chat.RawEvent) []candidate {
	var candidates []candidate
	for _, raw := range raws {
		msg := ch.Absorb(raw)
		if !msg.IsPlainText() || msg.Author == s.config.BotUserID || !msg.ContainsLink() {
			continue
		}

		// the reaction already on the message survives restarts and cache eviction
		if raw.HasReaction(s.config.Emoji, s.config.BotUserID) {
			msg.Mark()
		}

		links := s.allowed(msg.Links())
		if len(links) == 0 {
			continue
		}
		candidates = append(candidates, candidate{msg: msg, links: links})
	}
	return candidates
}

func (s *Scanner) allowed(links []chat.Link) []chat.Link {
	if s.filter == nil {
		return links
	}

	kept := links[:0]
	for _, link := range links {
		if s.filter.Blocks(link.Href) {
			metrics.LinksBlocked.Inc()
			continue
		}
		kept = append(kept, link)
	}
	return kept
}

func (s *Scanner) toRecord(ch *chat.Channel, link chat.Link) storage.Link {
	return storage.Link{
		Href:        link.Href,
		TeamID:      s.config.TeamID,
		ChannelID:   ch.ID,
		ChannelName: ch.Name(),
		Author:      link.Author,
		MessageTS:   link.Timestamp,
		PostedAt:    chat.ParseTimestamp(link.Timestamp),
	}
}
