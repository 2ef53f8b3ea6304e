package slack

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"starbot/internal/chat"
	"starbot/internal/logging"
)

const (
	maxEventBody   = 1 << 20
	teamQueueDepth = 256
)

// EventRouter receives Events API callbacks and hands each one to the stream
// of the team it belongs to. It works with any bot token, including the
// granular ones an OAuth v2 install produces.
type EventRouter struct {
	signingSecret string

	mu     sync.Mutex
	queues map[string]chan chat.Event
}

func NewEventRouter(signingSecret string) *EventRouter {
	return &EventRouter{
		signingSecret: signingSecret,
		queues:        make(map[string]chan chat.Event),
	}
}

// Stream returns a bot.Stream fed by this router
func (r *EventRouter) Stream() *EventsStream {
	return &EventsStream{router: r}
}

func (r *EventRouter) subscribe(teamID string) chan chat.Event {
	queue := make(chan chat.Event, teamQueueDepth)
	r.mu.Lock()
	r.queues[teamID] = queue
	r.mu.Unlock()
	return queue
}

// unsubscribe leaves a newer subscriber for the same team in place
func (r *EventRouter) unsubscribe(teamID string, queue chan chat.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queues[teamID] == queue {
		delete(r.queues, teamID)
	}
}

// Deliver queues ev for teamID without blocking. It reports false when no
// bot is listening for the team or its queue is full.
func (r *EventRouter) Deliver(teamID string, ev chat.Event) bool {
	r.mu.Lock()
	queue, ok := r.queues[teamID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case queue <- ev:
		return true
	default:
		slog.Warn("Event queue full, dropping event", "team_id", teamID, "kind", ev.Kind)
		return false
	}
}

// HandleEvents serves Slack's Events API request URL
func (r *EventRouter) HandleEvents(w http.ResponseWriter, req *http.Request) {
	logger := logging.LoggerFromContext(req.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxEventBody))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	verifier, err := slack.NewSecretsVerifier(req.Header, r.signingSecret)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if _, err := verifier.Write(body); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if err := verifier.Ensure(); err != nil {
		logger.Warn("Rejected Slack event with bad signature")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if !json.Valid(body) {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	outer, err := slackevents.ParseEvent(body, slackevents.OptionNoVerifyToken())
	if err != nil {
		// inner event types slackevents does not know
		logger.Debug("Ignoring Slack event", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	switch outer.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"challenge": challenge.Challenge})
		return

	case slackevents.CallbackEvent:
		var callback slackevents.EventsAPICallbackEvent
		if err := json.Unmarshal(body, &callback); err != nil || callback.InnerEvent == nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		ev, ok := translateCallback(*callback.InnerEvent)
		if ok && !r.Deliver(callback.TeamID, ev) {
			logger.Debug("No bot listening for team", "team_id", callback.TeamID, "kind", ev.Kind)
		}
	}

	// Slack retries anything but a 2xx
	w.WriteHeader(http.StatusOK)
}

type channelRef struct {
	Channel string `json:"channel"`
}

type renamedChannel struct {
	Channel struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"channel"`
}

// translateCallback maps an Events API inner event onto the bot's event model
func translateCallback(inner json.RawMessage) (chat.Event, bool) {
	var head slackevents.EventsAPIInnerEvent
	if err := json.Unmarshal(inner, &head); err != nil {
		return chat.Event{}, false
	}

	switch head.Type {
	case string(slackevents.Message):
		var ev slackevents.MessageEvent
		if err := json.Unmarshal(inner, &ev); err != nil {
			return chat.Event{}, false
		}
		return chat.Event{
			Kind:      chat.EventMessage,
			ChannelID: ev.Channel,
			UserID:    ev.User,
			Message: chat.RawEvent{
				Type:      ev.Type,
				SubType:   ev.SubType,
				User:      ev.User,
				BotID:     ev.BotID,
				Text:      ev.Text,
				Timestamp: ev.TimeStamp,
			},
		}, true

	case string(slackevents.MemberJoinedChannel):
		var ev slackevents.MemberJoinedChannelEvent
		if err := json.Unmarshal(inner, &ev); err != nil {
			return chat.Event{}, false
		}
		return chat.Event{Kind: chat.EventMemberJoined, ChannelID: ev.Channel, UserID: ev.User}, true

	case string(slackevents.MemberLeftChannel):
		var ev slackevents.MemberLeftChannelEvent
		if err := json.Unmarshal(inner, &ev); err != nil {
			return chat.Event{}, false
		}
		return chat.Event{Kind: chat.EventMemberLeft, ChannelID: ev.Channel, UserID: ev.User}, true

	case "channel_left", "group_left":
		var ev channelRef
		if err := json.Unmarshal(inner, &ev); err != nil {
			return chat.Event{}, false
		}
		return chat.Event{Kind: chat.EventChannelLeft, ChannelID: ev.Channel}, true

	case "channel_rename", "group_rename":
		var ev renamedChannel
		if err := json.Unmarshal(inner, &ev); err != nil {
			return chat.Event{}, false
		}
		return chat.Event{Kind: chat.EventChannelRename, ChannelID: ev.Channel.ID, ChannelName: ev.Channel.Name}, true

	case "app_uninstalled", "tokens_revoked":
		return chat.Event{Kind: chat.EventInvalidAuth}, true
	}

	return chat.Event{}, false
}

// EventsStream is one team's view of an EventRouter
type EventsStream struct {
	router *EventRouter
}

func (s *EventsStream) Run(ctx context.Context, teamID string, handle func(chat.Event)) error {
	queue := s.router.subscribe(teamID)
	defer s.router.unsubscribe(teamID, queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-queue:
			handle(ev)
		}
	}
}
