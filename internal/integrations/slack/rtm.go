package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"

	"starbot/internal/chat"
)

// ErrTokenNotAllowed means Slack refused the RTM connection for this kind of
// token. Bot tokens from OAuth v2 (granular scopes) cannot use RTM; those teams
// need the Events API stream.
var ErrTokenNotAllowed = errors.New("slack: token type cannot open an RTM connection")

// RTMStream is a team's live event stream over Slack's RTM websocket. It needs
// a classic app bot token. The slack-go RTM client reconnects on its own; Run
// returns when ctx is cancelled or the connection is refused for good.
type RTMStream struct {
	api *slack.Client
}

func NewRTMStream(client *Client) *RTMStream {
	return &RTMStream{api: client.api}
}

func (s *RTMStream) Run(ctx context.Context, teamID string, handle func(chat.Event)) error {
	rtm := s.api.NewRTM()
	go rtm.ManageConnection()
	defer func() {
		if err := rtm.Disconnect(); err != nil {
			slog.Debug("RTM disconnect", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-rtm.IncomingEvents:
			if !ok {
				return nil
			}
			if err := fatalConnectionError(msg); err != nil {
				slog.Error("RTM connection refused, set SLACK_SIGNING_SECRET to use the Events API", "team_id", teamID, "error", err)
				return err
			}
			if ev, ok := TranslateEvent(msg); ok {
				handle(ev)
			}
		}
	}
}

// TranslateEvent maps an RTM event onto the bot's event model. Events the bot
// has no use for report false.
func TranslateEvent(msg slack.RTMEvent) (chat.Event, bool) {
	switch ev := msg.Data.(type) {
	case *slack.HelloEvent:
		return chat.Event{Kind: chat.EventHello}, true

	case *slack.ConnectingEvent:
		return chat.Event{Kind: chat.EventConnecting}, true

	case *slack.ConnectedEvent:
		return chat.Event{Kind: chat.EventConnected}, true

	case *slack.LatencyReport:
		return chat.Event{Kind: chat.EventLatencyReport}, true

	case *slack.MessageEvent:
		return chat.Event{
			Kind:      chat.EventMessage,
			ChannelID: ev.Channel,
			UserID:    ev.User,
			Message:   toRawEvent(ev.Msg),
		}, true

	case *slack.MemberJoinedChannelEvent:
		return chat.Event{Kind: chat.EventMemberJoined, ChannelID: ev.Channel, UserID: ev.User}, true

	case *slack.MemberLeftChannelEvent:
		return chat.Event{Kind: chat.EventMemberLeft, ChannelID: ev.Channel, UserID: ev.User}, true

	case *slack.ChannelJoinedEvent:
		return chat.Event{
			Kind:        chat.EventChannelJoined,
			ChannelID:   ev.Channel.ID,
			ChannelName: ev.Channel.Name,
			Members:     ev.Channel.Members,
		}, true

	case *slack.GroupJoinedEvent:
		return chat.Event{
			Kind:        chat.EventChannelJoined,
			ChannelID:   ev.Channel.ID,
			ChannelName: ev.Channel.Name,
			Members:     ev.Channel.Members,
		}, true

	case *slack.ChannelLeftEvent:
		return chat.Event{Kind: chat.EventChannelLeft, ChannelID: ev.Channel}, true

	case *slack.GroupLeftEvent:
		return chat.Event{Kind: chat.EventChannelLeft, ChannelID: ev.Channel}, true

	case *slack.ChannelRenameEvent:
		return chat.Event{Kind: chat.EventChannelRename, ChannelID: ev.Channel.ID, ChannelName: ev.Channel.Name}, true

	case *slack.GroupRenameEvent:
		return chat.Event{Kind: chat.EventChannelRename, ChannelID: ev.Group.ID, ChannelName: ev.Group.Name}, true

	case *slack.InvalidAuthEvent:
		return chat.Event{Kind: chat.EventInvalidAuth}, true

	case *slack.RTMError:
		slog.Error("RTM error", "code", ev.Code, "msg", ev.Msg)

	case *slack.ConnectionErrorEvent:
		slog.Warn("RTM connection error", "attempt", ev.Attempt, "error", ev.ErrorObj)
	}

	return chat.Event{}, false
}

// fatalConnectionError reports connection errors slack-go would otherwise
// retry forever
func fatalConnectionError(msg slack.RTMEvent) error {
	ev, ok := msg.Data.(*slack.ConnectionErrorEvent)
	if !ok || ev.ErrorObj == nil {
		return nil
	}
	if errorCode(ev.ErrorObj) == "not_allowed_token_type" || strings.Contains(ev.ErrorObj.Error(), "not_allowed_token_type") {
		return fmt.Errorf("%w: %v", ErrTokenNotAllowed, ev.ErrorObj)
	}
	return nil
}
