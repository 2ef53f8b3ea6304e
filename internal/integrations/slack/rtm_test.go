package slack

import (
	"errors"
	"reflect"
	"testing"

	"github.com/slack-go/slack"

	"starbot/internal/chat"
)

func TestTranslateEvent(t *testing.T) {
	message := &slack.MessageEvent{Msg: slack.Msg{
		Type:      "message",
		Channel:   "C1",
		User:      "U1",
		Text:      "<@UBOT> scan",
		Timestamp: "1.000001",
	}}

	joined := &slack.ChannelJoinedEvent{Type: "channel_joined"}
	joined.Channel.ID = "C2"
	joined.Channel.Name = "links"
	joined.Channel.Members = []string{"U1", "UBOT"}

	groupJoined := &slack.GroupJoinedEvent{Type: "group_joined"}
	groupJoined.Channel.ID = "G3"
	groupJoined.Channel.Name = "private"

	testCases := []struct {
		name     string
		data     interface{}
		expected chat.Event
		ok       bool
	}{
		{
			name:     "hello",
			data:     &slack.HelloEvent{},
			expected: chat.Event{Kind: chat.EventHello},
			ok:       true,
		},
		{
			name: "message",
			data: message,
			expected: chat.Event{
				Kind:      chat.EventMessage,
				ChannelID: "C1",
				UserID:    "U1",
				Message:   chat.RawEvent{Type: "message", User: "U1", Text: "<@UBOT> scan", Timestamp: "1.000001"},
			},
			ok: true,
		},
		{
			name:     "member joined",
			data:     &slack.MemberJoinedChannelEvent{Channel: "C1", User: "U2"},
			expected: chat.Event{Kind: chat.EventMemberJoined, ChannelID: "C1", UserID: "U2"},
			ok:       true,
		},
		{
			name:     "member left",
			data:     &slack.MemberLeftChannelEvent{Channel: "C1", User: "U2"},
			expected: chat.Event{Kind: chat.EventMemberLeft, ChannelID: "C1", UserID: "U2"},
			ok:       true,
		},
		{
			name:     "channel joined",
			data:     joined,
			expected: chat.Event{Kind: chat.EventChannelJoined, ChannelID: "C2", ChannelName: "links", Members: []string{"U1", "UBOT"}},
			ok:       true,
		},
		{
			name:     "group joined",
			data:     groupJoined,
			expected: chat.Event{Kind: chat.EventChannelJoined, ChannelID: "G3", ChannelName: "private"},
			ok:       true,
		},
		{
			name:     "channel left",
			data:     &slack.ChannelLeftEvent{Channel: "C1"},
			expected: chat.Event{Kind: chat.EventChannelLeft, ChannelID: "C1"},
			ok:       true,
		},
		{
			name:     "channel rename",
			data:     &slack.ChannelRenameEvent{Channel: slack.ChannelRenameInfo{ID: "C1", Name: "renamed"}},
			expected: chat.Event{Kind: chat.EventChannelRename, ChannelID: "C1", ChannelName: "renamed"},
			ok:       true,
		},
		{
			name:     "invalid auth",
			data:     &slack.InvalidAuthEvent{},
			expected: chat.Event{Kind: chat.EventInvalidAuth},
			ok:       true,
		},
		{
			name: "rtm error",
			data: &slack.RTMError{Code: 1, Msg: "boom"},
		},
		{
			name: "unhandled",
			data: &slack.UserTypingEvent{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ev, ok := TranslateEvent(slack.RTMEvent{Data: tc.data})
			if ok != tc.ok {
				t.Fatalf("TranslateEvent() ok = %v, want %v", ok, tc.ok)
			}
			if !reflect.DeepEqual(ev, tc.expected) {
				t.Errorf("TranslateEvent() = %+v, want %+v", ev, tc.expected)
			}
		})
	}
}

func TestFatalConnectionError(t *testing.T) {
	testCases := []struct {
		name  string
		data  interface{}
		fatal bool
	}{
		{
			name:  "granular bot token",
			data:  &slack.ConnectionErrorEvent{Attempt: 1, ErrorObj: slack.SlackErrorResponse{Err: "not_allowed_token_type"}},
			fatal: true,
		},
		{
			name:  "wrapped token error",
			data:  &slack.ConnectionErrorEvent{Attempt: 2, ErrorObj: errors.New("rtm.connect: not_allowed_token_type")},
			fatal: true,
		},
		{
			name: "transient network error",
			data: &slack.ConnectionErrorEvent{Attempt: 1, ErrorObj: errors.New("dial tcp: i/o timeout")},
		},
		{
			name: "no error object",
			data: &slack.ConnectionErrorEvent{Attempt: 1},
		},
		{
			name: "ordinary event",
			data: &slack.HelloEvent{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := fatalConnectionError(slack.RTMEvent{Data: tc.data})
			if errors.Is(err, ErrTokenNotAllowed) != tc.fatal {
				t.Errorf("fatalConnectionError() = %v, fatal %v", err, tc.fatal)
			}
		})
	}
}
