package bot_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"golang.org/x/time/rate"

	"starbot/internal/blacklist"
	"starbot/internal/bot"
	"starbot/internal/chat"
	slackint "starbot/internal/integrations/slack"
	"starbot/internal/storage"
)

// slackWorkspace is a fake Slack Web API holding one channel's history and
// recording the reactions and messages the bot sends
type slackWorkspace struct {
	mu        sync.Mutex
	history   string
	reactions []string
	posted    []string
}

func (s *slackWorkspace) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	w.Header().Set("Content-Type", "application/json")

	s.mu.Lock()
	defer s.mu.Unlock()

	switch strings.TrimPrefix(r.URL.Path, "/") {
	case "auth.test":
		fmt.Fprint(w, `{"ok":true,"url":"https://acme.slack.com/","team":"Acme","user":"starbot","team_id":"T1","user_id":"UBOT"}`)
	case "team.info":
		fmt.Fprint(w, `{"ok":true,"team":{"id":"T1","name":"Acme","domain":"acme"}}`)
	case "users.conversations":
		fmt.Fprint(w, `{"ok":true,"channels":[{"id":"C1","name":"links"}],"response_metadata":{"next_cursor":""}}`)
	case "conversations.members":
		fmt.Fprint(w, `{"ok":true,"members":["U1","U2","UBOT"],"response_metadata":{"next_cursor":""}}`)
	case "conversations.history":
		fmt.Fprint(w, s.history)
	case "reactions.add":
		s.reactions = append(s.reactions, r.Form.Get("timestamp")+":"+r.Form.Get("name"))
		fmt.Fprint(w, `{"ok":true}`)
	case "chat.postMessage":
		s.posted = append(s.posted, r.Form.Get("text"))
		fmt.Fprint(w, `{"ok":true,"channel":"C1","ts":"99.000000"}`)
	default:
		http.Error(w, "unexpected method", http.StatusNotFound)
	}
}

func (s *slackWorkspace) snapshot() (reactions, posted []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.reactions...), append([]string(nil), s.posted...)
}

// Slack pages newest first
const channelHistory = `{"ok":true,"has_more":false,"messages":[
	{"type":"message","user":"U2","text":"again <https://a.test/post>","ts":"4.000000"},
	{"type":"message","user":"U1","text":"ads <https://spam.com/offer>","ts":"3.000000"},
	{"type":"message","user":"U2","text":"<https://b.test> and <https://a.test/post>","ts":"2.000000"},
	{"type":"message","user":"U1","text":"read <https://a.test/post|this>","ts":"1.000000"}
]}`

func TestScanEndToEnd(t *testing.T) {
	ctx := context.Background()

	workspace := &slackWorkspace{history: channelHistory}
	server := httptest.NewServer(workspace)
	defer server.Close()

	store, err := storage.NewSQLStore(storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("NewSQLStore() error = %v", err)
	}
	defer store.Close()

	client := slackint.NewClient("xoxb-test",
		slackint.WithAPIURL(server.URL+"/"),
		slackint.WithLimiter(rate.NewLimiter(rate.Inf, 1)),
	)

	b := bot.New(storage.BotRecord{Token: "xoxb-test"}, client, nil, store,
		blacklist.NewSeeded("spam.com", ","), bot.Config{Emoji: "star", HistoryLimit: 50})
	if err := b.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	scan := chat.Event{
		Kind:      chat.EventMessage,
		ChannelID: "C1",
		UserID:    "U1",
		Message:   chat.RawEvent{Type: "message", User: "U1", Text: "<@UBOT> scan", Timestamp: "5.000000"},
	}

	if err := b.HandleEvent(ctx, scan); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	links, err := store.ListLinks(ctx, storage.LinkFilter{TeamID: "T1"})
	if err != nil {
		t.Fatalf("ListLinks() error = %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("Expected a.test and b.test saved once each, got %+v", links)
	}
	for _, link := range links {
		if link.ChannelName != "links" {
			t.Errorf("Link %s saved without channel name", link.Href)
		}
		if link.Href == "https://a.test/post" && (link.MessageTS != "1.000000" || link.Author != "U1") {
			t.Errorf("Expected the first posting to own a.test, got %+v", link)
		}
	}

	reactions, posted := workspace.snapshot()
	expected := []string{"1.000000:star", "2.000000:star", "4.000000:star"}
	if strings.Join(reactions, " ") != strings.Join(expected, " ") {
		t.Errorf("Expected reactions on every message with an allowed link, got %v", reactions)
	}
	if len(posted) != 1 || posted[0] != "2 new links saved" {
		t.Errorf("Expected one reply, got %v", posted)
	}

	// a second scan finds nothing new and reacts to nothing
	scan.Message.Timestamp = "6.000000"
	if err := b.HandleEvent(ctx, scan); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	reactions, posted = workspace.snapshot()
	if len(reactions) != 3 {
		t.Errorf("Re-scan should not react again, got %v", reactions)
	}
	if len(posted) != 2 || posted[1] != "0 new links saved" {
		t.Errorf("Expected re-scan reply, got %v", posted)
	}

	count, err := store.CountLinks(ctx)
	if err != nil || count != 2 {
		t.Errorf("CountLinks() = %d, %v", count, err)
	}
}
