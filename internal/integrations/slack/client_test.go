package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"starbot/internal/chat"
	"starbot/internal/scanner"
)

// fakeSlack serves canned Web API responses keyed by method name
type fakeSlack struct {
	mu        sync.Mutex
	responses map[string][]string
	calls     map[string]int
	forms     map[string][]string
}

func newFakeSlack(t *testing.T, responses map[string][]string) (*fakeSlack, *Client) {
	t.Helper()

	f := &fakeSlack{
		responses: responses,
		calls:     make(map[string]int),
		forms:     make(map[string][]string),
	}
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)

	client := NewClient("xoxb-test",
		WithAPIURL(server.URL+"/"),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
	)
	return f, client
}

func (f *fakeSlack) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := strings.TrimPrefix(r.URL.Path, "/")
	_ = r.ParseForm()

	f.mu.Lock()
	n := f.calls[method]
	f.calls[method]++
	f.forms[method] = append(f.forms[method], r.Form.Encode())
	queue := f.responses[method]
	f.mu.Unlock()

	if len(queue) == 0 {
		http.Error(w, "unexpected method "+method, http.StatusNotFound)
		return
	}
	body := queue[len(queue)-1]
	if n < len(queue) {
		body = queue[n]
	}

	if body == "429" {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, body)
}

func (f *fakeSlack) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func TestClient_History(t *testing.T) {
	fake, client := newFakeSlack(t, map[string][]string{
		"conversations.history": {
			`{"ok":true,"has_more":true,"response_metadata":{"next_cursor":"page2"},"messages":[
				{"type":"message","user":"U1","text":"newest http://c.test","ts":"3.000000"},
				{"type":"message","user":"U2","text":"middle","ts":"2.000000","reactions":[{"name":"star","users":["UBOT"],"count":1}]}
			]}`,
			`{"ok":true,"has_more":false,"messages":[
				{"type":"message","subtype":"bot_message","bot_id":"B1","text":"oldest","ts":"1.000000"}
			]}`,
		},
	})

	raws, err := client.History(context.Background(), "C1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}

	if len(raws) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(raws))
	}
	if raws[0].Timestamp != "1.000000" || raws[2].Timestamp != "3.000000" {
		t.Errorf("Expected oldest first, got %s .. %s", raws[0].Timestamp, raws[2].Timestamp)
	}
	if raws[0].SubType != "bot_message" || raws[0].BotID != "B1" {
		t.Errorf("Bot message fields lost: %+v", raws[0])
	}
	if !raws[1].HasReaction("star", "UBOT") {
		t.Error("Expected reactions to be carried over")
	}
	if fake.callCount("conversations.history") != 2 {
		t.Errorf("Expected 2 pages fetched, got %d", fake.callCount("conversations.history"))
	}
	if !strings.Contains(fake.forms["conversations.history"][1], "cursor=page2") {
		t.Errorf("Second page did not use the cursor: %s", fake.forms["conversations.history"][1])
	}
}

func TestClient_HistoryError(t *testing.T) {
	_, client := newFakeSlack(t, map[string][]string{
		"conversations.history": {`{"ok":false,"error":"channel_not_found"}`},
	})

	if _, err := client.History(context.Background(), "C1", 10); err == nil {
		t.Error("Expected error for channel_not_found")
	}
}

func TestClient_AddReaction(t *testing.T) {
	testCases := []struct {
		name          string
		response      string
		expectErr     bool
		expectAlready bool
	}{
		{name: "added", response: `{"ok":true}`},
		{name: "already reacted", response: `{"ok":false,"error":"already_reacted"}`, expectErr: true, expectAlready: true},
		{name: "other failure", response: `{"ok":false,"error":"message_not_found"}`, expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fake, client := newFakeSlack(t, map[string][]string{"reactions.add": {tc.response}})

			err := client.AddReaction(context.Background(), "C1", "1.000001", "star")
			if tc.expectErr != (err != nil) {
				t.Fatalf("AddReaction() error = %v, expectErr %v", err, tc.expectErr)
			}
			if errors.Is(err, scanner.ErrAlreadyReacted) != tc.expectAlready {
				t.Errorf("errors.Is(ErrAlreadyReacted) = %v, want %v", !tc.expectAlready, tc.expectAlready)
			}

			form := fake.forms["reactions.add"][0]
			for _, want := range []string{"channel=C1", "name=star", "timestamp=1.000001"} {
				if !strings.Contains(form, want) {
					t.Errorf("Request form %q missing %q", form, want)
				}
			}
		})
	}
}

func TestClient_RetriesRateLimit(t *testing.T) {
	fake, client := newFakeSlack(t, map[string][]string{
		"chat.postMessage": {"429", `{"ok":true,"channel":"C1","ts":"1.000001"}`},
	})

	if err := client.SendMessage(context.Background(), "C1", "1 new links saved"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if fake.callCount("chat.postMessage") != 2 {
		t.Errorf("Expected a retry after 429, got %d calls", fake.callCount("chat.postMessage"))
	}
}

func TestClient_RateLimitGivesUp(t *testing.T) {
	fake, client := newFakeSlack(t, map[string][]string{"reactions.add": {"429"}})

	err := client.AddReaction(context.Background(), "C1", "1.000001", "star")
	var rateErr *slack.RateLimitedError
	if !errors.As(err, &rateErr) {
		t.Fatalf("Expected RateLimitedError, got %v", err)
	}
	if fake.callCount("reactions.add") != maxRateRetries+1 {
		t.Errorf("Expected %d attempts, got %d", maxRateRetries+1, fake.callCount("reactions.add"))
	}
}

func TestClient_Identity(t *testing.T) {
	_, client := newFakeSlack(t, map[string][]string{
		"auth.test": {`{"ok":true,"url":"https://acme.slack.com/","team":"Acme","user":"starbot","team_id":"T1","user_id":"UBOT"}`},
		"team.info": {`{"ok":true,"team":{"id":"T1","name":"Acme Corp","domain":"acme-corp"}}`},
	})

	identity, err := client.Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity() error = %v", err)
	}

	expected := chat.Identity{TeamID: "T1", TeamName: "Acme Corp", TeamDomain: "acme-corp", BotUserID: "UBOT"}
	if identity != expected {
		t.Errorf("Identity() = %+v, want %+v", identity, expected)
	}
}

func TestClient_IdentityWithoutTeamScope(t *testing.T) {
	_, client := newFakeSlack(t, map[string][]string{
		"auth.test": {`{"ok":true,"url":"https://acme.slack.com/","team":"Acme","user":"starbot","team_id":"T1","user_id":"UBOT"}`},
		"team.info": {`{"ok":false,"error":"missing_scope"}`},
	})

	identity, err := client.Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity() error = %v", err)
	}
	if identity.TeamName != "Acme" || identity.TeamDomain != "acme" {
		t.Errorf("Expected fallback to auth.test, got %+v", identity)
	}
}

func TestClient_Channels(t *testing.T) {
	fake, client := newFakeSlack(t, map[string][]string{
		"users.conversations": {
			`{"ok":true,"channels":[{"id":"C1","name":"general"}],"response_metadata":{"next_cursor":"more"}}`,
			`{"ok":true,"channels":[{"id":"G2","name":"private"}],"response_metadata":{"next_cursor":""}}`,
		},
		"conversations.members": {`{"ok":true,"members":["U1","UBOT"],"response_metadata":{"next_cursor":""}}`},
	})

	channels, err := client.Channels(context.Background(), "UBOT")
	if err != nil {
		t.Fatalf("Channels() error = %v", err)
	}

	if len(channels) != 2 || channels[0].ID != "C1" || channels[1].Name != "private" {
		t.Fatalf("Channels() = %+v", channels)
	}
	if len(channels[0].Members) != 2 {
		t.Errorf("Expected members loaded, got %v", channels[0].Members)
	}
	if !strings.Contains(fake.forms["users.conversations"][0], "user=UBOT") {
		t.Errorf("Expected conversations listed for the bot user: %s", fake.forms["users.conversations"][0])
	}
}

func TestDomainFromURL(t *testing.T) {
	tests := map[string]string{
		"https://acme.slack.com/": "acme",
		"":                        "",
		"not a url":               "",
	}
	for input, expected := range tests {
		if got := domainFromURL(input); got != expected {
			t.Errorf("domainFromURL(%q) = %q, want %q", input, got, expected)
		}
	}
}
