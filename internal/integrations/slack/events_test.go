package slack

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"starbot/internal/chat"
)

const testSigningSecret = "8f742231b10e8888abcd99yyyzzz85a5"

func signedEventRequest(secret, body string) *http.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":" + body))

	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func callbackBody(teamID, inner string) string {
	return `{"token":"x","team_id":"` + teamID + `","api_app_id":"A1","type":"event_callback","event_id":"Ev1","event_time":1,"event":` + inner + `}`
}

func TestHandleEvents_URLVerification(t *testing.T) {
	router := NewEventRouter(testSigningSecret)

	rec := httptest.NewRecorder()
	router.HandleEvents(rec, signedEventRequest(testSigningSecret, `{"token":"x","challenge":"c-123","type":"url_verification"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}
	if resp["challenge"] != "c-123" {
		t.Errorf("challenge = %q", resp["challenge"])
	}
}

func TestHandleEvents_BadSignature(t *testing.T) {
	router := NewEventRouter(testSigningSecret)
	queue := router.subscribe("T1")

	testCases := []struct {
		name    string
		request *http.Request
	}{
		{
			name:    "wrong secret",
			request: signedEventRequest("not-the-secret", callbackBody("T1", `{"type":"message","channel":"C1","user":"U1","text":"hi","ts":"1.0"}`)),
		},
		{
			name:    "unsigned",
			request: httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(callbackBody("T1", `{"type":"message"}`))),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.HandleEvents(rec, tc.request)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Expected 401, got %d", rec.Code)
			}
			if len(queue) != 0 {
				t.Errorf("Expected nothing delivered, got %d events", len(queue))
			}
		})
	}
}

func TestHandleEvents_RoutesByTeam(t *testing.T) {
	router := NewEventRouter(testSigningSecret)
	stream := router.Stream()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan chat.Event, 1)
	done := make(chan error, 1)
	go func() {
		done <- stream.Run(ctx, "T1", func(ev chat.Event) { received <- ev })
	}()

	// wait for the stream to subscribe
	deadline := time.Now().Add(2 * time.Second)
	for {
		router.mu.Lock()
		_, ok := router.queues["T1"]
		router.mu.Unlock()
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	for _, teamID := range []string{"T2", "T1"} {
		body := callbackBody(teamID, `{"type":"message","channel":"C1","user":"U1","text":"<@UBOT> scan `+teamID+`","ts":"1.000001"}`)
		rec := httptest.NewRecorder()
		router.HandleEvents(rec, signedEventRequest(testSigningSecret, body))
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200 for %s, got %d", teamID, rec.Code)
		}
	}

	select {
	case ev := <-received:
		expected := chat.RawEvent{Type: "message", User: "U1", Text: "<@UBOT> scan T1", Timestamp: "1.000001"}
		if ev.Kind != chat.EventMessage || ev.ChannelID != "C1" || !reflect.DeepEqual(ev.Message, expected) {
			t.Errorf("Unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Event was not delivered")
	}

	select {
	case ev := <-received:
		t.Errorf("Event for another team leaked: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	<-done

	router.mu.Lock()
	defer router.mu.Unlock()
	if len(router.queues) != 0 {
		t.Errorf("Expected stream to unsubscribe, %d queues left", len(router.queues))
	}
}

func TestEventRouter_Deliver(t *testing.T) {
	router := NewEventRouter(testSigningSecret)

	if router.Deliver("T1", chat.Event{Kind: chat.EventMessage}) {
		t.Error("Expected delivery without a subscriber to fail")
	}

	old := router.subscribe("T1")
	current := router.subscribe("T1")
	router.unsubscribe("T1", old)

	if !router.Deliver("T1", chat.Event{Kind: chat.EventMessage}) {
		t.Fatal("Expected delivery to the current subscriber")
	}
	if len(current) != 1 || len(old) != 0 {
		t.Errorf("Delivered to the wrong queue: current=%d old=%d", len(current), len(old))
	}

	for i := 1; i < teamQueueDepth; i++ {
		router.Deliver("T1", chat.Event{Kind: chat.EventMessage})
	}
	if router.Deliver("T1", chat.Event{Kind: chat.EventMessage}) {
		t.Error("Expected a full queue to drop the event")
	}
}

func TestTranslateCallback(t *testing.T) {
	testCases := []struct {
		name     string
		inner    string
		expected chat.Event
		ok       bool
	}{
		{
			name:     "bot message",
			inner:    `{"type":"message","subtype":"bot_message","bot_id":"B1","channel":"C1","text":"hi","ts":"2.0"}`,
			expected: chat.Event{Kind: chat.EventMessage, ChannelID: "C1", Message: chat.RawEvent{Type: "message", SubType: "bot_message", BotID: "B1", Text: "hi", Timestamp: "2.0"}},
			ok:       true,
		},
		{
			name:     "member joined",
			inner:    `{"type":"member_joined_channel","user":"UBOT","channel":"C2","channel_type":"C","team":"T1"}`,
			expected: chat.Event{Kind: chat.EventMemberJoined, ChannelID: "C2", UserID: "UBOT"},
			ok:       true,
		},
		{
			name:     "member left",
			inner:    `{"type":"member_left_channel","user":"U1","channel":"C2","channel_type":"C","team":"T1"}`,
			expected: chat.Event{Kind: chat.EventMemberLeft, ChannelID: "C2", UserID: "U1"},
			ok:       true,
		},
		{
			name:     "private channel left",
			inner:    `{"type":"group_left","channel":"G1"}`,
			expected: chat.Event{Kind: chat.EventChannelLeft, ChannelID: "G1"},
			ok:       true,
		},
		{
			name:     "channel renamed",
			inner:    `{"type":"channel_rename","channel":{"id":"C1","name":"links","created":1}}`,
			expected: chat.Event{Kind: chat.EventChannelRename, ChannelID: "C1", ChannelName: "links"},
			ok:       true,
		},
		{
			name:     "app uninstalled",
			inner:    `{"type":"app_uninstalled"}`,
			expected: chat.Event{Kind: chat.EventInvalidAuth},
			ok:       true,
		},
		{
			name:  "unused event",
			inner: `{"type":"reaction_added","user":"U1"}`,
		},
		{
			name:  "garbage",
			inner: `not json`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ev, ok := translateCallback(json.RawMessage(tc.inner))
			if ok != tc.ok {
				t.Fatalf("translateCallback() ok = %v, want %v", ok, tc.ok)
			}
			if ok && !reflect.DeepEqual(ev, tc.expected) {
				t.Errorf("translateCallback() = %+v, want %+v", ev, tc.expected)
			}
		})
	}
}
