package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub()

	// Broadcast with no connections should not panic.
	hub.Broadcast(context.Background(), Message{
		Type:    "test",
		Payload: []byte(`{"key":"value"}`),
	})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub()

	// A channel cannot be marshaled to JSON; should log error, not panic.
	hub.BroadcastEvent(context.Background(), "bad", make(chan int))
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub()

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.remove(&conn{cancel: cancel})
}

func TestConnWants(t *testing.T) {
	all := &conn{}
	one := &conn{conversationID: "c1"}

	if !all.wants("c2") {
		t.Error("unscoped connection should receive every conversation")
	}
	if !one.wants("c1") {
		t.Error("scoped connection should receive its conversation")
	}
	if one.wants("c2") {
		t.Error("scoped connection should not receive other conversations")
	}
	if !one.wants("") {
		t.Error("unscoped events should reach every connection")
	}
}

func httpHandler(hub *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	return mux
}

func dial(t *testing.T, srvURL, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srvURL, "http") + "/ws" + query
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func waitForConnections(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.ConnectionCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections, got %d", n, hub.ConnectionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readEvent(t *testing.T, c *websocket.Conn) ConversationStatusEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if msg.Type != EventConversationStatus {
		t.Fatalf("expected %s, got %s", EventConversationStatus, msg.Type)
	}
	var ev ConversationStatusEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return ev
}

func TestHubDeliversScopedEvents(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()
	defer hub.Close()

	scoped := dial(t, srv.URL, "?conversationId=c1")
	waitForConnections(t, hub, 1)

	ctx := context.Background()
	hub.BroadcastEvent(ctx, EventConversationStatus, ConversationStatusEvent{ConversationID: "c2", Status: "running"})
	hub.BroadcastEvent(ctx, EventConversationStatus, ConversationStatusEvent{ConversationID: "c1", Status: "completed"})

	ev := readEvent(t, scoped)
	if ev.ConversationID != "c1" || ev.Status != "completed" {
		t.Fatalf("expected c1 completed, got %+v", ev)
	}
}

func TestHubClientDisconnect(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	c := dial(t, srv.URL, "")
	waitForConnections(t, hub, 1)

	_ = c.Close(websocket.StatusNormalClosure, "")
	waitForConnections(t, hub, 0)
}
