package nats

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/devkade/hackathon-starter/internal/logger"
	"github.com/devkade/hackathon-starter/internal/port/messagequeue"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) (*Queue, string) {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	q, err := Connect(context.Background(), url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := q.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return q, url
}

func TestQueue_PublishWithRequestID(t *testing.T) {
	q, url := testConnect(t)

	sub, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	defer sub.Close()

	subject := messagequeue.SubjectConversationStatus + ".completed"
	ch := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe(subject, ch)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer func() { _ = s.Unsubscribe() }()
	if err := sub.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	ctx := logger.WithRequestID(context.Background(), "req-42")
	if err := q.Publish(ctx, subject, []byte(`{"conversation_id":"c1"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-ch:
		if string(msg.Data) != `{"conversation_id":"c1"}` {
			t.Errorf("unexpected data %s", msg.Data)
		}
		if got := msg.Header.Get(headerRequestID); got != "req-42" {
			t.Errorf("expected request id header, got %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestQueue_IsConnected(t *testing.T) {
	q, _ := testConnect(t)
	if !q.IsConnected() {
		t.Fatal("expected connection to be up")
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := Connect(ctx, "nats://127.0.0.1:1"); err == nil {
		t.Fatal("expected connect error for unreachable server")
	}
}
