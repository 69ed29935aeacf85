package service

import (
	"context"
	"testing"
	"time"

	"github.com/devkade/hackathon-starter/internal/domain/conversation"
)

func TestReaperExpiresStaleRunning(t *testing.T) {
	env := newTestEnv()
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	env.store.now = func() time.Time { return now }

	env.store.put(conversation.Conversation{
		ID: "stale", Status: conversation.StatusRunning, SandboxID: "sb-old", VolumeID: "v1",
		UpdatedAt: now.Add(-time.Hour),
	})
	env.store.put(conversation.Conversation{
		ID: "fresh", Status: conversation.StatusRunning, SandboxID: "sb-new", VolumeID: "v2",
		UpdatedAt: now.Add(-time.Minute),
	})
	env.store.put(conversation.Conversation{
		ID: "done", Status: conversation.StatusCompleted, VolumeID: "v3",
		UpdatedAt: now.Add(-24 * time.Hour),
	})
	env.provider.sandboxes["sb-old"] = &fakeSandbox{}

	r := NewReaper(env.store, env.svc, 35*time.Minute)
	r.now = func() time.Time { return now }

	n, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired conversation, got %d", n)
	}

	stale, _ := env.store.get("stale")
	if stale.Status != conversation.StatusError || stale.ErrorMessage != TimeoutMessage || stale.SandboxID != "" {
		t.Errorf("unexpected stale record: %+v", stale)
	}
	if !env.provider.getSandbox("sb-old").killed {
		t.Error("expected the stale sandbox to be killed")
	}

	fresh, _ := env.store.get("fresh")
	if fresh.Status != conversation.StatusRunning {
		t.Errorf("fresh conversation must keep running, got %s", fresh.Status)
	}
}

func TestExpireSkipsConversationUpdatedSinceListing(t *testing.T) {
	env := newTestEnv()
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	env.store.put(conversation.Conversation{
		ID: "c1", Status: conversation.StatusRunning, SandboxID: "sb", VolumeID: "v",
		UpdatedAt: now,
	})

	changed, err := env.svc.Expire(context.Background(), "c1", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if changed {
		t.Error("recently updated conversation must not expire")
	}
}
