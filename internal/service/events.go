package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/devkade/hackathon-starter/internal/adapter/ws"
	"github.com/devkade/hackathon-starter/internal/domain/conversation"
	"github.com/devkade/hackathon-starter/internal/port/broadcast"
	"github.com/devkade/hackathon-starter/internal/port/messagequeue"
)

// statusNotifier fans a conversation status change out to WebSocket
// clients and, when configured, to the message queue.
type statusNotifier struct {
	hub   broadcast.Broadcaster
	queue messagequeue.Publisher
}

func (n *statusNotifier) notify(ctx context.Context, c *conversation.Conversation) {
	if n == nil {
		return
	}
	now := time.Now().UTC()

	if n.hub != nil {
		n.hub.BroadcastEvent(ctx, ws.EventConversationStatus, ws.ConversationStatusEvent{
			ConversationID: c.ID,
			Status:         string(c.Status),
			ErrorMessage:   c.ErrorMessage,
			At:             now,
		})
	}

	if n.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.ConversationStatusPayload{
		ConversationID: c.ID,
		Status:         string(c.Status),
		SessionID:      c.SessionID,
		SandboxID:      c.SandboxID,
		ErrorMessage:   c.ErrorMessage,
		Version:        c.Version,
		At:             now,
	})
	if err != nil {
		slog.Error("marshal status event", "conversation_id", c.ID, "error", err)
		return
	}
	subject := messagequeue.SubjectConversationStatus + "." + string(c.Status)
	if err := n.queue.Publish(ctx, subject, data); err != nil {
		slog.Warn("publish status event failed", "conversation_id", c.ID, "subject", subject, "error", err)
	}
}
