package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// EventConversationStatus is sent whenever a conversation changes state.
const EventConversationStatus = "conversation.status"

// ConversationStatusEvent is the payload of EventConversationStatus.
type ConversationStatusEvent struct {
	ConversationID string    `json:"conversationId"`
	Status         string    `json:"status"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	At             time.Time `json:"at"`
}

func (e ConversationStatusEvent) conversation() string { return e.ConversationID }

type conversationScoped interface {
	conversation() string
}

// BroadcastEvent marshals a typed event and broadcasts it. Events that
// belong to a conversation only reach clients subscribed to it (or to all).
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	var conversationID string
	if s, ok := payload.(conversationScoped); ok {
		conversationID = s.conversation()
	}

	h.broadcast(ctx, conversationID, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
