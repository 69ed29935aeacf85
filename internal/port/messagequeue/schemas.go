package messagequeue

import "time"

// ConversationStatusPayload is the schema for conversations.status.* messages.
type ConversationStatusPayload struct {
	ConversationID string    `json:"conversation_id"`
	Status         string    `json:"status"`
	SessionID      string    `json:"session_id,omitempty"`
	SandboxID      string    `json:"sandbox_id,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	Version        int64     `json:"version"`
	At             time.Time `json:"at"`
}
