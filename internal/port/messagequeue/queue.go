// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Publisher sends messages to subjects on the queue.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// Subjects published by the starter service.
const (
	SubjectConversationStatus = "conversations.status" // conversations.status.{status}
)
