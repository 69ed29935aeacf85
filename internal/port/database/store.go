// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/devkade/hackathon-starter/internal/domain/conversation"
)

// Store is the port interface for conversation record persistence.
type Store interface {
	// CreateConversation inserts c, which must carry its ID. CreatedAt,
	// UpdatedAt and Version are filled in from the database.
	CreateConversation(ctx context.Context, c *conversation.Conversation) error
	GetConversation(ctx context.Context, id string) (*conversation.Conversation, error)
	// UpdateConversation overwrites the mutable fields of c unconditionally
	// (last write wins) and refreshes UpdatedAt and Version on c.
	UpdateConversation(ctx context.Context, c *conversation.Conversation) error
	DeleteConversation(ctx context.Context, id string) error
	// ListStaleRunning returns running conversations not updated since before.
	ListStaleRunning(ctx context.Context, before time.Time) ([]conversation.Conversation, error)
}
