package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/devkade/hackathon-starter/internal/domain"
	"github.com/devkade/hackathon-starter/internal/domain/conversation"
)

const conversationColumns = `id, status, session_id, sandbox_id, volume_id, error_message, version, created_at, updated_at`

func (s *Store) CreateConversation(ctx context.Context, c *conversation.Conversation) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, status, session_id, sandbox_id, volume_id, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING version, created_at, updated_at`,
		c.ID, c.Status, nullIfEmpty(c.SessionID), nullIfEmpty(c.SandboxID), c.VolumeID, nullIfEmpty(c.ErrorMessage),
	).Scan(&c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create conversation %s: %w", c.ID, domain.ErrConflict)
		}
		return fmt.Errorf("create conversation %s: %w", c.ID, err)
	}
	return nil
}

// checkID reports an id that cannot be a conversation key as not found, so
// malformed ids never reach the uuid column.
func checkID(id, op string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%s conversation %s: %w", op, id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	if err := checkID(id, "get"); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	c, err := scanConversation(row)
	if err != nil {
		return nil, notFoundWrap(err, "get conversation %s", id)
	}
	return &c, nil
}

// UpdateConversation overwrites status, session, sandbox and error fields.
// volume_id is set once at creation and never rewritten. The write is
// unconditional: concurrent updates resolve as last write wins.
func (s *Store) UpdateConversation(ctx context.Context, c *conversation.Conversation) error {
	if err := checkID(c.ID, "update"); err != nil {
		return err
	}
	err := s.pool.QueryRow(ctx,
		`UPDATE conversations
		 SET status = $2, session_id = $3, sandbox_id = $4, error_message = $5,
		     version = version + 1, updated_at = NOW()
		 WHERE id = $1
		 RETURNING version, updated_at`,
		c.ID, c.Status, nullIfEmpty(c.SessionID), nullIfEmpty(c.SandboxID), nullIfEmpty(c.ErrorMessage),
	).Scan(&c.Version, &c.UpdatedAt)
	if err != nil {
		return notFoundWrap(err, "update conversation %s", c.ID)
	}
	return nil
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	if err := checkID(id, "delete"); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete conversation %s", id)
}

func (s *Store) ListStaleRunning(ctx context.Context, before time.Time) ([]conversation.Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations WHERE status = $1 AND updated_at < $2
		 ORDER BY updated_at ASC`,
		conversation.StatusRunning, before)
	if err != nil {
		return nil, fmt.Errorf("list stale conversations: %w", err)
	}
	defer rows.Close()

	var result []conversation.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func scanConversation(row scannable) (conversation.Conversation, error) {
	var c conversation.Conversation
	var status string
	var sessionID, sandboxID, errorMessage *string
	err := row.Scan(&c.ID, &status, &sessionID, &sandboxID, &c.VolumeID, &errorMessage,
		&c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	c.Status = conversation.Status(status)
	c.SessionID = derefString(sessionID)
	c.SandboxID = derefString(sandboxID)
	c.ErrorMessage = derefString(errorMessage)
	return c, nil
}
