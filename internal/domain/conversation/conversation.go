// Package conversation defines the conversation lifecycle record, its state
// transitions, and the agent session log it exposes.
package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/devkade/hackathon-starter/internal/domain"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// IsTerminal reports whether no sandbox is expected to be running in this state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusCompleted, StatusError:
		return true
	}
	return false
}

// DefaultErrorMessage is recorded when an agent reports an error without a message.
const DefaultErrorMessage = "agent reported an error"

// Conversation is the persisted record of one dialogue with one agent instance.
// Empty strings stand for SQL NULL in the optional identifier fields.
type Conversation struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	SessionID    string    `json:"sessionId,omitempty"`
	SandboxID    string    `json:"sandboxId,omitempty"`
	VolumeID     string    `json:"volumeId"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasActiveSandbox reports whether a remote session is recorded as live.
func (c *Conversation) HasActiveSandbox() bool {
	return c.Status == StatusRunning && c.SandboxID != ""
}

// MarkRunning records sandboxID as the live session.
func (c *Conversation) MarkRunning(sandboxID string) {
	c.Status = StatusRunning
	c.SandboxID = sandboxID
	c.ErrorMessage = ""
}

// Finish applies a terminal report and returns the sandbox that was live
// before the transition, or "" if none was recorded. A missing sessionID
// never clears a previously learned one.
func (c *Conversation) Finish(status Status, errorMessage, sessionID string) (previousSandbox string) {
	previousSandbox = c.SandboxID

	c.Status = status
	c.SandboxID = ""
	if sessionID != "" {
		c.SessionID = sessionID
	}

	switch status {
	case StatusError:
		if strings.TrimSpace(errorMessage) == "" {
			errorMessage = DefaultErrorMessage
		}
		c.ErrorMessage = errorMessage
	default:
		c.ErrorMessage = ""
	}
	return previousSandbox
}

// CheckInvariants verifies the status/sandbox/error relationships of the record.
func (c *Conversation) CheckInvariants() error {
	if !c.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrValidation, c.Status)
	}
	if c.Status.IsTerminal() && c.SandboxID != "" {
		return fmt.Errorf("%w: %s conversation still holds sandbox %s", domain.ErrValidation, c.Status, c.SandboxID)
	}
	if c.Status == StatusError && c.ErrorMessage == "" {
		return fmt.Errorf("%w: error status without a message", domain.ErrValidation)
	}
	if c.Status != StatusError && c.ErrorMessage != "" {
		return fmt.Errorf("%w: error message present on %s conversation", domain.ErrValidation, c.Status)
	}
	return nil
}

// SubmitRequest is the request body for POST /conversations.
type SubmitRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	Content        string `json:"content"`
}

// Validate checks the request shape.
func (r *SubmitRequest) Validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("%w: content is required", domain.ErrValidation)
	}
	return nil
}

// SubmitResponse is returned once the message has been handed to a sandbox.
type SubmitResponse struct {
	ConversationID string `json:"conversationId"`
	Status         Status `json:"status"`
}

// CallbackRequest is the terminal report an agent posts when it finishes.
type CallbackRequest struct {
	Status       Status `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
}

// Validate checks that the reported status is terminal.
func (r *CallbackRequest) Validate() error {
	if !r.Status.IsTerminal() {
		return fmt.Errorf("%w: status must be %q or %q", domain.ErrValidation, StatusCompleted, StatusError)
	}
	return nil
}

// CallbackResponse acknowledges a callback.
type CallbackResponse struct {
	Success bool `json:"success"`
}

// View is the polled representation of a conversation.
type View struct {
	ConversationID string  `json:"conversationId"`
	Status         Status  `json:"status"`
	Messages       []Entry `json:"messages"`
	ErrorMessage   *string `json:"errorMessage"`
}

// NewView combines the record with its session log.
func NewView(c *Conversation, messages []Entry) View {
	if messages == nil {
		messages = []Entry{}
	}
	v := View{
		ConversationID: c.ID,
		Status:         c.Status,
		Messages:       messages,
	}
	if c.ErrorMessage != "" {
		msg := c.ErrorMessage
		v.ErrorMessage = &msg
	}
	return v
}
