package service

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/devkade/hackathon-starter/internal/config"
	"github.com/devkade/hackathon-starter/internal/domain/conversation"
	"github.com/devkade/hackathon-starter/internal/port/sandbox"
)

// Environment variables handed to the agent process inside a sandbox.
const (
	EnvConversationID  = "STARTER_CONVERSATION_ID"
	EnvCallbackURL     = "STARTER_CALLBACK_URL"
	EnvCallbackToken   = "STARTER_CALLBACK_TOKEN"
	EnvResumeSessionID = "STARTER_RESUME_SESSION_ID"
	EnvModelAPIKey     = "ANTHROPIC_API_KEY"
)

// SessionConfig controls how sandboxes are provisioned for conversations.
type SessionConfig struct {
	Template        string
	MountPath       string
	SessionDir      string
	Timeout         time.Duration
	CallbackBaseURL string
	CallbackToken   string
	ModelAPIKey     string
	CacheTTL        time.Duration
}

// NewSessionConfig extracts the sandbox settings from the loaded config.
func NewSessionConfig(cfg *config.Config) SessionConfig {
	return SessionConfig{
		Template:        cfg.Sandbox.Template,
		MountPath:       cfg.Sandbox.MountPath,
		SessionDir:      cfg.Sandbox.SessionDir,
		Timeout:         cfg.Sandbox.Timeout,
		CallbackBaseURL: cfg.Agent.CallbackBaseURL,
		CallbackToken:   cfg.Agent.CallbackToken,
		ModelAPIKey:     cfg.Agent.ModelAPIKey,
		CacheTTL:        cfg.Cache.TTL,
	}
}

// CallbackURL is where the agent in a sandbox reports its terminal status.
func (sc SessionConfig) CallbackURL(conversationID string) string {
	return strings.TrimRight(sc.CallbackBaseURL, "/") + "/conversations/" + url.PathEscape(conversationID) + "/status"
}

// sandboxSpec describes the sandbox for c. A known session ID is passed
// along so the agent resumes instead of starting over.
func (sc SessionConfig) sandboxSpec(c *conversation.Conversation) sandbox.Spec {
	env := map[string]string{
		EnvConversationID: c.ID,
		EnvCallbackURL:    sc.CallbackURL(c.ID),
	}
	if sc.CallbackToken != "" {
		env[EnvCallbackToken] = sc.CallbackToken
	}
	if sc.ModelAPIKey != "" {
		env[EnvModelAPIKey] = sc.ModelAPIKey
	}
	if c.SessionID != "" {
		env[EnvResumeSessionID] = c.SessionID
	}

	return sandbox.Spec{
		Template:  sc.Template,
		VolumeID:  c.VolumeID,
		MountPath: sc.MountPath,
		Env:       env,
		Timeout:   sc.Timeout,
		Labels:    map[string]string{"conversation_id": c.ID},
	}
}

// stdinMessage is one user turn in the agent's stream-json input format.
type stdinMessage struct {
	Type    string `json:"type"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
}

// encodeUserMessage renders content as a single newline-terminated JSON line.
func encodeUserMessage(content string) ([]byte, error) {
	var m stdinMessage
	m.Type = "user"
	m.Message.Role = "user"
	m.Message.Content = content

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return append(data, '\n'), nil
}
