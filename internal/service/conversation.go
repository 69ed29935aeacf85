// Package service implements business logic on top of ports.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	cfotel "github.com/devkade/hackathon-starter/internal/adapter/otel"
	"github.com/devkade/hackathon-starter/internal/domain"
	"github.com/devkade/hackathon-starter/internal/domain/conversation"
	"github.com/devkade/hackathon-starter/internal/logger"
	"github.com/devkade/hackathon-starter/internal/port/broadcast"
	"github.com/devkade/hackathon-starter/internal/port/cache"
	"github.com/devkade/hackathon-starter/internal/port/database"
	"github.com/devkade/hackathon-starter/internal/port/messagequeue"
	"github.com/devkade/hackathon-starter/internal/port/sandbox"
)

// TimeoutMessage is recorded when a running session outlives its budget.
const TimeoutMessage = "session timed out"

// ConversationService drives the conversation lifecycle: provisioning
// sandboxes, delivering messages, applying agent callbacks and serving the
// polled view.
type ConversationService struct {
	store    database.Store
	provider sandbox.Provider
	cache    cache.Cache
	notifier *statusNotifier
	metrics  *cfotel.Metrics
	cfg      SessionConfig
	locks    *keyedMutex
	newID    func() string
	now      func() time.Time
}

// NewConversationService creates a new ConversationService.
func NewConversationService(store database.Store, provider sandbox.Provider, cfg SessionConfig) *ConversationService {
	return &ConversationService{
		store:    store,
		provider: provider,
		cfg:      cfg,
		locks:    newKeyedMutex(),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// SetCache enables short-lived caching of session log reads.
func (s *ConversationService) SetCache(c cache.Cache) { s.cache = c }

// SetEvents enables status change notifications. Either argument may be nil.
func (s *ConversationService) SetEvents(hub broadcast.Broadcaster, queue messagequeue.Publisher) {
	s.notifier = &statusNotifier{hub: hub, queue: queue}
}

// SetMetrics enables lifecycle metrics.
func (s *ConversationService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Submit starts a new conversation or continues an existing one with
// content. Exactly one message is written to a sandbox per successful call.
func (s *ConversationService) Submit(ctx context.Context, req conversation.SubmitRequest) (*conversation.SubmitResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ConversationID == "" {
		return s.start(ctx, req.Content)
	}
	return s.resume(ctx, req.ConversationID, req.Content)
}

func (s *ConversationService) start(ctx context.Context, content string) (_ *conversation.SubmitResponse, err error) {
	id := s.newID()
	ctx, span := cfotel.StartConversationSpan(ctx, "start", id)
	defer func() { cfotel.EndSpan(span, err) }()

	unlock := s.locks.Lock(id)
	defer unlock()

	log := logger.FromContext(ctx).With("conversation_id", id)
	began := s.now()
	cleanupCtx := context.WithoutCancel(ctx)

	volumeID, err := s.provider.CreateVolume(ctx, "conversation-"+id)
	if err != nil {
		s.metrics.RecordProvisionFailure(ctx, "volume")
		return nil, fmt.Errorf("%w: create volume: %w", domain.ErrProvisioning, err)
	}

	c := &conversation.Conversation{
		ID:       id,
		Status:   conversation.StatusIdle,
		VolumeID: volumeID,
	}
	if err = s.store.CreateConversation(ctx, c); err != nil {
		s.metrics.RecordProvisionFailure(ctx, "store")
		s.discardVolume(cleanupCtx, volumeID)
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	sandboxID, err := s.launch(ctx, c, content)
	if err != nil {
		s.discardConversation(cleanupCtx, c)
		return nil, err
	}

	c.MarkRunning(sandboxID)
	if err = s.save(ctx, c); err != nil {
		s.metrics.RecordProvisionFailure(ctx, "store")
		s.killSandbox(cleanupCtx, c.ID, sandboxID)
		s.discardConversation(cleanupCtx, c)
		return nil, fmt.Errorf("mark conversation running: %w", err)
	}

	s.metrics.RecordStarted(ctx)
	s.metrics.RecordProvisionDuration(ctx, s.now().Sub(began))
	s.notifier.notify(ctx, c)
	log.Info("conversation started", "volume_id", volumeID, "sandbox_id", sandboxID)

	return &conversation.SubmitResponse{ConversationID: id, Status: c.Status}, nil
}

func (s *ConversationService) resume(ctx context.Context, id, content string) (_ *conversation.SubmitResponse, err error) {
	ctx, span := cfotel.StartConversationSpan(ctx, "resume", id)
	defer func() { cfotel.EndSpan(span, err) }()

	unlock := s.locks.Lock(id)
	defer unlock()

	log := logger.FromContext(ctx).With("conversation_id", id)
	cleanupCtx := context.WithoutCancel(ctx)

	c, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	superseded := false
	if c.HasActiveSandbox() {
		derr := s.deliver(ctx, c.SandboxID, content)
		if derr == nil {
			s.metrics.RecordDelivered(ctx, false)
			log.Info("message delivered to live sandbox", "sandbox_id", c.SandboxID)
			return &conversation.SubmitResponse{ConversationID: id, Status: c.Status}, nil
		}
		// The recorded sandbox no longer accepts input. Retire it before a
		// replacement is provisioned so at most one stays live.
		log.Warn("live sandbox rejected message, replacing it", "sandbox_id", c.SandboxID, "error", derr)
		s.killSandbox(cleanupCtx, id, c.SandboxID)
		superseded = true
	}

	sandboxID, err := s.launch(ctx, c, content)
	if err != nil {
		if superseded {
			// The old sandbox is gone too; record that instead of keeping
			// a dead sandbox on a running conversation.
			c.Finish(conversation.StatusError, err.Error(), "")
			if uerr := s.save(cleanupCtx, c); uerr != nil {
				log.Warn("record lost sandbox failed", "error", uerr)
			} else {
				s.invalidate(ctx, id)
				s.notifier.notify(ctx, c)
			}
		}
		return nil, err
	}

	c.MarkRunning(sandboxID)
	if err = s.save(ctx, c); err != nil {
		s.metrics.RecordProvisionFailure(ctx, "store")
		s.killSandbox(cleanupCtx, id, sandboxID)
		return nil, fmt.Errorf("mark conversation running: %w", err)
	}

	s.invalidate(ctx, id)
	s.notifier.notify(ctx, c)
	log.Info("conversation resumed", "sandbox_id", sandboxID, "session_id", c.SessionID)

	return &conversation.SubmitResponse{ConversationID: id, Status: c.Status}, nil
}

// launch provisions a sandbox for c and writes content as its first input.
// A sandbox whose first write fails is killed again.
func (s *ConversationService) launch(ctx context.Context, c *conversation.Conversation, content string) (string, error) {
	sctx, span := cfotel.StartSandboxSpan(ctx, "create", "")
	sandboxID, err := s.provider.CreateSandbox(sctx, s.cfg.sandboxSpec(c))
	cfotel.EndSpan(span, err)
	if err != nil {
		s.metrics.RecordProvisionFailure(ctx, "sandbox")
		return "", fmt.Errorf("%w: create sandbox: %w", domain.ErrProvisioning, err)
	}

	if err := s.deliver(ctx, sandboxID, content); err != nil {
		s.metrics.RecordProvisionFailure(ctx, "stdin")
		s.killSandbox(context.WithoutCancel(ctx), c.ID, sandboxID)
		return "", fmt.Errorf("%w: send message: %w", domain.ErrProvisioning, err)
	}
	s.metrics.RecordDelivered(ctx, c.SessionID != "")
	return sandboxID, nil
}

func (s *ConversationService) deliver(ctx context.Context, sandboxID, content string) (err error) {
	ctx, span := cfotel.StartSandboxSpan(ctx, "stdin", sandboxID)
	defer func() { cfotel.EndSpan(span, err) }()

	msg, err := encodeUserMessage(content)
	if err != nil {
		return err
	}
	return s.provider.WriteStdin(ctx, sandboxID, msg)
}

// Get returns the conversation's status together with its session log.
func (s *ConversationService) Get(ctx context.Context, id string) (*conversation.View, error) {
	c, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	entries, err := s.readSessionLog(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("read session log: %w", err)
	}

	v := conversation.NewView(c, entries)
	return &v, nil
}

// HandleCallback applies the agent's terminal report. Terminating the
// recorded sandbox is best effort: failures are logged and never returned.
func (s *ConversationService) HandleCallback(ctx context.Context, id string, req conversation.CallbackRequest) (err error) {
	if err := req.Validate(); err != nil {
		return err
	}

	ctx, span := cfotel.StartConversationSpan(ctx, "callback", id)
	defer func() { cfotel.EndSpan(span, err) }()

	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	return s.finish(ctx, c, req.Status, req.ErrorMessage, req.SessionID)
}

// Expire fails a conversation that is still running and has not been
// touched since before cutoff. It reports whether the record was changed.
func (s *ConversationService) Expire(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return false, err
	}
	if c.Status != conversation.StatusRunning || !c.UpdatedAt.Before(cutoff) {
		return false, nil
	}
	if err := s.finish(ctx, c, conversation.StatusError, TimeoutMessage, ""); err != nil {
		return false, err
	}
	return true, nil
}

// finish records a terminal transition and then kills the sandbox that was
// live before it. Callers hold the conversation lock.
func (s *ConversationService) finish(ctx context.Context, c *conversation.Conversation, status conversation.Status, errorMessage, sessionID string) error {
	previous := c.Finish(status, errorMessage, sessionID)
	if err := s.save(ctx, c); err != nil {
		return fmt.Errorf("update conversation %s: %w", c.ID, err)
	}

	s.invalidate(ctx, c.ID)
	if previous != "" {
		s.killSandbox(context.WithoutCancel(ctx), c.ID, previous)
	}

	s.metrics.RecordFinished(ctx, string(c.Status))
	s.notifier.notify(ctx, c)
	logger.FromContext(ctx).Info("conversation finished",
		"conversation_id", c.ID,
		"status", c.Status,
		"session_id", c.SessionID,
		"version", c.Version,
	)
	return nil
}

// readSessionLog loads and parses the agent's session file from the
// conversation's volume. A missing file yields no entries.
func (s *ConversationService) readSessionLog(ctx context.Context, c *conversation.Conversation) ([]conversation.Entry, error) {
	key := sessionLogKey(c.ID)
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			return parseSessionLog(ctx, c.ID, data), nil
		}
	}

	logPath, err := s.sessionLogPath(ctx, c)
	if err != nil {
		return nil, err
	}
	var data []byte
	if logPath != "" {
		data, err = s.provider.ReadFile(ctx, c.VolumeID, logPath)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	if s.cache != nil && s.cfg.CacheTTL > 0 {
		if err := s.cache.Set(ctx, key, data, s.cfg.CacheTTL); err != nil {
			slog.Debug("cache session log failed", "conversation_id", c.ID, "error", err)
		}
	}
	return parseSessionLog(ctx, c.ID, data), nil
}

// sessionLogPath picks the session file to read. While the agent runs, the
// most recently written log is the live one; afterwards the file named after
// the reported session ID is preferred.
func (s *ConversationService) sessionLogPath(ctx context.Context, c *conversation.Conversation) (string, error) {
	dir := strings.Trim(s.cfg.SessionDir, "/")

	if c.SessionID != "" && c.Status != conversation.StatusRunning {
		return path.Join(dir, c.SessionID+".jsonl"), nil
	}

	infos, err := s.provider.ListDir(ctx, c.VolumeID, dir)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil
		}
		return "", err
	}

	var newest string
	var newestAt time.Time
	for _, fi := range infos {
		if !strings.HasSuffix(fi.Name, ".jsonl") {
			continue
		}
		if newest == "" || fi.ModTime.After(newestAt) {
			newest = path.Join(dir, fi.Name)
			newestAt = fi.ModTime
		}
	}
	if newest == "" && c.SessionID != "" {
		return path.Join(dir, c.SessionID+".jsonl"), nil
	}
	return newest, nil
}

// save persists c after checking that its status, sandbox and error fields
// agree. A record that breaks them is never written.
func (s *ConversationService) save(ctx context.Context, c *conversation.Conversation) error {
	if err := c.CheckInvariants(); err != nil {
		logger.FromContext(ctx).Warn("refusing to store inconsistent conversation",
			"conversation_id", c.ID, "status", c.Status, "error", err)
		return fmt.Errorf("store conversation %s: %v", c.ID, err)
	}
	return s.store.UpdateConversation(ctx, c)
}

func parseSessionLog(ctx context.Context, conversationID string, data []byte) []conversation.Entry {
	if len(data) == 0 {
		return nil
	}
	entries, err := conversation.ParseSessionLog(bytes.NewReader(data))
	if err != nil {
		logger.FromContext(ctx).Warn("session log partially parsed", "conversation_id", conversationID, "error", err)
	}
	return entries
}

func sessionLogKey(id string) string { return "sessionlog:" + id }

func (s *ConversationService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, sessionLogKey(id))
	_ = s.cache.Delete(ctx, fileTreeKey(id))
}

// killSandbox terminates a sandbox, logging and swallowing any failure.
func (s *ConversationService) killSandbox(ctx context.Context, conversationID, sandboxID string) {
	ctx, span := cfotel.StartSandboxSpan(ctx, "kill", sandboxID)
	err := s.provider.KillSandbox(ctx, sandboxID)
	cfotel.EndSpan(span, err)
	if err != nil {
		s.metrics.RecordCleanupFailure(ctx)
		logger.FromContext(ctx).Warn("terminate sandbox failed",
			"conversation_id", conversationID, "sandbox_id", sandboxID, "error", err)
	}
}

func (s *ConversationService) discardVolume(ctx context.Context, volumeID string) {
	if err := s.provider.DeleteVolume(ctx, volumeID); err != nil {
		s.metrics.RecordCleanupFailure(ctx)
		logger.FromContext(ctx).Warn("delete volume failed", "volume_id", volumeID, "error", err)
	}
}

// discardConversation removes a half-created conversation and its volume.
func (s *ConversationService) discardConversation(ctx context.Context, c *conversation.Conversation) {
	if err := s.store.DeleteConversation(ctx, c.ID); err != nil {
		logger.FromContext(ctx).Warn("delete conversation failed", "conversation_id", c.ID, "error", err)
	}
	s.discardVolume(ctx, c.VolumeID)
}
