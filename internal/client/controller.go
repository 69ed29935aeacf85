package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devkade/hackathon-starter/internal/domain/conversation"
)

// DefaultPollInterval is how often a running conversation is polled.
const DefaultPollInterval = 2 * time.Second

// Backend is the part of the API the controller needs.
type Backend interface {
	Submit(ctx context.Context, req conversation.SubmitRequest, idempotencyKey string) (*conversation.SubmitResponse, error)
	Get(ctx context.Context, conversationID string) (*conversation.View, error)
}

// PendingMessage is a submitted message not yet seen in the server log.
type PendingMessage struct {
	ID        string
	Text      string
	CreatedAt time.Time

	// baseline is the number of confirmed entries when the message was
	// submitted; only entries after it can confirm the message.
	baseline int
}

// State is a snapshot of the controller.
type State struct {
	ConversationID string
	Status         conversation.Status
	Confirmed      []conversation.Entry
	Pending        []PendingMessage
	// ErrorMessage is the server-reported failure of the conversation.
	ErrorMessage string
	// LastError is the text of the most recent failed submit or poll.
	LastError string
}

// Message is one line of the displayed sequence.
type Message struct {
	ID        string
	Role      string
	Text      string
	ToolUses  []conversation.ToolUse
	Timestamp time.Time
	Pending   bool
}

// Displayed is the confirmed log followed by the still pending messages in
// submission order.
func (s State) Displayed() []Message {
	out := make([]Message, 0, len(s.Confirmed)+len(s.Pending))
	for _, e := range s.Confirmed {
		out = append(out, Message{
			ID:        e.UUID,
			Role:      e.Role,
			Text:      e.Text,
			ToolUses:  e.ToolUses,
			Timestamp: e.Timestamp,
		})
	}
	for _, p := range s.Pending {
		out = append(out, Message{
			ID:        p.ID,
			Role:      "user",
			Text:      p.Text,
			Timestamp: p.CreatedAt,
			Pending:   true,
		})
	}
	return out
}

func (s State) clone() State {
	c := s
	c.Confirmed = append([]conversation.Entry(nil), s.Confirmed...)
	c.Pending = append([]PendingMessage(nil), s.Pending...)
	return c
}

// Option configures a Controller.
type Option func(*Controller)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) { c.interval = d }
}

// WithOnChange registers fn to receive a snapshot after every state change.
// Calls are serialized. fn may read the controller but must not submit.
func WithOnChange(fn func(State)) Option {
	return func(c *Controller) { c.onChange = fn }
}

// Controller owns the client-side view of one conversation. All state
// transitions (submit, poll success, poll failure) happen under one mutex.
type Controller struct {
	api            Backend
	interval       time.Duration
	requestTimeout time.Duration
	onChange       func(State)
	newID          func() string
	now            func() time.Time

	mu         sync.Mutex
	state      State
	issuedSeq  uint64 // last poll sequence handed out
	appliedSeq uint64 // polls at or below this are stale
	submitting int    // submits sent but not yet answered
	polling    bool
	closed     bool
	done       chan struct{}
	wg         sync.WaitGroup

	notifyMu sync.Mutex
}

// NewController creates an idle controller. Call Open to attach it to an
// existing conversation, or Submit to start a new one.
func NewController(api Backend, opts ...Option) *Controller {
	c := &Controller{
		api:            api,
		interval:       DefaultPollInterval,
		requestTimeout: 30 * time.Second,
		newID:          uuid.NewString,
		now:            time.Now,
		done:           make(chan struct{}),
		state:          State{Status: conversation.StatusIdle},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns a snapshot of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Displayed returns the sequence to render.
func (c *Controller) Displayed() []Message {
	return c.State().Displayed()
}

// Polling reports whether the poll loop is active.
func (c *Controller) Polling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polling
}

// Open attaches the controller to an existing conversation, loads it once
// and starts polling if it is still running.
func (c *Controller) Open(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	c.state = State{ConversationID: conversationID, Status: conversation.StatusIdle}
	c.mu.Unlock()

	if err := c.Poll(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state.Status == conversation.StatusRunning {
		c.startPollingLocked()
	}
	c.mu.Unlock()
	return nil
}

// Submit shows content immediately as a pending message and sends it. On
// failure exactly that message is withdrawn and the error text is kept in
// State.LastError.
func (c *Controller) Submit(ctx context.Context, content string) error {
	c.mu.Lock()
	pending := PendingMessage{
		ID:        c.newID(),
		Text:      content,
		CreatedAt: c.now(),
		baseline:  len(c.state.Confirmed),
	}
	c.state.Pending = append(c.state.Pending, pending)
	c.state.LastError = ""
	// A poll issued before this message existed may report a terminal
	// status that does not account for it.
	c.appliedSeq = c.issuedSeq
	c.submitting++
	req := conversation.SubmitRequest{ConversationID: c.state.ConversationID, Content: content}
	c.commitLocked()

	resp, err := c.api.Submit(ctx, req, pending.ID)

	c.mu.Lock()
	c.submitting--
	if err != nil {
		c.removePendingLocked(pending.ID)
		c.state.LastError = err.Error()
		c.commitLocked()
		return err
	}

	c.state.ConversationID = resp.ConversationID
	c.state.Status = conversation.StatusRunning
	c.state.ErrorMessage = ""
	c.appliedSeq = c.issuedSeq
	c.startPollingLocked()
	c.commitLocked()
	return nil
}

// Poll fetches the conversation once and reconciles local state with it.
// Responses to polls older than the last applied one are dropped.
func (c *Controller) Poll(ctx context.Context) error {
	c.mu.Lock()
	id := c.state.ConversationID
	if id == "" || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.issuedSeq++
	seq := c.issuedSeq
	c.mu.Unlock()

	view, err := c.api.Get(ctx, id)

	c.mu.Lock()
	if c.closed || seq <= c.appliedSeq || id != c.state.ConversationID {
		c.mu.Unlock()
		return err
	}
	if err != nil {
		c.state.LastError = err.Error()
		c.commitLocked()
		return err
	}

	c.appliedSeq = seq
	c.applyLocked(view)
	c.commitLocked()
	return nil
}

// Close stops polling. An in-flight poll is allowed to finish but its
// result is discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *Controller) applyLocked(v *conversation.View) {
	c.state.Status = v.Status
	c.state.Confirmed = append([]conversation.Entry(nil), v.Messages...)
	c.state.ErrorMessage = ""
	if v.ErrorMessage != nil {
		c.state.ErrorMessage = *v.ErrorMessage
	}
	c.state.LastError = ""

	if v.Status.IsTerminal() && c.submitting == 0 {
		// The agent consumes input in order, so a finished run has seen
		// every message submitted before it. A message whose submit is
		// still unanswered may belong to the next run.
		c.state.Pending = nil
		return
	}
	c.reconcileLocked()
}

// reconcileLocked drops pending messages whose text has shown up as a user
// entry after the point they were submitted. Each confirmed entry accounts
// for at most one pending message.
func (c *Controller) reconcileLocked() {
	if len(c.state.Pending) == 0 {
		return
	}
	used := make(map[int]bool)
	kept := c.state.Pending[:0]
	for _, p := range c.state.Pending {
		matched := false
		for i := p.baseline; i < len(c.state.Confirmed); i++ {
			e := c.state.Confirmed[i]
			if used[i] || e.Role != "user" || e.IsToolResult || e.Text != p.Text {
				continue
			}
			used[i] = true
			matched = true
			break
		}
		if !matched {
			kept = append(kept, p)
		}
	}
	c.state.Pending = kept
}

func (c *Controller) removePendingLocked(id string) {
	for i, p := range c.state.Pending {
		if p.ID == id {
			c.state.Pending = append(c.state.Pending[:i:i], c.state.Pending[i+1:]...)
			return
		}
	}
}

// commitLocked releases c.mu and publishes the new state. notifyMu is taken
// before c.mu is released so observers see changes in commit order.
func (c *Controller) commitLocked() {
	if c.onChange == nil {
		c.mu.Unlock()
		return
	}
	snap := c.state.clone()
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()
	c.onChange(snap)
}

func (c *Controller) startPollingLocked() {
	if c.polling || c.closed {
		return
	}
	c.polling = true
	c.wg.Add(1)
	go c.pollLoop()
}

// pollLoop polls on a fixed interval until the conversation leaves the
// running state or the controller is closed.
func (c *Controller) pollLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			c.stopPolling()
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
		_ = c.Poll(ctx)
		cancel()

		c.mu.Lock()
		if c.closed || c.state.Status != conversation.StatusRunning {
			c.polling = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}

func (c *Controller) stopPolling() {
	c.mu.Lock()
	c.polling = false
	c.mu.Unlock()
}
