// Package conversation owns server-side conversation state: per-conversation
// history and activity, and a capacity-bounded store keyed by conversation id.
package conversation

import (
	"context"
	"sync"
	"time"
)

// Message is one history entry. Roles alternate between user and assistant in
// the common case but alternation is not enforced.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Roles stored in history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is a single conversation record. All mutation goes through
// methods; the embedded mutex serializes writers so a turn and a concurrent
// cancel never race on state.
type Conversation struct {
	ID string

	mu        sync.Mutex
	messages  []Message
	createdAt time.Time
	updatedAt time.Time
	active    bool
	seq       uint64
	cancel    context.CancelFunc
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of history entries.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Append adds one history entry and advances UpdatedAt. UpdatedAt never moves
// backwards.
func (c *Conversation) Append(role, content string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, Message{Role: role, Content: content, Timestamp: at})
	if at.After(c.updatedAt) {
		c.updatedAt = at
	}
}

// TrimHistory drops the oldest entries until at most max remain. A max of
// zero or less leaves history untouched.
func (c *Conversation) TrimHistory(max int) {
	if max <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) > max {
		c.messages = append([]Message(nil), c.messages[len(c.messages)-max:]...)
	}
}

// CreatedAt returns the creation time.
func (c *Conversation) CreatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createdAt
}

// UpdatedAt returns the last update time.
func (c *Conversation) UpdatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updatedAt
}

// Active reports whether a response turn is currently streaming.
func (c *Conversation) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// BeginTurn marks the conversation active and records the turn's cancel
// handle. It fails when a turn is already running: a conversation has at most
// one active turn at a time.
func (c *Conversation) BeginTurn(cancel context.CancelFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return false
	}
	c.active = true
	c.cancel = cancel
	return true
}

// EndTurn clears the active flag and drops the cancel handle.
func (c *Conversation) EndTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	c.cancel = nil
}

// CancelActive requests cooperative cancellation of the active turn, if any.
// It reports whether a cancellation was actually signalled.
func (c *Conversation) CancelActive() bool {
	c.mu.Lock()
	cancel := c.cancel
	active := c.active
	c.mu.Unlock()
	if !active || cancel == nil {
		return false
	}
	cancel()
	return true
}

func (c *Conversation) setActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = active
}
