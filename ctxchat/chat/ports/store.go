package chatports

import (
	"context"
	"strings"
	"time"
)

// Context is the persisted conversational state of one session key.
type Context struct {
	Key             string    `json:"key"`
	Username        string    `json:"username"`
	Agentname       string    `json:"agentname"`
	ChatDescription string    `json:"chat_description"`
	HistoryCount    int       `json:"history_count"` // window used for prompts; <= 0 means all
	Histories       []string  `json:"histories"`     // turn-lines, oldest first
	UpdatedAt       time.Time `json:"updated_at"`
}

// Window returns the trailing HistoryCount turn-lines as a new slice.
func (c *Context) Window() []string {
	start := 0
	if c.HistoryCount > 0 {
		start = max(0, len(c.Histories)-c.HistoryCount)
	}
	out := make([]string, len(c.Histories)-start)
	copy(out, c.Histories[start:])
	return out
}

// JoinedHistories joins the windowed turn-lines with sep.
func (c *Context) JoinedHistories(sep string) string {
	return strings.Join(c.Window(), sep)
}

// AddHistory appends one turn-line.
func (c *Context) AddHistory(line string) {
	c.Histories = append(c.Histories, line)
}

// ClearHistories drops every turn-line but keeps the rest of the context.
func (c *Context) ClearHistories() {
	c.Histories = []string{}
}

// Expired reports whether the context has been idle longer than timeout.
// A non-positive timeout never expires.
func (c *Context) Expired(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 || c.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(c.UpdatedAt) > timeout
}

// Clone returns a deep copy.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Histories = make([]string, len(c.Histories))
	copy(cp.Histories, c.Histories)
	return &cp
}

// Defaults seed new contexts and drive expiry.
type Defaults struct {
	Username        string
	Agentname       string
	ChatDescription string
	HistoryCount    int
	Timeout         time.Duration
}

// NewContext builds an empty context for key from the defaults.
func (d Defaults) NewContext(key string, now time.Time) *Context {
	return &Context{
		Key:             key,
		Username:        d.Username,
		Agentname:       d.Agentname,
		ChatDescription: d.ChatDescription,
		HistoryCount:    d.HistoryCount,
		Histories:       []string{},
		UpdatedAt:       now,
	}
}

// ResetOptions carries optional field overrides for Reset; nil keeps the current value.
type ResetOptions struct {
	Username        *string
	Agentname       *string
	ChatDescription *string
	HistoryCount    *int
}

// Apply writes the non-nil overrides into c and clears its histories.
func (o ResetOptions) Apply(c *Context) {
	if o.Username != nil {
		c.Username = *o.Username
	}
	if o.Agentname != nil {
		c.Agentname = *o.Agentname
	}
	if o.ChatDescription != nil {
		c.ChatDescription = *o.ChatDescription
	}
	if o.HistoryCount != nil {
		c.HistoryCount = *o.HistoryCount
	}
	c.ClearHistories()
}

// ContextStore persists contexts keyed by session.
//
// Get followed by Set is not atomic: two exchanges racing on one key resolve
// last-write-wins. Callers that need per-key serialization acquire a
// session lock (see Limiter) around the pair.
type ContextStore interface {
	// Get returns a copy of the context for key, creating and persisting a new one
	// from the defaults when absent. Expired contexts come back with no histories.
	Get(ctx context.Context, key string) (*Context, error)
	// Set upserts c and refreshes its UpdatedAt.
	Set(ctx context.Context, c *Context) error
	// Reset applies opts and clears the histories of key.
	Reset(ctx context.Context, key string, opts ResetOptions) error
	// Remove deletes key. Unknown keys are a no-op.
	Remove(ctx context.Context, key string) error
	// RemoveAll deletes every context.
	RemoveAll(ctx context.Context) error

	Defaults() Defaults
	SetDefaults(d Defaults)
}
