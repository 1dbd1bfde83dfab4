package adapters

import (
	"sync"
	"time"

	chatports "github.com/ZanzyTHEbar/contextual-chat/ctxchat/chat/ports"
)

// storeBase holds the defaults and clock shared by every store variant.
type storeBase struct {
	mu       sync.RWMutex
	defaults chatports.Defaults
	now      func() time.Time
}

func newStoreBase(d chatports.Defaults) storeBase {
	return storeBase{defaults: d, now: time.Now}
}

// Defaults returns the defaults used for new contexts.
func (b *storeBase) Defaults() chatports.Defaults {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.defaults
}

// SetDefaults replaces the defaults used for new contexts and expiry.
func (b *storeBase) SetDefaults(d chatports.Defaults) {
	b.mu.Lock()
	b.defaults = d
	b.mu.Unlock()
}

// SetClock replaces the time source. Used by tests.
func (b *storeBase) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

func (b *storeBase) clock() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.now()
}

// present applies lazy expiry to a loaded context.
func (b *storeBase) present(c *chatports.Context) *chatports.Context {
	if c.Histories == nil {
		c.Histories = []string{}
	}
	if c.Expired(b.clock(), b.Defaults().Timeout) {
		c.ClearHistories()
	}
	return c
}
