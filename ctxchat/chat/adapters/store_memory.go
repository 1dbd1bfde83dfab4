package adapters

import (
	"context"
	"sync"

	chatports "github.com/ZanzyTHEbar/contextual-chat/ctxchat/chat/ports"
)

// MemoryContextStore keeps contexts in process memory with optional LRU
// eviction. Every Get and Set copies at the boundary. Not shared across
// processes.
type MemoryContextStore struct {
	storeBase

	itemsMu  sync.Mutex
	capacity int // 0 means unbounded
	items    map[string]*contextItem
	head     *contextItem
	tail     *contextItem
}

type contextItem struct {
	key  string
	ctx  *chatports.Context
	prev *contextItem
	next *contextItem
}

// NewMemoryContextStore creates an in-memory store holding at most capacity
// sessions; the least recently used session is evicted when full.
func NewMemoryContextStore(d chatports.Defaults, capacity int) *MemoryContextStore {
	return &MemoryContextStore{
		storeBase: newStoreBase(d),
		capacity:  max(capacity, 0),
		items:     make(map[string]*contextItem),
	}
}

// Get returns a copy of the context for key, creating it when absent.
func (s *MemoryContextStore) Get(ctx context.Context, key string) (*chatports.Context, error) {
	now := s.clock()
	d := s.Defaults()

	s.itemsMu.Lock()
	defer s.itemsMu.Unlock()

	item, exists := s.items[key]
	if !exists {
		item = s.insert(d.NewContext(key, now))
		return item.ctx.Clone(), nil
	}

	// Expiry is applied to the held record too; the caller still sees a copy.
	if item.ctx.Expired(now, d.Timeout) {
		item.ctx.ClearHistories()
	}
	s.moveToFront(item)
	return item.ctx.Clone(), nil
}

// Set stores a copy of c and refreshes its UpdatedAt.
func (s *MemoryContextStore) Set(ctx context.Context, c *chatports.Context) error {
	c.UpdatedAt = s.clock()
	cp := c.Clone()

	s.itemsMu.Lock()
	defer s.itemsMu.Unlock()

	if item, exists := s.items[c.Key]; exists {
		item.ctx = cp
		s.moveToFront(item)
		return nil
	}
	s.insert(cp)
	return nil
}

// Reset applies opts and clears the histories of key.
func (s *MemoryContextStore) Reset(ctx context.Context, key string, opts chatports.ResetOptions) error {
	now := s.clock()
	d := s.Defaults()

	s.itemsMu.Lock()
	defer s.itemsMu.Unlock()

	item, exists := s.items[key]
	if !exists {
		item = s.insert(d.NewContext(key, now))
	} else {
		s.moveToFront(item)
	}
	opts.Apply(item.ctx)
	item.ctx.UpdatedAt = now
	return nil
}

// Remove deletes key; unknown keys are ignored.
func (s *MemoryContextStore) Remove(ctx context.Context, key string) error {
	s.itemsMu.Lock()
	defer s.itemsMu.Unlock()

	item, exists := s.items[key]
	if !exists {
		return nil
	}
	s.unlink(item)
	delete(s.items, key)
	return nil
}

// RemoveAll deletes every context.
func (s *MemoryContextStore) RemoveAll(ctx context.Context) error {
	s.itemsMu.Lock()
	defer s.itemsMu.Unlock()

	s.items = make(map[string]*contextItem)
	s.head, s.tail = nil, nil
	return nil
}

// Len reports the number of held sessions.
func (s *MemoryContextStore) Len() int {
	s.itemsMu.Lock()
	defer s.itemsMu.Unlock()
	return len(s.items)
}

// insert adds c at the front and evicts the LRU session when over capacity.
// Caller holds itemsMu.
func (s *MemoryContextStore) insert(c *chatports.Context) *contextItem {
	item := &contextItem{key: c.Key, ctx: c}
	s.addToFront(item)
	s.items[c.Key] = item

	if s.capacity > 0 && len(s.items) > s.capacity {
		s.evictLRU()
	}
	return item
}

func (s *MemoryContextStore) moveToFront(item *contextItem) {
	if item == s.head {
		return
	}
	s.unlink(item)
	s.addToFront(item)
}

func (s *MemoryContextStore) addToFront(item *contextItem) {
	item.next = s.head
	item.prev = nil

	if s.head != nil {
		s.head.prev = item
	}
	s.head = item

	if s.tail == nil {
		s.tail = item
	}
}

func (s *MemoryContextStore) unlink(item *contextItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		s.head = item.next
	}

	if item.next != nil {
		item.next.prev = item.prev
	} else {
		s.tail = item.prev
	}

	item.prev = nil
	item.next = nil
}

func (s *MemoryContextStore) evictLRU() {
	if s.tail == nil {
		return
	}
	item := s.tail
	s.unlink(item)
	delete(s.items, item.key)
}

var _ chatports.ContextStore = (*MemoryContextStore)(nil)
