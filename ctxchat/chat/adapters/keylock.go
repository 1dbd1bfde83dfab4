package adapters

import (
	"context"
	"sync"

	chatports "github.com/ZanzyTHEbar/contextual-chat/ctxchat/chat/ports"
)

// SessionLock serializes exchanges per session key. Waiting honours ctx.
type SessionLock struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{} // holds one token while locked
	refs int
}

// NewSessionLock creates an empty per-key lock table.
func NewSessionLock() *SessionLock {
	return &SessionLock{locks: make(map[string]*keyLock)}
}

// Acquire blocks until key is free or ctx ends.
func (l *SessionLock) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.unref(key, kl)
		})
	}, nil
}

func (l *SessionLock) unref(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

var _ chatports.Limiter = (*SessionLock)(nil)
