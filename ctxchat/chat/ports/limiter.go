package chatports

import "context"

// Limiter admits exchanges per session key. release must be called once the
// exchange finishes.
type Limiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
