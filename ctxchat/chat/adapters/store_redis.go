package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	chatports "github.com/ZanzyTHEbar/contextual-chat/ctxchat/chat/ports"

	"github.com/redis/go-redis/v9"
)

// RedisContextStore keeps one JSON value per session under prefix+key.
// Values carry no Redis TTL: expiry clears histories but keeps the record.
type RedisContextStore struct {
	storeBase
	client redis.UniversalClient
	prefix string
}

// NewRedisContextStore wraps client; the caller owns its lifecycle.
func NewRedisContextStore(client redis.UniversalClient, prefix string, d chatports.Defaults) *RedisContextStore {
	return &RedisContextStore{
		storeBase: newStoreBase(d),
		client:    client,
		prefix:    prefix,
	}
}

func (s *RedisContextStore) redisKey(key string) string { return s.prefix + key }

// Get returns the context for key, creating it with SETNX when absent.
func (s *RedisContextStore) Get(ctx context.Context, key string) (*chatports.Context, error) {
	fresh := s.Defaults().NewContext(key, s.clock())
	data, err := json.Marshal(fresh)
	if err != nil {
		return nil, fmt.Errorf("encode context %q: %w", key, err)
	}

	created, err := s.client.SetNX(ctx, s.redisKey(key), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("create context %q: %w", key, err)
	}
	if created {
		return fresh, nil
	}

	c, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if c == nil {
		// Removed between SETNX and GET.
		return fresh, nil
	}
	return s.present(c), nil
}

// Set writes c and refreshes its UpdatedAt.
func (s *RedisContextStore) Set(ctx context.Context, c *chatports.Context) error {
	c.UpdatedAt = s.clock()
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode context %q: %w", c.Key, err)
	}
	if err := s.client.Set(ctx, s.redisKey(c.Key), data, 0).Err(); err != nil {
		return fmt.Errorf("save context %q: %w", c.Key, err)
	}
	return nil
}

// Reset applies opts and clears the histories of key.
func (s *RedisContextStore) Reset(ctx context.Context, key string, opts chatports.ResetOptions) error {
	c, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	if c == nil {
		c = s.Defaults().NewContext(key, s.clock())
	}
	opts.Apply(c)
	return s.Set(ctx, c)
}

// Remove deletes key; unknown keys are ignored.
func (s *RedisContextStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("remove context %q: %w", key, err)
	}
	return nil
}

// RemoveAll deletes every key under the prefix.
func (s *RedisContextStore) RemoveAll(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("remove contexts: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan contexts: %w", err)
	}
	if len(batch) > 0 {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("remove contexts: %w", err)
		}
	}
	return nil
}

// load returns nil without error when key is absent.
func (s *RedisContextStore) load(ctx context.Context, key string) (*chatports.Context, error) {
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load context %q: %w", key, err)
	}

	var c chatports.Context
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode context %q: %w", key, err)
	}
	c.Key = key
	return &c, nil
}

var _ chatports.ContextStore = (*RedisContextStore)(nil)
