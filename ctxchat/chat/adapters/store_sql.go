package adapters

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	chatports "github.com/ZanzyTHEbar/contextual-chat/ctxchat/chat/ports"
)

// SQLContextStore keeps contexts in the contexts table. The schema is owned
// by the db package migrations; histories are stored as a JSON array.
type SQLContextStore struct {
	storeBase
	db *sql.DB
}

// NewSQLContextStore wraps an already migrated database handle.
func NewSQLContextStore(db *sql.DB, d chatports.Defaults) *SQLContextStore {
	return &SQLContextStore{
		storeBase: newStoreBase(d),
		db:        db,
	}
}

const selectContext = `
	SELECT key, username, agentname, chat_description, history_count, histories, updated_at
	FROM contexts WHERE key = ?`

// Get returns the context for key, inserting a fresh one when absent.
func (s *SQLContextStore) Get(ctx context.Context, key string) (*chatports.Context, error) {
	fresh := s.Defaults().NewContext(key, s.clock())
	if err := s.insertIfAbsent(ctx, fresh); err != nil {
		return nil, err
	}

	c, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.present(c), nil
}

// Set upserts c and refreshes its UpdatedAt.
func (s *SQLContextStore) Set(ctx context.Context, c *chatports.Context) error {
	c.UpdatedAt = s.clock()
	histories, err := encodeHistories(c.Histories)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO contexts (key, username, agentname, chat_description, history_count, histories, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			username = excluded.username,
			agentname = excluded.agentname,
			chat_description = excluded.chat_description,
			history_count = excluded.history_count,
			histories = excluded.histories,
			updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		c.Key, c.Username, c.Agentname, c.ChatDescription, c.HistoryCount, histories, c.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save context %q: %w", c.Key, err)
	}
	return nil
}

// Reset applies opts and clears the histories of key.
func (s *SQLContextStore) Reset(ctx context.Context, key string, opts chatports.ResetOptions) error {
	fresh := s.Defaults().NewContext(key, s.clock())
	if err := s.insertIfAbsent(ctx, fresh); err != nil {
		return err
	}
	c, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	opts.Apply(c)
	return s.Set(ctx, c)
}

// Remove deletes key; unknown keys are ignored.
func (s *SQLContextStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM contexts WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove context %q: %w", key, err)
	}
	return nil
}

// RemoveAll deletes every context row.
func (s *SQLContextStore) RemoveAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM contexts`); err != nil {
		return fmt.Errorf("failed to remove contexts: %w", err)
	}
	return nil
}

func (s *SQLContextStore) insertIfAbsent(ctx context.Context, c *chatports.Context) error {
	query := `
		INSERT INTO contexts (key, username, agentname, chat_description, history_count, histories, updated_at)
		VALUES (?, ?, ?, ?, ?, '[]', ?)
		ON CONFLICT(key) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		c.Key, c.Username, c.Agentname, c.ChatDescription, c.HistoryCount, c.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to create context %q: %w", c.Key, err)
	}
	return nil
}

func (s *SQLContextStore) load(ctx context.Context, key string) (*chatports.Context, error) {
	var (
		c         chatports.Context
		histories string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, selectContext, key).Scan(
		&c.Key, &c.Username, &c.Agentname, &c.ChatDescription, &c.HistoryCount, &histories, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load context %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(histories), &c.Histories); err != nil {
		return nil, fmt.Errorf("failed to decode histories of %q: %w", key, err)
	}
	c.UpdatedAt = time.UnixMilli(updatedAt)
	return &c, nil
}

func encodeHistories(h []string) (string, error) {
	if h == nil {
		h = []string{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("failed to encode histories: %w", err)
	}
	return string(b), nil
}

var _ chatports.ContextStore = (*SQLContextStore)(nil)
