package adapters

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	chatports "github.com/ZanzyTHEbar/contextual-chat/ctxchat/chat/ports"
	"github.com/ZanzyTHEbar/contextual-chat/ctxchat/config"
	"github.com/ZanzyTHEbar/contextual-chat/ctxchat/db"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDefaults = chatports.Defaults{
	Username:        "Human",
	Agentname:       "AI",
	ChatDescription: "A friendly chat",
	HistoryCount:    4,
	Timeout:         300 * time.Second,
}

type clockedStore interface {
	chatports.ContextStore
	SetClock(func() time.Time)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type storeFactory func(t *testing.T) clockedStore

func storeVariants(t *testing.T) map[string]storeFactory {
	variants := map[string]storeFactory{
		"memory": func(t *testing.T) clockedStore {
			return NewMemoryContextStore(testDefaults, 0)
		},
		"file": func(t *testing.T) clockedStore {
			s, err := NewFileContextStore(afero.NewMemMapFs(), "/contexts", testDefaults)
			require.NoError(t, err)
			return s
		},
		"sql": func(t *testing.T) clockedStore {
			return NewSQLContextStore(openTestDB(t), testDefaults)
		},
	}
	if addr := os.Getenv("CTXCHAT_TEST_REDIS_ADDR"); addr != "" {
		variants["redis"] = func(t *testing.T) clockedStore {
			client := redis.NewClient(&redis.Options{Addr: addr})
			t.Cleanup(func() { client.Close() })
			s := NewRedisContextStore(client, "ctxchat-test:"+uuid.NewString()+":", testDefaults)
			t.Cleanup(func() { _ = s.RemoveAll(context.Background()) })
			return s
		}
	} else {
		t.Log("CTXCHAT_TEST_REDIS_ADDR not set; skipping redis store variant")
	}
	return variants
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	handle, err := db.Open(context.Background(), config.DatabaseConfig{
		DSN:  "file:" + filepath.Join(t.TempDir(), "ctxchat.db"),
		Type: db.DriverSQLite,
	})
	require.NoError(t, err)
	t.Cleanup(func() { handle.Close() })
	return handle
}

func newClockedStore(t *testing.T, factory storeFactory) (clockedStore, *fakeClock) {
	s := factory(t)
	clock := newFakeClock()
	s.SetClock(clock.Now)
	return s, clock
}

func TestContextStoreContract(t *testing.T) {
	for name, factory := range storeVariants(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("GetCreatesFromDefaults", func(t *testing.T) {
				s, clock := newClockedStore(t, factory)
				c, err := s.Get(context.Background(), "user-1")
				require.NoError(t, err)

				assert.Equal(t, "user-1", c.Key)
				assert.Equal(t, "Human", c.Username)
				assert.Equal(t, "AI", c.Agentname)
				assert.Equal(t, "A friendly chat", c.ChatDescription)
				assert.Equal(t, 4, c.HistoryCount)
				assert.Empty(t, c.Histories)
				assert.True(t, clock.Now().Equal(c.UpdatedAt))
			})

			t.Run("RoundTrip", func(t *testing.T) {
				s, clock := newClockedStore(t, factory)
				ctx := context.Background()

				c, err := s.Get(ctx, "user-1")
				require.NoError(t, err)
				c.Username = "A"
				c.Agentname = "B"
				c.ChatDescription = "desc"
				c.HistoryCount = 2
				c.AddHistory("A:hello")
				c.AddHistory("B:hi")

				clock.Advance(10 * time.Second)
				require.NoError(t, s.Set(ctx, c))
				assert.True(t, clock.Now().Equal(c.UpdatedAt), "Set refreshes UpdatedAt")

				got, err := s.Get(ctx, "user-1")
				require.NoError(t, err)
				assert.Equal(t, "A", got.Username)
				assert.Equal(t, "B", got.Agentname)
				assert.Equal(t, "desc", got.ChatDescription)
				assert.Equal(t, 2, got.HistoryCount)
				assert.Equal(t, []string{"A:hello", "B:hi"}, got.Histories)
				assert.True(t, clock.Now().Equal(got.UpdatedAt))
			})

			t.Run("GetReturnsIndependentCopy", func(t *testing.T) {
				s, _ := newClockedStore(t, factory)
				ctx := context.Background()

				c, err := s.Get(ctx, "user-1")
				require.NoError(t, err)
				c.AddHistory("Human:unsaved")
				c.Username = "changed"

				again, err := s.Get(ctx, "user-1")
				require.NoError(t, err)
				assert.Empty(t, again.Histories)
				assert.Equal(t, "Human", again.Username)
			})

			t.Run("ResetIsIdempotent", func(t *testing.T) {
				s, _ := newClockedStore(t, factory)
				ctx := context.Background()

				c, err := s.Get(ctx, "user-1")
				require.NoError(t, err)
				c.AddHistory("Human:a")
				c.AddHistory("AI:b")
				require.NoError(t, s.Set(ctx, c))

				for range 2 {
					require.NoError(t, s.Reset(ctx, "user-1", chatports.ResetOptions{}))
					got, err := s.Get(ctx, "user-1")
					require.NoError(t, err)
					assert.Empty(t, got.Histories)
					assert.Equal(t, "Human", got.Username)
					assert.Equal(t, 4, got.HistoryCount)
				}
			})

			t.Run("ResetAppliesOverrides", func(t *testing.T) {
				s, _ := newClockedStore(t, factory)
				ctx := context.Background()
				name, count := "Brother", 10

				require.NoError(t, s.Reset(ctx, "fresh", chatports.ResetOptions{Username: &name, HistoryCount: &count}))
				got, err := s.Get(ctx, "fresh")
				require.NoError(t, err)
				assert.Equal(t, "Brother", got.Username)
				assert.Equal(t, "AI", got.Agentname)
				assert.Equal(t, 10, got.HistoryCount)
				assert.Empty(t, got.Histories)
			})

			t.Run("LazyExpiry", func(t *testing.T) {
				s, clock := newClockedStore(t, factory)
				ctx := context.Background()

				c, err := s.Get(ctx, "user-1")
				require.NoError(t, err)
				c.AddHistory("Human:a")
				c.AddHistory("AI:b")
				require.NoError(t, s.Set(ctx, c))

				clock.Advance(299 * time.Second)
				got, err := s.Get(ctx, "user-1")
				require.NoError(t, err)
				assert.Len(t, got.Histories, 2, "not yet expired")

				clock.Advance(2 * time.Second)
				got, err = s.Get(ctx, "user-1")
				require.NoError(t, err)
				assert.Empty(t, got.Histories)
				assert.Equal(t, "Human", got.Username, "expiry keeps the record")

				got.AddHistory("Human:again")
				require.NoError(t, s.Set(ctx, got))
				fresh, err := s.Get(ctx, "user-1")
				require.NoError(t, err)
				assert.Equal(t, []string{"Human:again"}, fresh.Histories)
			})

			t.Run("RemoveIsNoOpForUnknownKey", func(t *testing.T) {
				s, _ := newClockedStore(t, factory)
				assert.NoError(t, s.Remove(context.Background(), "missing"))
			})

			t.Run("RemoveDeletesRecord", func(t *testing.T) {
				s, _ := newClockedStore(t, factory)
				ctx := context.Background()
				name := "Custom"

				require.NoError(t, s.Reset(ctx, "user-1", chatports.ResetOptions{Username: &name}))
				require.NoError(t, s.Remove(ctx, "user-1"))

				got, err := s.Get(ctx, "user-1")
				require.NoError(t, err)
				assert.Equal(t, "Human", got.Username, "recreated from defaults")
			})

			t.Run("RemoveAll", func(t *testing.T) {
				s, _ := newClockedStore(t, factory)
				ctx := context.Background()
				name := "Custom"

				for _, key := range []string{"a", "b", "c"} {
					require.NoError(t, s.Reset(ctx, key, chatports.ResetOptions{Username: &name}))
				}
				require.NoError(t, s.RemoveAll(ctx))

				for _, key := range []string{"a", "b", "c"} {
					got, err := s.Get(ctx, key)
					require.NoError(t, err)
					assert.Equal(t, "Human", got.Username)
				}
			})

			t.Run("SetDefaultsAffectsNewContexts", func(t *testing.T) {
				s, _ := newClockedStore(t, factory)
				d := s.Defaults()
				d.Username = "Sister"
				s.SetDefaults(d)

				got, err := s.Get(context.Background(), "new")
				require.NoError(t, err)
				assert.Equal(t, "Sister", got.Username)
			})
		})
	}
}

func TestMemoryStoreEvictsLeastRecentlyUsed(t *testing.T) {
	s := NewMemoryContextStore(testDefaults, 2)
	ctx := context.Background()

	for _, key := range []string{"a", "b"} {
		c, err := s.Get(ctx, key)
		require.NoError(t, err)
		c.AddHistory("Human:" + key)
		require.NoError(t, s.Set(ctx, c))
	}

	// Touch a so b becomes the eviction candidate.
	_, err := s.Get(ctx, "a")
	require.NoError(t, err)
	_, err = s.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	a, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"Human:a"}, a.Histories)

	b, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, b.Histories, "b was evicted and recreated")
}

func TestMemoryStoreSetStoresCopy(t *testing.T) {
	s := NewMemoryContextStore(testDefaults, 0)
	ctx := context.Background()

	c, err := s.Get(ctx, "k")
	require.NoError(t, err)
	c.AddHistory("Human:a")
	require.NoError(t, s.Set(ctx, c))

	c.AddHistory("Human:after-set")
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"Human:a"}, got.Histories)
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	s := NewMemoryContextStore(testDefaults, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := []string{"x", "y"}[i%2]
			c, err := s.Get(ctx, key)
			assert.NoError(t, err)
			c.AddHistory("Human:hi")
			assert.NoError(t, s.Set(ctx, c))
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, s.Len())
}

func TestFileStoreUsesEncodedFileNames(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := NewFileContextStore(fs, "/data/contexts", testDefaults)
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "../../etc/passwd")
	require.NoError(t, err)

	entries, err := afero.ReadDir(fs, "/data/contexts")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Li4vLi4vZXRjL3Bhc3N3ZA.json", entries[0].Name())
}

func TestFileStoreHandlesLongKeys(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileContextStore(afero.NewOsFs(), dir, testDefaults)
	require.NoError(t, err)
	ctx := context.Background()

	key := strings.Repeat("session-", 128)
	c, err := s.Get(ctx, key)
	require.NoError(t, err)
	c.AddHistory("Human:hi")
	require.NoError(t, s.Set(ctx, c))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key, got.Key)
	assert.Equal(t, []string{"Human:hi"}, got.Histories)

	entries, err := afero.ReadDir(afero.NewOsFs(), dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "~"))
	assert.Less(t, len(entries[0].Name()), 255)

	require.NoError(t, s.Remove(ctx, key))
	entries, err = afero.ReadDir(afero.NewOsFs(), dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileStoreRemoveAllKeepsForeignFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := NewFileContextStore(fs, "/contexts", testDefaults)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/contexts/README", []byte("keep"), 0o644))

	_, err = s.Get(context.Background(), "k")
	require.NoError(t, err)
	require.NoError(t, s.RemoveAll(context.Background()))

	entries, err := afero.ReadDir(fs, "/contexts")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "README", entries[0].Name())
}

func TestSQLStoreKeepsExpiredRowUntilWrite(t *testing.T) {
	handle := openTestDB(t)
	s := NewSQLContextStore(handle, testDefaults)
	clock := newFakeClock()
	s.SetClock(clock.Now)
	ctx := context.Background()

	c, err := s.Get(ctx, "k")
	require.NoError(t, err)
	c.AddHistory("Human:a")
	require.NoError(t, s.Set(ctx, c))

	clock.Advance(time.Hour)
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, got.Histories)

	var stored string
	require.NoError(t, handle.QueryRowContext(ctx, "SELECT histories FROM contexts WHERE key = ?", "k").Scan(&stored))
	assert.JSONEq(t, `["Human:a"]`, stored)
}
