package chat

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/contextual-chat/ctxchat/chat/adapters"
	"github.com/ZanzyTHEbar/contextual-chat/ctxchat/config"
	"github.com/ZanzyTHEbar/contextual-chat/ctxchat/db"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func factoryConfig() *config.Config {
	return &config.Config{
		Context: config.ContextConfig{
			TimeoutSeconds: 300,
			Username:       "Human",
			Agentname:      "AI",
			HistoryCount:   6,
		},
		Completion: config.CompletionConfig{
			Provider:    "openai",
			Strategy:    StrategyPrompt,
			APIKey:      "sk-test",
			BaseURL:     "http://127.0.0.1:1/v1",
			Model:       "gpt-3.5-turbo-instruct",
			Temperature: 0.5,
			MaxTokens:   2000,
		},
		Store:         config.StoreConfig{Type: "memory"},
		CompletionLog: config.CompletionLogConfig{Type: "none", LogFailures: true},
		Limiter:       config.LimiterConfig{Type: "none", Capacity: 10, RefillRate: time.Second},
	}
}

func TestContextDefaultsMapping(t *testing.T) {
	d := ContextDefaults(factoryConfig().Context)
	assert.Equal(t, "Human", d.Username)
	assert.Equal(t, "AI", d.Agentname)
	assert.Equal(t, 6, d.HistoryCount)
	assert.Equal(t, 300*time.Second, d.Timeout)
}

func TestCreateOrchestratorDefaults(t *testing.T) {
	f := NewFactory(factoryConfig(), zerolog.Nop())
	t.Cleanup(func() { _ = f.Close() })

	o, err := f.CreateOrchestrator(context.Background())
	require.NoError(t, err)

	assert.IsType(t, &adapters.MemoryContextStore{}, o.Store())
	assert.IsType(t, PromptStrategy{}, o.Strategy())
	assert.Equal(t, "gpt-3.5-turbo-instruct", o.CompletionDefaults().Model)
	assert.Equal(t, "sk-test", o.CompletionDefaults().APIKey)
}

func TestCreateStoreVariants(t *testing.T) {
	ctx := context.Background()

	t.Run("file", func(t *testing.T) {
		cfg := factoryConfig()
		cfg.Store = config.StoreConfig{Type: "file", FileDir: "/contexts"}
		fsys := afero.NewMemMapFs()
		f := NewFactory(cfg, zerolog.Nop()).WithFs(fsys)

		s, err := f.CreateStore(ctx)
		require.NoError(t, err)
		assert.IsType(t, &adapters.FileContextStore{}, s)

		_, err = s.Get(ctx, "u1")
		require.NoError(t, err)
		exists, err := afero.DirExists(fsys, "/contexts")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("sql opens and closes the database", func(t *testing.T) {
		cfg := factoryConfig()
		cfg.Store = config.StoreConfig{Type: "sql"}
		cfg.Database = config.DatabaseConfig{
			Type: db.DriverSQLite,
			DSN:  "file:" + filepath.Join(t.TempDir(), "ctxchat.db"),
		}
		f := NewFactory(cfg, zerolog.Nop())

		s, err := f.CreateStore(ctx)
		require.NoError(t, err)
		assert.IsType(t, &adapters.SQLContextStore{}, s)

		c, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Human", c.Username)
		require.NoError(t, f.Close())
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := factoryConfig()
		cfg.Store.Type = "etcd"
		_, err := NewFactory(cfg, zerolog.Nop()).CreateStore(ctx)
		assert.ErrorContains(t, err, `unknown store type "etcd"`)
	})
}

func TestCreateOrchestratorSharesDatabase(t *testing.T) {
	cfg := factoryConfig()
	cfg.Store = config.StoreConfig{Type: "sql"}
	cfg.CompletionLog.Type = "sql"
	cfg.Database = config.DatabaseConfig{
		Type: db.DriverSQLite,
		DSN:  "file:" + filepath.Join(t.TempDir(), "ctxchat.db"),
	}
	f := NewFactory(cfg, zerolog.Nop())

	_, err := f.CreateOrchestrator(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.closers, 1, "store and log share one handle")
	require.NoError(t, f.Close())
	assert.Empty(t, f.closers)
}

func TestCreateOrchestratorComponents(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{name: "jsonl log", mutate: func(c *config.Config) {
			c.CompletionLog = config.CompletionLogConfig{Type: "jsonl", Path: filepath.Join(t.TempDir(), "c.jsonl")}
		}},
		{name: "token bucket", mutate: func(c *config.Config) { c.Limiter.Type = "token_bucket" }},
		{name: "session lock", mutate: func(c *config.Config) { c.Limiter.Type = "session_lock" }},
		{name: "tracing", mutate: func(c *config.Config) { c.EnableTracing = true }},
		{name: "messages strategy", mutate: func(c *config.Config) { c.Completion.Strategy = StrategyMessages }},
		{name: "unknown strategy", mutate: func(c *config.Config) { c.Completion.Strategy = "freeform" }, wantErr: "freeform"},
		{name: "unknown provider", mutate: func(c *config.Config) { c.Completion.Provider = "llama" }, wantErr: `unknown completion provider "llama"`},
		{name: "unknown log", mutate: func(c *config.Config) { c.CompletionLog.Type = "kafka" }, wantErr: `unknown completion log type "kafka"`},
		{name: "unknown limiter", mutate: func(c *config.Config) { c.Limiter.Type = "leaky" }, wantErr: `unknown limiter type "leaky"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := factoryConfig()
			tt.mutate(cfg)
			f := NewFactory(cfg, zerolog.Nop())
			t.Cleanup(func() { _ = f.Close() })

			o, err := f.CreateOrchestrator(context.Background())
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, o)
		})
	}
}
