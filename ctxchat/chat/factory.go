package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/ZanzyTHEbar/contextual-chat/ctxchat/chat/adapters"
	chatports "github.com/ZanzyTHEbar/contextual-chat/ctxchat/chat/ports"
	"github.com/ZanzyTHEbar/contextual-chat/ctxchat/config"
	"github.com/ZanzyTHEbar/contextual-chat/ctxchat/db"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Factory creates and wires orchestrator components from configuration and
// owns the backend handles it opens.
type Factory struct {
	cfg    *config.Config
	logger zerolog.Logger
	fs     afero.Fs

	db      *sql.DB // opened on first use by the sql store or log
	closers []io.Closer
}

// NewFactory creates a factory. The file store uses the OS filesystem.
func NewFactory(cfg *config.Config, logger zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, logger: logger, fs: afero.NewOsFs()}
}

// WithFs replaces the filesystem used by the file store.
func (f *Factory) WithFs(fsys afero.Fs) *Factory {
	f.fs = fsys
	return f
}

// WithDB supplies an already migrated database handle; the factory will not close it.
func (f *Factory) WithDB(handle *sql.DB) *Factory {
	f.db = handle
	return f
}

// ContextDefaults maps the context config section to store defaults.
func ContextDefaults(c config.ContextConfig) chatports.Defaults {
	return chatports.Defaults{
		Username:        c.Username,
		Agentname:       c.Agentname,
		ChatDescription: c.ChatDescription,
		HistoryCount:    c.HistoryCount,
		Timeout:         c.Timeout(),
	}
}

// CompletionDefaultsFrom maps the completion config section to request defaults.
func CompletionDefaultsFrom(c config.CompletionConfig) CompletionDefaults {
	return CompletionDefaults{
		APIKey:      c.APIKey,
		Model:       c.Model,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		Extra:       c.ExtraParams,
	}
}

// CreateOrchestrator creates a fully wired Orchestrator from config.
func (f *Factory) CreateOrchestrator(ctx context.Context) (*Orchestrator, error) {
	strategy, err := NewStrategy(f.cfg.Completion.Strategy)
	if err != nil {
		return nil, err
	}
	provider, err := f.createProvider()
	if err != nil {
		return nil, err
	}
	store, err := f.CreateStore(ctx)
	if err != nil {
		return nil, err
	}
	logs, err := f.createCompletionLog(ctx)
	if err != nil {
		return nil, err
	}
	limiter, err := f.createLimiter()
	if err != nil {
		return nil, err
	}

	o := NewOrchestrator(
		store,
		provider,
		strategy,
		logs,
		limiter,
		f.createTracer(),
		CompletionDefaultsFrom(f.cfg.Completion),
		f.logger,
	)
	o.SetLogFailures(f.cfg.CompletionLog.LogFailures)
	return o, nil
}

// CreateStore creates the configured context store.
func (f *Factory) CreateStore(ctx context.Context) (chatports.ContextStore, error) {
	d := ContextDefaults(f.cfg.Context)
	sc := f.cfg.Store

	switch sc.Type {
	case "", "memory":
		return adapters.NewMemoryContextStore(d, sc.MemoryCapacity), nil
	case "file":
		return adapters.NewFileContextStore(f.fs, sc.FileDir, d)
	case "sql":
		handle, err := f.database(ctx)
		if err != nil {
			return nil, err
		}
		return adapters.NewSQLContextStore(handle, d), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", sc.RedisAddr, err)
		}
		f.closers = append(f.closers, client)
		return adapters.NewRedisContextStore(client, sc.RedisPrefix, d), nil
	}
	return nil, fmt.Errorf("unknown store type %q", sc.Type)
}

func (f *Factory) createProvider() (chatports.Provider, error) {
	switch f.cfg.Completion.Provider {
	case "", "openai":
		return adapters.NewOpenAIProvider(f.cfg.Completion.BaseURL, f.cfg.Completion.Timeout), nil
	}
	return nil, fmt.Errorf("unknown completion provider %q", f.cfg.Completion.Provider)
}

func (f *Factory) createCompletionLog(ctx context.Context) (chatports.CompletionLog, error) {
	switch f.cfg.CompletionLog.Type {
	case "", "none":
		return noOpLog{}, nil
	case "sql":
		handle, err := f.database(ctx)
		if err != nil {
			return nil, err
		}
		return adapters.NewSQLCompletionLog(handle), nil
	case "jsonl":
		l, err := adapters.OpenJSONLCompletionLog(f.cfg.CompletionLog.Path)
		if err != nil {
			return nil, err
		}
		f.closers = append(f.closers, l)
		return l, nil
	}
	return nil, fmt.Errorf("unknown completion log type %q", f.cfg.CompletionLog.Type)
}

func (f *Factory) createLimiter() (chatports.Limiter, error) {
	lc := f.cfg.Limiter
	switch lc.Type {
	case "", "none":
		return noOpLimiter{}, nil
	case "token_bucket":
		return adapters.NewTokenBucket(lc.Capacity, lc.RefillRate), nil
	case "session_lock":
		return adapters.NewSessionLock(), nil
	}
	return nil, fmt.Errorf("unknown limiter type %q", lc.Type)
}

func (f *Factory) createTracer() chatports.Tracer {
	if !f.cfg.EnableTracing {
		return noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

func (f *Factory) database(ctx context.Context) (*sql.DB, error) {
	if f.db != nil {
		return f.db, nil
	}
	handle, err := db.Open(ctx, f.cfg.Database)
	if err != nil {
		return nil, err
	}
	f.db = handle
	f.closers = append(f.closers, handle)
	return handle, nil
}

// Close releases every handle the factory opened.
func (f *Factory) Close() error {
	var errs []error
	for i := len(f.closers) - 1; i >= 0; i-- {
		if err := f.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	f.closers = nil
	return errors.Join(errs...)
}
