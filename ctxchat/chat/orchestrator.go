package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	chatports "github.com/ZanzyTHEbar/contextual-chat/ctxchat/chat/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

// Result is the outcome of a successful exchange.
type Result struct {
	Text   string
	Params chatports.Params
	Raw    json.RawMessage
}

// Outcome is delivered by ChatAsync.
type Outcome struct {
	Result *Result
	Err    error
}

// ContextUpdate changes the defaults of new contexts. Nil fields are kept.
type ContextUpdate struct {
	Timeout         *time.Duration
	Username        *string
	Agentname       *string
	ChatDescription *string
	HistoryCount    *int
}

// CompletionUpdate changes the completion defaults. Nil fields are kept;
// a non-nil Extra replaces the extra parameters wholesale.
type CompletionUpdate struct {
	APIKey      *string
	Model       *string
	Temperature *float64
	MaxTokens   *int
	Extra       map[string]any
}

// Orchestrator runs one completion exchange per call: fetch the context,
// build the request, call the provider once, then persist or reset.
type Orchestrator struct {
	store    chatports.ContextStore
	provider chatports.Provider
	strategy Strategy
	logs     chatports.CompletionLog
	limiter  chatports.Limiter
	tracer   chatports.Tracer
	logger   zerolog.Logger

	mu          sync.RWMutex
	defaults    CompletionDefaults
	logFailures bool

	now func() time.Time
}

// NewOrchestrator creates an orchestrator. logs, limiter and tracer may be nil.
func NewOrchestrator(
	store chatports.ContextStore,
	provider chatports.Provider,
	strategy Strategy,
	logs chatports.CompletionLog,
	limiter chatports.Limiter,
	tracer chatports.Tracer,
	defaults CompletionDefaults,
	logger zerolog.Logger,
) *Orchestrator {
	if strategy == nil {
		strategy = PromptStrategy{}
	}
	if logs == nil {
		logs = noOpLog{}
	}
	if limiter == nil {
		limiter = noOpLimiter{}
	}
	if tracer == nil {
		tracer = noOpTracer{}
	}
	defaults.Extra = maps.Clone(defaults.Extra)
	return &Orchestrator{
		store:       store,
		provider:    provider,
		strategy:    strategy,
		logs:        logs,
		limiter:     limiter,
		tracer:      tracer,
		logger:      logger.With().Str("component", "orchestrator").Logger(),
		defaults:    defaults,
		logFailures: true,
		now:         time.Now,
	}
}

// SetLogFailures controls whether failed calls that reached the provider are logged.
func (o *Orchestrator) SetLogFailures(enabled bool) {
	o.mu.Lock()
	o.logFailures = enabled
	o.mu.Unlock()
}

// Store returns the context store the orchestrator routes mutations through.
func (o *Orchestrator) Store() chatports.ContextStore { return o.store }

// Strategy returns the configured builder strategy.
func (o *Orchestrator) Strategy() Strategy { return o.strategy }

// CompletionDefaults returns a copy of the current completion defaults.
func (o *Orchestrator) CompletionDefaults() CompletionDefaults {
	o.mu.RLock()
	defer o.mu.RUnlock()
	d := o.defaults
	d.Extra = maps.Clone(d.Extra)
	return d
}

// Chat runs one exchange and blocks until it finishes.
func (o *Orchestrator) Chat(ctx context.Context, key, text string, overrides *Overrides) (*Result, error) {
	release, err := o.limiter.Acquire(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("admission for %q: %w", key, err)
	}
	defer release()

	ctx, finish := o.tracer.StartSpan(ctx, "chat", map[string]any{
		"key":      key,
		"strategy": o.strategy.Name(),
	})
	res, err := o.exchange(ctx, key, text, overrides)
	finish(err)
	return res, err
}

// ChatAsync runs Chat on its own goroutine. The channel yields exactly one
// Outcome and is then closed. A panic in any component is delivered as the
// Outcome error.
func (o *Orchestrator) ChatAsync(ctx context.Context, key, text string, overrides *Overrides) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		var (
			pc  panics.Catcher
			res *Result
			err error
		)
		pc.Try(func() {
			res, err = o.Chat(ctx, key, text, overrides)
		})
		if r := pc.Recovered(); r != nil {
			o.logger.Error().Str("key", key).Str("panic", fmt.Sprint(r.Value)).Msg("exchange panicked")
			res, err = nil, r.AsError()
		}
		out <- Outcome{Result: res, Err: err}
	}()
	return out
}

func (o *Orchestrator) exchange(ctx context.Context, key, text string, overrides *Overrides) (*Result, error) {
	c, err := o.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load context %q: %w", key, err)
	}

	payload := o.strategy.BuildRequest(c, text)
	params, err := MergeParams(o.CompletionDefaults(), payload, overrides)
	if err != nil {
		return nil, o.fail(ctx, key, params, configurationError(err.Error()), false)
	}

	if params.APIKey == "" {
		return nil, o.fail(ctx, key, params, configurationError("api key is not set"), false)
	}
	if params.Model == "" {
		return nil, o.fail(ctx, key, params, configurationError("model is not set"), false)
	}

	o.tracer.Event(ctx, "provider_call", map[string]any{"model": params.Model})
	raw, err := o.invoke(ctx, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return nil, o.fail(ctx, key, params, transportError(err), true)
	}

	responseText, err := o.strategy.ExtractText(c, raw)
	if err != nil {
		return nil, o.fail(ctx, key, params, semanticError(err, raw), true)
	}

	// The remote call has resolved; persist regardless of later cancellation.
	persistCtx := context.WithoutCancel(ctx)

	c.AddHistory(label(c.Username, text))
	c.AddHistory(label(c.Agentname, responseText))
	if err := o.store.Set(persistCtx, c); err != nil {
		return nil, fmt.Errorf("save context %q: %w", key, err)
	}

	o.writeLog(persistCtx, key, params, responseText, raw, "")
	o.logger.Debug().Str("key", key).Int("histories", len(c.Histories)).Msg("exchange completed")

	return &Result{Text: responseText, Params: params, Raw: raw}, nil
}

func (o *Orchestrator) invoke(ctx context.Context, params chatports.Params) (raw json.RawMessage, err error) {
	var pc panics.Catcher
	pc.Try(func() {
		raw, err = o.provider.Complete(ctx, params)
	})
	if r := pc.Recovered(); r != nil {
		return nil, fmt.Errorf("provider panicked: %v", r.Value)
	}
	return raw, err
}

// fail resets the session histories and returns ce. Exchanges abandoned by
// the caller leave the context untouched.
func (o *Orchestrator) fail(ctx context.Context, key string, params chatports.Params, ce *CompletionError, reachedProvider bool) error {
	abandoned := ce.Kind == KindTransport && ctx.Err() != nil
	persistCtx := context.WithoutCancel(ctx)

	evt := o.logger.Warn().Str("key", key).Str("kind", string(ce.Kind)).Str("error", ce.Message)
	if abandoned {
		evt.Msg("exchange abandoned; context left unchanged")
	} else {
		evt.Msg("exchange failed; resetting histories")
		if err := o.store.Reset(persistCtx, key, chatports.ResetOptions{}); err != nil {
			o.logger.Error().Err(err).Str("key", key).Msg("failed to reset context after failure")
		}
	}

	o.mu.RLock()
	logFailures := o.logFailures
	o.mu.RUnlock()
	if reachedProvider && logFailures {
		o.writeLog(persistCtx, key, params, "", ce.Raw, ce.Kind)
	}
	o.tracer.Event(ctx, "exchange_failed", map[string]any{"kind": string(ce.Kind)})
	return ce
}

func (o *Orchestrator) writeLog(ctx context.Context, key string, params chatports.Params, text string, raw json.RawMessage, kind ErrorKind) {
	entry := chatports.LogEntry{
		ID:           uuid.NewString(),
		CreatedAt:    o.now().UTC(),
		SessionKey:   key,
		Prompt:       params.Prompt,
		ResponseText: text,
		Completion:   raw,
		ErrorKind:    string(kind),
	}
	if params.Messages != nil {
		if b, err := json.Marshal(params.Messages); err == nil {
			entry.Prompt = string(b)
		}
	}
	if b, err := json.Marshal(params); err == nil {
		entry.Parameters = b
	}
	if len(raw) > 0 && !json.Valid(raw) {
		entry.Completion = nil
	}

	if err := o.logs.Write(ctx, entry); err != nil {
		o.logger.Error().Err(err).Str("key", key).Msg("failed to write completion log")
	}
}

// ConfigureContexts replaces the defaults for new contexts and clears every
// existing session.
func (o *Orchestrator) ConfigureContexts(ctx context.Context, u ContextUpdate) error {
	d := o.store.Defaults()
	if u.Timeout != nil {
		d.Timeout = *u.Timeout
	}
	if u.Username != nil {
		d.Username = *u.Username
	}
	if u.Agentname != nil {
		d.Agentname = *u.Agentname
	}
	if u.ChatDescription != nil {
		d.ChatDescription = *u.ChatDescription
	}
	if u.HistoryCount != nil {
		d.HistoryCount = *u.HistoryCount
	}
	o.store.SetDefaults(d)

	if err := o.store.RemoveAll(ctx); err != nil {
		return fmt.Errorf("clear contexts: %w", err)
	}
	o.logger.Info().Str("username", d.Username).Str("agentname", d.Agentname).
		Int("history_count", d.HistoryCount).Dur("timeout", d.Timeout).
		Msg("context defaults updated; all contexts cleared")
	return nil
}

// ConfigureCompletion replaces the completion defaults. Contexts are unaffected.
func (o *Orchestrator) ConfigureCompletion(u CompletionUpdate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if u.APIKey != nil {
		o.defaults.APIKey = *u.APIKey
	}
	if u.Model != nil {
		o.defaults.Model = *u.Model
	}
	if u.Temperature != nil {
		o.defaults.Temperature = *u.Temperature
	}
	if u.MaxTokens != nil {
		o.defaults.MaxTokens = *u.MaxTokens
	}
	if u.Extra != nil {
		o.defaults.Extra = maps.Clone(u.Extra)
	}
	o.logger.Info().Str("model", o.defaults.Model).Float64("temperature", o.defaults.Temperature).
		Int("max_tokens", o.defaults.MaxTokens).Msg("completion defaults updated")
}

type noOpLog struct{}

func (noOpLog) Write(context.Context, chatports.LogEntry) error { return nil }

type noOpLimiter struct{}

func (noOpLimiter) Acquire(context.Context, string) (func(), error) { return func() {}, nil }

type noOpTracer struct{}

func (noOpTracer) StartSpan(ctx context.Context, _ string, _ map[string]any) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (noOpTracer) Event(context.Context, string, map[string]any) {}

var (
	_ chatports.CompletionLog = noOpLog{}
	_ chatports.Limiter       = noOpLimiter{}
	_ chatports.Tracer        = noOpTracer{}
)
