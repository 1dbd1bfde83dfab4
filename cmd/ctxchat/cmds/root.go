// Package cmds holds the ctxchat cobra commands.
package cmds

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/contextual-chat/ctxchat/chat"
	"github.com/ZanzyTHEbar/contextual-chat/ctxchat/config"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app carries the state built once per invocation. mu guards cfg and
// orchestrator against config reloads, which run on the watcher goroutine.
type app struct {
	configPath string
	logLevel   string
	watch      bool

	mu           sync.Mutex
	cfg          *config.Config
	logger       zerolog.Logger
	factory      *chat.Factory
	orchestrator *chat.Orchestrator
}

// NewRootCommand builds the ctxchat command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "ctxchat",
		Short: "Contextual chat over an LLM completion API",
		Long: `ctxchat keeps a rolling per-session conversation context, turns it into a
prompt or message list for a completion API, and persists each exchange.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.factory == nil {
				return nil
			}
			return a.factory.Close()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: ./config.yaml or the user config dir)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(
		newChatCommand(a),
		newSendCommand(a),
		newResetCommand(a),
		newRemoveCommand(a),
		newPurgeCommand(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	var err error
	if a.watch {
		a.cfg, err = config.LoadConfigWatched(a.configPath, a.reload)
	} else {
		a.cfg, err = config.LoadConfig(a.configPath)
	}
	if err != nil {
		return err
	}

	a.logger, err = newLogger(a.cfg.Logging, a.logLevel)
	if err != nil {
		return err
	}

	a.factory = chat.NewFactory(a.cfg, a.logger)
	a.orchestrator, err = a.factory.CreateOrchestrator(cmd.Context())
	if err != nil {
		return err
	}
	return nil
}

// reload pushes a changed config file into the running orchestrator.
// Context defaults are only re-applied when they changed, since applying
// them clears every session.
func (a *app) reload(next *config.Config, e fsnotify.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.orchestrator == nil {
		return
	}
	prev := a.cfg

	if next.Context != prev.Context {
		d := chat.ContextDefaults(next.Context)
		err := a.orchestrator.ConfigureContexts(context.Background(), chat.ContextUpdate{
			Timeout:         &d.Timeout,
			Username:        &d.Username,
			Agentname:       &d.Agentname,
			ChatDescription: &d.ChatDescription,
			HistoryCount:    &d.HistoryCount,
		})
		if err != nil {
			a.logger.Error().Err(err).Str("file", e.Name).Msg("failed to apply context config")
		}
	}

	cd := chat.CompletionDefaultsFrom(next.Completion)
	a.orchestrator.ConfigureCompletion(chat.CompletionUpdate{
		APIKey:      &cd.APIKey,
		Model:       &cd.Model,
		Temperature: &cd.Temperature,
		MaxTokens:   &cd.MaxTokens,
		Extra:       nonNilExtra(cd.Extra),
	})
	a.cfg = next
	a.logger.Info().Str("file", e.Name).Msg("configuration reloaded")
}

func nonNilExtra(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func newLogger(lc config.LoggingConfig, override string) (zerolog.Logger, error) {
	levelName := lc.Level
	if override != "" {
		levelName = override
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", levelName, err)
	}

	var logger zerolog.Logger
	if lc.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger(), nil
}
