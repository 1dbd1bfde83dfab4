// Package ctxchat holds project-wide defaults shared by config, db and the CLI.
package ctxchat

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName = "ctxchat"

	DefaultUsername     = "Human"
	DefaultAgentname    = "AI"
	DefaultHistoryCount = 6
	// DefaultContextTimeout is in seconds.
	DefaultContextTimeout = 300

	DefaultModel       = "gpt-3.5-turbo-instruct"
	DefaultTemperature = 0.5
	DefaultMaxTokens   = 2000
	DefaultBaseURL     = "https://api.openai.com/v1"

	DefaultDatabaseType = "libsql"
	DefaultRedisPrefix  = "ctxchat:context:"
)

var (
	DefaultConfigPath  = filepath.Join(userConfigDir(), DefaultAppName)
	DefaultDataDir     = filepath.Join(userDataDir(), DefaultAppName)
	DefaultDatabaseDSN = "file:" + filepath.Join(DefaultDataDir, "ctxchat.db")
	DefaultContextDir  = filepath.Join(DefaultDataDir, "contexts")
	DefaultLogPath     = filepath.Join(DefaultDataDir, "completions.jsonl")
)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}

func userDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share")
	}
	return "."
}
