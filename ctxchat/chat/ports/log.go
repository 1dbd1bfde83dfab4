package chatports

import (
	"context"
	"encoding/json"
	"time"
)

// LogEntry is one immutable completion audit record.
type LogEntry struct {
	ID           string          `json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	SessionKey   string          `json:"session_key"`
	Prompt       string          `json:"prompt"` // flat prompt or JSON-encoded messages
	ResponseText string          `json:"response_text"`
	Parameters   json.RawMessage `json:"parameters"`
	Completion   json.RawMessage `json:"completion,omitempty"`
	ErrorKind    string          `json:"error_kind,omitempty"`
}

// CompletionLog is an append-only sink for completion records.
type CompletionLog interface {
	Write(ctx context.Context, entry LogEntry) error
}
