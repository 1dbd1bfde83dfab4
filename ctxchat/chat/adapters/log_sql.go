package adapters

import (
	"context"
	"database/sql"
	"fmt"

	chatports "github.com/ZanzyTHEbar/contextual-chat/ctxchat/chat/ports"

	"github.com/google/uuid"
)

// SQLCompletionLog appends entries to the completion_logs table.
type SQLCompletionLog struct {
	db *sql.DB
}

// NewSQLCompletionLog wraps an already migrated database handle.
func NewSQLCompletionLog(db *sql.DB) *SQLCompletionLog {
	return &SQLCompletionLog{db: db}
}

// Write inserts entry. A missing ID is generated.
func (l *SQLCompletionLog) Write(ctx context.Context, entry chatports.LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	params := string(entry.Parameters)
	if params == "" {
		params = "{}"
	}
	var completion sql.NullString
	if len(entry.Completion) > 0 {
		completion = sql.NullString{String: string(entry.Completion), Valid: true}
	}

	query := `
		INSERT INTO completion_logs (id, created_at, session_key, prompt, response_text, parameters, completion, error_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := l.db.ExecContext(ctx, query,
		entry.ID, entry.CreatedAt.UnixMilli(), entry.SessionKey, entry.Prompt,
		entry.ResponseText, params, completion, entry.ErrorKind)
	if err != nil {
		return fmt.Errorf("failed to write completion log: %w", err)
	}
	return nil
}

var _ chatports.CompletionLog = (*SQLCompletionLog)(nil)
