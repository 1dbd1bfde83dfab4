package adapters

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	chatports "github.com/ZanzyTHEbar/contextual-chat/ctxchat/chat/ports"

	"github.com/rs/zerolog"
)

// JSONLCompletionLog appends one JSON object per completion to a writer.
type JSONLCompletionLog struct {
	mu     sync.Mutex
	out    *recordingWriter
	logger zerolog.Logger
	closer io.Closer
}

// recordingWriter keeps the error of the last write, which zerolog itself
// does not return to the caller.
type recordingWriter struct {
	w   io.Writer
	err error
}

func (r *recordingWriter) Write(p []byte) (int, error) {
	n, err := r.w.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	r.err = err
	return n, err
}

// NewJSONLCompletionLog writes entries to w. Writes are serialized.
func NewJSONLCompletionLog(w io.Writer) *JSONLCompletionLog {
	out := &recordingWriter{w: w}
	return &JSONLCompletionLog{out: out, logger: zerolog.New(out)}
}

// OpenJSONLCompletionLog appends to the file at path, creating it and its directory.
func OpenJSONLCompletionLog(path string) (*JSONLCompletionLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open completion log %s: %w", path, err)
	}
	l := NewJSONLCompletionLog(f)
	l.closer = f
	return l, nil
}

// Write appends entry as a single line and reports a failed write.
func (l *JSONLCompletionLog) Write(ctx context.Context, entry chatports.LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.err = nil

	evt := l.logger.Log().
		Str("id", entry.ID).
		Str("created_at", entry.CreatedAt.UTC().Format(time.RFC3339Nano)).
		Str("session_key", entry.SessionKey).
		Str("prompt", entry.Prompt).
		Str("response_text", entry.ResponseText)
	if len(entry.Parameters) > 0 {
		evt = evt.RawJSON("parameters", entry.Parameters)
	}
	if len(entry.Completion) > 0 {
		evt = evt.RawJSON("completion", entry.Completion)
	}
	if entry.ErrorKind != "" {
		evt = evt.Str("error_kind", entry.ErrorKind)
	}
	evt.Send()
	if l.out.err != nil {
		return fmt.Errorf("write completion log entry %s: %w", entry.ID, l.out.err)
	}
	return nil
}

// Close closes the underlying file when opened by OpenJSONLCompletionLog.
func (l *JSONLCompletionLog) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

var _ chatports.CompletionLog = (*JSONLCompletionLog)(nil)
