package chat

import (
	"encoding/json"
	"errors"
)

// ErrorKind classifies a failed exchange.
type ErrorKind string

const (
	// KindConfiguration: credential or required parameter missing; no remote call made.
	KindConfiguration ErrorKind = "configuration"
	// KindTransport: the remote call failed, panicked, or was abandoned.
	KindTransport ErrorKind = "transport"
	// KindSemantic: the remote call returned a payload without usable text.
	KindSemantic ErrorKind = "semantic"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrConfiguration = errors.New("completion configuration error")
	ErrTransport     = errors.New("completion transport error")
	ErrSemantic      = errors.New("completion semantic failure")
)

// CompletionError is returned for every classified exchange failure.
// Raw is only set for semantic failures.
type CompletionError struct {
	Kind    ErrorKind
	Message string
	Raw     json.RawMessage
	Err     error
}

func (e *CompletionError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *CompletionError) Unwrap() error { return e.Err }

// Is matches the sentinel of the same kind.
func (e *CompletionError) Is(target error) bool {
	switch target {
	case ErrConfiguration:
		return e.Kind == KindConfiguration
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrSemantic:
		return e.Kind == KindSemantic
	}
	return false
}

func configurationError(msg string) *CompletionError {
	return &CompletionError{Kind: KindConfiguration, Message: msg}
}

func transportError(err error) *CompletionError {
	return &CompletionError{Kind: KindTransport, Message: err.Error(), Err: err}
}

func semanticError(err error, raw json.RawMessage) *CompletionError {
	return &CompletionError{Kind: KindSemantic, Message: err.Error(), Raw: raw, Err: err}
}

// AsCompletionError unwraps err to a *CompletionError.
func AsCompletionError(err error) (*CompletionError, bool) {
	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
