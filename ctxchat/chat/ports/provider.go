package chatports

import (
	"context"
	"encoding/json"
	"maps"
)

// Message is one role-tagged chat entry.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Params is the final request parameter set for one completion call.
type Params struct {
	APIKey      string
	Model       string
	Prompt      string    // flat prompt; empty when Messages is used
	Messages    []Message // chat messages; nil for flat prompts
	Temperature float64
	MaxTokens   int
	Stop        []string
	Extra       map[string]any // provider-specific passthrough parameters
}

// Body renders the request mapping sent to the provider. Extra keys are written
// first so typed fields win on collision. The credential is never included.
func (p Params) Body() map[string]any {
	body := make(map[string]any, len(p.Extra)+6)
	maps.Copy(body, p.Extra)

	body["model"] = p.Model
	body["temperature"] = p.Temperature
	if p.MaxTokens > 0 {
		body["max_tokens"] = p.MaxTokens
	}
	if len(p.Stop) > 0 {
		body["stop"] = p.Stop
	}
	if p.Messages != nil {
		body["messages"] = p.Messages
	} else {
		body["prompt"] = p.Prompt
	}
	return body
}

// MarshalJSON encodes Body, so serialized parameters never carry the credential.
func (p Params) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Body())
}

// Provider performs one remote completion call and returns the raw JSON response.
type Provider interface {
	Complete(ctx context.Context, params Params) (json.RawMessage, error)
}
