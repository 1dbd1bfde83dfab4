package chat

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	chatports "github.com/ZanzyTHEbar/contextual-chat/ctxchat/chat/ports"
)

// CompletionDefaults are the orchestrator-level request parameters.
type CompletionDefaults struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Extra       map[string]any
}

// Overrides are per-call parameter overrides. Nil fields keep the default;
// Extra keys are merged over the default extras. Extra keys naming a typed
// request field (model, temperature, max_tokens, stop, prompt, messages) set
// that field; the typed override fields still take precedence over them.
type Overrides struct {
	APIKey      *string
	Model       *string
	Temperature *float64
	MaxTokens   *int
	Stop        []string
	Prompt      *string
	Messages    []chatports.Message
	Extra       map[string]any
}

// MergeParams layers defaults, the strategy payload, and overrides, in that
// order. It fails when an override Extra key for a typed field has the wrong type.
func MergeParams(d CompletionDefaults, p Payload, o *Overrides) (chatports.Params, error) {
	params := chatports.Params{
		APIKey:      d.APIKey,
		Model:       d.Model,
		Temperature: d.Temperature,
		MaxTokens:   d.MaxTokens,
		Prompt:      p.Prompt,
		Messages:    slices.Clone(p.Messages),
		Stop:        slices.Clone(p.Stop),
		Extra:       maps.Clone(d.Extra),
	}
	if o == nil {
		return params, nil
	}

	if len(o.Extra) > 0 {
		if params.Extra == nil {
			params.Extra = make(map[string]any, len(o.Extra))
		}
		maps.Copy(params.Extra, o.Extra)
		if err := liftTypedExtras(&params, o.Extra); err != nil {
			return chatports.Params{}, err
		}
	}

	if o.APIKey != nil {
		params.APIKey = *o.APIKey
	}
	if o.Model != nil {
		params.Model = *o.Model
	}
	if o.Temperature != nil {
		params.Temperature = *o.Temperature
	}
	if o.MaxTokens != nil {
		params.MaxTokens = *o.MaxTokens
	}
	if o.Stop != nil {
		params.Stop = slices.Clone(o.Stop)
	}
	if o.Prompt != nil {
		params.Prompt = *o.Prompt
	}
	if o.Messages != nil {
		params.Messages = slices.Clone(o.Messages)
	}
	return params, nil
}

// liftTypedExtras moves extra keys that name typed request fields into those
// fields, so a caller's value is not overwritten when the body is rendered.
func liftTypedExtras(params *chatports.Params, extra map[string]any) error {
	targets := []struct {
		key string
		dst any
	}{
		{"model", &params.Model},
		{"temperature", &params.Temperature},
		{"max_tokens", &params.MaxTokens},
		{"stop", &params.Stop},
		{"prompt", &params.Prompt},
		{"messages", &params.Messages},
	}
	for _, t := range targets {
		v, ok := extra[t.key]
		if !ok {
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("extra parameter %q: %w", t.key, err)
		}
		if err := json.Unmarshal(b, t.dst); err != nil {
			return fmt.Errorf("extra parameter %q: %w", t.key, err)
		}
		delete(params.Extra, t.key)
	}
	return nil
}
