package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	chatports "github.com/ZanzyTHEbar/contextual-chat/ctxchat/chat/ports"

	"github.com/xeipuuv/gojsonschema"
)

// Strategy names.
const (
	StrategyPrompt          = "prompt"
	StrategyMessages        = "messages"
	StrategyLabeledMessages = "labeled_messages"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNoText is returned by extractors when the payload carries an empty completion.
var ErrNoText = errors.New("completion has no text")

// Payload is the strategy-built part of a request.
type Payload struct {
	Prompt   string
	Messages []chatports.Message
	Stop     []string
}

// Strategy turns a context snapshot and new input into a request payload and
// reads the response text back out of the raw completion. Implementations are
// pure: no store access, no mutation of c.
type Strategy interface {
	Name() string
	BuildRequest(c *chatports.Context, text string) Payload
	ExtractText(c *chatports.Context, raw json.RawMessage) (string, error)
}

// NewStrategy returns the strategy registered under name.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "", StrategyPrompt:
		return PromptStrategy{}, nil
	case StrategyMessages:
		return MessageStrategy{}, nil
	case StrategyLabeledMessages:
		return MessageStrategy{Labeled: true}, nil
	}
	return nil, fmt.Errorf("unknown completion strategy %q", name)
}

// PromptStrategy builds a flat text prompt for legacy completion endpoints.
type PromptStrategy struct{}

func (PromptStrategy) Name() string { return StrategyPrompt }

func (PromptStrategy) BuildRequest(c *chatports.Context, text string) Payload {
	var b strings.Builder
	b.WriteString(c.ChatDescription)
	b.WriteByte('\n')
	b.WriteString(c.JoinedHistories("\n"))
	b.WriteByte('\n')
	b.WriteString(label(c.Username, text))
	b.WriteByte('\n')
	b.WriteString(c.Agentname)
	b.WriteByte(':')

	return Payload{
		Prompt: b.String(),
		Stop:   stopSequences(c),
	}
}

func (PromptStrategy) ExtractText(_ *chatports.Context, raw json.RawMessage) (string, error) {
	if err := validate(promptSchema, raw); err != nil {
		return "", err
	}
	var resp struct {
		Choices []struct {
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	text := strings.TrimSpace(resp.Choices[0].Text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// MessageStrategy builds a role-tagged message list for chat completion
// endpoints. Labeled keeps the speaker labels on every line and tells the
// model which label maps to which role.
type MessageStrategy struct {
	Labeled bool
}

func (s MessageStrategy) Name() string {
	if s.Labeled {
		return StrategyLabeledMessages
	}
	return StrategyMessages
}

func (s MessageStrategy) BuildRequest(c *chatports.Context, text string) Payload {
	window := c.Window()
	messages := make([]chatports.Message, 0, len(window)+2)

	if system := s.systemContent(c); system != "" {
		messages = append(messages, chatports.Message{Role: RoleSystem, Content: system})
	}

	n := len(window)
	for i, line := range window {
		role := RoleAssistant
		if (i+n)%2 == 0 {
			role = RoleUser
		}
		if !s.Labeled {
			line = stripLabel(line, c.Username, c.Agentname)
		}
		messages = append(messages, chatports.Message{Role: role, Content: line})
	}

	input := text
	if s.Labeled {
		input = label(c.Username, text)
	}
	messages = append(messages, chatports.Message{Role: RoleUser, Content: input})

	return Payload{Messages: messages, Stop: stopSequences(c)}
}

func (s MessageStrategy) systemContent(c *chatports.Context) string {
	if !s.Labeled {
		return c.ChatDescription
	}
	var b strings.Builder
	if c.ChatDescription != "" {
		b.WriteString(c.ChatDescription)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Speakers:\n- %s: %s\n- %s: %s", c.Username, RoleUser, c.Agentname, RoleAssistant)
	return b.String()
}

func (MessageStrategy) ExtractText(c *chatports.Context, raw json.RawMessage) (string, error) {
	if err := validate(messageSchema, raw); err != nil {
		return "", err
	}
	var resp struct {
		Choices []struct {
			Message chatports.Message `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	// Models tend to echo the speaker label.
	text = strings.TrimSpace(strings.TrimPrefix(text, c.Agentname+":"))
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

func label(name, text string) string {
	return name + ":" + text
}

func stopSequences(c *chatports.Context) []string {
	return []string{c.Username + ":", c.Agentname + ":"}
}

func stripLabel(line, username, agentname string) string {
	for _, name := range []string{username, agentname} {
		if rest, ok := strings.CutPrefix(line, name+":"); ok {
			return rest
		}
	}
	return line
}

var (
	promptSchema = mustSchema(`{
		"type": "object",
		"required": ["choices"],
		"properties": {
			"choices": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["text"],
					"properties": {"text": {"type": "string"}}
				}
			}
		}
	}`)
	messageSchema = mustSchema(`{
		"type": "object",
		"required": ["choices"],
		"properties": {
			"choices": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["message"],
					"properties": {
						"message": {
							"type": "object",
							"required": ["content"],
							"properties": {"content": {"type": "string"}}
						}
					}
				}
			}
		}
	}`)
)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid completion schema: %v", err))
	}
	return schema
}

func validate(schema *gojsonschema.Schema, raw json.RawMessage) error {
	if len(raw) == 0 {
		return errors.New("empty completion response")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("unexpected completion shape: %s", strings.Join(msgs, "; "))
	}
	return nil
}

var (
	_ Strategy = PromptStrategy{}
	_ Strategy = MessageStrategy{}
)
