package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	chatports "github.com/ZanzyTHEbar/contextual-chat/ctxchat/chat/ports"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const maxResponseBytes = 8 << 20

// Body keys carried by the typed SDK params; everything else in
// Params.Body is passed through as a raw JSON field.
var typedBodyKeys = map[string]bool{
	"model":       true,
	"prompt":      true,
	"messages":    true,
	"temperature": true,
	"max_tokens":  true,
}

// OpenAIProvider calls an OpenAI-compatible completion API through the
// official SDK. Flat prompts go to /completions and message lists to
// /chat/completions.
type OpenAIProvider struct {
	baseURL string
	client  openai.Client
}

// NewOpenAIProvider creates a provider. timeout 0 leaves the call unbounded
// apart from the caller's context.
func NewOpenAIProvider(baseURL string, timeout time.Duration) *OpenAIProvider {
	return newOpenAIProvider(baseURL, &http.Client{Timeout: timeout})
}

// WithHTTPClient replaces the HTTP client.
func (p *OpenAIProvider) WithHTTPClient(c *http.Client) *OpenAIProvider {
	p.client = newOpenAIProvider(p.baseURL, c).client
	return p
}

func newOpenAIProvider(baseURL string, hc *http.Client) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0), // exactly one call per exchange
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return &OpenAIProvider{baseURL: baseURL, client: openai.NewClient(opts...)}
}

// Complete sends params and returns the JSON response body. Any JSON body is
// returned as is, whatever the status, so provider error documents reach the
// caller; network failures and non-JSON bodies are errors.
func (p *OpenAIProvider) Complete(ctx context.Context, params chatports.Params) (json.RawMessage, error) {
	var captured capturedResponse
	opts := []option.RequestOption{
		option.WithAPIKey(params.APIKey),
		option.WithMiddleware(captured.middleware),
	}
	for key, value := range params.Body() {
		if !typedBodyKeys[key] {
			opts = append(opts, option.WithJSONSet(key, value))
		}
	}

	var err error
	if params.Messages != nil {
		_, err = p.client.Chat.Completions.New(ctx, chatParams(params), opts...)
	} else {
		_, err = p.client.Completions.New(ctx, completionParams(params), opts...)
	}

	if captured.body == nil {
		if err == nil {
			return nil, fmt.Errorf("completion request returned no body")
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("failed to send request: %w", ctxErr)
		}
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if captured.readErr != nil {
		return nil, fmt.Errorf("failed to read response: %w", captured.readErr)
	}
	if !json.Valid(captured.body) {
		return nil, fmt.Errorf("unexpected non-JSON response (status %d): %s",
			captured.status, truncate(captured.body, 200))
	}
	return json.RawMessage(captured.body), nil
}

func completionParams(params chatports.Params) openai.CompletionNewParams {
	req := openai.CompletionNewParams{
		Model:       openai.CompletionNewParamsModel(params.Model),
		Prompt:      openai.CompletionNewParamsPromptUnion{OfString: openai.String(params.Prompt)},
		Temperature: openai.Float(params.Temperature),
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = openai.Int(int64(params.MaxTokens))
	}
	return req
}

func chatParams(params chatports.Params) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(params.Messages))
	for _, m := range params.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	req := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(params.Model),
		Messages:    messages,
		Temperature: openai.Float(params.Temperature),
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = openai.Int(int64(params.MaxTokens))
	}
	return req
}

// capturedResponse keeps the raw body of the last response seen by the
// middleware and hands the SDK an identical copy to decode.
type capturedResponse struct {
	status  int
	body    []byte
	readErr error
}

func (c *capturedResponse) middleware(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	res, err := next(req)
	if err != nil || res == nil {
		return res, err
	}
	body, readErr := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	res.Body.Close()

	c.status = res.StatusCode
	c.body = body
	if c.body == nil {
		c.body = []byte{}
	}
	c.readErr = readErr
	res.Body = io.NopCloser(bytes.NewReader(body))
	return res, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ chatports.Provider = (*OpenAIProvider)(nil)
