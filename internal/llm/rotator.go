package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const (
	defaultKeyCooldown  = 5 * time.Minute
	defaultMaxAttempts  = 2 // passes over the key pool before giving up
	failuresBeforeCool  = 3
	rotateBackoffUnitMs = 100
)

var ErrNoAPIKeys = errors.New("llm: no api keys configured")

// RotatorConfig configures a RotatingClient.
type RotatorConfig struct {
	APIKeys     []string
	BaseURL     string // optional, OpenAI-compatible endpoint
	MaxAttempts int    // full passes over the pool, default 2
	HTTPClient  *http.Client
}

// RotatingClient is a Client backed by an ordered pool of API keys over an
// OpenAI-compatible endpoint. A retryable failure rotates to the next key;
// keys that fail repeatedly are put on cooldown. Only when every key has
// been tried does the error reach the caller.
type RotatingClient struct {
	clients     []openai.Client
	maxAttempts int

	mu        sync.Mutex
	next      int
	failures  []int
	coolUntil []time.Time
}

// NewRotatingClient builds a client pool, one API client per key.
func NewRotatingClient(cfg RotatorConfig) (*RotatingClient, error) {
	keys := make([]string, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if trimmed := strings.TrimSpace(k); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	if len(keys) == 0 {
		return nil, ErrNoAPIKeys
	}

	clients := make([]openai.Client, 0, len(keys))
	for _, key := range keys {
		// rotation handles retries itself, so the SDK must not retry too
		opts := []option.RequestOption{option.WithAPIKey(key), option.WithMaxRetries(0)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		if cfg.HTTPClient != nil {
			opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
		}
		clients = append(clients, openai.NewClient(opts...))
	}

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	return &RotatingClient{
		clients:     clients,
		maxAttempts: attempts,
		failures:    make([]int, len(clients)),
		coolUntil:   make([]time.Time, len(clients)),
	}, nil
}

// PoolSize reports how many keys are in the pool.
func (c *RotatingClient) PoolSize() int {
	return len(c.clients)
}

// AvailableKeys reports how many keys are currently not on cooldown.
func (c *RotatingClient) AvailableKeys() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	n := 0
	for _, until := range c.coolUntil {
		if now.After(until) {
			n++
		}
	}
	return n
}

// Complete issues the request, rotating through the key pool on failure.
func (c *RotatingClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("build completion params: %w", err)
	}

	var lastErr error
	total := c.maxAttempts * len(c.clients)
	for attempt := 0; attempt < total; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		idx := c.pickKey()
		completion, err := c.clients[idx].Chat.Completions.New(ctx, params)
		if err == nil {
			c.recordSuccess(idx)
			return convertCompletion(completion), nil
		}

		lastErr = err
		c.recordFailure(idx, err)
		// Rotation only helps for auth, quota and transient errors; a
		// deterministic failure would fail the same way on every key.
		if !isRetryable(err) {
			return nil, fmt.Errorf("chat completion: %w", err)
		}
		log.Printf("[llm] key %d failed (attempt %d/%d): %v", idx, attempt+1, total, err)

		backoff := time.Duration((attempt+1)*(attempt+1)*rotateBackoffUnitMs) * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("all api keys exhausted: %w", lastErr)
}

// pickKey returns the next key index round-robin, preferring keys that are
// not on cooldown. When every key is cooling it falls through to plain
// rotation so the pool never deadlocks.
func (c *RotatingClient) pickKey() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for i := 0; i < len(c.clients); i++ {
		idx := (c.next + i) % len(c.clients)
		if now.After(c.coolUntil[idx]) {
			c.next = (idx + 1) % len(c.clients)
			return idx
		}
	}
	idx := c.next
	c.next = (idx + 1) % len(c.clients)
	return idx
}

func (c *RotatingClient) recordSuccess(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[idx] = 0
}

func (c *RotatingClient) recordFailure(idx int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[idx]++
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		// A bad key never heals on its own; park it for the full cooldown
		// immediately.
		c.coolUntil[idx] = time.Now().Add(defaultKeyCooldown)
		return
	}
	if c.failures[idx] >= failuresBeforeCool {
		c.coolUntil[idx] = time.Now().Add(defaultKeyCooldown)
		c.failures[idx] = 0
	}
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusUnauthorized:
			return true // next key may have quota or be valid
		case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
			return false
		}
		return apiErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return true
}

func buildParams(req Request) (openai.ChatCompletionNewParams, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(NormalizeModelName(req.Model)),
		Messages: convertMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return params, err
		}
		params.Tools = tools
		if req.ToolChoice != "" {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: openai.String(req.ToolChoice),
			}
		}
	}
	return params, nil
}

func convertMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			result = append(result, buildAssistantMessage(msg))
		case RoleTool:
			result = append(result, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			result = append(result, openai.UserMessage(msg.Content))
		}
	}
	return result
}

func buildAssistantMessage(msg Message) openai.ChatCompletionMessageParamUnion {
	assistant := openai.ChatCompletionAssistantMessageParam{}
	if msg.Content != "" {
		assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openai.String(msg.Content),
		}
	}
	for _, call := range msg.ToolCalls {
		if call.ID == "" || call.Function.Name == "" {
			continue
		}
		assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: call.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

func convertTools(tools []Tool) ([]openai.ChatCompletionToolParam, error) {
	result := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		var parameters map[string]any
		if len(t.Function.Parameters) > 0 {
			if err := json.Unmarshal(t.Function.Parameters, &parameters); err != nil {
				return nil, fmt.Errorf("tool %s parameters: %w", t.Function.Name, err)
			}
		}
		param := openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:       t.Function.Name,
				Parameters: shared.FunctionParameters(parameters),
			},
		}
		if t.Function.Description != "" {
			param.Function.Description = openai.Opt(t.Function.Description)
		}
		result = append(result, param)
	}
	return result, nil
}

func convertCompletion(completion *openai.ChatCompletion) *Completion {
	if completion == nil {
		return &Completion{}
	}
	out := &Completion{Choices: make([]Choice, 0, len(completion.Choices))}
	for _, choice := range completion.Choices {
		msg := Message{
			Role:    RoleAssistant,
			Content: choice.Message.Content,
		}
		for _, tc := range choice.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out.Choices = append(out.Choices, Choice{
			Message:      msg,
			FinishReason: string(choice.FinishReason),
		})
	}
	return out
}

// NormalizeModelName strips a provider prefix ("openai/gpt-4o" -> "gpt-4o")
// so that config values written for routed gateways still work against a
// plain OpenAI-compatible endpoint.
func NormalizeModelName(model string) string {
	model = strings.TrimSpace(model)
	if idx := strings.LastIndex(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}
