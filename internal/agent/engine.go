// Package agent implements the tool-calling loop at the heart of the
// assistant: it sends conversation state to a completion provider, executes
// the tool calls the model requests, feeds the results back, and repeats
// until the model produces a plain reply or the step budget runs out.
package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/haloweave/cortana/internal/llm"
)

// DefaultMaxSteps bounds the number of completion round-trips per run.
const DefaultMaxSteps = 15

// SystemPromptFunc builds the system prompt for a run. It runs once per
// call to Run, so prompts can include current time, user memory and other
// per-turn state.
type SystemPromptFunc func(ctx context.Context, rc *RunContext) string

// EngineConfig configures a new Engine.
type EngineConfig struct {
	Client       llm.Client
	Registry     *Registry
	Model        string
	MaxSteps     int
	MaxTokens    int
	Temperature  *float64
	SystemPrompt SystemPromptFunc
}

// Engine runs the multi-turn tool-calling conversation loop. It is safe
// for concurrent use as long as registered tools are.
type Engine struct {
	client       llm.Client
	registry     *Registry
	model        string
	maxSteps     int
	maxTokens    int
	temperature  *float64
	systemPrompt SystemPromptFunc
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	return &Engine{
		client:       cfg.Client,
		registry:     cfg.Registry,
		model:        cfg.Model,
		maxSteps:     cfg.MaxSteps,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		systemPrompt: cfg.SystemPrompt,
	}
}

// Registry exposes the engine's tool registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Run processes one user turn. history is the prior conversation without
// the system prompt; the engine prepends a fresh system prompt each run.
//
// Run never returns an error: transport failures, malformed provider
// responses and an exhausted step budget all become apologetic reply text,
// and per-tool failures are fed back to the model as tool results.
func (e *Engine) Run(ctx context.Context, userText string, rc *RunContext, history []llm.Message) *RunResult {
	if rc == nil {
		rc = NewRunContext()
	}

	messages := make([]llm.Message, 0, len(history)+2)
	if e.systemPrompt != nil {
		if sp := e.systemPrompt(ctx, rc); sp != "" {
			messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: sp})
		}
	}
	messages = append(messages, history...)

	userMsg := llm.Message{Role: llm.RoleUser, Content: userText}
	messages = append(messages, userMsg)

	res := &RunResult{NewMessages: []llm.Message{userMsg}}
	tools := e.registry.ProviderTools()
	toolChoice := ""
	if len(tools) > 0 {
		toolChoice = "auto"
	}

	for step := 0; step < e.maxSteps; step++ {
		res.Steps = step + 1

		completion, err := e.client.Complete(ctx, llm.Request{
			Model:       e.model,
			Messages:    messages,
			Tools:       tools,
			ToolChoice:  toolChoice,
			MaxTokens:   e.maxTokens,
			Temperature: e.temperature,
		})
		if err != nil {
			log.Printf("[agent] completion failed on step %d: %v", step+1, err)
			return e.finish(res, fmt.Sprintf("I encountered an error communicating with the AI service: %v", err))
		}
		if len(completion.Choices) == 0 {
			log.Printf("[agent] provider returned no choices on step %d", step+1)
			return e.finish(res, "I received an unexpected response from the AI service. Let's try again in a moment.")
		}

		msg := completion.Choices[0].Message
		// Some providers omit call IDs; each tool result message has to
		// reference one, so fill in the gaps before the message is recorded.
		for i := range msg.ToolCalls {
			if msg.ToolCalls[i].ID == "" {
				msg.ToolCalls[i].ID = "call_" + uuid.NewString()
			}
		}
		messages = append(messages, msg)
		res.NewMessages = append(res.NewMessages, msg)

		if len(msg.ToolCalls) == 0 {
			res.Reply = msg.Content
			res.Success = true
			return res
		}

		log.Printf("[agent] step %d: executing %d tool call(s)", step+1, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			started := time.Now()
			text := e.registry.Dispatch(ctx, rc, tc.Function.Name, tc.Function.Arguments)
			res.ToolCalls = append(res.ToolCalls, ToolCallRecord{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
				Result:    text,
				Step:      step + 1,
				Duration:  time.Since(started),
			})
			toolMsg := llm.Message{Role: llm.RoleTool, Content: text, ToolCallID: tc.ID}
			messages = append(messages, toolMsg)
			res.NewMessages = append(res.NewMessages, toolMsg)
		}
	}

	log.Printf("[agent] step budget of %d exhausted without a final reply", e.maxSteps)
	return e.finish(res, "I'm having trouble completing this request. It seems to require too many steps. Please try simplifying your request.")
}

// finish sets the reply and records it as an assistant message so cached
// history stays coherent with what the user saw.
func (e *Engine) finish(res *RunResult, reply string) *RunResult {
	res.Reply = reply
	res.NewMessages = append(res.NewMessages, llm.Message{Role: llm.RoleAssistant, Content: reply})
	return res
}
