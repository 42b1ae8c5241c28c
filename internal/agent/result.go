package agent

import (
	"time"

	"github.com/haloweave/cortana/internal/llm"
)

// ToolCallRecord captures one executed tool call for logging and
// inspection. Result holds the text handed back to the model, including
// converted error text. Step is the 1-based loop step that requested it.
type ToolCallRecord struct {
	ID        string
	Name      string
	Arguments string
	Result    string
	Step      int
	Duration  time.Duration
}

// RunResult is the outcome of one engine run. A run always produces a
// user-facing Reply; failures along the way surface there rather than as an
// error value.
type RunResult struct {
	// Reply is the text to show the user.
	Reply string

	// Success is false when the run ended in a terminal failure
	// (transport error, malformed provider response, exhausted step
	// budget) rather than a model reply.
	Success bool

	// NewMessages are the messages produced during this run, starting
	// with the user turn, suitable for appending to conversation history.
	NewMessages []llm.Message

	// ToolCalls lists every tool execution in the order it happened.
	ToolCalls []ToolCallRecord

	// Steps is the number of completion round-trips consumed.
	Steps int
}

// UsedTools reports whether any tool call ran during the turn.
func (r *RunResult) UsedTools() bool {
	return len(r.ToolCalls) > 0
}
