// Package convcache keeps per-user conversation history in memory with a
// sliding TTL, compacting old turns into an LLM-written summary when the
// history approaches the model's context limit. State is mirrored to disk
// so a restart does not lose an active conversation.
package convcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/haloweave/cortana/internal/llm"
)

const (
	DefaultTTL        = 30 * time.Minute
	DefaultTokenRatio = 0.8 // fraction of the context limit that triggers compaction
	DefaultKeepRecent = 3   // message pairs kept verbatim after compaction
	DefaultSessions   = 256
)

// Summarizer condenses conversation text into a short summary.
type Summarizer func(ctx context.Context, conversationText string) (string, error)

// Config configures a Cache. Zero values fall back to the defaults above.
type Config struct {
	Model       string
	TTL         time.Duration
	TokenRatio  float64
	KeepRecent  int
	MaxSessions int
	PersistDir  string // empty disables persistence
	Summarize   Summarizer
	CountTokens func(model, text string) int
}

type conversation struct {
	UserID       string        `json:"user_id"`
	Messages     []llm.Message `json:"messages"`
	Summary      string        `json:"compact_summary,omitempty"`
	LastActivity time.Time     `json:"last_activity"`
	TotalTokens  int           `json:"total_tokens"`
}

// Cache is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, *conversation]
	cfg      Config
}

func New(cfg Config) (*Cache, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TokenRatio <= 0 || cfg.TokenRatio > 1 {
		cfg.TokenRatio = DefaultTokenRatio
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = DefaultKeepRecent
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultSessions
	}
	if cfg.CountTokens == nil {
		cfg.CountTokens = llm.CountTokens
	}
	if cfg.PersistDir != "" {
		if err := os.MkdirAll(cfg.PersistDir, 0755); err != nil {
			return nil, fmt.Errorf("create persist dir: %w", err)
		}
	}
	return &Cache{
		sessions: expirable.NewLRU[string, *conversation](cfg.MaxSessions, nil, cfg.TTL),
		cfg:      cfg,
	}, nil
}

// Append adds run output (or a user/assistant turn) to the user's history
// and refreshes the TTL.
func (c *Cache) Append(userID string, msgs ...llm.Message) {
	if len(msgs) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	conv := c.getOrCreateLocked(userID)
	for _, m := range msgs {
		conv.TotalTokens += c.cfg.CountTokens(c.cfg.Model, m.Content)
	}
	conv.Messages = append(conv.Messages, msgs...)
	c.touchLocked(conv)
	c.saveLocked(conv)
}

// History returns the conversation for the next run: the compaction summary
// (when present) as a leading system message, then the retained turns.
// When the history crosses the token threshold it is compacted first.
func (c *Cache) History(ctx context.Context, userID string) []llm.Message {
	c.mu.Lock()
	conv := c.getOrCreateLocked(userID)

	limit := llm.ContextLimit(c.cfg.Model)
	threshold := int(float64(limit) * c.cfg.TokenRatio)
	tokens := c.recountLocked(conv)
	needsCompact := tokens > threshold && len(conv.Messages) > c.cfg.KeepRecent*2
	c.mu.Unlock()

	if needsCompact {
		log.Printf("[convcache] user %s over token threshold (%d/%d), compacting", userID, tokens, threshold)
		c.compact(ctx, userID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	conv = c.getOrCreateLocked(userID)
	c.touchLocked(conv)

	out := make([]llm.Message, 0, len(conv.Messages)+1)
	if conv.Summary != "" {
		out = append(out, llm.Message{
			Role:    llm.RoleSystem,
			Content: "[Conversation Summary]\n" + conv.Summary + "\n[End Summary]",
		})
	}
	return append(out, conv.Messages...)
}

// Clear drops the user's conversation, in memory and on disk.
func (c *Cache) Clear(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions.Remove(userID)
	c.deleteFileLocked(userID)
}

// Sessions reports how many conversations are currently live.
func (c *Cache) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions.Len()
}

// Stats describes one cached conversation.
type Stats struct {
	Messages    int
	TotalTokens int
	HasSummary  bool
	LastActive  time.Time
}

func (c *Cache) Stats(userID string) (Stats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.sessions.Get(userID)
	if !ok {
		return Stats{}, false
	}
	return Stats{
		Messages:    len(conv.Messages),
		TotalTokens: conv.TotalTokens,
		HasSummary:  conv.Summary != "",
		LastActive:  conv.LastActivity,
	}, true
}

// compact folds everything but the most recent turns into a summary.
func (c *Cache) compact(ctx context.Context, userID string) {
	c.mu.Lock()
	conv, ok := c.sessions.Get(userID)
	if !ok || len(conv.Messages) <= c.cfg.KeepRecent*2 {
		c.mu.Unlock()
		return
	}

	origLen := len(conv.Messages)
	cut := origLen - c.cfg.KeepRecent*2
	// back the cut up to a user turn so the retained tail never opens
	// with an orphaned tool result
	for cut > 0 && conv.Messages[cut].Role != llm.RoleUser {
		cut--
	}
	if cut == 0 {
		c.mu.Unlock()
		return
	}
	older := conv.Messages[:cut]
	recent := append([]llm.Message(nil), conv.Messages[cut:]...)

	var b strings.Builder
	if conv.Summary != "" {
		b.WriteString("[Previous Summary]\n")
		b.WriteString(conv.Summary)
		b.WriteString("\n\n[New Conversation]\n")
	}
	for _, msg := range older {
		b.WriteString(roleLabel(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n\n")
	}
	text := b.String()
	c.mu.Unlock()

	// summarization happens outside the lock; it is a network call
	summary := c.summarize(ctx, text)

	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok = c.sessions.Get(userID)
	if !ok {
		return
	}
	conv.Summary = summary
	// keep anything appended while the summary was being generated
	if len(conv.Messages) > origLen {
		recent = append(recent, conv.Messages[origLen:]...)
	}
	conv.Messages = recent
	c.recountLocked(conv)
	c.touchLocked(conv)
	c.saveLocked(conv)
	log.Printf("[convcache] compacted conversation for user %s: %d messages summarized", userID, len(older))
}

func (c *Cache) summarize(ctx context.Context, text string) string {
	if c.cfg.Summarize != nil {
		summary, err := c.cfg.Summarize(ctx, text)
		if err == nil && summary != "" {
			return summary
		}
		if err != nil {
			log.Printf("[convcache] summary generation failed: %v", err)
		}
	}
	return fmt.Sprintf("[Summary generation failed. Conversation had approximately %d characters.]", len(text))
}

func roleLabel(role string) string {
	switch role {
	case llm.RoleUser:
		return "User"
	case llm.RoleAssistant:
		return "Assistant"
	case llm.RoleTool:
		return "Tool"
	default:
		return "System"
	}
}

// NewSummarizer returns a Summarizer backed by a completion client.
func NewSummarizer(client llm.Client, model string) Summarizer {
	const prompt = `Condense the following conversation history into a concise summary. Preserve:
1. The user's key needs and preferences
2. Important task context and items in progress
3. Key decisions, conclusions, and commitments
4. Relevant factual details (dates, times, names)

Output terse bullet points with maximum information density.

Conversation history:
`
	return func(ctx context.Context, text string) (string, error) {
		completion, err := client.Complete(ctx, llm.Request{
			Model: model,
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: "You summarize conversations, extracting and compressing the key information."},
				{Role: llm.RoleUser, Content: prompt + text},
			},
			MaxTokens: 1000,
		})
		if err != nil {
			return "", err
		}
		if len(completion.Choices) == 0 {
			return "", fmt.Errorf("empty summary response")
		}
		return completion.Choices[0].Message.Content, nil
	}
}

// ---- internals (callers hold c.mu) ----

func (c *Cache) getOrCreateLocked(userID string) *conversation {
	if conv, ok := c.sessions.Get(userID); ok {
		return conv
	}
	if conv := c.loadFileLocked(userID); conv != nil {
		c.sessions.Add(userID, conv)
		return conv
	}
	conv := &conversation{UserID: userID, LastActivity: time.Now()}
	c.sessions.Add(userID, conv)
	return conv
}

// touchLocked re-adds the entry so the LRU's TTL slides with activity.
func (c *Cache) touchLocked(conv *conversation) {
	conv.LastActivity = time.Now()
	c.sessions.Add(conv.UserID, conv)
}

func (c *Cache) recountLocked(conv *conversation) int {
	total := 0
	if conv.Summary != "" {
		total += c.cfg.CountTokens(c.cfg.Model, conv.Summary)
	}
	for _, m := range conv.Messages {
		total += c.cfg.CountTokens(c.cfg.Model, m.Content)
	}
	conv.TotalTokens = total
	return total
}

func (c *Cache) persistPath(userID string) string {
	if c.cfg.PersistDir == "" {
		return ""
	}
	safe := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, userID)
	return filepath.Join(c.cfg.PersistDir, "conversation_"+safe+".json")
}

func (c *Cache) saveLocked(conv *conversation) {
	path := c.persistPath(conv.UserID)
	if path == "" {
		return
	}
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		log.Printf("[convcache] marshal conversation: %v", err)
		return
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		log.Printf("[convcache] save conversation: %v", err)
	}
}

func (c *Cache) loadFileLocked(userID string) *conversation {
	path := c.persistPath(userID)
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var conv conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		log.Printf("[convcache] corrupt conversation file for user %s: %v", userID, err)
		_ = os.Remove(path)
		return nil
	}
	if time.Since(conv.LastActivity) > c.cfg.TTL {
		_ = os.Remove(path)
		return nil
	}
	return &conv
}

func (c *Cache) deleteFileLocked(userID string) {
	if path := c.persistPath(userID); path != "" {
		_ = os.Remove(path)
	}
}
