package convcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haloweave/cortana/internal/llm"
)

// wordTokens makes token counts deterministic for threshold tests.
func wordTokens(_, text string) int {
	return len(strings.Fields(text))
}

func newTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	if cfg.Model == "" {
		cfg.Model = "gpt-4"
	}
	if cfg.CountTokens == nil {
		cfg.CountTokens = wordTokens
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func user(content string) llm.Message {
	return llm.Message{Role: llm.RoleUser, Content: content}
}

func assistant(content string) llm.Message {
	return llm.Message{Role: llm.RoleAssistant, Content: content}
}

func TestAppendAndHistory(t *testing.T) {
	c := newTestCache(t, Config{})

	c.Append("u1", user("hello"), assistant("hi there"))
	history := c.History(context.Background(), "u1")

	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, "hi there", history[1].Content)

	// other users are isolated
	assert.Empty(t, c.History(context.Background(), "u2"))
}

func TestClear(t *testing.T) {
	c := newTestCache(t, Config{})
	c.Append("u1", user("hello"))
	c.Clear("u1")
	assert.Empty(t, c.History(context.Background(), "u1"))
}

func TestStats(t *testing.T) {
	c := newTestCache(t, Config{})

	_, ok := c.Stats("u1")
	assert.False(t, ok)

	c.Append("u1", user("one two three"))
	stats, ok := c.Stats("u1")
	require.True(t, ok)
	assert.Equal(t, 1, stats.Messages)
	assert.Equal(t, 3, stats.TotalTokens)
	assert.False(t, stats.HasSummary)
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(t, Config{TTL: 50 * time.Millisecond})

	c.Append("u1", user("hello"))
	time.Sleep(80 * time.Millisecond)

	assert.Empty(t, c.History(context.Background(), "u1"))
}

func TestTTLSlidesWithActivity(t *testing.T) {
	c := newTestCache(t, Config{TTL: 120 * time.Millisecond})

	c.Append("u1", user("first"))
	for i := 0; i < 3; i++ {
		time.Sleep(60 * time.Millisecond)
		c.Append("u1", assistant("still here"))
	}

	history := c.History(context.Background(), "u1")
	assert.NotEmpty(t, history)
	assert.Equal(t, "first", history[0].Content)
}

func TestCompaction(t *testing.T) {
	var summarized string
	// gpt-4 context is 8192; ratio 0.01 puts the threshold at 81 tokens
	c := newTestCache(t, Config{
		TokenRatio: 0.01,
		KeepRecent: 1,
		Summarize: func(_ context.Context, text string) (string, error) {
			summarized = text
			return "user discussed many numbered things", nil
		},
	})

	for i := 0; i < 10; i++ {
		c.Append("u1",
			user("question about topic number one two three four five"),
			assistant("answer about topic number one two three four five"))
	}

	history := c.History(context.Background(), "u1")

	require.NotEmpty(t, summarized)
	assert.Contains(t, summarized, "User: question about topic")
	assert.Contains(t, summarized, "Assistant: answer about topic")

	// summary leads as a system message, then the retained tail
	require.GreaterOrEqual(t, len(history), 3)
	assert.Equal(t, llm.RoleSystem, history[0].Role)
	assert.Contains(t, history[0].Content, "[Conversation Summary]")
	assert.Contains(t, history[0].Content, "user discussed many numbered things")
	assert.Equal(t, llm.RoleUser, history[1].Role)

	stats, ok := c.Stats("u1")
	require.True(t, ok)
	assert.True(t, stats.HasSummary)
	assert.Equal(t, 2, stats.Messages)
}

func TestCompactionSummaryFailure(t *testing.T) {
	c := newTestCache(t, Config{
		TokenRatio: 0.01,
		KeepRecent: 1,
		Summarize: func(_ context.Context, _ string) (string, error) {
			return "", errors.New("provider down")
		},
	})

	for i := 0; i < 10; i++ {
		c.Append("u1", user("one two three four five six"), assistant("seven eight nine ten eleven twelve"))
	}

	history := c.History(context.Background(), "u1")
	require.NotEmpty(t, history)
	assert.Contains(t, history[0].Content, "[Summary generation failed")
}

func TestCompactionSkippedWhenShort(t *testing.T) {
	called := false
	c := newTestCache(t, Config{
		TokenRatio: 0.01,
		KeepRecent: 5,
		Summarize: func(_ context.Context, _ string) (string, error) {
			called = true
			return "summary", nil
		},
	})

	// over the token threshold but within KeepRecent*2 messages
	c.Append("u1", user(strings.Repeat("word ", 200)))
	history := c.History(context.Background(), "u1")

	assert.False(t, called)
	require.Len(t, history, 1)
}

func TestCompactedTailStartsOnUserTurn(t *testing.T) {
	c := newTestCache(t, Config{
		TokenRatio: 0.01,
		KeepRecent: 1,
		Summarize: func(_ context.Context, _ string) (string, error) {
			return "summary", nil
		},
	})

	// turns of three messages each: user, assistant tool call, tool result
	for i := 0; i < 8; i++ {
		c.Append("u1",
			user("please check my calendar for tomorrow morning"),
			llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1"}}},
			llm.Message{Role: llm.RoleTool, Content: "no conflicts found", ToolCallID: "c1"})
	}

	history := c.History(context.Background(), "u1")
	require.NotEmpty(t, history)
	for i, m := range history {
		if m.Role != llm.RoleSystem {
			assert.Equal(t, llm.RoleUser, m.Role, "first retained turn at index %d", i)
			break
		}
	}
}

func TestPersistenceAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	c1 := newTestCache(t, Config{PersistDir: dir})
	c1.Append("u1", user("remember me"), assistant("noted"))

	// fresh cache instance, same directory
	c2 := newTestCache(t, Config{PersistDir: dir})
	history := c2.History(context.Background(), "u1")
	require.Len(t, history, 2)
	assert.Equal(t, "remember me", history[0].Content)
}

func TestPersistenceExpiredFileDropped(t *testing.T) {
	dir := t.TempDir()

	c1 := newTestCache(t, Config{PersistDir: dir, TTL: 50 * time.Millisecond})
	c1.Append("u1", user("stale"))
	time.Sleep(80 * time.Millisecond)

	c2 := newTestCache(t, Config{PersistDir: dir, TTL: 50 * time.Millisecond})
	assert.Empty(t, c2.History(context.Background(), "u2"))
	assert.Empty(t, c2.History(context.Background(), "u1"))
}

func TestPersistenceCorruptFileDropped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conversation_u1.json"), []byte("not json"), 0600))

	c := newTestCache(t, Config{PersistDir: dir})
	assert.Empty(t, c.History(context.Background(), "u1"))

	_, err := os.Stat(filepath.Join(dir, "conversation_u1.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestClearRemovesPersistFile(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, Config{PersistDir: dir})
	c.Append("user:42", user("hello"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	c.Clear("user:42")
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSessionCap(t *testing.T) {
	c := newTestCache(t, Config{MaxSessions: 2})

	c.Append("u1", user("a"))
	c.Append("u2", user("b"))
	c.Append("u3", user("c"))

	assert.Equal(t, 2, c.Sessions())
	// the oldest session was evicted
	assert.Empty(t, c.History(context.Background(), "u1"))
	assert.NotEmpty(t, c.History(context.Background(), "u3"))
}
