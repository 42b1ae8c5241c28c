// Package gateway wires the assistant together: store, conversation
// cache, tool registry, engine, channels and the reminder scheduler, plus
// the inbound message loop that connects them.
package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haloweave/cortana/internal/agent"
	"github.com/haloweave/cortana/internal/bus"
	"github.com/haloweave/cortana/internal/channel"
	"github.com/haloweave/cortana/internal/config"
	"github.com/haloweave/cortana/internal/convcache"
	"github.com/haloweave/cortana/internal/llm"
	"github.com/haloweave/cortana/internal/scheduler"
	"github.com/haloweave/cortana/internal/skills"
	"github.com/haloweave/cortana/internal/store"
	"github.com/haloweave/cortana/internal/tools"
)

const defaultBufSize = 100

const defaultIdentity = `You are Cortana, a warm and capable personal assistant.
You manage the user's todos, calendar, reminders and memories, and you can
reach the web, files and shell when those tools are enabled.`

const memoryContextLimit = 5

// Options for creating a Gateway.
type Options struct {
	Client     llm.Client     // injected LLM client (for testing)
	SignalChan chan os.Signal // injected signal channel (for testing)
}

type Gateway struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	store    *store.Store
	cache    *convcache.Cache
	engine   *agent.Engine
	channels *channel.ChannelManager
	sched    *scheduler.Service

	signalChan chan os.Signal
}

// New creates a Gateway with default options.
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing.
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg, signalChan: opts.SignalChan}

	g.bus = bus.NewMessageBus(defaultBufSize)

	st, err := store.NewStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	g.store = st

	client := opts.Client
	if client == nil {
		rc, err := llm.NewRotatingClient(llm.RotatorConfig{
			APIKeys: cfg.Provider.APIKeys,
			BaseURL: cfg.Provider.BaseURL,
		})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("create llm client: %w", err)
		}
		client = rc
	}

	persistDir := cfg.Conversation.PersistPath
	if persistDir == "" {
		persistDir = filepath.Join(config.ConfigDir(), "conversations")
	}
	cache, err := convcache.New(convcache.Config{
		Model:       cfg.Agent.Model,
		TTL:         time.Duration(cfg.Conversation.TTLMinutes) * time.Minute,
		TokenRatio:  cfg.Conversation.TokenRatio,
		MaxSessions: cfg.Conversation.MaxSessions,
		PersistDir:  persistDir,
		Summarize:   convcache.NewSummarizer(client, cfg.Agent.Model),
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create conversation cache: %w", err)
	}
	g.cache = cache

	registry := agent.NewRegistry()
	if err := tools.RegisterAll(registry, tools.Deps{
		Store:     st,
		Config:    cfg.Tools,
		Workspace: cfg.Agent.Workspace,
	}); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}

	temperature := cfg.Agent.Temperature
	g.engine = agent.NewEngine(agent.EngineConfig{
		Client:       client,
		Registry:     registry,
		Model:        cfg.Agent.Model,
		MaxSteps:     cfg.Agent.MaxSteps,
		MaxTokens:    cfg.Agent.MaxTokens,
		Temperature:  &temperature,
		SystemPrompt: g.systemPrompt,
	})

	if cfg.Scheduler.Enabled {
		g.sched = scheduler.NewService(st, g.bus, cfg.Scheduler.SweepSpec)
	}

	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

// HandleDirect processes one inbound message outside any channel and
// returns the reply text. The CLI uses it for single-shot and REPL runs.
func (g *Gateway) HandleDirect(ctx context.Context, msg bus.InboundMessage) string {
	return g.handleMessage(ctx, msg)
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		g.bus.DispatchOutbound(ctx)
		return nil
	})

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if g.sched != nil {
		if err := g.sched.Start(ctx); err != nil {
			log.Printf("[gateway] scheduler start warning: %v", err)
		}
	}

	group.Go(func() error {
		g.processLoop(ctx)
		return nil
	})

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	cancel()
	_ = group.Wait()
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))

			reply := g.handleMessage(ctx, msg)
			if reply != "" {
				g.bus.Outbound <- bus.OutboundMessage{
					Channel: msg.Channel,
					ChatID:  msg.ChatID,
					Content: reply,
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handleMessage(ctx context.Context, msg bus.InboundMessage) string {
	if err := g.store.EnsureUser(msg.SenderID, msg.SenderName); err != nil {
		log.Printf("[gateway] ensure user %s warning: %v", msg.SenderID, err)
	}

	rc := agent.NewRunContext()
	rc.UserID = msg.SenderID
	rc.UserName = msg.SenderName
	rc.ChatID = msg.ChatID
	rc.Channel = msg.Channel
	rc.Timezone = g.userTimezone(msg.SenderID)
	rc.MemoryContext = g.memoryContext(msg.SenderID)

	sessionKey := msg.SessionKey()
	history := g.cache.History(ctx, sessionKey)

	res := g.engine.Run(ctx, msg.Content, rc, history)
	g.cache.Append(sessionKey, res.NewMessages...)

	if res.UsedTools() {
		log.Printf("[gateway] run for %s used %d tool call(s) over %d step(s)", msg.SenderID, len(res.ToolCalls), res.Steps)
	}
	return res.Reply
}

func (g *Gateway) userTimezone(userID string) string {
	if user, err := g.store.GetUser(userID); err == nil && user.Timezone != "" {
		return user.Timezone
	}
	return g.cfg.Agent.Timezone
}

// memoryContext renders the user's recent long-term memories for the
// system prompt. Empty when the user has none.
func (g *Gateway) memoryContext(userID string) string {
	memories, err := g.store.RecentMemories(userID, memoryContextLimit)
	if err != nil {
		log.Printf("[gateway] recent memories warning: %v", err)
		return ""
	}
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range memories {
		b.WriteString("- ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (g *Gateway) systemPrompt(ctx context.Context, rc *agent.RunContext) string {
	ws := g.cfg.Agent.Workspace

	identity := readPromptFile(ws, "IDENTITY.md")
	if identity == "" {
		identity = defaultIdentity
	}
	soul := readPromptFile(ws, "SOUL.md")
	userDoc := g.renderUserDoc(readPromptFile(ws, "USER.md"), rc)
	toolsDoc := readPromptFile(ws, "TOOLS.md")

	sections := []string{identity}
	if soul != "" {
		sections = append(sections, soul)
	}
	if userDoc != "" {
		sections = append(sections, userDoc)
	}
	sections = append(sections, g.timeSection(rc))
	if toolsDoc != "" {
		sections = append(sections, toolsDoc)
	}
	if sk := g.skillsSection(rc.UserID); sk != "" {
		sections = append(sections, sk)
	}

	return strings.Join(sections, "\n\n---\n\n")
}

func (g *Gateway) renderUserDoc(doc string, rc *agent.RunContext) string {
	if doc == "" {
		return ""
	}
	name := rc.UserName
	if name == "" {
		name = "Unknown"
	}
	doc = strings.ReplaceAll(doc, "- **Name:** (Loaded from context)", "- **Name:** "+name)
	doc = strings.ReplaceAll(doc, "- **ID:** (Loaded from context)", "- **ID:** "+rc.UserID)
	doc = strings.ReplaceAll(doc, "- **Timezone:** (Loaded from config)", "- **Timezone:** "+rc.Timezone)
	return doc
}

func (g *Gateway) timeSection(rc *agent.RunContext) string {
	tz := rc.Timezone
	loc, err := time.LoadLocation(tz)
	if tz == "" || err != nil {
		loc = time.UTC
		tz = "UTC"
	}
	now := time.Now().In(loc)

	memoryContext := rc.MemoryContext
	if memoryContext == "" {
		memoryContext = "No previous context."
	}

	var b strings.Builder
	b.WriteString("# Current Time\n\n")
	fmt.Fprintf(&b, "- **Now:** %s (%s)\n", now.Format(time.RFC3339), now.Weekday())
	fmt.Fprintf(&b, "- **Timezone:** %s\n\n", tz)
	b.WriteString("## Retrieved Memory\n\n<RETRIEVED_MEMORY>\n")
	b.WriteString(memoryContext)
	b.WriteString("\n</RETRIEVED_MEMORY>")
	return b.String()
}

func (g *Gateway) skillsSection(userID string) string {
	ws := g.cfg.Agent.Workspace
	globalDir := filepath.Join(ws, "skills")
	userDir := ""
	if userID != "" {
		userDir = filepath.Join(ws, "users", userID, "skills")
	}

	loaded, err := skills.LoadSkills(globalDir, userDir)
	if err != nil {
		log.Printf("[gateway] skills load warning: %v", err)
		return ""
	}
	return skills.FormatForPrompt(loaded)
}

func (g *Gateway) Shutdown() error {
	if g.sched != nil {
		g.sched.Stop()
	}
	_ = g.channels.StopAll()
	if err := g.store.Close(); err != nil {
		log.Printf("[gateway] close store warning: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func readPromptFile(workspace, name string) string {
	data, err := os.ReadFile(filepath.Join(workspace, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
