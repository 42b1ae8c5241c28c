package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haloweave/cortana/internal/bus"
	"github.com/haloweave/cortana/internal/config"
	"github.com/haloweave/cortana/internal/gateway"
)

// GatewayFactory creates a gateway from config (allows mocking in tests).
type GatewayFactory func(cfg *config.Config) (*gateway.Gateway, error)

// AgentOptions for running the agent command with custom dependencies.
type AgentOptions struct {
	GatewayFactory GatewayFactory
	Stdin          io.Reader
	Stdout         io.Writer
	Stderr         io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "cortana",
	Short: "cortana - personal AI assistant",
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the assistant in single message or REPL mode",
	RunE:  runAgent,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the full gateway (channels + reminder scheduler)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and workspace",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cortana status",
	RunE:  runStatus,
}

var messageFlag string

func init() {
	agentCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	rootCmd.AddCommand(agentCmd, runCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultGatewayFactory(cfg *config.Config) (*gateway.Gateway, error) {
	if len(cfg.Provider.APIKeys) == 0 {
		return nil, fmt.Errorf("no API keys configured. Run 'cortana onboard' or set CORTANA_API_KEYS / OPENAI_API_KEY")
	}
	return gateway.New(cfg)
}

// runAgent is the command handler that uses default options
func runAgent(cmd *cobra.Command, args []string) error {
	return runAgentWithOptions(AgentOptions{})
}

func cliMessage(content, chatID string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    "cli",
		SenderID:   "cli",
		SenderName: "CLI",
		ChatID:     chatID,
		Content:    content,
	}
}

// runAgentWithOptions runs the agent with injectable dependencies for testing
func runAgentWithOptions(opts AgentOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	factory := opts.GatewayFactory
	if factory == nil {
		factory = defaultGatewayFactory
	}

	gw, err := factory(cfg)
	if err != nil {
		return err
	}
	defer gw.Shutdown()

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	ctx := context.Background()

	// Single message mode
	if messageFlag != "" {
		reply := gw.HandleDirect(ctx, cliMessage(messageFlag, "cli"))
		if reply != "" {
			fmt.Fprintln(stdout, reply)
		}
		return nil
	}

	// REPL mode
	fmt.Fprintln(stdout, "cortana agent (type 'exit' to quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		reply := gw.HandleDirect(ctx, cliMessage(input, "cli-repl"))
		if reply != "" {
			fmt.Fprintln(stdout, reply)
		}
	}
	return nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, err := defaultGatewayFactory(cfg)
	if err != nil {
		return err
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, _ := config.LoadConfig()
	ws := cfg.Agent.Workspace
	if err := os.MkdirAll(filepath.Join(ws, "skills"), 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(ws, "users"), 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	writeIfNotExists(filepath.Join(ws, "IDENTITY.md"), defaultIdentityMD)
	writeIfNotExists(filepath.Join(ws, "SOUL.md"), defaultSoulMD)
	writeIfNotExists(filepath.Join(ws, "USER.md"), defaultUserMD)
	writeIfNotExists(filepath.Join(ws, "TOOLS.md"), defaultToolsMD)

	fmt.Printf("Workspace ready: %s\n", ws)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API keys\n", cfgPath)
	fmt.Println("  2. Or set CORTANA_API_KEYS / OPENAI_API_KEY environment variables")
	fmt.Println("  3. Run 'cortana agent -m \"Hello\"' to test")
	fmt.Println("  4. Set a Telegram token and enable the channel to chat from your phone")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Workspace: %s\n", cfg.Agent.Workspace)
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("API Keys: %s\n", keyPoolDisplay(cfg.Provider.APIKeys))
	if cfg.Provider.BaseURL != "" {
		fmt.Printf("Base URL: %s\n", cfg.Provider.BaseURL)
	}
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("Scheduler: enabled=%v\n", cfg.Scheduler.Enabled)
	fmt.Printf("Database: %s\n", cfg.Database.Path)

	if _, err := os.Stat(cfg.Agent.Workspace); err != nil {
		fmt.Println("Workspace: not found (run 'cortana onboard')")
	}
	if info, err := os.Stat(cfg.Database.Path); err == nil {
		fmt.Printf("Database size: %d bytes\n", info.Size())
	} else {
		fmt.Println("Database: not created yet")
	}

	return nil
}

func keyPoolDisplay(keys []string) string {
	switch len(keys) {
	case 0:
		return "not set"
	case 1:
		return maskKey(keys[0])
	default:
		return fmt.Sprintf("%s (+%d more)", maskKey(keys[0]), len(keys)-1)
	}
}

func maskKey(key string) string {
	if len(key) > 8 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return "set"
}

func writeIfNotExists(path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Printf("  Created: %s\n", path)
	}
}

const defaultIdentityMD = `# Identity

You are Cortana, a personal AI assistant.

You manage todos, calendar events, reminders and long-term memories for
your user, and you can reach the web, files and shell when those tools
are enabled.

## Guidelines
- Be concise and helpful
- Use tools proactively when needed
- Save important facts the user tells you with save_memory
- Check retrieved memory for previously stored information
`

const defaultSoulMD = `# Soul

You are a warm and capable assistant that helps with daily tasks,
planning, research, and general questions.

Your personality:
- Direct and efficient
- Technical when needed, simple when possible
- Proactive about using tools to get real answers
`

const defaultUserMD = `# User

- **Name:** (Loaded from context)
- **ID:** (Loaded from context)
- **Timezone:** (Loaded from config)
`

const defaultToolsMD = `# Tool Notes

- Prefer add_todo for tasks and add_reminder for time-based nudges
- Check the calendar for conflicts before adding events
- Search long-term memory before asking the user to repeat themselves
`
