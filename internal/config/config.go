package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	DefaultModel             = "gpt-4o"
	DefaultMaxTokens         = 4096
	DefaultTemperature       = 0.7
	DefaultMaxSteps          = 15
	DefaultExecTimeout       = 60
	DefaultCacheTTLMinutes   = 30
	DefaultCacheTokenRatio   = 0.7
	DefaultCacheMaxSessions  = 256
	DefaultReminderSweepSpec = "* * * * *"
)

type Config struct {
	Agent        AgentConfig        `json:"agent"`
	Provider     ProviderConfig     `json:"provider"`
	Channels     ChannelsConfig     `json:"channels"`
	Tools        ToolsConfig        `json:"tools"`
	Conversation ConversationConfig `json:"conversation"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	Database     DatabaseConfig     `json:"database"`
}

type AgentConfig struct {
	Workspace   string  `json:"workspace"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
	MaxSteps    int     `json:"maxSteps"`
	Timezone    string  `json:"timezone,omitempty"`
}

type ProviderConfig struct {
	APIKeys []string `json:"apiKeys"`
	BaseURL string   `json:"baseUrl,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
}

type ToolsConfig struct {
	EnableWeb           bool `json:"enableWeb"`
	EnableFiles         bool `json:"enableFiles"`
	EnableShell         bool `json:"enableShell"`
	ExecTimeout         int  `json:"execTimeout"`
	RestrictToWorkspace bool `json:"restrictToWorkspace"`
}

type ConversationConfig struct {
	TTLMinutes  int     `json:"ttlMinutes"`
	TokenRatio  float64 `json:"tokenRatio"` // share of the model context kept for history
	MaxSessions int     `json:"maxSessions"`
	PersistPath string  `json:"persistPath,omitempty"`
}

type SchedulerConfig struct {
	Enabled   bool   `json:"enabled"`
	SweepSpec string `json:"sweepSpec"` // cron expression for the reminder sweep
}

type DatabaseConfig struct {
	Path string `json:"path"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Workspace:   filepath.Join(home, ".cortana", "workspace"),
			Model:       DefaultModel,
			MaxTokens:   DefaultMaxTokens,
			Temperature: DefaultTemperature,
			MaxSteps:    DefaultMaxSteps,
		},
		Provider: ProviderConfig{},
		Channels: ChannelsConfig{},
		Tools: ToolsConfig{
			EnableWeb:           true,
			EnableFiles:         true,
			ExecTimeout:         DefaultExecTimeout,
			RestrictToWorkspace: true,
		},
		Conversation: ConversationConfig{
			TTLMinutes:  DefaultCacheTTLMinutes,
			TokenRatio:  DefaultCacheTokenRatio,
			MaxSessions: DefaultCacheMaxSessions,
		},
		Scheduler: SchedulerConfig{
			Enabled:   true,
			SweepSpec: DefaultReminderSweepSpec,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(ConfigDir(), "cortana.db"),
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".cortana")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if keys := os.Getenv("CORTANA_API_KEYS"); keys != "" {
		cfg.Provider.APIKeys = splitKeys(keys)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && len(cfg.Provider.APIKeys) == 0 {
		cfg.Provider.APIKeys = []string{key}
	}
	if url := os.Getenv("CORTANA_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("CORTANA_MODEL"); model != "" {
		cfg.Agent.Model = model
	}
	if token := os.Getenv("CORTANA_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if dbPath := os.Getenv("CORTANA_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if tz := os.Getenv("CORTANA_TIMEZONE"); tz != "" {
		cfg.Agent.Timezone = tz
	}
	if steps := os.Getenv("CORTANA_MAX_STEPS"); steps != "" {
		if parsed, err := strconv.Atoi(steps); err == nil && parsed > 0 {
			cfg.Agent.MaxSteps = parsed
		}
	}

	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultConfig().Agent.Workspace
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModel
	}
	if cfg.Agent.MaxSteps <= 0 {
		cfg.Agent.MaxSteps = DefaultMaxSteps
	}
	if cfg.Conversation.TTLMinutes <= 0 {
		cfg.Conversation.TTLMinutes = DefaultCacheTTLMinutes
	}
	if cfg.Conversation.TokenRatio <= 0 || cfg.Conversation.TokenRatio > 1 {
		cfg.Conversation.TokenRatio = DefaultCacheTokenRatio
	}
	if cfg.Conversation.MaxSessions <= 0 {
		cfg.Conversation.MaxSessions = DefaultCacheMaxSessions
	}
	if cfg.Scheduler.SweepSpec == "" {
		cfg.Scheduler.SweepSpec = DefaultReminderSweepSpec
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = DefaultConfig().Database.Path
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0600)
}

// splitKeys parses a comma or whitespace separated key list.
func splitKeys(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			keys = append(keys, f)
		}
	}
	return keys
}
