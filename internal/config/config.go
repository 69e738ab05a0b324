// Package config loads and validates the Switchyard gateway configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the gateway.
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Workspace  WorkspaceConfig  `yaml:"workspace" json:"workspace"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Tools      ToolsConfig      `yaml:"tools" json:"tools"`
	Memory     MemoryConfig     `yaml:"memory" json:"memory"`
	Worker     WorkerConfig     `yaml:"worker" json:"worker"`
	Session    SessionConfig    `yaml:"session" json:"session"`
	Supervisor SupervisorConfig `yaml:"supervisor" json:"supervisor"`
	Channels   ChannelsConfig   `yaml:"channels" json:"channels"`
	MCP        []MCPServer      `yaml:"mcp" json:"mcp,omitempty"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

type ServerConfig struct {
	Host     string `yaml:"host" json:"host"`
	HTTPPort int    `yaml:"http_port" json:"http_port"`
}

// WorkspaceConfig scopes all filesystem access for tools.
type WorkspaceConfig struct {
	Root            string   `yaml:"root" json:"root"`
	Autonomy        string   `yaml:"autonomy" json:"autonomy"` // readonly | supervised | full
	BlockedPaths    []string `yaml:"blocked_paths" json:"blocked_paths,omitempty"`
	EnforceSymlinks bool     `yaml:"enforce_symlinks" json:"enforce_symlinks"`
	SecretsFile     string   `yaml:"secrets_file" json:"secrets_file,omitempty"`
}

type LLMConfig struct {
	Provider     string        `yaml:"provider" json:"provider"` // anthropic | openai
	Model        string        `yaml:"model" json:"model"`
	SystemPrompt string        `yaml:"system_prompt" json:"system_prompt,omitempty"`
	AnthropicKey string        `yaml:"anthropic_api_key" json:"anthropic_api_key,omitempty"`
	OpenAIKey    string        `yaml:"openai_api_key" json:"openai_api_key,omitempty"`
	MaxTokens    int           `yaml:"max_tokens" json:"max_tokens,omitempty"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

type ToolsConfig struct {
	CommandAllowlist []string       `yaml:"command_allowlist" json:"command_allowlist,omitempty"`
	AllowShellMeta   bool           `yaml:"allow_shell_meta" json:"allow_shell_meta"`
	Timeout          time.Duration  `yaml:"timeout" json:"timeout,omitempty"`
	WebFetch         WebFetchConfig `yaml:"web_fetch" json:"web_fetch"`
	SkillsDir        string         `yaml:"skills_dir" json:"skills_dir,omitempty"`
	CanvasMaxNodes   int            `yaml:"canvas_max_nodes" json:"canvas_max_nodes,omitempty"`
}

type WebFetchConfig struct {
	BlockedHosts []string `yaml:"blocked_hosts" json:"blocked_hosts,omitempty"`
	MaxChars     int      `yaml:"max_chars" json:"max_chars,omitempty"`
}

type MemoryConfig struct {
	Path          string  `yaml:"path" json:"path"`
	Dimension     int     `yaml:"dimension" json:"dimension,omitempty"`
	VectorWeight  float64 `yaml:"vector_weight" json:"vector_weight,omitempty"`
	KeywordWeight float64 `yaml:"keyword_weight" json:"keyword_weight,omitempty"`
	CacheMaxSize  int     `yaml:"cache_max_size" json:"cache_max_size,omitempty"`
}

type WorkerConfig struct {
	Binary      string        `yaml:"binary" json:"binary,omitempty"`
	PoolSize    int           `yaml:"pool_size" json:"pool_size,omitempty"`
	TaskTimeout time.Duration `yaml:"task_timeout" json:"task_timeout,omitempty"`
}

type SessionConfig struct {
	IdleTTL     time.Duration `yaml:"idle_ttl" json:"idle_ttl,omitempty"`
	GracePeriod time.Duration `yaml:"grace_period" json:"grace_period,omitempty"`
	NotesDir    string        `yaml:"notes_dir" json:"notes_dir,omitempty"`
	SweepSpec   string        `yaml:"sweep_spec" json:"sweep_spec,omitempty"` // cron expression
}

type SupervisorConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval,omitempty"`
	MissedThreshold   int           `yaml:"missed_threshold" json:"missed_threshold,omitempty"`
	MaxRestarts       int           `yaml:"max_restarts" json:"max_restarts,omitempty"`
	RestartWindow     time.Duration `yaml:"restart_window" json:"restart_window,omitempty"`
}

type ChannelsConfig struct {
	Terminal TerminalChannelConfig `yaml:"terminal" json:"terminal"`
	Telegram TelegramChannelConfig `yaml:"telegram" json:"telegram"`
	Discord  DiscordChannelConfig  `yaml:"discord" json:"discord"`
	Slack    SlackChannelConfig    `yaml:"slack" json:"slack"`
	Canvas   CanvasChannelConfig   `yaml:"canvas" json:"canvas"`
}

type TerminalChannelConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type TelegramChannelConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	BotToken string `yaml:"bot_token" json:"bot_token,omitempty"`
}

type DiscordChannelConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	BotToken string `yaml:"bot_token" json:"bot_token,omitempty"`
}

type SlackChannelConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	BotToken string `yaml:"bot_token" json:"bot_token,omitempty"`
	AppToken string `yaml:"app_token" json:"app_token,omitempty"`
}

type CanvasChannelConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	AuthToken string `yaml:"auth_token" json:"auth_token,omitempty"` // JWT signing secret
	MaxNodes  int    `yaml:"max_nodes" json:"max_nodes,omitempty"`
}

// MCPServer configures one Model Context Protocol server for the bridge.
type MCPServer struct {
	ID        string            `yaml:"id" json:"id"`
	Transport string            `yaml:"transport" json:"transport"` // stdio | http
	Command   string            `yaml:"command" json:"command,omitempty"`
	Args      []string          `yaml:"args" json:"args,omitempty"`
	Env       map[string]string `yaml:"env" json:"env,omitempty"`
	URL       string            `yaml:"url" json:"url,omitempty"`
	Headers   map[string]string `yaml:"headers" json:"headers,omitempty"`
	Timeout   time.Duration     `yaml:"timeout" json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level,omitempty"`   // debug | info | warn | error
	Format string `yaml:"format" json:"format,omitempty"` // text | json
}

// Load reads, expands, defaults, and validates the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values with working defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8787
	}
	if c.Workspace.Root == "" {
		if cwd, err := os.Getwd(); err == nil {
			c.Workspace.Root = cwd
		} else {
			c.Workspace.Root = "."
		}
	}
	if c.Workspace.Autonomy == "" {
		c.Workspace.Autonomy = "supervised"
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 4096
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = 2 * time.Minute
	}
	if len(c.Tools.CommandAllowlist) == 0 {
		c.Tools.CommandAllowlist = DefaultCommandAllowlist()
	}
	if c.Tools.Timeout <= 0 {
		c.Tools.Timeout = 60 * time.Second
	}
	if c.Tools.WebFetch.MaxChars <= 0 {
		c.Tools.WebFetch.MaxChars = 10000
	}
	if c.Tools.CanvasMaxNodes <= 0 {
		c.Tools.CanvasMaxNodes = 200
	}
	if c.Memory.Path == "" {
		c.Memory.Path = filepath.Join(DataDir(), "memory.db")
	}
	if c.Memory.Dimension <= 0 {
		c.Memory.Dimension = 1536
	}
	if c.Memory.VectorWeight <= 0 {
		c.Memory.VectorWeight = 0.7
	}
	if c.Memory.KeywordWeight <= 0 {
		c.Memory.KeywordWeight = 0.3
	}
	if c.Memory.CacheMaxSize <= 0 {
		c.Memory.CacheMaxSize = 10000
	}
	if c.Worker.PoolSize <= 0 {
		c.Worker.PoolSize = 2
	}
	if c.Worker.TaskTimeout <= 0 {
		c.Worker.TaskTimeout = 5 * time.Minute
	}
	if c.Session.IdleTTL <= 0 {
		c.Session.IdleTTL = 30 * time.Minute
	}
	if c.Session.GracePeriod <= 0 {
		c.Session.GracePeriod = 30 * time.Second
	}
	if c.Session.SweepSpec == "" {
		c.Session.SweepSpec = "@every 1m"
	}
	if c.Supervisor.HeartbeatInterval <= 0 {
		c.Supervisor.HeartbeatInterval = 5 * time.Second
	}
	if c.Supervisor.MissedThreshold <= 0 {
		c.Supervisor.MissedThreshold = 3
	}
	if c.Supervisor.MaxRestarts <= 0 {
		c.Supervisor.MaxRestarts = 5
	}
	if c.Supervisor.RestartWindow <= 0 {
		c.Supervisor.RestartWindow = 10 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate rejects configurations the daemon must refuse to start with.
func (c *Config) Validate() error {
	var problems []string

	switch c.Workspace.Autonomy {
	case "readonly", "supervised", "full":
	default:
		problems = append(problems, fmt.Sprintf("workspace.autonomy must be readonly|supervised|full, got %q", c.Workspace.Autonomy))
	}
	switch c.LLM.Provider {
	case "", "anthropic", "openai", "scripted":
	default:
		problems = append(problems, fmt.Sprintf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		problems = append(problems, fmt.Sprintf("server.http_port %d out of range", c.Server.HTTPPort))
	}
	for i, srv := range c.MCP {
		if srv.ID == "" {
			problems = append(problems, fmt.Sprintf("mcp[%d].id is required", i))
		}
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				problems = append(problems, fmt.Sprintf("mcp[%d].command is required for stdio transport", i))
			}
		case "http":
			if !strings.HasPrefix(srv.URL, "http://") && !strings.HasPrefix(srv.URL, "https://") {
				problems = append(problems, fmt.Sprintf("mcp[%d].url must be http(s)", i))
			}
		default:
			problems = append(problems, fmt.Sprintf("mcp[%d].transport must be stdio|http", i))
		}
	}

	if len(problems) > 0 {
		return &Error{Problems: problems}
	}
	return nil
}

// Error is a startup-only configuration failure.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// DefaultCommandAllowlist returns the programs the bash tool may run when
// the operator does not configure an allowlist.
func DefaultCommandAllowlist() []string {
	return []string{
		"ls", "cat", "head", "tail", "wc", "grep", "find", "echo", "pwd",
		"date", "env", "which", "sort", "uniq", "cut", "tr", "diff",
		"git", "go", "make", "sed", "awk",
	}
}

// DataDir returns the per-process data directory, honoring XDG_DATA_HOME.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "switchyard")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".switchyard"
	}
	return filepath.Join(home, ".local", "share", "switchyard")
}
