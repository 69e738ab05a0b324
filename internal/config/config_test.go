package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  host: 0.0.0.0\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Server.HTTPPort != 8787 {
		t.Errorf("http_port = %d, want default 8787", cfg.Server.HTTPPort)
	}
	if cfg.Workspace.Autonomy != "supervised" {
		t.Errorf("autonomy = %q, want supervised default", cfg.Workspace.Autonomy)
	}
	if cfg.Session.IdleTTL != 30*time.Minute {
		t.Errorf("idle_ttl = %v, want 30m default", cfg.Session.IdleTTL)
	}
	if cfg.Supervisor.MissedThreshold != 3 {
		t.Errorf("missed_threshold = %d, want 3", cfg.Supervisor.MissedThreshold)
	}
	if len(cfg.Tools.CommandAllowlist) == 0 {
		t.Error("expected default command allowlist")
	}
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("SWYD_TEST_TOKEN", "tok-123")
	path := writeConfig(t, "channels:\n  telegram:\n    enabled: true\n    bot_token: ${SWYD_TEST_TOKEN}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Channels.Telegram.BotToken != "tok-123" {
		t.Errorf("bot_token = %q, want expanded tok-123", cfg.Channels.Telegram.BotToken)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "bad autonomy",
			mutate:  func(c *Config) { c.Workspace.Autonomy = "yolo" },
			wantSub: "workspace.autonomy",
		},
		{
			name:    "bad provider",
			mutate:  func(c *Config) { c.LLM.Provider = "parrot" },
			wantSub: "llm.provider",
		},
		{
			name: "mcp stdio without command",
			mutate: func(c *Config) {
				c.MCP = []MCPServer{{ID: "srv", Transport: "stdio"}}
			},
			wantSub: "mcp[0].command",
		},
		{
			name: "mcp bad transport",
			mutate: func(c *Config) {
				c.MCP = []MCPServer{{ID: "srv", Transport: "carrier-pigeon"}}
			},
			wantSub: "transport",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.ApplyDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantSub)
			}
		})
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema: %v", err)
	}
	for _, key := range []string{"workspace", "llm", "channels"} {
		if !strings.Contains(string(data), key) {
			t.Errorf("schema missing %q section", key)
		}
	}
}
