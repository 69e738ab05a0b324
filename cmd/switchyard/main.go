// Package main is the switchyard CLI: the gateway server plus the
// operational commands around it.
//
// Start the gateway:
//
//	switchyard serve --config switchyard.yaml
//
// Review the security posture of a configuration:
//
//	switchyard audit --config switchyard.yaml
//
// Manage encrypted credentials:
//
//	switchyard secret set telegram_bot_token
//	switchyard secret list
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Populated by ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "switchyard",
		Short: "Switchyard multi-channel AI agent gateway",
		Long: `Switchyard connects messaging platforms to LLM providers with
sandboxed tool execution and a live canvas surface.

Supported channels: Terminal, Telegram, Discord, Slack, Canvas
Supported providers: Anthropic (Claude), OpenAI (GPT)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildAuditCmd(),
		buildSecretCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}
