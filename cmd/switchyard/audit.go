package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/switchyard-ai/switchyard/internal/config"
	"github.com/switchyard-ai/switchyard/internal/security"
)

func buildAuditCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit the security posture of a configuration",
		Long: `Run the security check battery against a configuration: workspace
placement, autonomy level, command allowlist, and secrets file
permissions. Exits non-zero when a critical or high finding is present.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchyard.yaml", "Path to YAML configuration file")
	return cmd
}

func runAudit(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	findings := security.Audit(security.AuditConfig{
		WorkspaceRoot:    cfg.Workspace.Root,
		Autonomy:         security.Autonomy(cfg.Workspace.Autonomy),
		BlockedPaths:     cfg.Workspace.BlockedPaths,
		CommandAllowlist: cfg.Tools.CommandAllowlist,
		SecretsFile:      cfg.Workspace.SecretsFile,
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEVERITY\tCHECK\tFINDING")
	failed := 0
	for _, f := range findings {
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Severity, f.Name, f.Message)
		if f.Severity == security.SeverityCritical || f.Severity == security.SeverityHigh {
			failed++
		}
	}
	w.Flush()

	if failed > 0 {
		return fmt.Errorf("audit failed: %d finding(s) need attention", failed)
	}
	fmt.Println("\naudit passed")
	return nil
}
