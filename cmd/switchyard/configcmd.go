package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/switchyard-ai/switchyard/internal/config"
)

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}

	var configPath string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load a configuration file and report errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("%s is valid (provider=%s, model=%s, workspace=%s)\n",
				configPath, cfg.LLM.Provider, cfg.LLM.Model, cfg.Workspace.Root)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "switchyard.yaml", "Path to YAML configuration file")

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return err
			}
			os.Stdout.Write(schema)
			fmt.Println()
			return nil
		},
	}

	cmd.AddCommand(validateCmd, schemaCmd)
	return cmd
}
