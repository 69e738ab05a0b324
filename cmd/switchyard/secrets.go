package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/switchyard-ai/switchyard/internal/config"
	"github.com/switchyard-ai/switchyard/internal/security"
)

const passphraseEnv = "SWITCHYARD_SECRETS_PASSPHRASE"

func buildSecretCmd() *cobra.Command {
	var (
		configPath string
		filePath   string
	)

	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage the encrypted credential store",
		Long: `Read and write the encrypted secrets file. The encryption passphrase
is taken from ` + passphraseEnv + `. The file location comes from the
workspace.secrets_file config key, or --file.`,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "switchyard.yaml", "Path to YAML configuration file")
	cmd.PersistentFlags().StringVarP(&filePath, "file", "f", "", "Secrets file path (overrides config)")

	open := func() (*security.SecretStore, error) {
		return openSecretStore(configPath, filePath)
	}

	setCmd := &cobra.Command{
		Use:   "set <name> [value]",
		Short: "Store a secret (reads the value from stdin when omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			value := ""
			if len(args) == 2 {
				value = args[1]
			} else {
				fmt.Fprintf(os.Stderr, "value for %s: ", args[0])
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read value: %w", err)
				}
				value = strings.TrimRight(line, "\r\n")
			}
			if value == "" {
				return errors.New("empty secret value")
			}
			return store.Set(args[0], value)
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Print a secret value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			value, err := store.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			for _, name := range store.Names() {
				fmt.Println(name)
			}
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			return store.Delete(args[0])
		},
	}

	cmd.AddCommand(setCmd, getCmd, listCmd, deleteCmd)
	return cmd
}

func openSecretStore(configPath, filePath string) (*security.SecretStore, error) {
	if filePath == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		filePath = cfg.Workspace.SecretsFile
	}
	if filePath == "" {
		return nil, errors.New("no secrets file configured; set workspace.secrets_file or pass --file")
	}
	passphrase := os.Getenv(passphraseEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("%s is not set", passphraseEnv)
	}
	return security.OpenSecretStore(filePath, passphrase)
}
