package cli

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/graphgate/internal/config"
	"github.com/custodia-labs/graphgate/internal/core/domain"
	"github.com/custodia-labs/graphgate/internal/core/ports/driven"
	"github.com/custodia-labs/graphgate/internal/logger"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage secrets in the configured vault",
}

var secretSetCmd = &cobra.Command{
	Use:   "set [key]",
	Short: "Store a secret, prompting for its value without echo",
	Long: `Stores a secret in the configured vault backend. With no key argument
the app registration's client secret is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		key := driven.SecretKeyClientSecret
		if len(args) == 1 {
			key = args[0]
		}

		value, err := promptSecret(fmt.Sprintf("Value for %s: ", key))
		if err != nil {
			return err
		}
		if value.IsEmpty() {
			return fmt.Errorf("empty secret not stored")
		}

		log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
		vault, closeVault, err := buildVault(cfg, logger.Component(log, "vault"))
		if err != nil {
			return err
		}
		defer closeVault()

		if err := vault.StoreSecret(cmd.Context(), key, value); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", key)
		return nil
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove a secret from the configured vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
		vault, closeVault, err := buildVault(cfg, logger.Component(log, "vault"))
		if err != nil {
			return err
		}
		defer closeVault()

		if err := vault.DeleteSecret(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

// promptSecret reads a secret from the terminal without echoing it.
func promptSecret(prompt string) (domain.Secret, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return domain.Secret(raw), nil
}

func init() {
	secretCmd.AddCommand(secretSetCmd)
	secretCmd.AddCommand(secretDeleteCmd)
	rootCmd.AddCommand(secretCmd)
}
