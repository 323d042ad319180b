package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/graphgate/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/graphgate/internal/config"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List accounts with persisted tokens",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Storage.Path == "" {
			return fmt.Errorf("persistence is disabled (storage.path is empty)")
		}
		passphrase := config.StoragePassphrase()
		if passphrase.IsEmpty() {
			return fmt.Errorf("GRAPHGATE_STORAGE_PASSPHRASE is required")
		}

		store, err := sqlite.NewStore(cfg.Storage.Path, passphrase)
		if err != nil {
			return err
		}
		defer store.Close()

		accounts, err := store.Accounts(cmd.Context())
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no accounts")
			return nil
		}
		for _, a := range accounts {
			fmt.Fprintln(cmd.OutOrStdout(), a.ID())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(accountsCmd)
}
