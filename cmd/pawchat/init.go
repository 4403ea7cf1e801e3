package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const (
	defaultBaseURL = "https://api.pawtrail.app"
	defaultWSURL   = "wss://api.pawtrail.app/ws"
)

var initUserID int64

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().Int64Var(&initUserID, "user-id", 0, "Your PawTrail user id")
	_ = initCmd.MarkFlagRequired("user-id")
}

var initCmd = &cobra.Command{
	Use:   "init <token>",
	Short: "Store credentials in ~/.pawchat/config.toml",
	Long:  "Initialize pawchat by storing your access token and user id in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if initUserID <= 0 {
			return fmt.Errorf("--user-id must be positive")
		}

		store, err := defaultConfigStore()
		if err != nil {
			return err
		}
		cfg, err := store.load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = args[0]
		cfg.Default.UserID = initUserID
		if cfg.Default.BaseURL == "" {
			cfg.Default.BaseURL = defaultBaseURL
		}
		if cfg.Default.WSURL == "" {
			cfg.Default.WSURL = defaultWSURL
		}

		if err := store.save(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Credentials saved to %s\n", store.path)
		return nil
	},
}
