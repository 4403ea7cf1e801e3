package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage pawchat configuration",
	Long:  "View the effective configuration or change a value in the config file.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration and where each value comes from",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return err
		}
		return printEffectiveConfig(cmd.OutOrStdout(), cfg)
	},
}

// printEffectiveConfig writes one row per key: value (secrets masked) and
// its source, either the config file or the overriding variable.
func printEffectiveConfig(w io.Writer, cfg *effectiveConfig) error {
	fmt.Fprintf(w, "Config file: %s\n\n", cfg.store.path)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVALUE\tSOURCE")
	for _, f := range configFields {
		value := f.get(cfg.Config)
		source := "file"
		if env, ok := cfg.env[f.key]; ok {
			source = "env " + env
		}
		switch {
		case value == "":
			value, source = "(not set)", "-"
		case f.secret:
			value = maskKey(value)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.key, value, source)
	}
	return tw.Flush()
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a value in the config file",
	Long:  "Set a value in the config file using section.field keys.\nExample: pawchat config set default.ws_url wss://api.pawtrail.app/ws",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		field, err := lookupField(key)
		if err != nil {
			return err
		}

		store, err := defaultConfigStore()
		if err != nil {
			return err
		}
		cfg, err := store.load()
		if err != nil {
			return err
		}
		if err := field.set(cfg, value); err != nil {
			return err
		}
		if err := store.save(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		if field.secret {
			value = maskKey(value)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s in %s\n", key, value, store.path)
		return nil
	},
}
