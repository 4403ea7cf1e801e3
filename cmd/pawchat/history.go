package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	historyPages int
	historyJSON  bool
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyPages, "pages", "p", 1, "Number of pages to load (0 loads everything)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output raw JSON")
}

var historyCmd = &cobra.Command{
	Use:   "history <room-id>",
	Short: "Print a room's message history",
	Long:  "Page through a chat room's history, newest first, without opening a live connection.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, cfg, err := newSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		conv, err := sess.Open(args[0])
		if err != nil {
			return err
		}

		for i := 0; historyPages == 0 || i < historyPages; i++ {
			page, err := conv.LoadMore(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load page %d: %w", i, err)
			}
			if !page.HasNext {
				break
			}
		}

		msgs := conv.Messages()
		out := cmd.OutOrStdout()
		if historyJSON {
			b, _ := json.MarshalIndent(msgs, "", "  ")
			fmt.Fprintln(out, string(b))
			return nil
		}
		if len(msgs) == 0 {
			fmt.Fprintln(out, "No messages.")
			return nil
		}
		// Oldest first reads naturally in a terminal.
		for i := len(msgs) - 1; i >= 0; i-- {
			fmt.Fprintln(out, formatMessage(msgs[i], cfg.Default.UserID))
		}
		if c := conv.Cursor(); c.HasNext {
			fmt.Fprintf(out, "-- more history available (loaded %d pages) --\n", c.Page)
		}
		return nil
	},
}

