package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var roomJSON bool

func init() {
	rootCmd.AddCommand(roomCmd)
	roomCmd.Flags().BoolVar(&roomJSON, "json", false, "Output raw JSON")
}

var roomCmd = &cobra.Command{
	Use:   "room <room-id>",
	Short: "Show the post and partner behind a chat room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, _, err := newSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		conv, err := sess.Open(args[0])
		if err != nil {
			return err
		}
		info, err := conv.Info(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to load room: %w", err)
		}

		out := cmd.OutOrStdout()
		if roomJSON {
			b, _ := json.MarshalIndent(info, "", "  ")
			fmt.Fprintln(out, string(b))
			return nil
		}
		fmt.Fprintf(out, "Room:     %d\n", info.ChatroomID)
		fmt.Fprintf(out, "Post:     %s (#%d)\n", info.PostTitle, info.PostID)
		if info.PostType != "" {
			fmt.Fprintf(out, "Type:     %s\n", info.PostType)
		}
		fmt.Fprintf(out, "Partner:  %s (#%d)\n", valueOrDefault(info.PartnerNickname, "(unknown)"), info.PartnerID)
		return nil
	},
}
