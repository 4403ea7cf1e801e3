package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pawtrail/pawchat"
)

var statusTimeout time.Duration

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 10*time.Second, "How long to wait for the connection")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and connection status",
	Long:  "Display the effective configuration and try one connection to the chat server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  Base URL:  %s\n", valueOrDefault(cfg.Default.BaseURL, "(not set)"))
		fmt.Fprintf(out, "  WS URL:    %s\n", valueOrDefault(cfg.Default.WSURL, "(not set)"))
		userID := "(not set)"
		if cfg.Default.UserID > 0 {
			userID = strconv.FormatInt(cfg.Default.UserID, 10)
		}
		fmt.Fprintf(out, "  User ID:   %s\n", userID)
		if cfg.Auth.Token != "" {
			fmt.Fprintf(out, "  Token:     %s\n", maskKey(cfg.Auth.Token))
		} else {
			fmt.Fprintln(out, "  Token:     (not set)")
			return nil
		}

		sess, _, err := newSession()
		if err != nil {
			fmt.Fprintf(out, "\nCannot start session: %v\n", err)
			return nil
		}
		defer sess.Close()

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Connection:")
		state, err := connectOnce(cmd.Context(), sess, statusTimeout)
		if err != nil {
			fmt.Fprintf(out, "  State:     %s (%v)\n", state, err)
			return nil
		}
		fmt.Fprintf(out, "  State:     %s\n", state)
		return nil
	},
}

// connectOnce starts the session and waits for the first connected or
// erroring transition.
func connectOnce(ctx context.Context, sess *pawchat.Session, timeout time.Duration) (pawchat.ConnState, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan pawchat.StateChange, 1)
	remove := sess.Connection().OnStateChange(func(c pawchat.StateChange) {
		if c.State == pawchat.StateConnected || c.State == pawchat.StateErroring {
			select {
			case result <- c:
			default:
			}
		}
	})
	defer remove()

	go sess.Start(ctx)

	select {
	case c := <-result:
		return c.State, c.Err
	case <-ctx.Done():
		return sess.Connection().State(), errors.New("timed out")
	}
}
