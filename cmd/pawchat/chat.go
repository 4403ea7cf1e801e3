package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pawtrail/pawchat"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat <room-id>",
	Short: "Chat live in a room",
	Long: "Open a room, print its latest history and every new message, and send each line typed on stdin.\n" +
		"Type /more to load older messages and /quit to leave.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sess, cfg, err := newSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		out := cmd.OutOrStdout()
		sess.Connection().OnStateChange(func(c pawchat.StateChange) {
			switch c.State {
			case pawchat.StateConnected:
				fmt.Fprintln(out, "* connected")
			case pawchat.StateErroring:
				fmt.Fprintf(out, "* connection problem: %v\n", c.Err)
			}
		})

		conv, err := sess.Open(args[0])
		if err != nil {
			return err
		}
		if err := conv.Focus(); err != nil {
			return err
		}
		if err := sess.Start(ctx); err != nil {
			logger.Warn().Err(err).Msg("initial connect failed")
		}

		p := &printer{out: out, selfID: cfg.Default.UserID, seen: make(map[string]struct{})}
		page, err := conv.LoadMore(ctx)
		if err != nil {
			fmt.Fprintf(out, "* could not load history: %v\n", err)
		}
		p.history(page.Messages)
		conv.OnChange(p.live)

		return chatLoop(ctx, cmd.InOrStdin(), out, conv, p)
	},
}

// printer writes each message once. Live arrivals are recognized by being
// at least as new as anything printed so far; older pages are printed
// explicitly by history.
type printer struct {
	out    io.Writer
	selfID int64

	mu     sync.Mutex
	seen   map[string]struct{}
	newest time.Time
}

func (p *printer) history(msgs []pawchat.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(msgs) - 1; i >= 0; i-- {
		p.printLocked(msgs[i])
	}
}

func (p *printer) live(msgs []pawchat.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.IsTemp() || m.Time.Before(p.newest) {
			continue
		}
		if m.SenderID == p.selfID {
			// Already on screen as typed.
			p.seen[m.ID] = struct{}{}
			continue
		}
		p.printLocked(m)
	}
}

func (p *printer) printLocked(m pawchat.Message) {
	if _, ok := p.seen[m.ID]; ok {
		return
	}
	p.seen[m.ID] = struct{}{}
	if m.Time.After(p.newest) {
		p.newest = m.Time
	}
	fmt.Fprintln(p.out, formatMessage(m, p.selfID))
}

func chatLoop(ctx context.Context, in io.Reader, out io.Writer, conv *pawchat.Conversation, p *printer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch strings.TrimSpace(line) {
			case "":
				continue
			case "/quit":
				return nil
			case "/more":
				page, err := conv.LoadMore(ctx)
				if err != nil {
					fmt.Fprintf(out, "* could not load history: %v\n", err)
					continue
				}
				if len(page.Messages) == 0 && !page.HasNext {
					fmt.Fprintln(out, "* no older messages")
					continue
				}
				fmt.Fprintln(out, "--- older ---")
				p.history(page.Messages)
				continue
			}

			if _, err := conv.Send(ctx, line); err != nil {
				switch {
				case errors.Is(err, pawchat.ErrConnecting):
					fmt.Fprintln(out, "* connecting, try again in a moment")
				case errors.Is(err, pawchat.ErrEmptyMessage), errors.Is(err, pawchat.ErrMessageTooLong):
					fmt.Fprintf(out, "* %v\n", err)
				default:
					fmt.Fprintf(out, "* send failed: %v\n", err)
				}
			}
		}
	}
}
