package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gotodo/internal/domain"
	"gotodo/internal/engine"
	"gotodo/internal/theme"
)

func chatCmd() *cobra.Command {
	var poll time.Duration
	cmd := &cobra.Command{
		Use:   "chat <request-id>",
		Short: "Chat with the other party of a request (type /quit to leave)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requestID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				session, history, err := e.OpenChat(ctx, requestID, actorID)
				if err != nil {
					return err
				}
				fmt.Printf("Chatting with %s on %s\n", session.Counterpart.Name, requestID)
				printed := map[string]bool{}
				show := func(msgs []domain.ChatMessage) {
					for _, m := range msgs {
						if printed[m.ID] {
							continue
						}
						printed[m.ID] = true
						if m.SenderID == actorID {
							continue
						}
						fmt.Printf("[%s] %s: %s\n", ago(m.Timestamp), m.SenderName, m.Text)
					}
				}
				show(history)
				for _, m := range history {
					printed[m.ID] = true
				}

				lines := make(chan string)
				go func() {
					defer close(lines)
					r := bufio.NewReader(os.Stdin)
					for {
						line, err := readLine(r)
						if line != "" {
							lines <- line
						}
						if err != nil {
							return
						}
					}
				}()

				ticker := time.NewTicker(poll)
				defer ticker.Stop()
			loop:
				for {
					select {
					case <-ctx.Done():
						break loop
					case <-ticker.C:
						msgs, err := e.Chat.History(ctx, requestID, actorID)
						if err != nil {
							return err
						}
						show(msgs)
						if err := e.Chat.Focus(ctx, requestID, actorID); err != nil && !errors.Is(err, context.Canceled) {
							return err
						}
					case line, ok := <-lines:
						if !ok || strings.TrimSpace(line) == "/quit" {
							break loop
						}
						m, err := e.SendChat(ctx, requestID, actorID, line)
						if err != nil {
							fmt.Println("error:", err)
							continue
						}
						printed[m.ID] = true
					}
				}

				n, err := e.Chat.Close(context.WithoutCancel(ctx), requestID, actorID)
				if err != nil {
					return err
				}
				if n != nil {
					fmt.Printf("Notification: %s\n", n.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&poll, "poll", 500*time.Millisecond, "how often to check for new messages")
	return cmd
}

func notificationsCmd() *cobra.Command {
	n := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notif"},
		Short:   "Notification center",
	}
	n.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNotifications(cmd.Context(), func(ctx context.Context, c notificationCenter) error {
				return printNotifications(ctx, c)
			})
		},
	})
	n.AddCommand(&cobra.Command{
		Use:   "read [notification-id]",
		Short: "Mark one notification, or all of them, as read",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNotifications(cmd.Context(), func(ctx context.Context, c notificationCenter) error {
				var err error
				if len(args) == 1 {
					err = c.MarkRead(ctx, args[0])
				} else {
					err = c.MarkAllRead(ctx)
				}
				if err != nil {
					return err
				}
				return printNotifications(ctx, c)
			})
		},
	})
	n.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete all notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNotifications(cmd.Context(), func(ctx context.Context, c notificationCenter) error {
				return c.Clear(ctx)
			})
		},
	})
	return n
}

type notificationCenter interface {
	List(ctx context.Context) ([]domain.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Clear(ctx context.Context) error
}

func withNotifications(ctx context.Context, fn func(context.Context, notificationCenter) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		actorID, err := actor(ctx, e)
		if err != nil {
			return err
		}
		return fn(ctx, e.Notifications(actorID))
	})
}

func printNotifications(ctx context.Context, c notificationCenter) error {
	items, err := c.List(ctx)
	if err != nil {
		return err
	}
	unread, err := c.UnreadCount(ctx)
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(map[string]any{"items": items, "unread": unread})
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"", "ID", "Type", "Message", "When"})
	for _, n := range items {
		mark := "*"
		if n.Read {
			mark = ""
		}
		tw.AppendRow(table.Row{mark, n.ID, n.Type, n.Message, ago(n.Timestamp)})
	}
	fmt.Println(tw.Render())
	fmt.Printf("%d unread\n", unread)
	return nil
}

func themeCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "theme",
		Short: "Light or dark theme preference",
	}
	t.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the current theme",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTheme(cmd.Context(), io.Discard, func(ctx context.Context, s *theme.State) error {
				fmt.Println(s.Current())
				return nil
			})
		},
	})
	t.AddCommand(&cobra.Command{
		Use:   "toggle",
		Short: "Switch between light and dark",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTheme(cmd.Context(), os.Stdout, func(ctx context.Context, s *theme.State) error {
				_, err := s.Toggle(ctx)
				return err
			})
		},
	})
	t.AddCommand(&cobra.Command{
		Use:   "set <light|dark>",
		Short: "Set the theme",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTheme(cmd.Context(), os.Stdout, func(ctx context.Context, s *theme.State) error {
				return s.Set(ctx, args[0])
			})
		},
	})
	return t
}

// withTheme loads the acting user's theme; every class change is echoed to w.
func withTheme(ctx context.Context, w io.Writer, fn func(context.Context, *theme.State) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		actorID, err := actor(ctx, e)
		if err != nil {
			return err
		}
		applier := theme.ClassApplierFunc(func(class string) {
			fmt.Fprintf(w, "theme: %s\n", class)
		})
		s, err := e.Theme(ctx, actorID, applier)
		if err != nil {
			return err
		}
		return fn(ctx, s)
	})
}
