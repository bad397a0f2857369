package ctl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/chatsync/internal/api"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/spf13/cobra"
)

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withDaemon(cmd, true, func(ctx context.Context, c Controller) error {
				st, err := c.Status(ctx)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return outputJSON(cmd.OutOrStdout(), st)
				}
				renderStatus(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}
}

func newSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a sync cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withDaemon(cmd, true, func(ctx context.Context, c Controller) error {
				accepted, reason, err := c.TriggerSync(ctx)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return outputJSON(cmd.OutOrStdout(), map[string]any{"accepted": accepted, "reason": reason})
				}
				if !accepted {
					return fmt.Errorf("sync not started: %s", reason)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Sync requested.")
				return nil
			})
		},
	}
}

func newSendCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <uid> <text...>",
		Short: "Queue a text message and sync it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, body := args[0], strings.Join(args[1:], " ")
			return opts.withDaemon(cmd, true, func(ctx context.Context, c Controller) error {
				id, chatID, err := c.SendText(ctx, to, body)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return outputJSON(cmd.OutOrStdout(), map[string]string{"message_id": id, "chat_id": chatID})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s in chat %s.\n", id, chatID)
				return nil
			})
		},
	}
}

func newChatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List chats with their latest message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withDaemon(cmd, true, func(ctx context.Context, c Controller) error {
				chats, err := c.ListChats(ctx)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return outputJSON(cmd.OutOrStdout(), chats)
				}
				renderChats(cmd.OutOrStdout(), chats)
				return nil
			})
		},
	}
}

func newWatchCommand(opts *RootOptions) *cobra.Command {
	var chatID string
	cmd := &cobra.Command{
		Use:   "watch [peer-uid]",
		Short: "Follow a chat live until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if chatID == "" && len(args) == 0 {
				return errors.New("a peer uid or --chat-id is required")
			}
			return opts.withDaemon(cmd, false, func(ctx context.Context, c Controller) error {
				id := chatID
				if id == "" {
					st, err := c.Status(ctx)
					if err != nil {
						return err
					}
					if st.User == "" {
						return errors.New("not signed in")
					}
					id = intsync.ChatID(st.User, args[0])
				}

				out := cmd.OutOrStdout()
				if opts.Format == "json" {
					return c.WatchChat(ctx, id, func(msgs []api.Message) error {
						return outputJSON(out, map[string]any{"chat_id": id, "messages": msgs})
					})
				}
				return c.WatchChat(ctx, id, newWatchPrinter(out).snapshot)
			})
		},
	}
	cmd.Flags().StringVar(&chatID, "chat-id", "", "watch this chat id instead of the chat with a peer")
	return cmd
}

func newLoginCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login <uid>",
		Short: "Set the account the daemon syncs for",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDaemon(cmd, true, func(ctx context.Context, c Controller) error {
				if err := c.SignIn(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s.\n", args[0])
				return nil
			})
		},
	}
}

func newLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Stop syncing until the next login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withDaemon(cmd, true, func(ctx context.Context, c Controller) error {
				if err := c.SignOut(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
				return nil
			})
		},
	}
}

func newPeerCommand(opts *RootOptions) *cobra.Command {
	var name, username, avatar string
	cmd := &cobra.Command{
		Use:   "peer <uid>",
		Short: "Cache profile metadata for a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" && username == "" && avatar == "" {
				return errors.New("at least one of --name, --username or --avatar is required")
			}
			return opts.withDaemon(cmd, true, func(ctx context.Context, c Controller) error {
				n, err := c.UpdatePeer(ctx, args[0], name, username, avatar)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s on %d message(s).\n", args[0], n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&avatar, "avatar", "", "avatar URL")
	return cmd
}

func newRetryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <message-id>",
		Short: "Re-queue a message the server rejected",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDaemon(cmd, true, func(ctx context.Context, c Controller) error {
				if err := c.RetryFailed(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Re-queued %s.\n", args[0])
				return nil
			})
		},
	}
}
