// Package ctl implements the chatsyncctl command tree.
package ctl

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Exit codes for chatsyncctl.
const (
	ExitSuccess     = 0
	ExitFailure     = 1 // the daemon rejected the request
	ExitUnreachable = 2 // no daemon answered for the session
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode extracts the exit code from an error.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Controller is the daemon surface the commands use; *api.Client implements it.
type Controller interface {
	Status(ctx context.Context) (*api.Status, error)
	TriggerSync(ctx context.Context) (bool, string, error)
	SendText(ctx context.Context, to, body string) (string, string, error)
	ListChats(ctx context.Context) ([]api.Message, error)
	WatchChat(ctx context.Context, chatID string, fn func([]api.Message) error) error
	SignIn(ctx context.Context, uid string) error
	SignOut(ctx context.Context) error
	UpdatePeer(ctx context.Context, uid, name, username, avatar string) (int64, error)
	RetryFailed(ctx context.Context, messageID string) error
	Close() error
}

// Dialer connects to the daemon of a session.
type Dialer func(sessionName string) (Controller, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Session string
	Format  string // "json" | "text"
	Timeout time.Duration

	dial        Dialer
	sessionName string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command wired to the real daemon socket.
func NewRootCommand() *cobra.Command {
	return newRootCommand(func(name string) (Controller, error) {
		return api.Dial(session.SocketPath(name))
	})
}

func newRootCommand(dial Dialer) *cobra.Command {
	opts := &RootOptions{dial: dial}

	cmd := &cobra.Command{
		Use:           "chatsyncctl",
		Short:         "Control a chatsync daemon",
		Long:          "Inspect and steer the chatsync daemon of a session: status, sync, send, chats and more.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			opts.sessionName = session.Resolve(opts.Session)
			return session.ValidateName(opts.sessionName)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Session, "session", "", "session name (overrides config default)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "request timeout")

	cmd.AddCommand(
		newStatusCommand(opts),
		newSyncCommand(opts),
		newSendCommand(opts),
		newChatsCommand(opts),
		newWatchCommand(opts),
		newLoginCommand(opts),
		newLogoutCommand(opts),
		newPeerCommand(opts),
		newRetryCommand(opts),
	)
	return cmd
}

// withDaemon dials the session daemon, runs fn under the request timeout and
// maps transport failures to ExitUnreachable.
func (o *RootOptions) withDaemon(cmd *cobra.Command, timeout bool, fn func(context.Context, Controller) error) error {
	c, err := o.dial(o.sessionName)
	if err != nil {
		return &ExitError{Code: ExitUnreachable, Err: err}
	}
	defer func() { _ = c.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	err = fn(ctx, c)
	if grpcstatus.Code(err) == codes.Unavailable {
		return &ExitError{Code: ExitUnreachable, Err: o.unreachable(err)}
	}
	return err
}

func (o *RootOptions) unreachable(err error) error {
	pid, lockErr := lock.Holder(session.Dir(o.sessionName))
	if lockErr == nil && pid == 0 {
		return fmt.Errorf("daemon for session %q is not running (start it with: chatsyncd --session %s)", o.sessionName, o.sessionName)
	}
	if pid > 0 {
		return fmt.Errorf("daemon for session %q (pid %d) is not responding: %w", o.sessionName, pid, err)
	}
	return fmt.Errorf("cannot reach daemon for session %q: %w", o.sessionName, err)
}
