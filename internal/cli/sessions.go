package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/unsearch/syncd/internal/engine"
	"github.com/unsearch/syncd/internal/store"
)

// SessionsOptions holds flags shared by the sessions subcommands.
type SessionsOptions struct {
	*RootOptions
	Database string
	UserID   string
}

// SessionInfo is one session in the list output.
type SessionInfo struct {
	ID              string `json:"id"`
	Browser         string `json:"browser"`
	OS              string `json:"os,omitempty"`
	CreatedAt       string `json:"created_at"`
	LastConnectedAt string `json:"last_connected_at,omitempty"`
	PendingMessages int    `json:"pending_messages"`
}

// NewSessionsCommand creates the sessions command group.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List or remove an account's sessions",
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.PersistentFlags().StringVar(&opts.UserID, "user", "", "account id (required)")
	_ = cmd.MarkPersistentFlagRequired("db")
	_ = cmd.MarkPersistentFlagRequired("user")

	cmd.AddCommand(newSessionsListCommand(opts))
	cmd.AddCommand(newSessionsRemoveCommand(opts))

	return cmd
}

func newSessionsListCommand(opts *SessionsOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List the account's registered sessions",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(opts, cmd)
		},
	}
}

func newSessionsRemoveCommand(opts *SessionsOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <session-id>",
		Short: "Remove a session and signal it to stop syncing",
		Long: `Remove a session and signal it to stop syncing.

The session row is deleted and a removal signal is dispatched. A live
connection is closed immediately; an offline session receives the
signal when it next connects.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsRemove(opts, args[0], cmd)
		},
	}
}

func runSessionsList(opts *SessionsOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmdContext(cmd)
	sessions, err := st.ListSessionsByUser(ctx, opts.UserID)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list sessions", err)
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		pending, err := st.CountPendingBySession(ctx, sess.ID)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to count backlog", err)
		}
		info := SessionInfo{
			ID:              sess.ID,
			Browser:         sess.Browser,
			OS:              sess.OS,
			CreatedAt:       sess.CreatedAt.UTC().Format(time.RFC3339),
			PendingMessages: pending,
		}
		if sess.LastConnectedAt != nil {
			info.LastConnectedAt = sess.LastConnectedAt.UTC().Format(time.RFC3339)
		}
		infos = append(infos, info)
	}

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(infos)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d session(s) for user %s\n", len(infos), opts.UserID)
	for _, info := range infos {
		last := info.LastConnectedAt
		if last == "" {
			last = "never"
		}
		fmt.Fprintf(&b, "  %s  %-10s last seen %-22s %d pending\n",
			info.ID, info.Browser, last, info.PendingMessages)
	}
	return formatter.Success(strings.TrimRight(b.String(), "\n"))
}

func runSessionsRemove(opts *SessionsOptions, sessionID string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	// No live connections in a CLI process; the removal signal lands in
	// the backlog and reaches the session on its next connect.
	dispatcher := engine.NewDispatcher(st, engine.NewRegistry())

	n, err := dispatcher.RemoveSession(cmdContext(cmd), opts.UserID, sessionID)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to remove session", err)
	}
	if n == 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("no session %s for user %s", sessionID, opts.UserID))
	}

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(map[string]any{"removed": sessionID})
	}
	return formatter.Success(fmt.Sprintf("Removed session %s", sessionID))
}

// cmdContext returns the command's context, or a background one when
// running outside cobra's Execute (some tests call RunE directly).
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
