package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/unsearch/syncd/internal/engine"
	"github.com/unsearch/syncd/internal/store"
)

// BacklogOptions holds flags for the backlog command.
type BacklogOptions struct {
	*RootOptions
	Database string
}

// BacklogEntry is one pending row in the report.
type BacklogEntry struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	CreatedAt string `json:"created_at"`
	Held      bool   `json:"held"`
	Payload   string `json:"payload,omitempty"`
}

// BacklogResult is the backlog command's output.
type BacklogResult struct {
	SessionID   string         `json:"session_id"`
	Pending     int            `json:"pending"`
	Deliverable int            `json:"deliverable"`
	Held        int            `json:"held"`
	Entries     []BacklogEntry `json:"entries"`
}

// NewBacklogCommand creates the backlog command.
func NewBacklogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BacklogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backlog <session-id>",
		Short: "Inspect a session's pending message backlog",
		Long: `Inspect a session's pending message backlog.

Lists every pending row in delivery order and marks rows the dependency
filter would currently hold back (creates or moves whose parent is
itself still pending).

Examples:
  syncd backlog --db ./syncd.db 0193e4a2-b1c5-7d3e-9f01-6a2b3c4d5e6f
  syncd backlog --db ./syncd.db --format json 0193e4a2-...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacklog(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runBacklog(opts *BacklogOptions, sessionID string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmdContext(cmd)
	pending, err := st.ListPendingBySession(ctx, sessionID)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list backlog", err)
	}

	deliverable := engine.FilterDeliverable(pending)
	deliverableIDs := make(map[string]bool, len(deliverable))
	for _, m := range deliverable {
		deliverableIDs[m.ID] = true
	}

	result := BacklogResult{
		SessionID:   sessionID,
		Pending:     len(pending),
		Deliverable: len(deliverable),
		Held:        len(pending) - len(deliverable),
		Entries:     make([]BacklogEntry, 0, len(pending)),
	}
	for _, m := range pending {
		entry := BacklogEntry{
			ID:        m.ID,
			Kind:      string(m.Kind),
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
			Held:      !deliverableIDs[m.ID],
		}
		if opts.Verbose {
			entry.Payload = string(m.Payload)
		}
		result.Entries = append(result.Entries, entry)
	}

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return formatter.Success(formatBacklogText(result))
}

func formatBacklogText(result BacklogResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s: %d pending (%d deliverable, %d held)\n",
		result.SessionID, result.Pending, result.Deliverable, result.Held)
	for _, e := range result.Entries {
		marker := " "
		if e.Held {
			marker = "H"
		}
		fmt.Fprintf(&b, "  %s %-20s %s  %s\n", marker, e.Kind, e.CreatedAt, e.ID)
		if e.Payload != "" {
			fmt.Fprintf(&b, "      %s\n", e.Payload)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
