package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/coedit/internal/journal"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Session  string // optional - specific session only
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Sessions    []journal.Report `json:"sessions"`
	Total       int              `json:"total"`
	AllVerified bool             `json:"all_verified"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay journaled sessions and verify them",
		Long: `Replay the operation journal and verify every session.

For each session id, the latest incarnation's accepted operations are
replayed twice from an empty document. A session verifies when its
sequence numbers are gap-free and both replays agree.

Exit codes:
  0 - All sessions verified
  1 - Verification failed (gaps, replay errors or divergence)
  2 - Command error (database not found, unknown session, etc.)

Examples:
  coedit replay --db ./coedit.db
  coedit replay --db ./coedit.db --session design-review
  coedit replay --db ./coedit.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "replay specific session only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := newFormatter(opts.RootOptions, cmd)

	// journal.Open would create a missing file.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}
	j, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer j.Close()

	var sessionIDs []string
	if opts.Session != "" {
		sessionIDs = []string{opts.Session}
	} else {
		records, err := j.Sessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", err)
		}
		seen := make(map[string]bool, len(records))
		for _, rec := range records {
			if !seen[rec.SessionID] {
				seen[rec.SessionID] = true
				sessionIDs = append(sessionIDs, rec.SessionID)
			}
		}
	}

	result := ReplayResult{
		Sessions:    make([]journal.Report, 0, len(sessionIDs)),
		AllVerified: true,
	}
	for _, id := range sessionIDs {
		report, err := j.Verify(ctx, id)
		if errors.Is(err, journal.ErrNotFound) {
			return WrapExitError(ExitCommandError, fmt.Sprintf("session %s not in journal", id), err)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay session %s", id), err)
		}
		out.VerboseLog("replayed %s incarnation %d: %d operation(s)", id, report.Incarnation, report.Operations)
		result.Sessions = append(result.Sessions, report)
		result.AllVerified = result.AllVerified && report.OK()
	}
	result.Total = len(result.Sessions)

	if !out.JSON() {
		writeReplayText(out.Writer, result, opts.Verbose)
	}
	if !result.AllVerified {
		return out.Failure(result, CodeReplayFailed, "replay verification failed")
	}
	if out.JSON() {
		return out.Success(result)
	}
	return nil
}

func writeReplayText(w io.Writer, result ReplayResult, verbose bool) {
	if result.Total == 0 {
		fmt.Fprintln(w, "No sessions found in journal.")
		return
	}

	fmt.Fprintf(w, "Replay Summary: %d session(s)\n", result.Total)
	fmt.Fprintln(w)

	for _, r := range result.Sessions {
		status := "✓"
		if !r.OK() {
			status = "✗"
		}
		fmt.Fprintf(w, "%s Session: %s (document %s)\n", status, r.SessionID, r.DocumentID)
		fmt.Fprintf(w, "  Operations: %d, rejections: %d, version: %d\n", r.Operations, r.Rejections, r.Version)
		if verbose {
			fmt.Fprintf(w, "  Incarnation: %d\n", r.Incarnation)
			fmt.Fprintf(w, "  Content: %q\n", r.Content)
		}
		for _, p := range r.Problems {
			fmt.Fprintf(w, "  Problem: %s\n", p)
		}
		fmt.Fprintln(w)
	}

	if result.AllVerified {
		fmt.Fprintln(w, "✓ All sessions verified")
		return
	}
	fmt.Fprintln(w, "✗ Replay verification failed")
}
