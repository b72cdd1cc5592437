package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"storefront/internal/reconcile"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Limit int
	JSON  bool
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Reprocess unprocessed payment webhook events",
		Long: `Re-run every payment webhook event that is not marked processed,
oldest first. Each event is reconciled against the gateway's current state,
so replaying an event that already took effect changes nothing.

Exit codes:
  0 - every attempted event was processed
  1 - at least one event failed again
  2 - command error (bad config, database unreachable, etc.)

Examples:
  storefront replay
  storefront replay --limit 20 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum events to replay (default from config)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the report as JSON")

	return cmd
}

func runReplay(cmd *cobra.Command, opts *ReplayOptions) error {
	ctx := cmd.Context()

	cfg, logger, err := loadConfig(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.reconciler == nil {
		return WrapExitError(ExitCommandError, "cannot replay", fmt.Errorf("barion POS key is not configured"))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = cfg.Webhook.ReplayLimit
	}
	report, err := a.reconciler.Replay(ctx, limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay aborted", err)
	}
	if err := writeReport(cmd.OutOrStdout(), report, opts.JSON); err != nil {
		return WrapExitError(ExitCommandError, "failed to write report", err)
	}
	if report.Failed > 0 {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d of %d events failed", report.Failed, report.Attempted)}
	}
	return nil
}

func writeReport(w io.Writer, report reconcile.ReplayReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	_, err := fmt.Fprintf(w, "attempted: %d\nsucceeded: %d\nfailed:    %d\n", report.Attempted, report.Succeeded, report.Failed)
	return err
}
