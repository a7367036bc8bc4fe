package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/lotkeep/internal/engine"
)

// SyncResult is the output of the sync command.
type SyncResult struct {
	Pass    engine.PassResult `json:"pass"`
	Pending int               `json:"pending"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay the local queue against the remote store once",
		Long: `Run one sync pass: deliver queued writes to the remote store in order,
then refresh the cached snapshot used by the offline view.

Exit codes:
  0 - Pass completed (rejected items stay queued for retry)
  1 - Remote store unreachable; nothing was charged against retry budgets
  2 - Command error (bad config, queue unreadable, etc.)

Examples:
  lotkeep sync
  lotkeep sync --config ./lot.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(opts, cmd.ErrOrStderr())

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	st, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rs, release, err := opts.connect(ctx, cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect to remote store", err)
	}
	defer release()

	f := engine.New(st, st, rs, facilityOptions(cfg, logger)...)
	pass, err := f.Sync(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "sync failed", err)
	}
	view, err := f.Refresh(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "refresh failed", err)
	}
	result := SyncResult{Pass: pass, Pending: view.Pending}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	switch {
	case opts.Format == "json" && pass.Aborted:
		if err := formatter.Error("remote_unreachable", "pass aborted", result); err != nil {
			return err
		}
	case opts.Format == "json":
		if err := formatter.Success(result); err != nil {
			return err
		}
	default:
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Sync pass: %s\n", pass)
		fmt.Fprintf(w, "Pending writes: %d\n", result.Pending)
	}

	if pass.Aborted {
		return NewExitError(ExitFailure, "remote store unreachable; pass aborted")
	}
	return nil
}
