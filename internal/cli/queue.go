package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/lotkeep/internal/model"
	"github.com/roach88/lotkeep/internal/store"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the local write queue and dead letters",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueDeadCommand(rootOpts))
	cmd.AddCommand(newQueueRequeueCommand(rootOpts))
	return cmd
}

func newQueueListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List writes waiting for the remote store",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(opts, cmd, func(ctx context.Context, st *store.Store) error {
				items, err := st.List(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to list queue", err)
				}
				if opts.Format == "json" {
					return (&OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}).Success(items)
				}
				w := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(w, "Queue is empty.")
					return nil
				}
				for _, item := range items {
					fmt.Fprintf(w, "#%d %-16s %-10s attempts=%d", item.ID, item.Op(), item.Mutation.Plate(), item.Attempts)
					if item.LastError != "" {
						fmt.Fprintf(w, " next=%s last_error=%q", item.NextAttemptAt.Format("15:04:05"), item.LastError)
					}
					fmt.Fprintln(w)
				}
				return nil
			})
		},
	}
}

func newQueueDeadCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "dead",
		Short:         "List writes that exhausted their retry budget",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(opts, cmd, func(ctx context.Context, st *store.Store) error {
				letters, err := st.ListDeadLetters(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to list dead letters", err)
				}
				if opts.Format == "json" {
					return (&OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}).Success(letters)
				}
				writeDeadLetters(cmd, letters)
				return nil
			})
		},
	}
}

func writeDeadLetters(cmd *cobra.Command, letters []model.DeadLetter) {
	w := cmd.OutOrStdout()
	if len(letters) == 0 {
		fmt.Fprintln(w, "No dead letters.")
		return
	}
	for _, d := range letters {
		fmt.Fprintf(w, "#%d %-16s %-10s parked=%s reason=%q\n",
			d.Item.ID, d.Item.Op(), d.Item.Mutation.Plate(), d.ParkedAt.Format("2006-01-02 15:04:05"), d.Reason)
	}
}

func newQueueRequeueCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <id>",
		Short: "Move a dead letter back to the end of the queue",
		Long: `Move a dead letter back to the end of the replay queue with a fresh
retry budget. The next sync pass delivers it.

Examples:
  lotkeep queue dead
  lotkeep queue requeue 42`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid id %q", args[0]))
			}
			return withQueue(opts, cmd, func(ctx context.Context, st *store.Store) error {
				newID, err := st.Requeue(ctx, id)
				if errors.Is(err, store.ErrItemNotFound) {
					if opts.Format == "json" {
						_ = (&OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}).Error("not_found", fmt.Sprintf("dead letter %d not found", id), nil)
					}
					return NewExitError(ExitFailure, fmt.Sprintf("dead letter %d not found", id))
				}
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to requeue", err)
				}
				if opts.Format == "json" {
					return (&OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}).Success(map[string]int64{"dead_letter": id, "queue_id": newID})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued dead letter %d as #%d\n", id, newID)
				return nil
			})
		},
	}
}

// withQueue loads the configuration, opens the queue, and runs fn.
func withQueue(opts *RootOptions, cmd *cobra.Command, fn func(context.Context, *store.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	st, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}
