package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/lotkeep/internal/engine"
)

// ViewResult is the output of the view command.
type ViewResult struct {
	Facility       string      `json:"facility"`
	Capacity       int         `json:"capacity"`
	AvailableSlots int         `json:"available_slots"`
	View           engine.View `json:"view"`
}

// NewViewCommand creates the view command.
func NewViewCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show occupancy from the cached snapshot and the local queue",
		Long: `Print the reconciled view: the last remote snapshot this client cached,
overlaid with every write still waiting in the local queue. The remote store
is never contacted, so this works offline.

Examples:
  lotkeep view
  lotkeep view --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(rootOpts, cmd)
		},
	}
}

func runView(opts *RootOptions, cmd *cobra.Command) error {
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

	f := engine.New(st, st, nil, append(facilityOptions(cfg, logger), engine.WithConnectivity(offline{}))...)
	view, err := f.Refresh(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build view", err)
	}
	result := ViewResult{
		Facility:       f.Name(),
		Capacity:       f.Capacity(),
		AvailableSlots: engine.AvailableSlots(view, f.Capacity()),
		View:           view,
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Success(result)
	}
	writeViewText(cmd.OutOrStdout(), result)
	return nil
}

func writeViewText(w io.Writer, r ViewResult) {
	fmt.Fprintf(w, "Facility: %s\n", r.Facility)
	fmt.Fprintf(w, "Occupied: %d/%d (%d available)\n", len(r.View.ActiveSessions), r.Capacity, r.AvailableSlots)
	fmt.Fprintf(w, "Waitlist: %d\n", r.View.WaitlistCount)
	fmt.Fprintf(w, "Pending writes: %d\n", r.View.Pending)
	if r.View.SnapshotAt.IsZero() {
		fmt.Fprintln(w, "Snapshot: none cached")
	} else {
		fmt.Fprintf(w, "Snapshot: %s\n", r.View.SnapshotAt.Format("2006-01-02 15:04:05Z07:00"))
	}

	if len(r.View.ActiveSessions) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Active sessions:")
		for _, s := range r.View.ActiveSessions {
			state := "confirmed"
			if s.ID == "" {
				state = "pending"
			}
			fmt.Fprintf(w, "  %-10s %-36s %s  %s\n", s.Plate, s.Ref(), s.CheckIn.Format("15:04"), state)
		}
	}
	if len(r.View.Waitlist) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Waitlist:")
		for i, e := range r.View.Waitlist {
			fmt.Fprintf(w, "  %d. %-10s since %s\n", i+1, e.Plate, e.EntryTime.Format("15:04"))
		}
	}
}
