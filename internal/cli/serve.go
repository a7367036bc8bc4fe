package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lotkeep/internal/connectivity"
	"github.com/roach88/lotkeep/internal/engine"
	"github.com/roach88/lotkeep/internal/httpapi"
	"github.com/roach88/lotkeep/internal/notify"
	"github.com/roach88/lotkeep/internal/telemetry"
	"github.com/roach88/lotkeep/internal/trigger"
)

// shutdownTimeout bounds HTTP drain and trace flush on exit.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Migrate bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gate client: sync triggers and the attendant API",
		Long: `Run the lotkeep client until interrupted.

The client keeps the local queue in sync with the remote store on a fixed
interval, whenever the link comes back, and after every attendant action.
Remote changes made by other gates refresh the view. The attendant HTTP API
listens on listen_addr.

Examples:
  lotkeep serve --config ./lot.yaml
  lotkeep serve --migrate --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Migrate, "migrate", false, "apply the remote schema before starting")

	return cmd
}

type migrator interface {
	Migrate(ctx context.Context) error
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	shutdownTracing := telemetry.Setup(ctx, "lotkeep", logger)
	defer func() {
		flushCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace flush failed", "error", err)
		}
	}()

	st, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing queue", "error", closeErr)
		}
	}()

	rs, release, err := opts.connect(ctx, cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect to remote store", err)
	}
	defer release()

	if opts.Migrate {
		m, ok := rs.(migrator)
		if !ok {
			return NewExitError(ExitCommandError, "remote store does not support migrations")
		}
		if err := m.Migrate(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to migrate remote schema", err)
		}
		logger.Info("remote schema applied")
	}

	sender, err := notify.New(cfg.Notify.SenderConfig(), logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to configure notifications", err)
	}
	notifier := notify.NewOfferNotifier(sender, cfg.FacilityName, logger)
	defer notifier.Wait()

	monitor := connectivity.New(rs, connectivity.WithLogger(logger))
	monitor.Check(ctx)

	facilityOpts := append(facilityOptions(cfg, logger),
		engine.WithRegistry(rs, cfg.RequireRegisteredPlate),
		engine.WithConnectivity(monitor),
		engine.WithNotifier(notifier),
	)
	facility := engine.New(st, st, rs, facilityOpts...)

	runner := trigger.New(facility, monitor, rs,
		trigger.WithSyncInterval(cfg.SyncInterval),
		trigger.WithProbeInterval(cfg.ProbeInterval),
		trigger.WithLogger(logger),
		trigger.OnView(func(v engine.View) {
			logger.Debug("view refreshed",
				"active", len(v.ActiveSessions),
				"waitlist", v.WaitlistCount,
				"pending", v.Pending,
			)
		}),
	)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler:           httpapi.NewServer(facility, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runnerDone := make(chan error, 1)
	go func() { runnerDone <- runner.Run(ctx) }()

	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ln) }()

	logger.Info("lotkeep started",
		"facility", cfg.FacilityName,
		"capacity", cfg.MaxCapacity,
		"listen", ln.Addr().String(),
		"online", monitor.IsOnline(),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s. Press Ctrl-C to stop.\n", ln.Addr())

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveDone:
		cancel()
	}

	drainCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(drainCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := <-runnerDone; err != nil {
		return WrapExitError(ExitFailure, "trigger runner failed", err)
	}
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "http server failed", serveErr)
	}

	logger.Info("lotkeep stopped gracefully")
	return nil
}
