package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/roach88/lotkeep/internal/config"
	"github.com/roach88/lotkeep/internal/engine"
	"github.com/roach88/lotkeep/internal/remote"
	"github.com/roach88/lotkeep/internal/remote/postgres"
	"github.com/roach88/lotkeep/internal/store"
)

// RemoteStore is a remote store that also serves the vehicle registry.
type RemoteStore interface {
	remote.Store
	remote.Registry
}

// ConnectFunc opens the remote store. The returned func releases it.
type ConnectFunc func(ctx context.Context, cfg config.Config, logger *slog.Logger) (RemoteStore, func(), error)

// errNoDatabase is returned when a command needs the remote store and no
// database_url is configured.
var errNoDatabase = errors.New("database_url is not configured (set it in the policy file or LOTKEEP_DATABASE_URL)")

func connectPostgres(ctx context.Context, cfg config.Config, logger *slog.Logger) (RemoteStore, func(), error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, errNoDatabase
	}
	pg, err := postgres.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func (o *RootOptions) connect(ctx context.Context, cfg config.Config, logger *slog.Logger) (RemoteStore, func(), error) {
	if o.Connect != nil {
		return o.Connect(ctx, cfg, logger)
	}
	return connectPostgres(ctx, cfg, logger)
}

// newLogger builds the command logger on w. Verbose enables debug output.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	return cfg, nil
}

func openQueue(cfg config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.QueuePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open queue", err)
	}
	return st, nil
}

// offline is the connectivity of commands that never reach the remote store.
type offline struct{}

func (offline) IsOnline() bool { return false }

// facilityOptions are the engine options shared by every command.
func facilityOptions(cfg config.Config, logger *slog.Logger) []engine.Option {
	return []engine.Option{
		engine.WithName(cfg.FacilityName),
		engine.WithCapacity(cfg.MaxCapacity),
		engine.WithBackoff(cfg.Backoff.Policy()),
		engine.WithLogger(logger),
	}
}
