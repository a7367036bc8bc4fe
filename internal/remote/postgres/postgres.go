package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/lotkeep/internal/model"
	"github.com/roach88/lotkeep/internal/remote"
)

//go:embed schema.sql
var schemaSQL string

// Store is a PostgreSQL-backed remote store and vehicle registry.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var (
	_ remote.Store    = (*Store)(nil)
	_ remote.Registry = (*Store)(nil)
)

// Connect opens a connection pool to url. The pool connects lazily, so an
// unreachable server is reported by the first call rather than here.
func Connect(ctx context.Context, url string, logger *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 0
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger.With("component", "remote.postgres")}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// Migrate installs the schema and change-notification triggers.
func (s *Store) Migrate(ctx context.Context) error {
	// Exec without arguments uses the simple protocol, which accepts
	// multiple statements.
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return classify("migrate", err)
	}
	return nil
}

// classify maps pgx errors onto the remote error contract.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, remote.ErrUnavailable, err)
}

const sessionColumns = `id::text, client_ref, plate, make, model, color, owner_name, owner_phone, attendant, check_in, check_out`

func scanSession(row pgx.Row) (model.ParkingSession, error) {
	var p model.ParkingSession
	err := row.Scan(&p.ID, &p.ClientRef, &p.Plate,
		&p.Vehicle.Make, &p.Vehicle.Model, &p.Vehicle.Color,
		&p.OwnerName, &p.OwnerPhone, &p.Attendant, &p.CheckIn, &p.CheckOut)
	return p, err
}

const waitlistColumns = `id, plate, make, model, color, owner_phone, attendant, entry_time`

func scanEntry(row pgx.Row) (model.WaitlistEntry, error) {
	var e model.WaitlistEntry
	err := row.Scan(&e.ID, &e.Plate, &e.Vehicle.Make, &e.Vehicle.Model, &e.Vehicle.Color,
		&e.OwnerPhone, &e.Attendant, &e.EntryTime)
	return e, err
}

// InsertSession implements remote.Store. A replay with the same ClientRef
// returns the row stored by the first delivery.
func (s *Store) InsertSession(ctx context.Context, p model.ParkingSession) (model.ParkingSession, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO parking_sessions
			(client_ref, plate, make, model, color, owner_name, owner_phone, attendant, check_in, check_out)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (client_ref) DO UPDATE SET client_ref = EXCLUDED.client_ref
		RETURNING `+sessionColumns,
		p.ClientRef, p.Plate, p.Vehicle.Make, p.Vehicle.Model, p.Vehicle.Color,
		p.OwnerName, p.OwnerPhone, p.Attendant, p.CheckIn, p.CheckOut)

	stored, err := scanSession(row)
	if err != nil {
		return model.ParkingSession{}, classify("insert session", err)
	}
	return stored, nil
}

// UpdateSessionCheckOut implements remote.Store. The first recorded
// check-out time is kept.
func (s *Store) UpdateSessionCheckOut(ctx context.Context, ref string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE parking_sessions
		SET check_out = COALESCE(check_out, $2)
		WHERE id::text = $1 OR client_ref = $1
	`, ref, at)
	if err != nil {
		return classify("update check out", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update check out %s: %w", ref, remote.ErrNotFound)
	}
	return nil
}

// InsertWaitlistEntry implements remote.Store.
func (s *Store) InsertWaitlistEntry(ctx context.Context, e model.WaitlistEntry) (model.WaitlistEntry, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO waitlist_entries
			(id, plate, make, model, color, owner_phone, attendant, entry_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING `+waitlistColumns,
		e.ID, e.Plate, e.Vehicle.Make, e.Vehicle.Model, e.Vehicle.Color,
		e.OwnerPhone, e.Attendant, e.EntryTime)

	stored, err := scanEntry(row)
	if err != nil {
		return model.WaitlistEntry{}, classify("insert waitlist entry", err)
	}
	return stored, nil
}

// DeleteWaitlistEntry implements remote.Store.
func (s *Store) DeleteWaitlistEntry(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM waitlist_entries WHERE id = $1`, id); err != nil {
		return classify("delete waitlist entry", err)
	}
	return nil
}

// SelectActiveSessions implements remote.Store.
func (s *Store) SelectActiveSessions(ctx context.Context) ([]model.ParkingSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM parking_sessions
		WHERE check_out IS NULL
		ORDER BY check_in, id
	`)
	if err != nil {
		return nil, classify("select active sessions", err)
	}
	defer rows.Close()

	out := make([]model.ParkingSession, 0)
	for rows.Next() {
		p, err := scanSession(rows)
		if err != nil {
			return nil, classify("scan session", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("select active sessions", err)
	}
	return out, nil
}

// SelectWaitlist implements remote.Store.
func (s *Store) SelectWaitlist(ctx context.Context, limit int) ([]model.WaitlistEntry, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM waitlist_entries`).Scan(&total); err != nil {
		return nil, 0, classify("count waitlist", err)
	}

	// LIMIT NULL means no limit.
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+waitlistColumns+`
		FROM waitlist_entries
		ORDER BY entry_time, id
		LIMIT $1
	`, lim)
	if err != nil {
		return nil, 0, classify("select waitlist", err)
	}
	defer rows.Close()

	out := make([]model.WaitlistEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, classify("scan waitlist entry", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify("select waitlist", err)
	}
	return out, total, nil
}

// SelectWaitlistIDs implements remote.Store.
func (s *Store) SelectWaitlistIDs(ctx context.Context, ids []string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM waitlist_entries WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, classify("select waitlist ids", err)
	}
	held, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify("select waitlist ids", err)
	}
	return held, nil
}

// FindVehicleByPlate implements remote.Registry.
func (s *Store) FindVehicleByPlate(ctx context.Context, plate string) (*model.VehicleProfile, error) {
	var p model.VehicleProfile
	err := s.pool.QueryRow(ctx, `
		SELECT plate, make, model, color, owner_name, owner_phone
		FROM vehicles WHERE plate = $1
	`, plate).Scan(&p.Plate, &p.Vehicle.Make, &p.Vehicle.Model, &p.Vehicle.Color, &p.OwnerName, &p.OwnerPhone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classify("find vehicle", err)
	}
	return &p, nil
}

// RegisterVehicle inserts or replaces a registry profile.
func (s *Store) RegisterVehicle(ctx context.Context, p model.VehicleProfile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vehicles (plate, make, model, color, owner_name, owner_phone)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (plate) DO UPDATE SET
			make = EXCLUDED.make, model = EXCLUDED.model, color = EXCLUDED.color,
			owner_name = EXCLUDED.owner_name, owner_phone = EXCLUDED.owner_phone
	`, p.Plate, p.Vehicle.Make, p.Vehicle.Model, p.Vehicle.Color, p.OwnerName, p.OwnerPhone)
	return classify("register vehicle", err)
}

// Ping implements remote.Store.
func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", s.pool.Ping(ctx))
}
