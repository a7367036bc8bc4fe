// Package postgres implements remote.Store and remote.Registry on PostgreSQL
// using a pgx connection pool.
//
// Change subscriptions use LISTEN/NOTIFY: triggers installed by Migrate call
// pg_notify on the lotkeep_sessions and lotkeep_waitlist channels with a
// payload of the form "<TG_OP>:<row id>".
//
// Errors reported by the server (*pgconn.PgError) are rejections and are
// returned wrapped. Every other failure is treated as a transport problem and
// wraps remote.ErrUnavailable.
package postgres
