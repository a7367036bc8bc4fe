package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/lotkeep/internal/model"
)

// ErrItemNotFound is returned when a queue or dead-letter id does not exist.
var ErrItemNotFound = errors.New("queue item not found")

// Enqueue appends a mutation to the queue and returns its sequence id.
func (s *Store) Enqueue(ctx context.Context, m model.Mutation, correlationID string) (int64, error) {
	op, payload, err := model.EncodeMutation(m)
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_items (op, payload, plate, correlation_id, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(op), string(payload), m.Plate(), correlationID, toUnix(s.now()))
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue: last insert id: %w", err)
	}
	return id, nil
}

// List returns every pending item in insertion order.
// Returns an empty slice (not nil) when the queue is empty.
func (s *Store) List(ctx context.Context) ([]model.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, op, payload, correlation_id, enqueued_at, attempts, next_attempt_at, last_error
		FROM queue_items
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	items := []model.QueueItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue: %w", err)
	}
	return items, nil
}

// Len returns the number of pending items.
func (s *Store) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}

// Remove deletes an acknowledged item. Removing an id that is already gone
// is not an error, so a replayed acknowledgement stays harmless.
func (s *Store) Remove(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM queue_items WHERE seq = ?`, id); err != nil {
		return fmt.Errorf("remove queue item %d: %w", id, err)
	}
	return nil
}

// RecordFailure bumps the attempt counter of an item and schedules its next attempt.
func (s *Store) RecordFailure(ctx context.Context, id int64, cause string, nextAttempt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET attempts = attempts + 1, next_attempt_at = ?, last_error = ?
		WHERE seq = ?
	`, toUnix(nextAttempt), cause, id)
	if err != nil {
		return fmt.Errorf("record failure %d: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("record failure %d: %w", id, ErrItemNotFound)
	}
	return nil
}

// DeadLetter moves an item out of the replay queue into dead_letters.
// The move is a single transaction.
func (s *Store) DeadLetter(ctx context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dead letter %d: begin tx: %w", id, err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO dead_letters
		(seq, op, payload, plate, correlation_id, enqueued_at, attempts, last_error, reason, parked_at)
		SELECT seq, op, payload, plate, correlation_id, enqueued_at, attempts + 1, last_error, ?, ?
		FROM queue_items WHERE seq = ?
	`, reason, toUnix(s.now()), id)
	if err != nil {
		return fmt.Errorf("dead letter %d: insert: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("dead letter %d: %w", id, ErrItemNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_items WHERE seq = ?`, id); err != nil {
		return fmt.Errorf("dead letter %d: delete: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dead letter %d: commit: %w", id, err)
	}
	return nil
}

// ListDeadLetters returns parked items ordered by their original sequence.
func (s *Store) ListDeadLetters(ctx context.Context) ([]model.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, op, payload, correlation_id, enqueued_at, attempts, last_error, reason, parked_at
		FROM dead_letters
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	letters := []model.DeadLetter{}
	for rows.Next() {
		var (
			seq, enqueuedAt, parkedAt int64
			attempts                  int
			op, payload, corr         string
			lastErr, reason           string
		)
		if err := rows.Scan(&seq, &op, &payload, &corr, &enqueuedAt, &attempts, &lastErr, &reason, &parkedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		m, err := model.DecodeMutation(model.Op(op), []byte(payload))
		if err != nil {
			return nil, fmt.Errorf("dead letter %d: %w", seq, err)
		}
		letters = append(letters, model.DeadLetter{
			Item: model.QueueItem{
				ID:            seq,
				Mutation:      m,
				CorrelationID: corr,
				EnqueuedAt:    fromUnix(enqueuedAt),
				Attempts:      attempts,
				LastError:     lastErr,
			},
			Reason:   reason,
			ParkedAt: fromUnix(parkedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return letters, nil
}

// Requeue moves a dead letter back to the tail of the replay queue with a
// fresh attempt budget and returns its new sequence id.
func (s *Store) Requeue(ctx context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("requeue %d: begin tx: %w", id, err)
	}
	defer tx.Rollback()

	var op, payload, plate, corr string
	err = tx.QueryRowContext(ctx, `
		SELECT op, payload, plate, correlation_id FROM dead_letters WHERE seq = ?
	`, id).Scan(&op, &payload, &plate, &corr)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("requeue %d: %w", id, ErrItemNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("requeue %d: select: %w", id, err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO queue_items (op, payload, plate, correlation_id, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
	`, op, payload, plate, corr, toUnix(s.now()))
	if err != nil {
		return 0, fmt.Errorf("requeue %d: insert: %w", id, err)
	}
	newID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("requeue %d: last insert id: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters WHERE seq = ?`, id); err != nil {
		return 0, fmt.Errorf("requeue %d: delete: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("requeue %d: commit: %w", id, err)
	}
	return newID, nil
}

func scanQueueItem(rows *sql.Rows) (model.QueueItem, error) {
	var (
		seq, enqueuedAt, nextAttempt int64
		attempts                     int
		op, payload, corr, lastErr   string
	)
	if err := rows.Scan(&seq, &op, &payload, &corr, &enqueuedAt, &attempts, &nextAttempt, &lastErr); err != nil {
		return model.QueueItem{}, fmt.Errorf("scan queue item: %w", err)
	}
	m, err := model.DecodeMutation(model.Op(op), []byte(payload))
	if err != nil {
		return model.QueueItem{}, fmt.Errorf("queue item %d: %w", seq, err)
	}
	return model.QueueItem{
		ID:            seq,
		Mutation:      m,
		CorrelationID: corr,
		EnqueuedAt:    fromUnix(enqueuedAt),
		Attempts:      attempts,
		NextAttemptAt: fromUnix(nextAttempt),
		LastError:     lastErr,
	}, nil
}
