package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/lotkeep/internal/model"
	"github.com/roach88/lotkeep/internal/remote"
)

const tracerName = "github.com/roach88/lotkeep/internal/engine"

// PassResult summarizes one sync pass.
type PassResult struct {
	// Delivered items were acknowledged and removed from the queue.
	Delivered int `json:"delivered"`
	// Failed items were rejected and scheduled for retry.
	Failed int `json:"failed"`
	// Deferred items were not attempted: backing off, or behind a failed
	// item for the same plate.
	Deferred int `json:"deferred"`
	// DeadLettered items exhausted their retry budget.
	DeadLettered int `json:"dead_lettered"`
	// Skipped is set when another pass was already running.
	Skipped bool `json:"skipped"`
	// Aborted is set when the remote store became unreachable mid-pass.
	Aborted bool `json:"aborted"`
}

// String renders the result on one line.
func (r PassResult) String() string {
	if r.Skipped {
		return "skipped"
	}
	line := fmt.Sprintf("delivered=%d failed=%d deferred=%d dead_lettered=%d",
		r.Delivered, r.Failed, r.Deferred, r.DeadLettered)
	if r.Aborted {
		line += " aborted"
	}
	return line
}

// Syncer replays the local durable queue against the remote store.
//
// Thread-safety: RunPass may be called from any goroutine. At most one pass
// runs at a time; concurrent calls return immediately with Skipped set.
type Syncer struct {
	queue   Queue
	remote  remote.Store
	backoff BackoffPolicy
	now     Clock
	logger  *slog.Logger
	tracer  trace.Tracer

	running atomic.Bool
}

// NewSyncer creates a Syncer. A nil logger falls back to slog.Default.
func NewSyncer(q Queue, rs remote.Store, backoff BackoffPolicy, now Clock, logger *slog.Logger) *Syncer {
	if now == nil {
		now = systemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		queue:   q,
		remote:  rs,
		backoff: backoff,
		now:     now,
		logger:  logger.With("component", "syncer"),
		tracer:  otel.Tracer(tracerName),
	}
}

// Running reports whether a pass is in progress.
func (s *Syncer) Running() bool {
	return s.running.Load()
}

// RunPass delivers queued mutations in queue order.
//
// Items are attempted one at a time. A rejected item stays queued with its
// retry schedule, and later items for the same plate wait for the next pass
// so per-plate order is preserved. If the remote store is unreachable the
// pass stops without charging an attempt.
//
// Cancellation is observed between items only; an item already sent to the
// remote store is allowed to resolve.
func (s *Syncer) RunPass(ctx context.Context) (PassResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return PassResult{Skipped: true}, nil
	}
	defer s.running.Store(false)

	ctx, span := s.tracer.Start(ctx, "sync.pass")
	defer span.End()

	var res PassResult
	items, err := s.queue.List(ctx)
	if err != nil {
		err = localPersistence("list queue", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "list queue")
		return res, err
	}
	span.SetAttributes(attribute.Int("sync.queue_length", len(items)))
	if len(items) == 0 {
		return res, nil
	}

	now := s.now()
	blocked := make(map[string]bool)
	// Bookkeeping for an item already sent must land even if ctx is cancelled.
	book := context.WithoutCancel(ctx)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		plate := item.Mutation.Plate()
		if blocked[plate] {
			res.Deferred++
			continue
		}
		if item.NextAttemptAt.After(now) {
			blocked[plate] = true
			res.Deferred++
			continue
		}

		err := s.deliver(ctx, item)
		switch {
		case err == nil:
			if err := s.queue.Remove(book, item.ID); err != nil {
				return res, localPersistence("remove delivered item", err)
			}
			res.Delivered++

		case errors.Is(err, remote.ErrUnavailable):
			s.logger.Debug("remote unavailable, pass aborted", "item", item.ID, "error", err)
			res.Aborted = true
			span.SetAttributes(attribute.Bool("sync.aborted", true))
			return res, nil

		default:
			blocked[plate] = true
			if err := s.reject(book, item, err, &res); err != nil {
				return res, err
			}
		}
	}

	span.SetAttributes(
		attribute.Int("sync.delivered", res.Delivered),
		attribute.Int("sync.failed", res.Failed),
		attribute.Int("sync.deferred", res.Deferred),
		attribute.Int("sync.dead_lettered", res.DeadLettered),
	)
	if res.Delivered > 0 || res.Failed > 0 || res.DeadLettered > 0 {
		s.logger.Info("sync pass complete",
			"delivered", res.Delivered,
			"failed", res.Failed,
			"deferred", res.Deferred,
			"dead_lettered", res.DeadLettered,
		)
	}
	return res, nil
}

// reject records a remote rejection against item.
func (s *Syncer) reject(ctx context.Context, item model.QueueItem, cause error, res *PassResult) error {
	attempts := item.Attempts + 1
	if s.backoff.Exhausted(attempts) {
		reason := fmt.Sprintf("rejected %d times: %v", attempts, cause)
		if err := s.queue.DeadLetter(ctx, item.ID, reason); err != nil {
			return localPersistence("dead-letter item", err)
		}
		s.logger.Warn("queue item dead-lettered",
			"item", item.ID,
			"op", item.Op(),
			"plate", item.Mutation.Plate(),
			"attempts", attempts,
			"error", cause,
		)
		res.DeadLettered++
		return nil
	}

	next := s.now().Add(s.backoff.Delay(attempts))
	if err := s.queue.RecordFailure(ctx, item.ID, cause.Error(), next); err != nil {
		return localPersistence("record failure", err)
	}
	s.logger.Warn("queue item rejected",
		"item", item.ID,
		"op", item.Op(),
		"plate", item.Mutation.Plate(),
		"attempts", attempts,
		"next_attempt", next,
		"error", cause,
	)
	res.Failed++
	return nil
}

// deliver sends one mutation to the remote store.
func (s *Syncer) deliver(ctx context.Context, item model.QueueItem) (err error) {
	ctx, span := s.tracer.Start(ctx, "sync.item", trace.WithAttributes(
		attribute.Int64("queue.item_id", item.ID),
		attribute.String("queue.op", string(item.Op())),
		attribute.Int("queue.attempts", item.Attempts),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "delivery failed")
		}
		span.End()
	}()

	call := context.WithoutCancel(ctx)

	switch m := item.Mutation.(type) {
	case model.CheckIn:
		_, err = s.remote.InsertSession(call, m.Session)
	case model.CheckOut:
		err = s.remote.UpdateSessionCheckOut(call, m.SessionRef, m.At)
	case model.WaitlistAdd:
		_, err = s.remote.InsertWaitlistEntry(call, m.Entry)
	case model.WaitlistRemove:
		err = s.remote.DeleteWaitlistEntry(call, m.EntryID)
	default:
		err = fmt.Errorf("unsupported mutation %T", m)
	}
	return err
}
