package engine

import (
	"context"
	"time"

	"github.com/roach88/lotkeep/internal/model"
)

// Queue is the local durable queue as seen by the engine.
// Implemented by *store.Store.
//
// Every method is a serial critical section in the implementation, so the
// foreground path and the Syncer may call it concurrently.
type Queue interface {
	Enqueue(ctx context.Context, m model.Mutation, correlationID string) (int64, error)
	List(ctx context.Context) ([]model.QueueItem, error)
	Remove(ctx context.Context, id int64) error
	RecordFailure(ctx context.Context, id int64, cause string, nextAttempt time.Time) error
	DeadLetter(ctx context.Context, id int64, reason string) error
}

// KeyValue is the local key/value persistence used to cache the last
// confirmed snapshot. Implemented by *store.Store.
type KeyValue interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Connectivity reports whether the remote store is believed reachable.
// Implemented by *connectivity.Monitor.
type Connectivity interface {
	IsOnline() bool
}

// Notifier is told about every new promotion offer. Implementations must
// not block for long and must not report delivery failures back.
type Notifier interface {
	NotifyOffer(ctx context.Context, offer Offer)
}

type noopNotifier struct{}

func (noopNotifier) NotifyOffer(context.Context, Offer) {}

// alwaysOnline is used when no Connectivity is supplied.
type alwaysOnline struct{}

func (alwaysOnline) IsOnline() bool { return true }
