package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/lotkeep/internal/remote"
)

var channels = map[remote.Table]string{
	remote.TableSessions: "lotkeep_sessions",
	remote.TableWaitlist: "lotkeep_waitlist",
}

// Subscribe implements remote.Store. It holds one pooled connection in
// LISTEN mode for the lifetime of the subscription. If that connection
// fails the subscription ends; callers resubscribe once connectivity
// returns.
func (s *Store) Subscribe(ctx context.Context, table remote.Table, onChange func(remote.Change)) (remote.Subscription, error) {
	channel, ok := channels[table]
	if !ok {
		return nil, fmt.Errorf("subscribe: unknown table %q", table)
	}
	if onChange == nil {
		return nil, fmt.Errorf("subscribe %s: nil callback", table)
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, classify("subscribe "+string(table), err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, classify("listen "+channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		defer func() {
			// A connection still in LISTEN mode must not go back to the pool.
			cleanup, stop := context.WithTimeout(context.Background(), 2*time.Second)
			defer stop()
			if _, err := conn.Exec(cleanup, "UNLISTEN *"); err != nil {
				conn.Conn().Close(cleanup)
			}
			conn.Release()
		}()

		for {
			n, err := conn.Conn().WaitForNotification(subCtx)
			if err != nil {
				if subCtx.Err() == nil {
					s.logger.Warn("subscription ended", "table", table, "error", err)
				}
				return
			}
			onChange(parseNotification(table, n.Payload))
		}
	}()

	s.logger.Debug("subscribed", "table", table, "channel", channel)
	return sub, nil
}

func parseNotification(table remote.Table, payload string) remote.Change {
	c := remote.Change{Table: table, At: time.Now()}
	action, id, found := strings.Cut(payload, ":")
	if found {
		c.Action = action
		c.RowID = id
	} else {
		c.Action = payload
	}
	return c
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (sub *subscription) Close() error {
	sub.once.Do(func() {
		sub.cancel()
		<-sub.done
	})
	return nil
}
