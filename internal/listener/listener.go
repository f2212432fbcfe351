// Package listener subscribes to the database's publish/subscribe channel
// and turns each notify event into a coalesced wake signal for the delivery
// engine.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/aman1117/notifyd/internal/logger"
	"github.com/aman1117/notifyd/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	channel        = "notify_event"
	reconnectDelay = 5 * time.Second
	readDeadline   = 2 * time.Minute
)

// Listener runs the outer reconnect loop: Disconnected -> Connecting ->
// Subscribed -> Subscribed(receiving) -> Disconnected. It never gives up;
// the component is expected to run for the process lifetime.
type Listener struct {
	pool *pgxpool.Pool
	wake chan struct{}
	log  *zap.SugaredLogger
	m    *metrics.Metrics
}

// New returns a Listener that acquires connections from pool and delivers
// wake signals on wake. wake must have capacity 1; sends are non-blocking.
func New(pool *pgxpool.Pool, wake chan struct{}, m *metrics.Metrics) *Listener {
	return &Listener{
		pool: pool,
		wake: wake,
		log:  logger.WithComponent("listener"),
		m:    m,
	}
}

// Run blocks until ctx is cancelled, reconnecting on any transport error.
func (l *Listener) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := l.subscribeAndForward(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}

		l.log.Warnw("listener connection lost, reconnecting", "error", err, "retry_in", reconnectDelay)
		if l.m != nil {
			l.m.ListenerReconnectsTotal.Inc()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (l *Listener) subscribeAndForward(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	sanitized := pgx.Identifier{channel}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+sanitized); err != nil {
		return fmt.Errorf("executing LISTEN: %w", err)
	}

	l.log.Infow("listener subscribed", "channel", channel)

	for {
		if err := conn.Conn().PgConn().Conn().SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}

		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("waiting for notification: %w", err)
		}

		l.signalWake()
	}
}

// signalWake performs the non-blocking coalescing send described by the
// engine's wake contract: a pending signal already queued means the
// notification is dropped silently, a closed channel is logged and ignored.
func (l *Listener) signalWake() {
	defer func() {
		if r := recover(); r != nil {
			l.log.Warnw("wake channel closed, dropping notification", "recover", r)
		}
	}()

	select {
	case l.wake <- struct{}{}:
	default:
		// Capacity-1 channel already holds a pending wake; coalesce.
	}
}
