package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/curbtheory/curbside/metrics"
	"github.com/curbtheory/curbside/storage"
)

// Listener holds the dedicated, non-pooled connection subscribed to the
// change channels. Strategy-channel messages trigger a consolidation
// check; every message is republished to the SSE broker. The connection
// is a lifecycle singleton: it is never used for regular queries.
type Listener struct {
	connString  string
	channels    []string
	consolidate func(ctx context.Context, snapshotID string)
	pending     PendingLister
	broker      *Broker
	logger      *slog.Logger

	gate *reconnectGate

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// PendingLister supplies the catch-up sweep with rows that may have missed
// their notification during downtime.
type PendingLister interface {
	ListPendingStrategyIDs(ctx context.Context) ([]string, error)
}

// Reconnection policy: delays 1s,2s,4s,8s,16s capped at 30s; after
// maxConsecutiveFailures the listener reports fatal and stops.
const (
	maxConsecutiveFailures = 5
	maxReconnectDelay      = 30 * time.Second
	reconnectWaitBound     = 30 * time.Second
)

// NewListener builds the listener. consolidate is invoked (with its own
// timeout) for every snapshot-scoped message; broker may be nil to disable
// SSE republication.
func NewListener(connString string, consolidate func(ctx context.Context, snapshotID string), pending PendingLister, broker *Broker, logger *slog.Logger) (*Listener, error) {
	if storage.IsPooledURL(connString) {
		return nil, fmt.Errorf("listener connection string is pooled; LISTEN requires a session-pinned URL")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		connString:  connString,
		channels: []string{
			storage.ChannelStrategyProgress,
			storage.ChannelStrategyReady,
			storage.ChannelBlocksReady,
		},
		consolidate: consolidate,
		pending:     pending,
		broker:      broker,
		logger:      logger,
		gate:        newReconnectGate(),
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}, nil
}

// Run subscribes and processes notifications until ctx is canceled or the
// reconnection budget is exhausted. Blocking; run in its own goroutine.
func (l *Listener) Run(ctx context.Context) error {
	failures := 0
	for {
		conn, err := l.connect(ctx)
		if err != nil {
			failures++
			l.logger.Error("Listener connection failed",
				"attempt", failures,
				"max", maxConsecutiveFailures,
				"error", err)
			if failures >= maxConsecutiveFailures {
				return fmt.Errorf("listener gave up after %d consecutive failures: %w", failures, err)
			}
			if err := l.sleep(ctx, BackoffDelay(failures)); err != nil {
				return err
			}
			continue
		}

		failures = 0
		l.catchUp(ctx)

		err = l.listenLoop(ctx, conn)
		_ = conn.Close(context.Background())
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Error("Listener connection lost, reconnecting", "error", err)
	}
}

// connect dials, subscribes to every channel, and serializes concurrent
// attempts through the reconnect gate.
func (l *Listener) connect(ctx context.Context) (*pgx.Conn, error) {
	leader, waitCh := l.gate.begin()
	if !leader {
		// Another attempt is in progress; wait for it, bounded.
		select {
		case <-waitCh:
		case <-time.After(reconnectWaitBound):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reconnect deferred to in-progress attempt")
	}
	defer l.gate.end()

	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	for _, ch := range l.channels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			_ = conn.Close(context.Background())
			return nil, fmt.Errorf("listen %s: %w", ch, err)
		}
	}

	l.logger.Info("Listener subscribed", "channels", l.channels)
	return conn, nil
}

// catchUp replays consolidation checks for rows whose notification may
// have been missed while disconnected.
func (l *Listener) catchUp(ctx context.Context) {
	ids, err := l.pending.ListPendingStrategyIDs(ctx)
	if err != nil {
		l.logger.Error("Catch-up sweep failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	l.logger.Info("Catch-up sweep", "pending", len(ids))
	for _, id := range ids {
		l.consolidate(ctx, id)
	}
}

// listenLoop blocks on notifications until the connection drops.
func (l *Listener) listenLoop(ctx context.Context, conn *pgx.Conn) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.handle(ctx, n.Channel, n.Payload)
	}
}

// handle dispatches one notification: consolidation check plus SSE
// republication. Malformed payloads are logged and dropped.
func (l *Listener) handle(ctx context.Context, channel, raw string) {
	metrics.NotificationsReceived.WithLabelValues(channel).Inc()

	payload, err := ParsePayload(raw)
	if err != nil {
		l.logger.Warn("Ignoring malformed notification",
			"channel", channel, "error", err)
		return
	}

	l.logger.Debug("Notification", "channel", channel, "snapshot_id", payload.SnapshotID)

	// Only the strategy channels drive consolidation; blocks_ready is a
	// downstream announcement and is forwarded as-is.
	if channel != storage.ChannelBlocksReady {
		l.consolidate(ctx, payload.SnapshotID)
	}

	if l.broker != nil {
		l.broker.Publish(channel, raw)
	}
}

// BackoffDelay returns the reconnect delay for the given 1-based failure
// count: 1s,2s,4s,8s,16s then capped at 30s.
func BackoffDelay(failure int) time.Duration {
	if failure < 1 {
		failure = 1
	}
	d := time.Second << (failure - 1)
	if d > maxReconnectDelay || d <= 0 {
		return maxReconnectDelay
	}
	return d
}
