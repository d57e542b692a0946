package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		failure int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{7, 30 * time.Second},
		{100, 30 * time.Second}, // shift overflow still caps
		{0, time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, BackoffDelay(tt.failure), "failure %d", tt.failure)
	}
}

func TestNewListener_RejectsPooledURL(t *testing.T) {
	noop := func(context.Context, string) {}

	_, err := NewListener("postgres://user:pw@host-pooler.example.com:5432/db", noop, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session-pinned")

	_, err = NewListener("postgres://user:pw@host.example.com:5432/db", noop, nil, nil, nil)
	assert.NoError(t, err)
}

func TestListener_HandleDispatchesAndRepublishes(t *testing.T) {
	broker := NewBroker(nil)
	sub, err := broker.Subscribe("strategy_ready")
	require.NoError(t, err)
	defer broker.Unsubscribe(sub)

	var consolidated []string
	l, err := NewListener(
		"postgres://user:pw@host.example.com:5432/db",
		func(_ context.Context, id string) { consolidated = append(consolidated, id) },
		nil, broker, nil,
	)
	require.NoError(t, err)

	l.handle(context.Background(), "strategy_ready", `{"snapshot_id":"s1"}`)

	assert.Equal(t, []string{"s1"}, consolidated)
	ev := <-sub.Events()
	assert.Equal(t, `{"snapshot_id":"s1"}`, ev.Payload)
}

func TestNewListener_SubscribesAllChannels(t *testing.T) {
	noop := func(context.Context, string) {}
	l, err := NewListener("postgres://user:pw@host.example.com:5432/db", noop, nil, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"strategy_progress", "strategy_ready", "blocks_ready"}, l.channels)
}

func TestListener_ForwardsBlocksReadyWithoutConsolidating(t *testing.T) {
	broker := NewBroker(nil)
	sub, err := broker.Subscribe("blocks_ready")
	require.NoError(t, err)
	defer broker.Unsubscribe(sub)

	var consolidated []string
	l, err := NewListener(
		"postgres://user:pw@host.example.com:5432/db",
		func(_ context.Context, id string) { consolidated = append(consolidated, id) },
		nil, broker, nil,
	)
	require.NoError(t, err)

	l.handle(context.Background(), "blocks_ready", `{"snapshot_id":"s1","ranking_id":"r1"}`)

	assert.Empty(t, consolidated, "blocks_ready must not drive consolidation")
	ev := <-sub.Events()
	assert.Equal(t, "blocks_ready", ev.Channel)
	assert.Equal(t, `{"snapshot_id":"s1","ranking_id":"r1"}`, ev.Payload)
}

func TestListener_HandleDropsMalformedPayload(t *testing.T) {
	var calls int
	l, err := NewListener(
		"postgres://user:pw@host.example.com:5432/db",
		func(context.Context, string) { calls++ },
		nil, nil, nil,
	)
	require.NoError(t, err)

	l.handle(context.Background(), "strategy_ready", `garbage`)
	l.handle(context.Background(), "strategy_ready", `{"ranking_id":"r1"}`)

	assert.Equal(t, 0, calls)
}

type fakePending struct {
	ids []string
	err error
}

func (f *fakePending) ListPendingStrategyIDs(context.Context) ([]string, error) {
	return f.ids, f.err
}

func TestListener_CatchUpReplaysPendingRows(t *testing.T) {
	var consolidated []string
	l, err := NewListener(
		"postgres://user:pw@host.example.com:5432/db",
		func(_ context.Context, id string) { consolidated = append(consolidated, id) },
		&fakePending{ids: []string{"s1", "s2", "s3"}}, nil, nil,
	)
	require.NoError(t, err)

	l.catchUp(context.Background())

	assert.Equal(t, []string{"s1", "s2", "s3"}, consolidated)
}

func TestListener_CatchUpSwallowsListFailure(t *testing.T) {
	var calls int
	l, err := NewListener(
		"postgres://user:pw@host.example.com:5432/db",
		func(context.Context, string) { calls++ },
		&fakePending{err: assert.AnError}, nil, nil,
	)
	require.NoError(t, err)

	l.catchUp(context.Background())

	assert.Equal(t, 0, calls)
}

func TestListener_RunGivesUpAfterMaxFailures(t *testing.T) {
	// A port that fails config parsing makes every connect attempt fail
	// without touching the network.
	l, err := NewListener(
		"postgres://user:pw@host.example.com:notaport/db",
		func(context.Context, string) {}, &fakePending{}, nil, nil,
	)
	require.NoError(t, err)

	var delays []time.Duration
	l.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	err = l.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gave up after 5 consecutive failures")
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
	}, delays)
}
