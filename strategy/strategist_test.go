package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curbtheory/curbside/llm"
	"github.com/curbtheory/curbside/storage"
)

func TestRunMinStrategy_Success(t *testing.T) {
	p, store, dispatcher := newTestPipeline()
	seedSnapshot(store, testSnapshotID)
	require.NoError(t, store.EnsureStrategyRow(context.Background(), testSnapshotID, ""))
	dispatcher.responses[llm.RoleStrategist] = &llm.Response{
		Text: "  Head toward the stadium before the concert lets out.  ",
	}

	err := p.RunMinStrategy(context.Background(), testSnapshotID)
	require.NoError(t, err)

	row, err := store.GetStrategyRow(context.Background(), testSnapshotID)
	require.NoError(t, err)
	assert.Equal(t, "Head toward the stadium before the concert lets out.", row.MinStrategy)
	assert.Equal(t, storage.StatusComplete, row.Status)
	assert.Equal(t, "123 Main St, Frisco, TX", row.UserResolvedAddress)
	assert.Equal(t, "Frisco", row.UserResolvedCity)
	assert.Equal(t, "TX", row.UserResolvedState)
}

func TestRunMinStrategy_PromptCarriesSnapshotContext(t *testing.T) {
	p, store, dispatcher := newTestPipeline()
	seedSnapshot(store, testSnapshotID)
	require.NoError(t, store.EnsureStrategyRow(context.Background(), testSnapshotID, ""))

	require.NoError(t, p.RunMinStrategy(context.Background(), testSnapshotID))

	dispatcher.mu.Lock()
	prompts := dispatcher.prompts[llm.RoleStrategist]
	dispatcher.mu.Unlock()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0].User, "123 Main St, Frisco, TX")
	assert.Contains(t, prompts[0].User, "Monday, 2026-08-24T18:30:00-05:00")
	assert.Contains(t, prompts[0].User, "58°F")
}

func TestRunMinStrategy_ProviderFailure(t *testing.T) {
	p, store, dispatcher := newTestPipeline()
	seedSnapshot(store, testSnapshotID)
	require.NoError(t, store.EnsureStrategyRow(context.Background(), testSnapshotID, ""))
	dispatcher.errs[llm.RoleStrategist] = errors.New("provider down")

	err := p.RunMinStrategy(context.Background(), testSnapshotID)
	assert.Error(t, err)

	row, _ := store.GetStrategyRow(context.Background(), testSnapshotID)
	assert.Empty(t, row.MinStrategy)
	assert.Equal(t, storage.StatusPending, row.Status)
}

func TestRunMinStrategy_WriteFailureIsVisible(t *testing.T) {
	p, store, dispatcher := newTestPipeline()
	seedSnapshot(store, testSnapshotID)
	require.NoError(t, store.EnsureStrategyRow(context.Background(), testSnapshotID, ""))
	store.minStrategyErr = errors.New("connection reset")
	dispatcher.responses[llm.RoleStrategist] = &llm.Response{Text: "head north"}

	err := p.RunMinStrategy(context.Background(), testSnapshotID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist")

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, "connection reset", store.writeFailed[testSnapshotID])
}

func TestRunMinStrategy_MissingSnapshot(t *testing.T) {
	p, _, _ := newTestPipeline()

	err := p.RunMinStrategy(context.Background(), testSnapshotID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
