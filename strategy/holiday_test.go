package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curbtheory/curbside/llm"
)

func TestNormalizeHoliday(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Labor Day", "Labor Day"},
		{"  Labor Day.  ", "Labor Day"},
		{`"Thanksgiving"`, "Thanksgiving"},
		{"none", ""},
		{"None.", ""},
		{"NO", ""},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeHoliday(tt.raw), "raw %q", tt.raw)
	}

	t.Run("essays rejected", func(t *testing.T) {
		long := "This date does not correspond to any widely observed public holiday in the " +
			"United States, although some regions may observe local celebrations."
		assert.Empty(t, normalizeHoliday(long))
	})
}

func TestRunHolidayCheck_PatchesSnapshotAndRow(t *testing.T) {
	p, store, dispatcher := newTestPipeline()
	seedSnapshot(store, testSnapshotID)
	require.NoError(t, store.EnsureStrategyRow(context.Background(), testSnapshotID, ""))
	dispatcher.responses[llm.RoleHoliday] = &llm.Response{Text: "Labor Day"}

	err := p.RunHolidayCheck(context.Background(), testSnapshotID)
	require.NoError(t, err)

	snap, _ := store.GetSnapshot(context.Background(), testSnapshotID)
	assert.Equal(t, "Labor Day", snap.Holiday)
	assert.True(t, snap.IsHoliday)

	row, _ := store.GetStrategyRow(context.Background(), testSnapshotID)
	assert.Equal(t, "Labor Day", row.Holiday)
}

func TestRunHolidayCheck_NoneLeavesColumnsAlone(t *testing.T) {
	p, store, dispatcher := newTestPipeline()
	seedSnapshot(store, testSnapshotID)
	require.NoError(t, store.EnsureStrategyRow(context.Background(), testSnapshotID, ""))
	dispatcher.responses[llm.RoleHoliday] = &llm.Response{Text: "none"}

	err := p.RunHolidayCheck(context.Background(), testSnapshotID)
	require.NoError(t, err)

	snap, _ := store.GetSnapshot(context.Background(), testSnapshotID)
	assert.Empty(t, snap.Holiday)
	assert.False(t, snap.IsHoliday)
}

func TestRunHolidayCheck_ProviderFailureIsNonFatal(t *testing.T) {
	p, store, dispatcher := newTestPipeline()
	seedSnapshot(store, testSnapshotID)
	require.NoError(t, store.EnsureStrategyRow(context.Background(), testSnapshotID, ""))
	dispatcher.errs[llm.RoleHoliday] = errors.New("provider down")

	err := p.RunHolidayCheck(context.Background(), testSnapshotID)
	assert.Error(t, err)

	snap, _ := store.GetSnapshot(context.Background(), testSnapshotID)
	assert.Empty(t, snap.Holiday)
}
