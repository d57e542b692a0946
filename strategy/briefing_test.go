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

func TestMergeBriefing(t *testing.T) {
	t.Run("no existing row takes incoming wholesale", func(t *testing.T) {
		incoming := &storage.Briefing{SnapshotID: "s1", News: "fresh"}
		assert.Equal(t, incoming, MergeBriefing(nil, incoming))
	})

	t.Run("empty incoming fields never erase data", func(t *testing.T) {
		existing := &storage.Briefing{
			SnapshotID:        "s1",
			News:              "stadium closure announced",
			TrafficConditions: "I-35 backed up",
			Events:            []string{"Concert, 8 PM"},
			Citations:         []string{"https://example.com/a"},
		}
		incoming := &storage.Briefing{SnapshotID: "s1", News: ""}

		merged := MergeBriefing(existing, incoming)
		assert.Equal(t, "stadium closure announced", merged.News)
		assert.Equal(t, "I-35 backed up", merged.TrafficConditions)
		assert.Equal(t, []string{"Concert, 8 PM"}, merged.Events)
		assert.Equal(t, []string{"https://example.com/a"}, merged.Citations)
	})

	t.Run("stub values never overwrite", func(t *testing.T) {
		existing := &storage.Briefing{SnapshotID: "s1", TrafficConditions: "I-35 backed up"}
		incoming := &storage.Briefing{SnapshotID: "s1", TrafficConditions: "N/A"}

		merged := MergeBriefing(existing, incoming)
		assert.Equal(t, "I-35 backed up", merged.TrafficConditions)
	})

	t.Run("real values replace", func(t *testing.T) {
		existing := &storage.Briefing{SnapshotID: "s1", News: "old news"}
		incoming := &storage.Briefing{
			SnapshotID: "s1",
			News:       "breaking: road reopened",
			Events:     []string{"Game, 7 PM"},
		}

		merged := MergeBriefing(existing, incoming)
		assert.Equal(t, "breaking: road reopened", merged.News)
		assert.Equal(t, []string{"Game, 7 PM"}, merged.Events)
	})
}

func TestIsStub(t *testing.T) {
	for _, s := range []string{"", "none", "None.", "N/A", "na", "Unknown", "unavailable", `"no data"`} {
		assert.True(t, isStub(s), "%q should be a stub", s)
	}
	for _, s := range []string{"normal", "I-35 closed", "none reported downtown"} {
		assert.False(t, isStub(s), "%q should not be a stub", s)
	}
}

func TestParseBrieferOutput(t *testing.T) {
	t.Run("clean json", func(t *testing.T) {
		out := parseBrieferOutput(`{"global_travel":"quiet","local_traffic":"I-35 slow","events_nearby":["Game, 7 PM"]}`)
		assert.Equal(t, "quiet", out.GlobalTravel)
		assert.Equal(t, "I-35 slow", out.LocalTraffic)
		assert.Equal(t, []string{"Game, 7 PM"}, out.EventsNearby)
	})

	t.Run("fenced json", func(t *testing.T) {
		out := parseBrieferOutput("```json\n{\"rideshare_intel\":\"surge near airport\"}\n```")
		assert.Equal(t, "surge near airport", out.RideshareIntel)
	})

	t.Run("prose falls back to local traffic", func(t *testing.T) {
		out := parseBrieferOutput("Traffic is heavy on the tollway tonight.")
		assert.Equal(t, "Traffic is heavy on the tollway tonight.", out.LocalTraffic)
		assert.Empty(t, out.GlobalTravel)
	})
}

func TestSplitEventLines(t *testing.T) {
	text := "- Concert at the Star, 8 PM\n* Game at Toyota Stadium, 7 PM\n\nnone\n• Career fair, 6 PM"
	assert.Equal(t, []string{
		"Concert at the Star, 8 PM",
		"Game at Toyota Stadium, 7 PM",
		"Career fair, 6 PM",
	}, splitEventLines(text))
}

func TestRunBriefing_PersistsMergedBriefing(t *testing.T) {
	p, store, dispatcher := newTestPipeline()
	seedSnapshot(store, testSnapshotID)
	dispatcher.responses[llm.RoleBriefer] = &llm.Response{
		Text:      `{"global_travel":"quiet","domestic_travel":"DFW delays","local_traffic":"tollway slow","weather_impacts":"clear","rideshare_intel":"surge near airport","events_nearby":["Game, 7 PM"]}`,
		Citations: []string{"https://example.com/a"},
	}

	err := p.RunBriefing(context.Background(), testSnapshotID)
	require.NoError(t, err)

	b, err := store.GetBriefing(context.Background(), testSnapshotID)
	require.NoError(t, err)
	assert.Equal(t, "quiet", b.GlobalTravel)
	assert.Equal(t, "DFW delays", b.DomesticTravel)
	assert.Equal(t, "surge near airport", b.RideshareIntel)
	assert.Equal(t, "clear overnight", b.WeatherForecast, "forecast comes from the snapshot")
	assert.NotEmpty(t, b.Events)
}

func TestRunBriefing_AllSourcesFailed(t *testing.T) {
	p, store, dispatcher := newTestPipeline()
	snap := seedSnapshot(store, testSnapshotID)
	snap.Weather = nil // no forecast fallback either
	dispatcher.errs[llm.RoleBriefer] = errors.New("provider down")

	err := p.RunBriefing(context.Background(), testSnapshotID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all sources failed")

	_, err = store.GetBriefing(context.Background(), testSnapshotID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunBriefing_MissingSnapshot(t *testing.T) {
	p, _, _ := newTestPipeline()

	err := p.RunBriefing(context.Background(), "missing")
	assert.Error(t, err)
}
