package strategy

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curbtheory/curbside/llm"
	"github.com/curbtheory/curbside/storage"
)

func venueJSON(n int) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(
			`{"name":"Venue %d","lat":33.1,"lng":-96.8,"staging_lat":33.11,"staging_lng":-96.81}`, i+1)
	}
	return "[" + strings.Join(items, ",") + "]"
}

func TestGenerateVenueCoordinates(t *testing.T) {
	p, store, dispatcher := newTestPipeline()
	seedReadyRow(store, "s1")
	store.rows["s1"].ConsolidatedStrategy = "work the stadium corridor"
	dispatcher.responses[llm.RoleVenueGenerator] = &llm.Response{
		Text: "```json\n" + venueJSON(8) + "\n```",
	}

	venues, err := p.GenerateVenueCoordinates(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, venues, 8)
	assert.Equal(t, "Venue 1", venues[0].Name)
	assert.InDelta(t, 33.11, venues[0].StagingLat, 0.001)
}

func TestGenerateVenueCoordinates_RequiresConsolidation(t *testing.T) {
	p, store, dispatcher := newTestPipeline()
	seedReadyRow(store, "s1") // minstrategy present, consolidation not

	_, err := p.GenerateVenueCoordinates(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrNotConsolidated)
	assert.Equal(t, 0, dispatcher.callCount(llm.RoleVenueGenerator))
}

func TestGenerateVenueCoordinates_WrongCount(t *testing.T) {
	p, store, dispatcher := newTestPipeline()
	seedReadyRow(store, "s1")
	store.rows["s1"].ConsolidatedStrategy = "work the stadium corridor"
	dispatcher.responses[llm.RoleVenueGenerator] = &llm.Response{Text: venueJSON(5)}

	_, err := p.GenerateVenueCoordinates(context.Background(), "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 8 venues, got 5")
}

func TestGenerateVenueCoordinates_UnparseableReply(t *testing.T) {
	p, store, dispatcher := newTestPipeline()
	seedReadyRow(store, "s1")
	store.rows["s1"].ConsolidatedStrategy = "work the stadium corridor"
	dispatcher.responses[llm.RoleVenueGenerator] = &llm.Response{
		Text: "I'd recommend staging near the stadium.",
	}

	_, err := p.GenerateVenueCoordinates(context.Background(), "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestGenerateVenueCoordinates_MissingRow(t *testing.T) {
	p, _, _ := newTestPipeline()

	_, err := p.GenerateVenueCoordinates(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
