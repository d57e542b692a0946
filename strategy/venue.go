package strategy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/curbtheory/curbside/llm"
)

// venueCount is the exact number of venues a generation must produce.
const venueCount = 8

// Venue is one staging recommendation produced from a consolidated
// strategy. Downstream of the core pipeline; the pipeline only guarantees
// the consolidated strategy exists before generation is accepted.
type Venue struct {
	Name       string  `json:"name"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	StagingLat float64 `json:"staging_lat"`
	StagingLng float64 `json:"staging_lng"`
}

// ErrNotConsolidated rejects venue generation before consolidation.
var ErrNotConsolidated = fmt.Errorf("consolidated strategy not yet available")

// GenerateVenueCoordinates produces exactly eight venues from the
// snapshot's consolidated strategy. Callers run it through the bounded
// blocks worker pool.
func (p *Pipeline) GenerateVenueCoordinates(ctx context.Context, snapshotID string) ([]Venue, error) {
	row, err := p.store.GetStrategyRow(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("venues %s: %w", snapshotID, err)
	}
	if row.ConsolidatedStrategy == "" {
		return nil, ErrNotConsolidated
	}

	resp, err := p.dispatcher.Dispatch(ctx, llm.RoleVenueGenerator,
		venuePrompt(row.ConsolidatedStrategy, row.UserResolvedAddress))
	if err != nil {
		return nil, fmt.Errorf("venues %s: %w", snapshotID, err)
	}

	candidate := llm.CleanModelJSON(resp.Text)
	if candidate == "" {
		candidate = resp.Text
	}

	var venues []Venue
	if err := json.Unmarshal([]byte(candidate), &venues); err != nil {
		return nil, fmt.Errorf("venues %s: parse: %w", snapshotID, err)
	}
	if len(venues) != venueCount {
		return nil, fmt.Errorf("venues %s: expected %d venues, got %d", snapshotID, venueCount, len(venues))
	}
	return venues, nil
}
