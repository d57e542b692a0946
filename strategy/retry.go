package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/curbtheory/curbside/storage"
)

// Retry re-keys an existing snapshot into a fresh pipeline run. Location,
// weather, airport, and device context carry over; temporal fields are
// recomputed in the snapshot's own timezone, never the server's. Returns
// the new snapshot id.
func (p *Pipeline) Retry(ctx context.Context, originalID string) (string, error) {
	original, err := p.store.GetSnapshot(ctx, originalID)
	if err != nil {
		return "", fmt.Errorf("retry %s: %w", originalID, err)
	}

	clone := CloneForRetry(original, time.Now())

	if err := p.store.InsertSnapshot(ctx, clone); err != nil {
		return "", fmt.Errorf("retry %s: insert clone: %w", originalID, err)
	}
	if err := p.store.EnsureStrategyRow(ctx, clone.ID, storage.TriggerRetry); err != nil {
		return "", fmt.Errorf("retry %s: ensure strategy row: %w", originalID, err)
	}

	p.ScheduleTriad(ctx, clone.ID)

	p.logger.Info("Retry admitted",
		"original_snapshot_id", originalID, "snapshot_id", clone.ID)
	return clone.ID, nil
}

// CloneForRetry builds the re-keyed snapshot. Pure function; now is
// injected for tests.
func CloneForRetry(original *storage.Snapshot, now time.Time) *storage.Snapshot {
	clone := *original
	clone.ID = uuid.New().String()
	clone.TriggerReason = storage.TriggerRetry
	clone.CreatedAt = time.Time{} // storage stamps it

	loc, err := time.LoadLocation(original.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	clone.Date = LocalDate(original, now)
	clone.LocalISO = local.Format(time.RFC3339)
	clone.DayOfWeek = local.Weekday().String()
	clone.Hour = local.Hour()
	clone.DayPartKey = dayPartKey(local.Hour())

	// Holiday classification is re-run by the new triad.
	clone.Holiday = ""
	clone.IsHoliday = false

	return &clone
}

// dayPartKey buckets an hour into the day-part vocabulary prompts use.
func dayPartKey(hour int) string {
	switch {
	case hour < 5:
		return "overnight"
	case hour < 9:
		return "morning_rush"
	case hour < 12:
		return "midmorning"
	case hour < 16:
		return "afternoon"
	case hour < 19:
		return "evening_rush"
	case hour < 23:
		return "night"
	default:
		return "overnight"
	}
}
