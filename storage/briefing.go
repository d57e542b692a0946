package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Briefing is the structured briefer output for one snapshot, keyed 1:1.
// Absence of the row means the briefer has not completed for that snapshot.
type Briefing struct {
	SnapshotID        string    `json:"snapshot_id"`
	Events            []string  `json:"events"`
	News              string    `json:"news"`
	TrafficConditions string    `json:"traffic_conditions"`
	WeatherCurrent    string    `json:"weather_current"`
	WeatherForecast   string    `json:"weather_forecast"`
	SchoolClosures    string    `json:"school_closures"`
	GlobalTravel      string    `json:"global_travel"`
	DomesticTravel    string    `json:"domestic_travel"`
	RideshareIntel    string    `json:"rideshare_intel"`
	Citations         []string  `json:"citations"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// GetBriefing loads the briefing for a snapshot. Returns ErrNotFound when
// the briefer has not completed.
func (s *Store) GetBriefing(ctx context.Context, snapshotID string) (*Briefing, error) {
	const q = `
		SELECT snapshot_id, events, COALESCE(news, ''), COALESCE(traffic_conditions, ''),
		       COALESCE(weather_current, ''), COALESCE(weather_forecast, ''),
		       COALESCE(school_closures, ''), COALESCE(global_travel, ''),
		       COALESCE(domestic_travel, ''), COALESCE(rideshare_intel, ''),
		       citations, created_at, updated_at
		FROM briefings WHERE snapshot_id = $1`

	var b Briefing
	var eventsJSON, citationsJSON []byte
	err := s.pool.QueryRow(ctx, q, snapshotID).Scan(
		&b.SnapshotID, &eventsJSON, &b.News, &b.TrafficConditions,
		&b.WeatherCurrent, &b.WeatherForecast,
		&b.SchoolClosures, &b.GlobalTravel,
		&b.DomesticTravel, &b.RideshareIntel,
		&citationsJSON, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get briefing %s: %w", snapshotID, err)
	}

	if len(eventsJSON) > 0 {
		_ = json.Unmarshal(eventsJSON, &b.Events)
	}
	if len(citationsJSON) > 0 {
		_ = json.Unmarshal(citationsJSON, &b.Citations)
	}
	return &b, nil
}

// UpsertBriefing writes the briefing keyed on snapshot id, emitting a
// progress notification in the same transaction. Callers apply smart-merge
// against the existing row before calling; this method persists what it is
// given.
func (s *Store) UpsertBriefing(ctx context.Context, b *Briefing) error {
	eventsJSON, _ := json.Marshal(b.Events)
	citationsJSON, _ := json.Marshal(b.Citations)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
		INSERT INTO briefings (
			snapshot_id, events, news, traffic_conditions, weather_current,
			weather_forecast, school_closures, global_travel, domestic_travel,
			rideshare_intel, citations, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		ON CONFLICT (snapshot_id) DO UPDATE SET
			events = EXCLUDED.events,
			news = EXCLUDED.news,
			traffic_conditions = EXCLUDED.traffic_conditions,
			weather_current = EXCLUDED.weather_current,
			weather_forecast = EXCLUDED.weather_forecast,
			school_closures = EXCLUDED.school_closures,
			global_travel = EXCLUDED.global_travel,
			domestic_travel = EXCLUDED.domestic_travel,
			rideshare_intel = EXCLUDED.rideshare_intel,
			citations = EXCLUDED.citations,
			updated_at = now()`
	if _, err := tx.Exec(ctx, q,
		b.SnapshotID, eventsJSON, b.News, b.TrafficConditions,
		b.WeatherCurrent, b.WeatherForecast, b.SchoolClosures,
		b.GlobalTravel, b.DomesticTravel, b.RideshareIntel, citationsJSON,
	); err != nil {
		return fmt.Errorf("upsert briefing %s: %w", b.SnapshotID, err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`,
		ChannelStrategyProgress, notifyPayload(b.SnapshotID)); err != nil {
		return fmt.Errorf("notify briefing %s: %w", b.SnapshotID, err)
	}

	return tx.Commit(ctx)
}

// IsEmpty reports whether the briefing carries no usable content. An empty
// briefing does not satisfy the consolidator's readiness check.
func (b *Briefing) IsEmpty() bool {
	return b == nil ||
		(len(b.Events) == 0 && b.News == "" && b.TrafficConditions == "" &&
			b.WeatherCurrent == "" && b.WeatherForecast == "" &&
			b.SchoolClosures == "" && b.GlobalTravel == "" &&
			b.DomesticTravel == "" && b.RideshareIntel == "")
}

// Serialize renders the briefing as compact JSON for the consolidator
// prompt. Timestamps and the snapshot id are dropped; they are framing,
// not content.
func (b *Briefing) Serialize() string {
	out, _ := json.Marshal(map[string]any{
		"events":             b.Events,
		"news":               b.News,
		"traffic_conditions": b.TrafficConditions,
		"weather_current":    b.WeatherCurrent,
		"weather_forecast":   b.WeatherForecast,
		"school_closures":    b.SchoolClosures,
		"global_travel":      b.GlobalTravel,
		"domestic_travel":    b.DomesticTravel,
		"rideshare_intel":    b.RideshareIntel,
	})
	return string(out)
}
