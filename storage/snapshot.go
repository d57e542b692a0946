package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Weather is the optional weather block captured with a snapshot.
type Weather struct {
	TempF      float64 `json:"tempF"`
	Conditions string  `json:"conditions"`
	Forecast   string  `json:"forecast"`
}

// AirportContext describes proximity to the nearest airport.
type AirportContext struct {
	Code      string  `json:"code"`
	DistanceM float64 `json:"distance_miles"`
	Delay     string  `json:"delay"`
}

// Snapshot is a point-in-time driver context. Immutable after creation
// except for the holiday fields, which the holiday runner may patch.
type Snapshot struct {
	ID               string
	UserID           string
	Lat              float64
	Lng              float64
	City             string
	State            string
	Country          string
	FormattedAddress string
	Timezone         string
	LocalISO         string
	DayOfWeek        string
	DayPartKey       string
	Hour             int
	Date             string
	Weather          *Weather
	AirportContext   *AirportContext
	Holiday          string
	IsHoliday        bool
	Device           json.RawMessage
	TriggerReason    string
	CreatedAt        time.Time
}

// GetSnapshot loads a snapshot by id. Returns ErrNotFound when absent.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	const q = `
		SELECT id, COALESCE(user_id, ''), lat, lng,
		       COALESCE(city, ''), COALESCE(state, ''), COALESCE(country, ''),
		       COALESCE(formatted_address, ''), timezone,
		       COALESCE(local_iso, ''), COALESCE(day_of_week, ''),
		       COALESCE(day_part_key, ''), COALESCE(hour, 0),
		       COALESCE(date, ''), weather, airport_context,
		       COALESCE(holiday, ''), COALESCE(is_holiday, false),
		       device, COALESCE(trigger_reason, 'initial'), created_at
		FROM snapshots WHERE id = $1`

	var snap Snapshot
	var weatherJSON, airportJSON []byte
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&snap.ID, &snap.UserID, &snap.Lat, &snap.Lng,
		&snap.City, &snap.State, &snap.Country,
		&snap.FormattedAddress, &snap.Timezone,
		&snap.LocalISO, &snap.DayOfWeek,
		&snap.DayPartKey, &snap.Hour,
		&snap.Date, &weatherJSON, &airportJSON,
		&snap.Holiday, &snap.IsHoliday,
		&snap.Device, &snap.TriggerReason, &snap.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}

	if len(weatherJSON) > 0 {
		var w Weather
		if err := json.Unmarshal(weatherJSON, &w); err == nil {
			snap.Weather = &w
		}
	}
	if len(airportJSON) > 0 {
		var a AirportContext
		if err := json.Unmarshal(airportJSON, &a); err == nil {
			snap.AirportContext = &a
		}
	}
	return &snap, nil
}

// InsertSnapshot writes a new snapshot row. Used by the retry controller
// when re-keying a pipeline run.
func (s *Store) InsertSnapshot(ctx context.Context, snap *Snapshot) error {
	var weatherJSON, airportJSON []byte
	if snap.Weather != nil {
		weatherJSON, _ = json.Marshal(snap.Weather)
	}
	if snap.AirportContext != nil {
		airportJSON, _ = json.Marshal(snap.AirportContext)
	}

	const q = `
		INSERT INTO snapshots (
			id, user_id, lat, lng, city, state, country, formatted_address,
			timezone, local_iso, day_of_week, day_part_key, hour, date,
			weather, airport_context, holiday, is_holiday, device,
			trigger_reason, created_at
		) VALUES (
			$1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16, NULLIF($17, ''), $18, $19,
			$20, now()
		)`
	_, err := s.pool.Exec(ctx, q,
		snap.ID, snap.UserID, snap.Lat, snap.Lng, snap.City, snap.State,
		snap.Country, snap.FormattedAddress, snap.Timezone, snap.LocalISO,
		snap.DayOfWeek, snap.DayPartKey, snap.Hour, snap.Date,
		weatherJSON, airportJSON, snap.Holiday, snap.IsHoliday, snap.Device,
		snap.TriggerReason,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// SetSnapshotHoliday patches the holiday fields on an existing snapshot.
// The only mutation the pipeline performs on snapshots.
func (s *Store) SetSnapshotHoliday(ctx context.Context, id, holiday string, isHoliday bool) error {
	const q = `UPDATE snapshots SET holiday = NULLIF($2, ''), is_holiday = $3 WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, holiday, isHoliday)
	if err != nil {
		return fmt.Errorf("patch snapshot holiday %s: %w", id, err)
	}
	return nil
}
