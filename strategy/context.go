package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/curbtheory/curbside/storage"
)

// Context is the canonical prompt context for one snapshot. Loaded fresh
// on every call so a holiday patch landed by the holiday runner is visible
// to later runners.
type Context struct {
	Snapshot *storage.Snapshot
}

// LoadContext reads the snapshot and wraps it. Returns storage.ErrNotFound
// when the snapshot does not exist.
func (p *Pipeline) LoadContext(ctx context.Context, snapshotID string) (*Context, error) {
	snap, err := p.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	return &Context{Snapshot: snap}, nil
}

// Place renders the resolved location, most specific part first.
func (c *Context) Place() string {
	s := c.Snapshot
	if s.FormattedAddress != "" {
		return s.FormattedAddress
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{s.City, s.State, s.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%.5f,%.5f", s.Lat, s.Lng)
	}
	return strings.Join(parts, ", ")
}

// TimeLine renders the authoritative local time facts. The snapshot's
// day-of-week and local ISO time are trusted over anything a model might
// infer.
func (c *Context) TimeLine() string {
	s := c.Snapshot
	return fmt.Sprintf("It is %s, %s local time (%s, %s).",
		s.DayOfWeek, s.LocalISO, s.DayPartKey, s.Timezone)
}

// WeatherLine renders current weather, or "" when not captured.
func (c *Context) WeatherLine() string {
	w := c.Snapshot.Weather
	if w == nil {
		return ""
	}
	line := fmt.Sprintf("Weather: %.0f°F, %s.", w.TempF, w.Conditions)
	if w.Forecast != "" {
		line += " Forecast: " + w.Forecast + "."
	}
	return line
}

// AirportLine renders airport proximity, or "" when not captured.
func (c *Context) AirportLine() string {
	a := c.Snapshot.AirportContext
	if a == nil {
		return ""
	}
	line := fmt.Sprintf("Nearest airport: %s, %.1f miles away.", a.Code, a.DistanceM)
	if a.Delay != "" {
		line += " Delays: " + a.Delay + "."
	}
	return line
}

// HolidayLine renders the holiday flag, or "" when none is known.
func (c *Context) HolidayLine() string {
	if c.Snapshot.Holiday == "" {
		return ""
	}
	return fmt.Sprintf("Today is %s.", c.Snapshot.Holiday)
}

// LocalDate formats "today" in the snapshot's own timezone as YYYY-MM-DD.
// All temporal formatting for re-keyed runs routes through here; using the
// server's local zone instead is exactly the bug this prevents.
func LocalDate(snap *storage.Snapshot, now time.Time) string {
	loc, err := time.LoadLocation(snap.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return now.In(loc).Format("2006-01-02")
}
