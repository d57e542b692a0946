package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/curbtheory/curbside/llm"
	"github.com/curbtheory/curbside/storage"
)

// brieferOutput is the JSON shape the briefer role is asked for.
type brieferOutput struct {
	GlobalTravel   string   `json:"global_travel"`
	DomesticTravel string   `json:"domestic_travel"`
	LocalTraffic   string   `json:"local_traffic"`
	WeatherImpacts string   `json:"weather_impacts"`
	EventsNearby   []string `json:"events_nearby"`
	RideshareIntel string   `json:"rideshare_intel"`
}

// RunBriefing produces the structured market briefing. Idempotent under
// concurrent invocation for the same snapshot: callers coalesce onto one
// in-flight assembly, and a failed assembly clears so the next call
// retries.
func (p *Pipeline) RunBriefing(ctx context.Context, snapshotID string) error {
	_, err, shared := p.flight.Do(snapshotID, func() (any, error) {
		// The assembly runs under its own timeout, detached from whichever
		// caller happened to arrive first.
		assemblyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), briefingBudget)
		defer cancel()
		return nil, p.assembleBriefing(assemblyCtx, snapshotID)
	})
	if shared {
		p.logger.Debug("Briefing assembly shared with concurrent caller", "snapshot_id", snapshotID)
	}
	return err
}

// assembleBriefing runs the primary briefer call plus the secondary search
// fan-out, merges against any existing row, and persists. Each secondary
// failure is contained to its own field.
func (p *Pipeline) assembleBriefing(ctx context.Context, snapshotID string) error {
	pc, err := p.LoadContext(ctx, snapshotID)
	if err != nil {
		return fmt.Errorf("briefing %s: load context: %w", snapshotID, err)
	}

	incoming := &storage.Briefing{SnapshotID: snapshotID}

	var primary *brieferOutput
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		resp, err := p.dispatcher.Dispatch(gctx, llm.RoleBriefer, brieferPrompt(pc))
		if err != nil {
			// The primary call failing does not sink the secondaries.
			p.logger.Error("Briefer call failed", "snapshot_id", snapshotID, "error", err)
			return nil
		}
		incoming.Citations = resp.Citations
		primary = parseBrieferOutput(resp.Text)
		return nil
	})

	secondary := map[string]*string{
		"traffic":         &incoming.TrafficConditions,
		"school_closures": &incoming.SchoolClosures,
		"news":            &incoming.News,
	}
	for topic, dest := range secondary {
		g.Go(func() error {
			*dest = p.secondarySearch(gctx, pc, snapshotID, topic)
			return nil
		})
	}
	g.Go(func() error {
		if text := p.secondarySearch(gctx, pc, snapshotID, "events"); text != "" {
			incoming.Events = splitEventLines(text)
		}
		return nil
	})

	_ = g.Wait() // branches contain their own failures

	if primary != nil {
		incoming.GlobalTravel = primary.GlobalTravel
		incoming.DomesticTravel = primary.DomesticTravel
		incoming.RideshareIntel = primary.RideshareIntel
		incoming.WeatherCurrent = primary.WeatherImpacts
		if incoming.TrafficConditions == "" {
			incoming.TrafficConditions = primary.LocalTraffic
		}
		if len(incoming.Events) == 0 {
			incoming.Events = primary.EventsNearby
		}
	}
	if w := pc.Snapshot.Weather; w != nil && w.Forecast != "" {
		incoming.WeatherForecast = w.Forecast
	}

	if incoming.IsEmpty() {
		return fmt.Errorf("briefing %s: all sources failed", snapshotID)
	}

	existing, err := p.store.GetBriefing(ctx, snapshotID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("briefing %s: read existing: %w", snapshotID, err)
	}

	merged := MergeBriefing(existing, incoming)
	if err := p.store.UpsertBriefing(ctx, merged); err != nil {
		return fmt.Errorf("briefing %s: persist: %w", snapshotID, err)
	}

	p.logger.Info("Briefing complete", "snapshot_id", snapshotID,
		"events", len(merged.Events), "citations", len(merged.Citations))
	return nil
}

// secondarySearch runs one contained follow-up search. A failure yields ""
// so the field falls back to whatever the primary or an older row had.
func (p *Pipeline) secondarySearch(ctx context.Context, pc *Context, snapshotID, topic string) string {
	resp, err := p.dispatcher.Dispatch(ctx, llm.RoleBriefer, secondaryPrompt(pc, topic))
	if err != nil {
		p.logger.Warn("Secondary search failed", "snapshot_id", snapshotID, "topic", topic, "error", err)
		return ""
	}
	text := strings.TrimSpace(resp.Text)
	if isStub(text) {
		return ""
	}
	return text
}

// parseBrieferOutput decodes the briefer's JSON. On parse failure the
// entire raw text is preserved as local traffic, per the degradation
// contract; a useless response beats a lost one.
func parseBrieferOutput(raw string) *brieferOutput {
	candidate := llm.CleanModelJSON(raw)
	if candidate == "" {
		candidate = raw
	}

	var out brieferOutput
	if err := json.Unmarshal([]byte(candidate), &out); err != nil {
		return &brieferOutput{LocalTraffic: strings.TrimSpace(raw)}
	}
	return &out
}

// splitEventLines turns a line-per-event reply into a list.
func splitEventLines(text string) []string {
	var events []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*• \t"))
		if line == "" || isStub(line) {
			continue
		}
		events = append(events, line)
	}
	return events
}

// isStub reports whether a value is a placeholder rather than content.
// Stubs never overwrite real data during merge.
func isStub(s string) bool {
	t := strings.ToLower(strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `."'`)))
	switch t {
	case "", "none", "n/a", "na", "unknown", "unavailable", "no data":
		return true
	}
	return false
}

// MergeBriefing applies the smart-merge rule: a field is replaced only
// when the incoming value is non-empty and non-stub, so a transient
// provider failure can never erase good data. Pure function.
func MergeBriefing(existing, incoming *storage.Briefing) *storage.Briefing {
	if existing == nil {
		return incoming
	}

	merged := *existing
	merged.SnapshotID = incoming.SnapshotID

	if len(incoming.Events) > 0 {
		merged.Events = incoming.Events
	}
	if len(incoming.Citations) > 0 {
		merged.Citations = incoming.Citations
	}
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&merged.News, incoming.News},
		{&merged.TrafficConditions, incoming.TrafficConditions},
		{&merged.WeatherCurrent, incoming.WeatherCurrent},
		{&merged.WeatherForecast, incoming.WeatherForecast},
		{&merged.SchoolClosures, incoming.SchoolClosures},
		{&merged.GlobalTravel, incoming.GlobalTravel},
		{&merged.DomesticTravel, incoming.DomesticTravel},
		{&merged.RideshareIntel, incoming.RideshareIntel},
	} {
		if !isStub(f.src) {
			*f.dst = f.src
		}
	}
	return &merged
}
