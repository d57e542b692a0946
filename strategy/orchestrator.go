package strategy

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/curbtheory/curbside/storage"
)

// TriadKicked is the stage list reported by an admission, in scheduling
// order: holiday first so its UI-visible write lands within seconds.
var TriadKicked = []string{"holiday", "minstrategy", "briefing"}

// Admission is the result of an admit request.
type Admission struct {
	SnapshotID string   `json:"snapshotId"`
	Admitted   bool     `json:"-"`
	Status     string   `json:"status"`
	Kicked     []string `json:"kicked,omitempty"`
}

// ErrBadSnapshotID rejects non-UUID snapshot ids before any database work.
var ErrBadSnapshotID = fmt.Errorf("snapshot id is not a valid UUID")

// Admit enqueues the generation triad for a snapshot. Idempotent across
// requests: the triad-job unique constraint admits exactly one caller; the
// rest observe "queued". The response never blocks on the runners.
func (p *Pipeline) Admit(ctx context.Context, snapshotID string) (*Admission, error) {
	if _, err := uuid.Parse(snapshotID); err != nil {
		return nil, ErrBadSnapshotID
	}

	if err := p.store.EnsureStrategyRow(ctx, snapshotID, storage.TriggerInitial); err != nil {
		return nil, fmt.Errorf("admit %s: %w", snapshotID, err)
	}

	inserted, err := p.store.InsertTriadJob(ctx, snapshotID, "triad")
	if err != nil {
		return nil, fmt.Errorf("admit %s: %w", snapshotID, err)
	}
	if !inserted {
		return &Admission{SnapshotID: snapshotID, Admitted: false, Status: "queued"}, nil
	}

	p.ScheduleTriad(ctx, snapshotID)

	return &Admission{
		SnapshotID: snapshotID,
		Admitted:   true,
		Status:     "queued",
		Kicked:     TriadKicked,
	}, nil
}

// ScheduleTriad launches the three runners as detached tasks with
// independent failure: no runner's error cancels a sibling, and none of
// them block the caller. Holiday goes first for its latency budget.
func (p *Pipeline) ScheduleTriad(ctx context.Context, snapshotID string) {
	// Detach from the request context: a closed HTTP connection must not
	// cancel generation.
	base := context.WithoutCancel(ctx)

	go func() {
		if err := p.RunHolidayCheck(base, snapshotID); err != nil {
			p.logger.Warn("Holiday runner failed", "snapshot_id", snapshotID, "error", err)
		}
	}()
	go func() {
		if err := p.RunMinStrategy(base, snapshotID); err != nil {
			p.logger.Error("Strategist runner failed", "snapshot_id", snapshotID, "error", err)
		}
	}()
	go func() {
		if err := p.RunBriefing(base, snapshotID); err != nil {
			p.logger.Error("Briefing runner failed", "snapshot_id", snapshotID, "error", err)
		}
	}()
}

// WaitFor enumerates the pieces still missing for a run, in pipeline
// order. Empty means the consolidated strategy is available.
func WaitFor(row *storage.StrategyRow, briefing *storage.Briefing) []string {
	waitFor := []string{}
	if row.MinStrategy == "" {
		waitFor = append(waitFor, "minstrategy")
	}
	if briefing == nil || briefing.IsEmpty() {
		waitFor = append(waitFor, "briefing")
	}
	if row.ConsolidatedStrategy == "" {
		waitFor = append(waitFor, "consolidated")
	}
	return waitFor
}
