package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/curbtheory/curbside/llm"
)

// RunHolidayCheck classifies the snapshot's date and, on a positive
// result, patches both the snapshot (so later context loads see it) and
// the strategy row (denormalized for the UI). Non-fatal: failure leaves
// the columns null and the pipeline continues.
func (p *Pipeline) RunHolidayCheck(ctx context.Context, snapshotID string) error {
	ctx, cancel := context.WithTimeout(ctx, holidayBudget)
	defer cancel()

	pc, err := p.LoadContext(ctx, snapshotID)
	if err != nil {
		return fmt.Errorf("holiday %s: load context: %w", snapshotID, err)
	}

	resp, err := p.dispatcher.Dispatch(ctx, llm.RoleHoliday, holidayPrompt(pc))
	if err != nil {
		p.logger.Warn("Holiday check failed", "snapshot_id", snapshotID, "error", err)
		return fmt.Errorf("holiday %s: %w", snapshotID, err)
	}

	holiday := normalizeHoliday(resp.Text)
	if holiday == "" {
		p.logger.Debug("No holiday", "snapshot_id", snapshotID)
		return nil
	}

	writeCtx, writeCancel := context.WithTimeout(context.WithoutCancel(ctx), persistWriteBudget)
	defer writeCancel()
	if err := p.store.SetSnapshotHoliday(writeCtx, snapshotID, holiday, true); err != nil {
		p.logger.Warn("Holiday snapshot patch failed", "snapshot_id", snapshotID, "error", err)
	}
	if err := p.store.SetStrategyHoliday(writeCtx, snapshotID, holiday); err != nil {
		return fmt.Errorf("holiday %s: persist: %w", snapshotID, err)
	}

	p.logger.Info("Holiday recorded", "snapshot_id", snapshotID, "holiday", holiday)
	return nil
}

// normalizeHoliday cleans a classification reply; "none" and noise map to "".
func normalizeHoliday(raw string) string {
	s := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), `."'`))
	if s == "" || strings.EqualFold(s, "none") || strings.EqualFold(s, "no") {
		return ""
	}
	// A classification reply should be a name, not an essay.
	if len(s) > 80 {
		return ""
	}
	return s
}
