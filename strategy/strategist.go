package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/curbtheory/curbside/llm"
)

// RunMinStrategy produces the 2-3 sentence tactical assessment and records
// it on the strategy row. The write is a single transactional update, so
// the progress notification it triggers sees the new minstrategy.
func (p *Pipeline) RunMinStrategy(ctx context.Context, snapshotID string) error {
	ctx, cancel := context.WithTimeout(ctx, strategistBudget)
	defer cancel()

	pc, err := p.LoadContext(ctx, snapshotID)
	if err != nil {
		return fmt.Errorf("minstrategy %s: load context: %w", snapshotID, err)
	}

	resp, err := p.dispatcher.Dispatch(ctx, llm.RoleStrategist, strategistPrompt(pc))
	if err != nil {
		p.logger.Error("Strategist call failed", "snapshot_id", snapshotID, "error", err)
		return fmt.Errorf("minstrategy %s: %w", snapshotID, err)
	}

	text := strings.TrimSpace(resp.Text)
	snap := pc.Snapshot

	writeCtx, writeCancel := context.WithTimeout(context.WithoutCancel(ctx), persistWriteBudget)
	defer writeCancel()
	if err := p.store.SetMinStrategy(writeCtx, snapshotID, text,
		snap.FormattedAddress, snap.City, snap.State); err != nil {
		// The model produced output we failed to keep; that is a distinct,
		// visible failure mode.
		if wfErr := p.store.SetWriteFailed(writeCtx, snapshotID, err.Error()); wfErr != nil {
			p.logger.Error("Failed to record write_failed status",
				"snapshot_id", snapshotID, "error", wfErr)
		}
		return fmt.Errorf("minstrategy %s: persist: %w", snapshotID, err)
	}

	p.logger.Info("Strategist complete", "snapshot_id", snapshotID, "chars", len(text))
	return nil
}
