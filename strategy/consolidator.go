package strategy

import (
	"context"
	"errors"
	"strings"

	"github.com/curbtheory/curbside/llm"
	"github.com/curbtheory/curbside/metrics"
	"github.com/curbtheory/curbside/storage"
)

// MaybeConsolidate merges the strategist and briefer outputs into the
// consolidated strategy, exactly once per snapshot across all workers.
// Called for every change notification; most invocations return early on
// the readiness or idempotence checks. Contention on the advisory lock is
// a silent skip: the lock holder will finish the job.
func (p *Pipeline) MaybeConsolidate(ctx context.Context, snapshotID string) {
	ctx, cancel := context.WithTimeout(ctx, consolidateBudget)
	defer cancel()

	row, err := p.store.GetStrategyRow(ctx, snapshotID)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		p.logger.Error("Consolidation read failed", "snapshot_id", snapshotID, "error", err)
		return
	}

	if row.ConsolidatedStrategy != "" {
		metrics.Consolidations.WithLabelValues("skipped").Inc()
		return // already consolidated
	}

	strategistOutput := strings.TrimSpace(row.MinStrategy)

	var brieferOutput string
	briefing, err := p.store.GetBriefing(ctx, snapshotID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		p.logger.Error("Consolidation briefing read failed", "snapshot_id", snapshotID, "error", err)
		return
	}
	if briefing != nil && !briefing.IsEmpty() {
		brieferOutput = briefing.Serialize()
	}

	if strategistOutput == "" || brieferOutput == "" {
		metrics.Consolidations.WithLabelValues("skipped").Inc()
		if err := p.store.SetPendingMissing(ctx, snapshotID, "missing role outputs"); err != nil {
			p.logger.Error("Failed to record pending status", "snapshot_id", snapshotID, "error", err)
		}
		return
	}

	key := storage.ConsolidationLockKey(snapshotID)
	release, acquired, err := p.store.TryAdvisoryLock(ctx, key)
	if err != nil {
		p.logger.Error("Advisory lock attempt failed", "snapshot_id", snapshotID, "error", err)
		return
	}
	if !acquired {
		metrics.Consolidations.WithLabelValues("contended").Inc()
		p.logger.Debug("Consolidation owned by another worker", "snapshot_id", snapshotID)
		return
	}
	defer release(context.WithoutCancel(ctx))

	p.consolidate(ctx, snapshotID, row, strategistOutput, brieferOutput)
}

// consolidate runs under the advisory lock.
func (p *Pipeline) consolidate(ctx context.Context, snapshotID string, row *storage.StrategyRow, strategistOutput, brieferOutput string) {
	prompt := consolidatorPrompt(strategistOutput, brieferOutput, row.UserResolvedAddress)

	output := strategistOutput // documented fallback: unblock the UI with the tactical assessment
	resp, err := p.dispatcher.Dispatch(ctx, llm.RoleConsolidator, prompt)
	if err != nil {
		p.logger.Warn("Consolidator call failed, degrading to strategist output",
			"snapshot_id", snapshotID, "error", err)
	} else if text := strings.TrimSpace(resp.Text); text != "" {
		output = text
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistWriteBudget)
	defer cancel()
	if err := p.store.SetConsolidated(writeCtx, snapshotID, output); err != nil {
		p.logger.Error("Consolidation write failed", "snapshot_id", snapshotID, "error", err)
		if failErr := p.store.SetStrategyFailed(writeCtx, snapshotID, err.Error(), "consolidate_write"); failErr != nil {
			p.logger.Error("Failed to record failed status", "snapshot_id", snapshotID, "error", failErr)
		}
		return
	}

	metrics.Consolidations.WithLabelValues("completed").Inc()
	p.logger.Info("Consolidation complete", "snapshot_id", snapshotID,
		"degraded", err != nil || output == strategistOutput)
}
