// Package strategy implements the snapshot-keyed generation pipeline: the
// admit orchestrator, the three fan-out runners (strategist, briefer,
// holiday), the consolidator, and the retry controller.
package strategy

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/curbtheory/curbside/llm"
	"github.com/curbtheory/curbside/storage"
)

// Store is the persistence surface the pipeline depends on. storage.Store
// implements it; tests substitute fakes.
type Store interface {
	GetSnapshot(ctx context.Context, id string) (*storage.Snapshot, error)
	InsertSnapshot(ctx context.Context, snap *storage.Snapshot) error
	SetSnapshotHoliday(ctx context.Context, id, holiday string, isHoliday bool) error

	EnsureStrategyRow(ctx context.Context, snapshotID, triggerReason string) error
	GetStrategyRow(ctx context.Context, snapshotID string) (*storage.StrategyRow, error)
	SetMinStrategy(ctx context.Context, snapshotID, text, address, city, state string) error
	SetStrategyHoliday(ctx context.Context, snapshotID, holiday string) error
	SetConsolidated(ctx context.Context, snapshotID, text string) error
	SetStrategyFailed(ctx context.Context, snapshotID, errMsg, errCode string) error
	SetWriteFailed(ctx context.Context, snapshotID, errMsg string) error
	SetPendingMissing(ctx context.Context, snapshotID, msg string) error

	GetBriefing(ctx context.Context, snapshotID string) (*storage.Briefing, error)
	UpsertBriefing(ctx context.Context, b *storage.Briefing) error

	InsertTriadJob(ctx context.Context, snapshotID, kind string) (bool, error)
	TryAdvisoryLock(ctx context.Context, key int64) (release func(context.Context), acquired bool, err error)
}

// Dispatcher is the role-call surface. llm.Client implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, role llm.Role, prompt llm.Prompt) (*llm.Response, error)
}

// Per-stage call budgets. Runners are independently bounded; none of them
// shares the blocks worker pool.
const (
	holidayBudget      = 5 * time.Second
	strategistBudget   = 60 * time.Second
	briefingBudget     = 120 * time.Second
	consolidateBudget  = 90 * time.Second
	persistWriteBudget = 10 * time.Second
)

// Pipeline orchestrates the generation stages for snapshots.
type Pipeline struct {
	store      Store
	dispatcher Dispatcher
	logger     *slog.Logger

	// flight coalesces concurrent briefing assemblies per snapshot.
	// Entries settle (and clear) with the first result, success or failure.
	flight singleflight.Group
}

// NewPipeline wires the pipeline over its collaborators.
func NewPipeline(store Store, dispatcher Dispatcher, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
	}
}
