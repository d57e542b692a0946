package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Strategy row statuses. "complete" and "ok" both mean the row's current
// stage output is available; readers treat them as synonyms.
const (
	StatusPending     = "pending"
	StatusComplete    = "complete"
	StatusOK          = "ok"
	StatusFailed      = "failed"
	StatusWriteFailed = "write_failed"
)

// Trigger reasons for a pipeline run.
const (
	TriggerInitial = "initial"
	TriggerRetry   = "retry"
)

// maxErrorMessageLen bounds persisted error text.
const maxErrorMessageLen = 500

// StrategyRow is the mutable state bag for one pipeline run, keyed 1:1 by
// snapshot id.
type StrategyRow struct {
	SnapshotID           string
	MinStrategy          string
	ConsolidatedStrategy string
	Status               string
	ErrorMessage         string
	ErrorCode            string
	Holiday              string
	StrategyTimestamp    *time.Time
	UserResolvedAddress  string
	UserResolvedCity     string
	UserResolvedState    string
	TriggerReason        string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// StrategyAttempt is one row of a user's run history.
type StrategyAttempt struct {
	SnapshotID string    `json:"snapshot_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// notifyPayload builds the JSON payload carried on the change channels.
func notifyPayload(snapshotID string) string {
	b, _ := json.Marshal(map[string]string{"snapshot_id": snapshotID})
	return string(b)
}

// truncateError bounds an error message for persistence.
func truncateError(msg string) string {
	if len(msg) > maxErrorMessageLen {
		return msg[:maxErrorMessageLen]
	}
	return msg
}

// EnsureStrategyRow creates the pending strategy row if it does not exist.
// Idempotent: a concurrent insert loses the race silently.
func (s *Store) EnsureStrategyRow(ctx context.Context, snapshotID, triggerReason string) error {
	if triggerReason == "" {
		triggerReason = TriggerInitial
	}
	const q = `
		INSERT INTO strategies (snapshot_id, status, trigger_reason, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (snapshot_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, snapshotID, StatusPending, triggerReason); err != nil {
		return fmt.Errorf("ensure strategy row %s: %w", snapshotID, err)
	}
	return nil
}

// GetStrategyRow loads a strategy row. Returns ErrNotFound when absent.
func (s *Store) GetStrategyRow(ctx context.Context, snapshotID string) (*StrategyRow, error) {
	const q = `
		SELECT snapshot_id, COALESCE(minstrategy, ''), COALESCE(consolidated_strategy, ''),
		       status, COALESCE(error_message, ''), COALESCE(error_code, ''),
		       COALESCE(holiday, ''), strategy_timestamp,
		       COALESCE(user_resolved_address, ''), COALESCE(user_resolved_city, ''),
		       COALESCE(user_resolved_state, ''), COALESCE(trigger_reason, 'initial'),
		       created_at, updated_at
		FROM strategies WHERE snapshot_id = $1`

	var row StrategyRow
	err := s.pool.QueryRow(ctx, q, snapshotID).Scan(
		&row.SnapshotID, &row.MinStrategy, &row.ConsolidatedStrategy,
		&row.Status, &row.ErrorMessage, &row.ErrorCode,
		&row.Holiday, &row.StrategyTimestamp,
		&row.UserResolvedAddress, &row.UserResolvedCity,
		&row.UserResolvedState, &row.TriggerReason,
		&row.CreatedAt, &row.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get strategy row %s: %w", snapshotID, err)
	}
	return &row, nil
}

// updateAndNotify runs an update and pg_notify calls in one transaction so
// a committed change and its notification cannot diverge.
func (s *Store) updateAndNotify(ctx context.Context, sql string, args []any, snapshotID string, channels ...string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	payload := notifyPayload(snapshotID)
	for _, ch := range channels {
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, ch, payload); err != nil {
			return fmt.Errorf("notify %s: %w", ch, err)
		}
	}

	return tx.Commit(ctx)
}

// SetMinStrategy records the strategist output. A single transactional
// update: the progress notification it emits must see the new minstrategy.
func (s *Store) SetMinStrategy(ctx context.Context, snapshotID, text, address, city, state string) error {
	const q = `
		UPDATE strategies
		SET minstrategy = $2,
		    user_resolved_address = $3,
		    user_resolved_city = $4,
		    user_resolved_state = $5,
		    status = $6,
		    strategy_timestamp = now(),
		    updated_at = now()
		WHERE snapshot_id = $1`
	err := s.updateAndNotify(ctx, q,
		[]any{snapshotID, text, address, city, state, StatusComplete},
		snapshotID, ChannelStrategyProgress)
	if err != nil {
		return fmt.Errorf("set minstrategy %s: %w", snapshotID, err)
	}
	return nil
}

// SetStrategyHoliday records the holiday classification on the strategy
// row (denormalized for fast UI reads).
func (s *Store) SetStrategyHoliday(ctx context.Context, snapshotID, holiday string) error {
	const q = `
		UPDATE strategies
		SET holiday = NULLIF($2, ''), updated_at = now()
		WHERE snapshot_id = $1`
	err := s.updateAndNotify(ctx, q,
		[]any{snapshotID, holiday},
		snapshotID, ChannelStrategyProgress)
	if err != nil {
		return fmt.Errorf("set strategy holiday %s: %w", snapshotID, err)
	}
	return nil
}

// SetConsolidated records the consolidator output and emits both the
// progress and ready notifications.
func (s *Store) SetConsolidated(ctx context.Context, snapshotID, text string) error {
	const q = `
		UPDATE strategies
		SET consolidated_strategy = $2,
		    status = $3,
		    error_message = NULL,
		    updated_at = now()
		WHERE snapshot_id = $1`
	err := s.updateAndNotify(ctx, q,
		[]any{snapshotID, text, StatusOK},
		snapshotID, ChannelStrategyProgress, ChannelStrategyReady)
	if err != nil {
		return fmt.Errorf("set consolidated %s: %w", snapshotID, err)
	}
	return nil
}

// SetStrategyFailed marks a run as terminally failed.
func (s *Store) SetStrategyFailed(ctx context.Context, snapshotID, errMsg, errCode string) error {
	const q = `
		UPDATE strategies
		SET status = $2, error_message = $3, error_code = NULLIF($4, ''), updated_at = now()
		WHERE snapshot_id = $1`
	err := s.updateAndNotify(ctx, q,
		[]any{snapshotID, StatusFailed, truncateError(errMsg), errCode},
		snapshotID, ChannelStrategyProgress)
	if err != nil {
		return fmt.Errorf("set strategy failed %s: %w", snapshotID, err)
	}
	return nil
}

// SetWriteFailed marks a run whose provider call succeeded but whose
// persistence did not.
func (s *Store) SetWriteFailed(ctx context.Context, snapshotID, errMsg string) error {
	const q = `
		UPDATE strategies
		SET status = $2, error_message = $3, updated_at = now()
		WHERE snapshot_id = $1`
	if _, err := s.pool.Exec(ctx, q, snapshotID, StatusWriteFailed, truncateError(errMsg)); err != nil {
		return fmt.Errorf("set write_failed %s: %w", snapshotID, err)
	}
	return nil
}

// SetPendingMissing records that consolidation ran before all role outputs
// were present. The row stays pending; a later notification re-triggers.
func (s *Store) SetPendingMissing(ctx context.Context, snapshotID, msg string) error {
	const q = `
		UPDATE strategies
		SET status = $2, error_message = $3, updated_at = now()
		WHERE snapshot_id = $1`
	if _, err := s.pool.Exec(ctx, q, snapshotID, StatusPending, truncateError(msg)); err != nil {
		return fmt.Errorf("set pending %s: %w", snapshotID, err)
	}
	return nil
}

// ListPendingStrategyIDs returns ids of rows awaiting consolidation. Used
// by the listener's catch-up sweep after reconnect.
func (s *Store) ListPendingStrategyIDs(ctx context.Context) ([]string, error) {
	const q = `SELECT snapshot_id FROM strategies WHERE status = $1`
	rows, err := s.pool.Query(ctx, q, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending strategies: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// StrategyHistory returns a user's run attempts, newest first.
func (s *Store) StrategyHistory(ctx context.Context, userID string) ([]StrategyAttempt, error) {
	const q = `
		SELECT st.snapshot_id, st.status, st.created_at, st.updated_at
		FROM strategies st
		JOIN snapshots sn ON sn.id = st.snapshot_id
		WHERE sn.user_id = $1
		ORDER BY st.created_at DESC
		LIMIT 50`
	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("strategy history %s: %w", userID, err)
	}
	defer rows.Close()

	var attempts []StrategyAttempt
	for rows.Next() {
		var a StrategyAttempt
		if err := rows.Scan(&a.SnapshotID, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
