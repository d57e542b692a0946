package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Triad job statuses.
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobDone    = "done"
	JobError   = "error"
)

// InsertTriadJob admits a pipeline run. The unique constraint on
// snapshot_id makes this the cross-request admission gate: the insert that
// produces a row is the first admission; conflict means already queued.
// Returns true when this call created the row.
func (s *Store) InsertTriadJob(ctx context.Context, snapshotID, kind string) (bool, error) {
	const q = `
		INSERT INTO triad_jobs (snapshot_id, kind, status, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (snapshot_id) DO NOTHING
		RETURNING snapshot_id`

	var id string
	err := s.pool.QueryRow(ctx, q, snapshotID, kind, JobQueued).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert triad job %s: %w", snapshotID, err)
	}
	return true, nil
}

// SetTriadJobStatus transitions a job's status.
func (s *Store) SetTriadJobStatus(ctx context.Context, snapshotID, status string) error {
	const q = `UPDATE triad_jobs SET status = $2 WHERE snapshot_id = $1`
	if _, err := s.pool.Exec(ctx, q, snapshotID, status); err != nil {
		return fmt.Errorf("set triad job status %s: %w", snapshotID, err)
	}
	return nil
}

// NotifyBlocksReady emits the blocks_ready notification for downstream
// venue consumers.
func (s *Store) NotifyBlocksReady(ctx context.Context, snapshotID, rankingID string) error {
	payload := fmt.Sprintf(`{"snapshot_id":%q,"ranking_id":%q}`, snapshotID, rankingID)
	if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, ChannelBlocksReady, payload); err != nil {
		return fmt.Errorf("notify blocks_ready %s: %w", snapshotID, err)
	}
	return nil
}
