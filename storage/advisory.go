package storage

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
)

// ConsolidationLockKey derives the stable 64-bit advisory lock key for a
// snapshot: SHA-1 of "consolidate:<snapshot_id>", truncated to the first 8
// bytes big-endian. Collision-tolerant for this domain; a collision only
// serializes two unrelated consolidations.
func ConsolidationLockKey(snapshotID string) int64 {
	sum := sha1.Sum([]byte("consolidate:" + snapshotID))
	return int64(binary.BigEndian.Uint64(sum[:8])) //nolint:gosec // intentional wraparound
}

// TryAdvisoryLock attempts a non-blocking session advisory lock. Advisory
// locks are session-scoped, so the lock pins a pool connection until
// release; the returned func both unlocks and returns the connection.
// acquired=false means another worker owns the key.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (release func(context.Context), acquired bool, err error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire conn: %w", err)
	}

	var got bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&got); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !got {
		conn.Release()
		return nil, false, nil
	}

	release = func(releaseCtx context.Context) {
		// Unlock on the same session that acquired it.
		if _, err := conn.Exec(releaseCtx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
			s.logger.Warn("Advisory unlock failed; releasing connection drops the lock anyway",
				"key", key, "error", err)
		}
		conn.Release()
	}
	return release, true, nil
}
