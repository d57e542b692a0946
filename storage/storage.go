// Package storage persists pipeline state in Postgres and exposes the
// LISTEN/NOTIFY channels the pipeline coordinates through. Regular queries
// go through a pgx pool; the notification listener gets its own
// session-pinned connection string because transaction-pooling proxies
// silently drop LISTEN subscriptions.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Notification channels emitted by the strategy-row update paths.
const (
	ChannelStrategyProgress = "strategy_progress"
	ChannelStrategyReady    = "strategy_ready"
	ChannelBlocksReady      = "blocks_ready"
)

// Store wraps the connection pool and owns all SQL in the service.
type Store struct {
	pool      *pgxpool.Pool
	notifyURL string
	logger    *slog.Logger
}

// New connects the pool and resolves the notify connection string.
// notifyURL may be empty, in which case it is derived from url; a pooled
// URL is rewritten to its session-pinned form, and an error is returned if
// that is not possible.
func New(ctx context.Context, dbURL, notifyURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if notifyURL == "" {
		notifyURL = dbURL
	}
	resolved, err := SessionPinnedURL(notifyURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("notify url: %w", err)
	}
	if resolved != notifyURL {
		logger.Warn("Rewrote pooled database URL for LISTEN/NOTIFY",
			"reason", "transaction poolers drop session subscriptions")
	}

	return &Store{pool: pool, notifyURL: resolved, logger: logger}, nil
}

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// NotifyURL returns the session-pinned connection string for the listener.
func (s *Store) NotifyURL() string {
	return s.notifyURL
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// IsPooledURL reports whether the connection string points at a
// transaction-pooling proxy (Neon/Supabase "-pooler" hosts, explicit
// pgbouncer parameter, or the conventional 6543 pooler port).
func IsPooledURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if strings.Contains(host, "-pooler.") || strings.HasSuffix(host, "-pooler") {
		return true
	}
	if u.Port() == "6543" {
		return true
	}
	q := u.Query()
	return q.Get("pgbouncer") == "true"
}

// SessionPinnedURL rewrites a pooled connection string into its
// session-pinned equivalent. Non-pooled URLs pass through unchanged. An
// error is returned when the URL is pooled but cannot be rewritten.
func SessionPinnedURL(raw string) (string, error) {
	if !IsPooledURL(raw) {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse: %w", err)
	}

	host := u.Hostname()
	rewrote := false
	if idx := strings.Index(host, "-pooler."); idx >= 0 {
		host = host[:idx] + host[idx+len("-pooler"):]
		rewrote = true
	} else if strings.HasSuffix(host, "-pooler") {
		host = strings.TrimSuffix(host, "-pooler")
		rewrote = true
	}

	port := u.Port()
	if port == "6543" {
		port = "5432"
		rewrote = true
	}

	q := u.Query()
	if q.Get("pgbouncer") == "true" {
		q.Del("pgbouncer")
		rewrote = true
	}

	if !rewrote {
		return "", fmt.Errorf("pooled URL cannot be rewritten to a session-pinned form; set DATABASE_NOTIFY_URL")
	}

	if port != "" {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
