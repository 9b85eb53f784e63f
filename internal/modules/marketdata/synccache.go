package marketdata

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// SyncCache records provider sync freshness in the cache database so
// jobs can skip refetching slow-moving data. Entries are markers: the
// key names the synced resource, expires_at says how long it counts as
// fresh, and the value column stays empty.
type SyncCache struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSyncCache creates a sync cache on the cache database.
func NewSyncCache(db *sql.DB, log zerolog.Logger) *SyncCache {
	return &SyncCache{
		db:  db,
		log: log.With().Str("component", "sync_cache").Logger(),
	}
}

// Fresh reports whether key was marked and has not expired yet. A
// missing key or a read error both count as stale.
func (c *SyncCache) Fresh(key string, now time.Time) bool {
	var expiresAt int64
	err := c.db.QueryRow(`SELECT expires_at FROM kv WHERE key = ?`, key).Scan(&expiresAt)
	if err != nil {
		if err != sql.ErrNoRows {
			c.log.Warn().Err(err).Str("key", key).Msg("Sync cache read failed")
		}
		return false
	}
	return now.Unix() < expiresAt
}

// Mark records key as fresh until the given time.
func (c *SyncCache) Mark(key string, until time.Time) error {
	_, err := c.db.Exec(`
		INSERT INTO kv (key, value, expires_at)
		VALUES (?, '', ?)
		ON CONFLICT(key) DO UPDATE SET
			expires_at = excluded.expires_at
	`, key, until.Unix())
	if err != nil {
		return fmt.Errorf("failed to mark %s: %w", key, err)
	}
	return nil
}

// Forget removes the marker for key, forcing the next sync to fetch.
func (c *SyncCache) Forget(key string) error {
	if _, err := c.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to forget %s: %w", key, err)
	}
	return nil
}

// Prune deletes markers that expired before now. Returns the number of
// rows removed.
func (c *SyncCache) Prune(now time.Time) (int64, error) {
	res, err := c.db.Exec(`DELETE FROM kv WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune sync cache: %w", err)
	}
	return res.RowsAffected()
}
