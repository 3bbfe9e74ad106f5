package backends

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// StatusCache persists the last known status of each backend in cache.db.
// The hardware gateway is slow and rate-limited, so the API serves the last
// snapshot when a live check fails.
type StatusCache struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStatusCache creates a status cache on the cache database.
func NewStatusCache(db *sql.DB, log zerolog.Logger) *StatusCache {
	return &StatusCache{
		db:  db,
		log: log.With().Str("component", "status_cache").Logger(),
	}
}

// Put stores a status snapshot, replacing any previous one for the backend.
func (c *StatusCache) Put(status Status) error {
	blob, err := msgpack.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode status for %s: %w", status.Backend, err)
	}

	_, err = c.db.Exec(`
		INSERT INTO backend_status (backend, status_blob, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(backend) DO UPDATE SET
			status_blob = excluded.status_blob,
			updated_at = excluded.updated_at
	`, status.Backend, blob, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store status for %s: %w", status.Backend, err)
	}
	return nil
}

// Get returns the cached status and its timestamp, or nil if none exists.
func (c *StatusCache) Get(backend string) (*Status, time.Time, error) {
	var blob []byte
	var updatedAt int64
	err := c.db.QueryRow(`
		SELECT status_blob, updated_at FROM backend_status WHERE backend = ?
	`, backend).Scan(&blob, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to load status for %s: %w", backend, err)
	}

	var status Status
	if err := msgpack.Unmarshal(blob, &status); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to decode status for %s: %w", backend, err)
	}
	return &status, time.Unix(updatedAt, 0), nil
}
