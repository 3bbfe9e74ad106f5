// Package drift tracks backend calibration drift. Hardware backends wander
// between provider calibrations; the per-run mean q error forms a time
// series that is smoothed and checked against an alert threshold.
package drift

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Point is one drift observation: the mean |q_measured - q_target| of a run.
type Point struct {
	ID        int64     `json:"id"`
	Backend   string    `json:"backend"`
	RunID     string    `json:"run_id"`
	MeanError float64   `json:"mean_error"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores the drift series in cache.db.
type Repository struct {
	db  *sql.DB // cache.db - drift_points table
	log zerolog.Logger
}

// NewRepository creates a new drift repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "drift").Logger(),
	}
}

// Add appends an observation to a backend's series.
func (r *Repository) Add(backend, runID string, meanError float64) error {
	_, err := r.db.Exec(`
		INSERT INTO drift_points (backend, run_id, mean_error, created_at)
		VALUES (?, ?, ?, ?)
	`, backend, runID, meanError, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to add drift point: %w", err)
	}
	return nil
}

// Series returns a backend's observations oldest-first, capped at limit.
func (r *Repository) Series(backend string, limit int) ([]Point, error) {
	if limit <= 0 {
		limit = 200
	}

	// Newest rows first, then reversed so smoothing runs oldest-first.
	rows, err := r.db.Query(`
		SELECT id, backend, run_id, mean_error, created_at
		FROM drift_points WHERE backend = ?
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, backend, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query drift series: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.Backend, &p.RunID, &p.MeanError, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan drift point: %w", err)
		}
		p.CreatedAt = time.Unix(createdAt, 0)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

// Prune drops observations older than the cutoff.
func (r *Repository) Prune(olderThan time.Time) (int64, error) {
	result, err := r.db.Exec("DELETE FROM drift_points WHERE created_at < ?", olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune drift points: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
