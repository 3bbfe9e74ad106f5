package scheduler

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// HistoryEntry is one recorded job execution.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	JobName    string    `json:"job_name"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// HistoryRepository stores job executions in cache.db.
type HistoryRepository struct {
	db  *sql.DB // cache.db - job_history table
	log zerolog.Logger
}

// NewHistoryRepository creates a new job history repository.
func NewHistoryRepository(db *sql.DB, log zerolog.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:  db,
		log: log.With().Str("repository", "job_history").Logger(),
	}
}

// Record appends one execution.
func (r *HistoryRepository) Record(jobName, status, errMsg string, started, finished time.Time) error {
	var errVal interface{}
	if errMsg != "" {
		errVal = errMsg
	}
	_, err := r.db.Exec(`
		INSERT INTO job_history (job_name, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?)
	`, jobName, status, errVal, started.Unix(), finished.Unix())
	if err != nil {
		return fmt.Errorf("failed to record job history: %w", err)
	}
	return nil
}

// Recent returns recent executions newest-first, optionally filtered by job.
func (r *HistoryRepository) Recent(jobName string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT id, job_name, status, error, started_at, finished_at FROM job_history"
	args := []interface{}{}
	if jobName != "" {
		query += " WHERE job_name = ?"
		args = append(args, jobName)
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query job history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var errMsg sql.NullString
		var started, finished int64
		if err := rows.Scan(&e.ID, &e.JobName, &e.Status, &errMsg, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan job history: %w", err)
		}
		e.Error = errMsg.String
		e.StartedAt = time.Unix(started, 0)
		e.FinishedAt = time.Unix(finished, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Cleanup drops entries older than the cutoff.
func (r *HistoryRepository) Cleanup(olderThan time.Time) (int64, error) {
	result, err := r.db.Exec("DELETE FROM job_history WHERE finished_at < ?", olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to clean job history: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
