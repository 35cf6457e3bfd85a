package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultMaxAttempts = 3
	maxJobBackoff      = 5 * time.Minute
)

// jobTimeLayout is fixed width so run_after compares correctly as text.
const jobTimeLayout = "2006-01-02T15:04:05.000000Z"

func formatJobTime(t time.Time) string {
	return t.UTC().Format(jobTimeLayout)
}

func parseJobTime(s string) (time.Time, error) {
	return time.Parse(jobTimeLayout, s)
}

const jobColumns = `id, type, dedupe_key, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error`

func scanJob(row interface{ Scan(...any) error }) (Job, error) {
	var j Job
	var status, runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	if err := row.Scan(&j.ID, &j.Type, &j.Key, &j.PayloadJSON, &status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError); err != nil {
		return Job{}, err
	}
	j.Status = JobStatus(status)
	j.LastError = lastError.String

	var err error
	if j.RunAfter, err = parseJobTime(runAfter); err != nil {
		return Job{}, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = parseJobTime(createdAt); err != nil {
		return Job{}, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = parseJobTime(updatedAt); err != nil {
		return Job{}, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return j, nil
}

// EnqueueJob adds a pending job. When job.Key is set, pending jobs with the
// same type and key are removed in the same transaction. Running jobs are
// left alone and finish on their own.
func (s *Store) EnqueueJob(job Job) error {
	now := time.Now()
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning enqueue transaction: %w", err)
	}
	defer tx.Rollback()

	if job.Key != "" {
		if _, err := tx.Exec(`DELETE FROM jobs WHERE type = ? AND dedupe_key = ? AND status = ?`,
			job.Type, job.Key, JobPending); err != nil {
			return fmt.Errorf("superseding pending %s jobs: %w", job.Type, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO jobs (id, type, dedupe_key, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.Key, job.PayloadJSON, JobPending, maxAttempts,
		formatJobTime(runAfter), formatJobTime(now), formatJobTime(now),
	); err != nil {
		return fmt.Errorf("inserting job %s: %w", job.ID, err)
	}
	return tx.Commit()
}

// ClaimNextJob marks the oldest due pending job of one of the given types as
// running and returns it. It returns nil when nothing is due.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := formatJobTime(time.Now())
	args := make([]any, 0, len(types)+2)
	args = append(args, JobPending, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND run_after <= ? AND type IN (?`+strings.Repeat(",?", len(types)-1)+`)
		ORDER BY run_after, created_at
		LIMIT 1`, args...)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		JobRunning, now, j.ID, JobPending)
	if err != nil {
		return nil, fmt.Errorf("claiming job %s: %w", j.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = JobRunning
	j.UpdatedAt, _ = parseJobTime(now)
	return &j, nil
}

// GetJob returns one job by ID.
func (s *Store) GetJob(id string) (Job, error) {
	j, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

// CompleteJob marks a job as completed.
func (s *Store) CompleteJob(id string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		JobCompleted, formatJobTime(time.Now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. The job goes back to pending with an
// exponential backoff until it runs out of attempts.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now()
	attempts++
	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			JobFailed, attempts, errMsg, formatJobTime(now), id)
	} else {
		_, err = tx.Exec(`UPDATE jobs SET status = ?, attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			JobPending, attempts, errMsg, formatJobTime(now.Add(jobBackoff(attempts))), formatJobTime(now), id)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func jobBackoff(attempts int) time.Duration {
	d := time.Second << attempts
	if d <= 0 || d > maxJobBackoff {
		return maxJobBackoff
	}
	return d
}

// RequeueRunningJobs returns jobs left running by a previous process to the
// pending state. Call it before any worker starts claiming.
func (s *Store) RequeueRunningJobs() (int, error) {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE status = ?`,
		JobPending, formatJobTime(time.Now()), JobRunning)
	if err != nil {
		return 0, fmt.Errorf("requeueing running jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// PruneJobs deletes completed and failed jobs last updated before cutoff.
func (s *Store) PruneJobs(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE status IN (?, ?) AND updated_at < ?`,
		JobCompleted, JobFailed, formatJobTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
