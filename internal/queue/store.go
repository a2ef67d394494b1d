package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"videoforge/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    root_id TEXT NOT NULL,
    submission_id INTEGER NOT NULL,
    stage TEXT NOT NULL,
    depends_on TEXT NOT NULL DEFAULT '[]',
    status TEXT NOT NULL,
    progress_percent REAL NOT NULL DEFAULT 0,
    progress_message TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    last_heartbeat TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_root ON jobs(root_id);
CREATE INDEX IF NOT EXISTS idx_jobs_submission ON jobs(submission_id, status);
`

// ErrNoJob is returned by NextRunnable when nothing is ready to execute.
var ErrNoJob = errors.New("no runnable job")

// Store is the SQLite-backed job queue.
type Store struct {
	db *sql.DB
}

// Open opens the queue database under the configured staging directory.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	return OpenPath(ctx, cfg.QueueDatabasePath())
}

// OpenPath opens the queue database at an explicit path.
func OpenPath(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply queue schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// EnqueueGraph inserts all jobs of a run in one transaction. Jobs with no
// dependencies start as added, the rest as waiting.
func (s *Store) EnqueueGraph(ctx context.Context, jobs []*Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, job := range jobs {
		deps, err := json.Marshal(dependsOrEmpty(job.DependsOn))
		if err != nil {
			return fmt.Errorf("encode dependencies: %w", err)
		}
		status := job.Status
		if status == "" {
			if len(job.DependsOn) == 0 {
				status = StatusAdded
			} else {
				status = StatusWaiting
			}
		}
		_, err = tx.ExecContext(ctx, `
            INSERT INTO jobs (id, root_id, submission_id, stage, depends_on, status, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.RootID, job.SubmissionID, job.Stage, string(deps), string(status), now, now)
		if err != nil {
			return fmt.Errorf("insert job %s: %w", job.ID, err)
		}
	}
	return tx.Commit()
}

// GetByID fetches one job.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, selectJob+` WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// JobsByRoot returns all jobs of a run ordered by creation.
func (s *Store) JobsByRoot(ctx context.Context, rootID string) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, selectJob+` WHERE root_id = ? ORDER BY created_at, id`, rootID)
	if err != nil {
		return nil, fmt.Errorf("query jobs by root: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// List returns the newest jobs up to limit.
func (s *Store) List(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectJob+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ActiveRootForSubmission returns the root job ID of a non-terminal run for
// the submission, or "" when none exists. Enforces one active run per
// submission.
func (s *Store) ActiveRootForSubmission(ctx context.Context, submissionID int64) (string, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT root_id FROM jobs
        WHERE submission_id = ? AND id = root_id AND status NOT IN (?, ?)
        LIMIT 1`, submissionID, string(StatusCompleted), string(StatusFailed))
	var rootID string
	err := row.Scan(&rootID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query active root: %w", err)
	}
	return rootID, nil
}

// NextRunnable claims the oldest job whose dependencies have all completed,
// marking it processing before returning. Returns ErrNoJob when the queue has
// nothing ready. Root jobs are never claimed; they complete when their last
// stage does.
func (s *Store) NextRunnable(ctx context.Context) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, selectJob+`
        WHERE status IN (?, ?) AND id != root_id
        ORDER BY created_at, id`, string(StatusAdded), string(StatusWaiting))
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	candidates, err := collectJobs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	for _, job := range candidates {
		ready, err := dependenciesMet(ctx, tx, job)
		if err != nil {
			return nil, err
		}
		if !ready {
			continue
		}
		now := time.Now().UTC()
		ts := now.Format(time.RFC3339Nano)
		_, err = tx.ExecContext(ctx, `
            UPDATE jobs SET status = ?, updated_at = ?, last_heartbeat = ? WHERE id = ?`,
			string(StatusProcessing), ts, ts, job.ID)
		if err != nil {
			return nil, fmt.Errorf("claim job %s: %w", job.ID, err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit claim: %w", err)
		}
		job.Status = StatusProcessing
		job.UpdatedAt = now
		job.LastHeartbeat = &now
		return job, nil
	}
	return nil, ErrNoJob
}

func dependenciesMet(ctx context.Context, tx *sql.Tx, job *Job) (bool, error) {
	for _, dep := range job.DependsOn {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, dep).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("check dependency %s: %w", dep, err)
		}
		if Status(status) != StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// SetStatus transitions a job's status, clearing the heartbeat on terminal
// states.
func (s *Store) SetStatus(ctx context.Context, id string, status Status) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var err error
	if status.Terminal() {
		_, err = s.db.ExecContext(ctx, `
            UPDATE jobs SET status = ?, updated_at = ?, last_heartbeat = NULL WHERE id = ?`,
			string(status), now, id)
	} else {
		_, err = s.db.ExecContext(ctx, `
            UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), now, id)
	}
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// SetProgress updates a job's progress.
func (s *Store) SetProgress(ctx context.Context, id string, percent float64, message string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
        UPDATE jobs SET progress_percent = ?, progress_message = ?, updated_at = ? WHERE id = ?`,
		percent, message, now, id)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

// SetFailed marks a job failed with a diagnostic message.
func (s *Store) SetFailed(ctx context.Context, id string, message string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
        UPDATE jobs SET status = ?, error_message = ?, updated_at = ?, last_heartbeat = NULL WHERE id = ?`,
		string(StatusFailed), message, now, id)
	if err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

// UpdateHeartbeat refreshes a processing job's liveness timestamp.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
        UPDATE jobs SET last_heartbeat = ? WHERE id = ? AND status = ?`,
		now, id, string(StatusProcessing))
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStale moves processing jobs whose heartbeat is older than timeout
// back to added so another worker can pick them up, and returns the affected
// jobs. Jobs reclaimed this way first pass through stalled for visibility.
func (s *Store) ReclaimStale(ctx context.Context, timeout time.Duration) ([]*Job, error) {
	cutoff := time.Now().UTC().Add(-timeout).Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx, selectJob+`
        WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		string(StatusProcessing), cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stale jobs: %w", err)
	}
	stale, err := collectJobs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, job := range stale {
		_, err := s.db.ExecContext(ctx, `
            UPDATE jobs SET status = ?, updated_at = ?, last_heartbeat = NULL,
                error_message = 'worker heartbeat lost; job requeued'
            WHERE id = ?`,
			string(StatusAdded), now, job.ID)
		if err != nil {
			return nil, fmt.Errorf("reclaim job %s: %w", job.ID, err)
		}
		job.Status = StatusStalled
	}
	return stale, nil
}

// Stats counts jobs by status.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch Status(status) {
		case StatusAdded:
			stats.Added = count
		case StatusWaiting:
			stats.Waiting = count
		case StatusProcessing:
			stats.Processing = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		case StatusStalled:
			stats.Stalled = count
		}
	}
	return stats, rows.Err()
}

const selectJob = `
    SELECT id, root_id, submission_id, stage, depends_on, status,
           progress_percent, progress_message, error_message,
           created_at, updated_at, last_heartbeat
    FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var deps, status, createdAt, updatedAt string
	var heartbeat sql.NullString
	err := row.Scan(&job.ID, &job.RootID, &job.SubmissionID, &job.Stage, &deps, &status,
		&job.ProgressPercent, &job.ProgressMessage, &job.ErrorMessage,
		&createdAt, &updatedAt, &heartbeat)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(deps), &job.DependsOn); err != nil {
		return nil, fmt.Errorf("decode dependencies for %s: %w", job.ID, err)
	}
	job.Status = Status(status)
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if heartbeat.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, heartbeat.String); err == nil {
			job.LastHeartbeat = &ts
		}
	}
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func dependsOrEmpty(deps []string) []string {
	if deps == nil {
		return []string{}
	}
	return deps
}
