// Package catalog persists submissions and their durable asset records in
// SQLite. This survives daemon restarts; staging repositories do not.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"videoforge/internal/config"
	"videoforge/internal/services"
)

const schema = `
CREATE TABLE IF NOT EXISTS submissions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    source_path TEXT NOT NULL,
    generate_captions INTEGER NOT NULL DEFAULT 0,
    generate_broll INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS asset_records (
    id TEXT PRIMARY KEY,
    submission_id INTEGER NOT NULL REFERENCES submissions(id),
    kind TEXT NOT NULL,
    storage_key TEXT NOT NULL,
    integrity_tag TEXT NOT NULL DEFAULT '',
    public_url TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_asset_records_submission
    ON asset_records(submission_id, kind);
`

// Submission is a user's uploaded video plus its processing options.
type Submission struct {
	ID               int64
	UserID           string
	Title            string
	Description      string
	SourcePath       string
	GenerateCaptions bool
	GenerateBroll    bool
	CreatedAt        time.Time
}

// AssetRecord is one durably stored artifact of a completed run.
type AssetRecord struct {
	ID           string
	SubmissionID int64
	Kind         string
	StorageKey   string
	IntegrityTag string
	PublicURL    string
	CreatedAt    time.Time
}

// Store wraps the catalog database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the catalog database.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	return OpenPath(ctx, cfg.CatalogDatabasePath())
}

// OpenPath opens the catalog database at an explicit path.
func OpenPath(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply catalog schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// CreateSubmission inserts a new submission and returns it with its assigned ID.
func (s *Store) CreateSubmission(ctx context.Context, sub Submission) (*Submission, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO submissions (user_id, title, description, source_path, generate_captions, generate_broll, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.UserID, sub.Title, sub.Description, sub.SourcePath,
		boolToInt(sub.GenerateCaptions), boolToInt(sub.GenerateBroll),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert submission: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read submission id: %w", err)
	}
	sub.ID = id
	sub.CreatedAt = now
	return &sub, nil
}

// GetSubmission fetches a submission by ID.
func (s *Store) GetSubmission(ctx context.Context, id int64) (*Submission, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, user_id, title, description, source_path, generate_captions, generate_broll, created_at
        FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.NewError(services.KindNotFound, "",
			fmt.Sprintf("submission %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("query submission: %w", err)
	}
	return sub, nil
}

// UpdateSubmissionFlags overwrites the processing flags a start-processing
// request supplied. A nil pointer leaves that flag unchanged.
func (s *Store) UpdateSubmissionFlags(ctx context.Context, id int64, captions, broll *bool) error {
	if captions == nil && broll == nil {
		return nil
	}
	var sets []string
	var args []any
	if captions != nil {
		sets = append(sets, "generate_captions = ?")
		args = append(args, boolToInt(*captions))
	}
	if broll != nil {
		sets = append(sets, "generate_broll = ?")
		args = append(args, boolToInt(*broll))
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE submissions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update submission flags: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return services.NewError(services.KindNotFound, "",
			fmt.Sprintf("submission %d not found", id))
	}
	return nil
}

// InsertAssetRecord stores a durable asset record for a submission.
func (s *Store) InsertAssetRecord(ctx context.Context, rec AssetRecord) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO asset_records (id, submission_id, kind, storage_key, integrity_tag, public_url, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SubmissionID, rec.Kind, rec.StorageKey, rec.IntegrityTag, rec.PublicURL,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert asset record: %w", err)
	}
	return nil
}

// AssetsBySubmission returns all durable asset records for a submission,
// newest first.
func (s *Store) AssetsBySubmission(ctx context.Context, submissionID int64) ([]AssetRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, submission_id, kind, storage_key, integrity_tag, public_url, created_at
        FROM asset_records WHERE submission_id = ? ORDER BY created_at DESC, id`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("query asset records: %w", err)
	}
	defer rows.Close()

	var records []AssetRecord
	for rows.Next() {
		rec, err := scanAssetRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// LatestAssetByKind returns the newest durable record of a kind for a
// submission, or nil when none exists.
func (s *Store) LatestAssetByKind(ctx context.Context, submissionID int64, kind string) (*AssetRecord, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, submission_id, kind, storage_key, integrity_tag, public_url, created_at
        FROM asset_records WHERE submission_id = ? AND kind = ?
        ORDER BY created_at DESC LIMIT 1`, submissionID, kind)
	rec, err := scanAssetRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query asset record: %w", err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*Submission, error) {
	var sub Submission
	var captions, broll int
	var createdAt string
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.Title, &sub.Description,
		&sub.SourcePath, &captions, &broll, &createdAt); err != nil {
		return nil, err
	}
	sub.GenerateCaptions = captions != 0
	sub.GenerateBroll = broll != 0
	sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &sub, nil
}

func scanAssetRecord(row rowScanner) (*AssetRecord, error) {
	var rec AssetRecord
	var createdAt string
	if err := row.Scan(&rec.ID, &rec.SubmissionID, &rec.Kind, &rec.StorageKey,
		&rec.IntegrityTag, &rec.PublicURL, &createdAt); err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
