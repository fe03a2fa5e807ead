package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// ErrStoreLocked indicates another process holds the state database's
// writer lock.
var ErrStoreLocked = errors.New("state database locked by another process")

// SQLStore is a durable Store backed by SQLite. Writes are transactional
// per key; the database file remains readable by any sqlite3 client while
// the engine is stopped.
type SQLStore struct {
	db   *sql.DB
	path string
	lock *flock.Flock
}

// Open initializes or connects to the state database at path, applies
// migrations, and takes an exclusive sidecar flock so only one engine
// process writes a given database.
func Open(path string) (*SQLStore, error) {
	return open(path)
}

// OpenReadOnly connects to an existing database without the writer lock
// and without any write: no directory creation, no migrations, no pragma
// that touches the file. Intended for inspection tooling running alongside
// (or instead of) the engine; a missing database is an error, never
// created.
func OpenReadOnly(path string) (*SQLStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("state database not found: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db read-only: %w", err)
	}
	pragmas := []string{
		"PRAGMA query_only = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	return &SQLStore{db: db, path: path}, nil
}

// WriterActive reports whether another process currently holds the
// writer lock for the state database at path.
func WriterActive(path string) (bool, error) {
	lock := flock.New(path + ".lock")
	held, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe state lock: %w", err)
	}
	if !held {
		return true, nil
	}
	if err := lock.Unlock(); err != nil {
		return false, fmt.Errorf("release probe lock: %w", err)
	}
	return false, nil
}

func open(path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure state directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	held, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire state lock: %w", err)
	}
	if !held {
		return nil, fmt.Errorf("%w: %s", ErrStoreLocked, path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLStore{db: db, path: path, lock: lock}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	return store, nil
}

// Path returns the state database file path.
func (s *SQLStore) Path() string {
	return s.path
}

// Close closes the database connection and releases the writer lock.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}
	return err
}

const stageColumns = `item_id, stage, status, attempts, last_error, metadata_json, first_attempted_at, created_at, updated_at`

const subTaskColumns = `item_id, stage, subtask, status, attempts, last_error, first_attempted_at, created_at, updated_at`

// StageRecord fetches the record for (itemID, stg), if any.
func (s *SQLStore) StageRecord(ctx context.Context, itemID, stg string) (*StageRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+stageColumns+` FROM stage_records WHERE item_id = ? AND stage = ?`,
		itemID, stg,
	)
	record, err := scanStageRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stage record: %w", err)
	}
	return record, nil
}

// StageRecords returns every stage record for an item in creation order.
func (s *SQLStore) StageRecords(ctx context.Context, itemID string) ([]*StageRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+stageColumns+` FROM stage_records WHERE item_id = ? ORDER BY created_at, stage`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("query stage records: %w", err)
	}
	defer rows.Close()

	var records []*StageRecord
	for rows.Next() {
		record, err := scanStageRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// UpsertStageRecord replaces the record keyed by (ItemID, Stage).
func (s *SQLStore) UpsertStageRecord(ctx context.Context, record *StageRecord) error {
	if err := validateStageRecord(record); err != nil {
		return err
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if err := upsertStage(ctx, s.db, record); err != nil {
		return fmt.Errorf("upsert stage record: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertStage(ctx context.Context, db execer, record *StageRecord) error {
	metadataJSON, err := marshalMetadata(record.Metadata)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(
		ctx,
		`INSERT INTO stage_records (`+stageColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(item_id, stage) DO UPDATE SET
             status = excluded.status,
             attempts = excluded.attempts,
             last_error = excluded.last_error,
             metadata_json = excluded.metadata_json,
             first_attempted_at = excluded.first_attempted_at,
             updated_at = excluded.updated_at`,
		record.ItemID,
		record.Stage,
		record.Status,
		record.Attempts,
		nullableString(record.LastError),
		nullableString(metadataJSON),
		nullableTime(record.FirstAttemptedAt),
		record.CreatedAt.Format(time.RFC3339Nano),
		record.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// SubTaskRecords returns the subtask records for (itemID, stg) in creation
// order.
func (s *SQLStore) SubTaskRecords(ctx context.Context, itemID, stg string) ([]*SubTaskRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+subTaskColumns+` FROM subtask_records WHERE item_id = ? AND stage = ? ORDER BY created_at, subtask`,
		itemID, stg,
	)
	if err != nil {
		return nil, fmt.Errorf("query subtask records: %w", err)
	}
	defer rows.Close()

	var records []*SubTaskRecord
	for rows.Next() {
		record, err := scanSubTaskRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subtask record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// UpsertSubTaskRecord replaces the record keyed by (ItemID, Stage, Name).
func (s *SQLStore) UpsertSubTaskRecord(ctx context.Context, record *SubTaskRecord) error {
	if err := validateSubTaskRecord(record); err != nil {
		return err
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if err := upsertSubTask(ctx, s.db, record); err != nil {
		return fmt.Errorf("upsert subtask record: %w", err)
	}
	return nil
}

func upsertSubTask(ctx context.Context, db execer, record *SubTaskRecord) error {
	_, err := db.ExecContext(
		ctx,
		`INSERT INTO subtask_records (`+subTaskColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(item_id, stage, subtask) DO UPDATE SET
             status = excluded.status,
             attempts = excluded.attempts,
             last_error = excluded.last_error,
             first_attempted_at = excluded.first_attempted_at,
             updated_at = excluded.updated_at`,
		record.ItemID,
		record.Stage,
		record.Name,
		record.Status,
		record.Attempts,
		nullableString(record.LastError),
		nullableTime(record.FirstAttemptedAt),
		record.CreatedAt.Format(time.RFC3339Nano),
		record.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// FanOut persists the fanned-out parent and its pending subtasks in one
// transaction. A crash mid-write leaves neither visible.
func (s *SQLStore) FanOut(ctx context.Context, parent *StageRecord, names []string) error {
	if err := validateStageRecord(parent); err != nil {
		return err
	}
	now := time.Now().UTC()
	if parent.CreatedAt.IsZero() {
		parent.CreatedAt = now
	}
	parent.UpdatedAt = now

	subtasks := make([]*SubTaskRecord, 0, len(names))
	for _, name := range names {
		record := &SubTaskRecord{
			ItemID:    parent.ItemID,
			Stage:     parent.Stage,
			Name:      name,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := validateSubTaskRecord(record); err != nil {
			return err
		}
		subtasks = append(subtasks, record)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fan-out tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := upsertStage(ctx, tx, parent); err != nil {
		return fmt.Errorf("persist fanned-out stage: %w", err)
	}
	for _, record := range subtasks {
		if err := upsertSubTask(ctx, tx, record); err != nil {
			return fmt.Errorf("persist subtask %s: %w", record.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fan-out: %w", err)
	}
	return nil
}

// ItemsAt lists item ids whose record for stg has the given status.
func (s *SQLStore) ItemsAt(ctx context.Context, stg string, status Status) ([]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT item_id FROM stage_records WHERE stage = ? AND status = ? ORDER BY created_at, item_id`,
		stg, status,
	)
	if err != nil {
		return nil, fmt.Errorf("query items at stage: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan item id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ItemSummary aggregates the stage records of a single work item.
type ItemSummary struct {
	ItemID         string
	Stages         int
	Completed      int
	Failed         int
	AwaitingReview int
	UpdatedAt      time.Time
}

// ItemSummaries lists every known item with per-status stage counts,
// ordered by first appearance.
func (s *SQLStore) ItemSummaries(ctx context.Context) ([]ItemSummary, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT item_id,
		        COUNT(*),
		        SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN status = 'awaiting_review' THEN 1 ELSE 0 END),
		        MAX(updated_at)
		 FROM stage_records
		 GROUP BY item_id
		 ORDER BY MIN(created_at), item_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query item summaries: %w", err)
	}
	defer rows.Close()

	var summaries []ItemSummary
	for rows.Next() {
		var (
			summary     ItemSummary
			updatedText string
		)
		if err := rows.Scan(
			&summary.ItemID,
			&summary.Stages,
			&summary.Completed,
			&summary.Failed,
			&summary.AwaitingReview,
			&updatedText,
		); err != nil {
			return nil, fmt.Errorf("scan item summary: %w", err)
		}
		updatedAt, err := parseTime(updatedText)
		if err != nil {
			return nil, err
		}
		summary.UpdatedAt = updatedAt
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStageRecord(row rowScanner) (*StageRecord, error) {
	var (
		record        StageRecord
		status        string
		lastErr       sql.NullString
		metadataJSON  sql.NullString
		firstAttempt  sql.NullString
		createdAtText string
		updatedAtText string
	)
	if err := row.Scan(
		&record.ItemID,
		&record.Stage,
		&status,
		&record.Attempts,
		&lastErr,
		&metadataJSON,
		&firstAttempt,
		&createdAtText,
		&updatedAtText,
	); err != nil {
		return nil, err
	}

	parsed, ok := ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("%w: stored status %q", ErrInvalidRecord, status)
	}
	record.Status = parsed
	record.LastError = lastErr.String

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &record.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}

	var err error
	if record.FirstAttemptedAt, err = parseNullableTime(firstAttempt); err != nil {
		return nil, err
	}
	if record.CreatedAt, err = parseTime(createdAtText); err != nil {
		return nil, err
	}
	if record.UpdatedAt, err = parseTime(updatedAtText); err != nil {
		return nil, err
	}
	return &record, nil
}

func scanSubTaskRecord(row rowScanner) (*SubTaskRecord, error) {
	var (
		record        SubTaskRecord
		status        string
		lastErr       sql.NullString
		firstAttempt  sql.NullString
		createdAtText string
		updatedAtText string
	)
	if err := row.Scan(
		&record.ItemID,
		&record.Stage,
		&record.Name,
		&status,
		&record.Attempts,
		&lastErr,
		&firstAttempt,
		&createdAtText,
		&updatedAtText,
	); err != nil {
		return nil, err
	}

	parsed, ok := ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("%w: stored status %q", ErrInvalidRecord, status)
	}
	record.Status = parsed
	record.LastError = lastErr.String

	var err error
	if record.FirstAttemptedAt, err = parseNullableTime(firstAttempt); err != nil {
		return nil, err
	}
	if record.CreatedAt, err = parseTime(createdAtText); err != nil {
		return nil, err
	}
	if record.UpdatedAt, err = parseTime(updatedAtText); err != nil {
		return nil, err
	}
	return &record, nil
}

func marshalMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return parsed, nil
}

func parseNullableTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	parsed, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
