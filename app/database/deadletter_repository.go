package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/avolokh/newsriver/app/article"
)

// DeadLetterRecord is a persisted dead-letter envelope. Payload holds the
// full article JSON for requeueing; the other columns exist for filtering
// and counting without parsing it.
type DeadLetterRecord struct {
	ID          int64
	ArticleID   string
	Fingerprint string
	Source      string
	Stage       string
	Reason      string
	Error       string
	Payload     string
	FailedAt    time.Time
	CreatedAt   time.Time
}

// StageCount is one row of the per-stage failure breakdown.
type StageCount struct {
	Stage string `json:"stage"`
	Count int64  `json:"count"`
}

// DeadLetterRepository handles database operations for dead letters.
type DeadLetterRepository struct {
	db *DB
}

func NewDeadLetterRepository(db *DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

// Insert persists one dead-letter envelope.
func (r *DeadLetterRepository) Insert(dl *article.DeadLetter) error {
	payload, err := dl.Article.Encode()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		INSERT INTO dead_letters (article_id, fingerprint, source, stage, reason, error, payload, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, dl.Article.ID, dl.Article.Fingerprint, dl.Article.Source, string(dl.Stage),
		dl.Reason, dl.Error, string(payload), dl.FailedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}

	return nil
}

// List returns dead letters newest first, optionally filtered by stage.
func (r *DeadLetterRepository) List(stage string, limit, offset int) ([]DeadLetterRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, article_id, fingerprint, source, stage, reason, error, payload, failed_at, created_at
		FROM dead_letters
	`
	args := []any{}
	if stage != "" {
		query += " WHERE stage = ?"
		args = append(args, stage)
	}
	query += " ORDER BY failed_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var records []DeadLetterRecord
	for rows.Next() {
		var rec DeadLetterRecord
		err := rows.Scan(&rec.ID, &rec.ArticleID, &rec.Fingerprint, &rec.Source, &rec.Stage,
			&rec.Reason, &rec.Error, &rec.Payload, &rec.FailedAt, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Get returns one dead letter by row id.
func (r *DeadLetterRepository) Get(id int64) (*DeadLetterRecord, error) {
	var rec DeadLetterRecord
	err := r.db.QueryRow(`
		SELECT id, article_id, fingerprint, source, stage, reason, error, payload, failed_at, created_at
		FROM dead_letters
		WHERE id = ?
	`, id).Scan(&rec.ID, &rec.ArticleID, &rec.Fingerprint, &rec.Source, &rec.Stage,
		&rec.Reason, &rec.Error, &rec.Payload, &rec.FailedAt, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter %d: %w", id, err)
	}

	return &rec, nil
}

// CountByStage returns the failure count per pipeline stage.
func (r *DeadLetterRepository) CountByStage() ([]StageCount, error) {
	rows, err := r.db.Query(`
		SELECT stage, COUNT(*)
		FROM dead_letters
		GROUP BY stage
		ORDER BY stage
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count dead letters: %w", err)
	}
	defer rows.Close()

	var counts []StageCount
	for rows.Next() {
		var c StageCount
		if err := rows.Scan(&c.Stage, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter count: %w", err)
		}
		counts = append(counts, c)
	}

	return counts, rows.Err()
}

// Purge deletes dead letters that failed before the cutoff and returns how
// many were removed.
func (r *DeadLetterRepository) Purge(before time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM dead_letters WHERE failed_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge dead letters: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged dead letters: %w", err)
	}

	return deleted, nil
}
