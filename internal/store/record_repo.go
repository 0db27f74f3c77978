package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRecordNotFound indicates an unknown record ID.
	ErrRecordNotFound = errors.New("store: response record not found")
	// ErrAlreadyOverridden indicates the single allowed override was already set.
	ErrAlreadyOverridden = errors.New("store: response record already overridden")
	// ErrOverrideWindowClosed indicates the grace window has elapsed.
	ErrOverrideWindowClosed = errors.New("store: override grace window closed")
	// ErrNotAutoApplied indicates an override attempt on a record that was
	// never auto-applied.
	ErrNotAutoApplied = errors.New("store: response was not auto-applied")
)

// RecordRepo is the append-only response record log. Every session's
// controller appends; entries are never deleted here (retention is external).
type RecordRepo struct {
	db *sql.DB
}

func NewRecordRepo(db *sql.DB) *RecordRepo {
	return &RecordRepo{db: db}
}

func (r *RecordRepo) Create(ctx context.Context, rec *ResponseRecord) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = nowUTC()
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO response_records (id, session_id, pane_id, prompt_type, matched_text, chosen_response, confidence, auto_applied, human_override, created_at, overridden_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', ?, '')
`, rec.ID, rec.SessionID, rec.PaneID, rec.PromptType, rec.MatchedText, rec.ChosenResponse, rec.Confidence, boolToInt(rec.AutoApplied), formatTimestamp(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create response record: %w", err)
	}
	return nil
}

func (r *RecordRepo) Get(ctx context.Context, id string) (*ResponseRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `
SELECT id, session_id, pane_id, prompt_type, matched_text, chosen_response, confidence, auto_applied, human_override, created_at, overridden_at
FROM response_records
WHERE id = ?
`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get response record %q: %w", id, err)
	}
	return rec, nil
}

// ListRecent returns the newest records for a session, newest first.
func (r *RecordRepo) ListRecent(ctx context.Context, sessionID string, limit int) ([]*ResponseRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, session_id, pane_id, prompt_type, matched_text, chosen_response, confidence, auto_applied, human_override, created_at, overridden_at
FROM response_records
WHERE session_id = ?
ORDER BY created_at DESC
LIMIT ?
`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list response records: %w", err)
	}
	defer rows.Close()

	records := []*ResponseRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan response record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate response records: %w", err)
	}
	return records, nil
}

// Prune deletes all but the newest max records, across sessions.
// Returns how many rows were removed.
func (r *RecordRepo) Prune(ctx context.Context, max int) (int64, error) {
	if max <= 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
DELETE FROM response_records
WHERE id NOT IN (
	SELECT id FROM response_records ORDER BY created_at DESC LIMIT ?
)
`, max)
	if err != nil {
		return 0, fmt.Errorf("failed to prune response records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned records: %w", err)
	}
	return n, nil
}

// Override records a human correction on an auto-applied record. It succeeds
// at most once per record and only while the record is inside the grace
// window; a second call or a late call fails with a typed error.
func (r *RecordRepo) Override(ctx context.Context, id, token string, graceWindow time.Duration) (*ResponseRecord, error) {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.AutoApplied {
		return nil, ErrNotAutoApplied
	}
	if rec.HumanOverride != "" {
		return nil, ErrAlreadyOverridden
	}
	now := nowUTC()
	if now.Sub(rec.CreatedAt) > graceWindow {
		return nil, ErrOverrideWindowClosed
	}

	// Guard in SQL as well so two concurrent overrides cannot both land.
	res, err := r.db.ExecContext(ctx, `
UPDATE response_records
SET human_override = ?, overridden_at = ?
WHERE id = ? AND human_override = ''
`, token, formatTimestamp(now), id)
	if err != nil {
		return nil, fmt.Errorf("failed to override response record %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check override result: %w", err)
	}
	if affected == 0 {
		return nil, ErrAlreadyOverridden
	}

	rec.HumanOverride = token
	rec.OverriddenAt = now
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*ResponseRecord, error) {
	var rec ResponseRecord
	var autoInt int
	var createdRaw, overriddenRaw string

	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.PaneID, &rec.PromptType, &rec.MatchedText, &rec.ChosenResponse, &rec.Confidence, &autoInt, &rec.HumanOverride, &createdRaw, &overriddenRaw); err != nil {
		return nil, err
	}
	rec.AutoApplied = autoInt != 0

	var err error
	rec.CreatedAt, err = parseTimestamp(createdRaw)
	if err != nil {
		return nil, err
	}
	rec.OverriddenAt, err = parseTimestamp(overriddenRaw)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
