package store

import (
	"context"
	"database/sql"
	"fmt"
)

// WeightRepo persists the learned weight table. The table is always written
// wholesale inside one transaction, so readers after a crash see either the
// previous complete table or the new complete table, never a mix.
type WeightRepo struct {
	db *sql.DB
}

func NewWeightRepo(db *sql.DB) *WeightRepo {
	return &WeightRepo{db: db}
}

// ReplaceWeights swaps the entire persisted weight table for the given rows.
func (r *WeightRepo) ReplaceWeights(ctx context.Context, weights []*ResponseWeight) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start weight transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM response_weights`); err != nil {
		return fmt.Errorf("failed to clear weight table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO response_weights (prompt_type, response_token, weight, successes, sample_count, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return fmt.Errorf("failed to prepare weight insert: %w", err)
	}
	defer stmt.Close()

	for _, w := range weights {
		updated := w.UpdatedAt
		if updated.IsZero() {
			updated = nowUTC()
		}
		if _, err := stmt.ExecContext(ctx, w.PromptType, w.ResponseToken, w.Weight, w.Successes, w.SampleCount, formatTimestamp(updated)); err != nil {
			return fmt.Errorf("failed to insert weight (%s, %s): %w", w.PromptType, w.ResponseToken, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit weight table: %w", err)
	}
	return nil
}

// ListWeights loads the full persisted weight table.
func (r *WeightRepo) ListWeights(ctx context.Context) ([]*ResponseWeight, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT prompt_type, response_token, weight, successes, sample_count, updated_at
FROM response_weights
ORDER BY prompt_type, response_token
`)
	if err != nil {
		return nil, fmt.Errorf("failed to list weights: %w", err)
	}
	defer rows.Close()

	weights := []*ResponseWeight{}
	for rows.Next() {
		var w ResponseWeight
		var updatedRaw string
		if err := rows.Scan(&w.PromptType, &w.ResponseToken, &w.Weight, &w.Successes, &w.SampleCount, &updatedRaw); err != nil {
			return nil, fmt.Errorf("failed to scan weight row: %w", err)
		}
		w.UpdatedAt, err = parseTimestamp(updatedRaw)
		if err != nil {
			return nil, err
		}
		weights = append(weights, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate weight rows: %w", err)
	}
	return weights, nil
}
