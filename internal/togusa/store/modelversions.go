package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ModelVersion is the persisted record of one training run.
type ModelVersion struct {
	ID                int64
	Version           int
	TrainTemplate     string
	TrainSetSize      int
	GoldIncludedCount int
	ValidationSetSize int
	Accuracy          float64
	Precision         float64
	Recall            float64
	F1                float64
	ThresholdAllow    float64
	ThresholdBlock    float64
	ArtifactPath      string
	CreatedAt         time.Time
	IsActive          bool
}

const modelVersionColumns = `id, version, train_template, train_set_size, gold_included_count,
	validation_set_size, accuracy, precision, recall, f1,
	threshold_allow, threshold_block, artifact_path, created_at, is_active`

func scanModelVersion(row rowScanner) (*ModelVersion, error) {
	mv := &ModelVersion{}
	err := row.Scan(
		&mv.ID, &mv.Version, &mv.TrainTemplate, &mv.TrainSetSize, &mv.GoldIncludedCount,
		&mv.ValidationSetSize, &mv.Accuracy, &mv.Precision, &mv.Recall, &mv.F1,
		&mv.ThresholdAllow, &mv.ThresholdBlock, &mv.ArtifactPath, &mv.CreatedAt, &mv.IsActive,
	)
	if err != nil {
		return nil, err
	}
	return mv, nil
}

// CreateModelVersion persists a freshly trained version. New versions are
// always inactive; activation is a separate, atomic step.
func (s *Store) CreateModelVersion(ctx context.Context, mv *ModelVersion) error {
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = time.Now().UTC()
	}
	mv.IsActive = false

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO model_versions (
			version, train_template, train_set_size, gold_included_count,
			validation_set_size, accuracy, precision, recall, f1,
			threshold_allow, threshold_block, artifact_path, created_at, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, mv.Version, mv.TrainTemplate, mv.TrainSetSize, mv.GoldIncludedCount,
		mv.ValidationSetSize, mv.Accuracy, mv.Precision, mv.Recall, mv.F1,
		mv.ThresholdAllow, mv.ThresholdBlock, mv.ArtifactPath, mv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create model version %d: %w", mv.Version, classify(err))
	}

	if mv.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read new model version id: %w", err)
	}
	return nil
}

// GetModelVersion retrieves a model version by row ID.
func (s *Store) GetModelVersion(ctx context.Context, id int64) (*ModelVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+modelVersionColumns+` FROM model_versions WHERE id = ?`, id)

	mv, err := scanModelVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("model version %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model version %d: %w", id, err)
	}
	return mv, nil
}

// ActiveModelVersion returns the single active version, or ErrNotFound when
// no version has been activated yet.
func (s *Store) ActiveModelVersion(ctx context.Context) (*ModelVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+modelVersionColumns+` FROM model_versions WHERE is_active = 1`)

	mv, err := scanModelVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no active model version: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active model version: %w", err)
	}
	return mv, nil
}

// NextVersionNumber returns max(version)+1, starting at 1 on an empty
// registry.
func (s *Store) NextVersionNumber(ctx context.Context) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM model_versions`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next version: %w", err)
	}
	return next, nil
}

// ActivateModelVersion flips the active pointer in one transaction: clear
// every active flag, set the target's, and repoint the settings row. After
// it returns, at most one version is active and it is the target.
func (s *Store) ActivateModelVersion(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin activation transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE model_versions SET is_active = 0 WHERE is_active = 1`); err != nil {
		return fmt.Errorf("failed to clear active flags: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE model_versions SET is_active = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to activate model version %d: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("model version %d: %w", id, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE system_settings SET active_model_version = ?, updated_at = ? WHERE id = 1
	`, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to point settings at version %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit activation: %w", classify(err))
	}
	return nil
}

// ListModelVersions returns all versions, newest first.
func (s *Store) ListModelVersions(ctx context.Context) ([]*ModelVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+modelVersionColumns+` FROM model_versions ORDER BY version DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list model versions: %w", err)
	}
	defer rows.Close()

	var versions []*ModelVersion
	for rows.Next() {
		mv, err := scanModelVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model version: %w", err)
		}
		versions = append(versions, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating model versions: %w", err)
	}
	return versions, nil
}
