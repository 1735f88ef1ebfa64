package store

import (
	"context"
	"fmt"
	"time"
)

// Decision is the three-zone verdict a scoring run produces.
type Decision string

const (
	DecisionAllow         Decision = "allow"
	DecisionPendingReview Decision = "pending_review"
	DecisionBlock         Decision = "block"
)

// Prediction is the immutable record of one scoring. A message may collect
// several across model versions; each version scores it at most once per
// attempt.
type Prediction struct {
	ID             int64
	MessageID      int64
	ModelVersionID int64
	PSpam          float64
	Decision       Decision
	CreatedAt      time.Time
}

// RecordPrediction persists a prediction together with the message's new
// status and version back-reference in one transaction. The message must
// still be in processing: a zero-row update means something else moved it,
// and the whole record is rolled back with ErrConflict.
func (s *Store) RecordPrediction(ctx context.Context, p *Prediction, newStatus Status) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin prediction transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE messages SET status = ?, last_model_version = ?
		WHERE id = ? AND status = ?
	`, newStatus, p.ModelVersionID, p.MessageID, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update message %d: %w", p.MessageID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("message %d not in processing: %w", p.MessageID, ErrConflict)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO predictions (message_id, model_version_id, p_spam, decision, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.MessageID, p.ModelVersionID, p.PSpam, p.Decision, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create prediction: %w", classify(err))
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read new prediction id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit prediction: %w", classify(err))
	}
	return nil
}

// ListPredictionsForMessage returns a message's predictions oldest first.
func (s *Store) ListPredictionsForMessage(ctx context.Context, messageID int64) ([]*Prediction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, model_version_id, p_spam, decision, created_at
		FROM predictions
		WHERE message_id = ?
		ORDER BY created_at ASC, id ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}
	defer rows.Close()

	var predictions []*Prediction
	for rows.Next() {
		p := &Prediction{}
		if err := rows.Scan(&p.ID, &p.MessageID, &p.ModelVersionID, &p.PSpam, &p.Decision, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		predictions = append(predictions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating predictions: %w", err)
	}
	return predictions, nil
}

// CountPredictions returns the total number of predictions recorded.
func (s *Store) CountPredictions(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count predictions: %w", err)
	}
	return count, nil
}
