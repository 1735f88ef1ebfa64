package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Review is a moderator's gold label for one message.
type Review struct {
	ID         int64
	MessageID  int64
	Label      Label
	ReviewedBy string
	ReviewedAt time.Time
	Note       sql.NullString
}

// CreateReview records a moderator verdict in a single transaction: it
// rejects a missing or already-reviewed message, writes the review, stamps
// the message's true label and terminal status, and bumps the retrain
// counter by exactly one.
func (s *Store) CreateReview(ctx context.Context, r *Review) error {
	if r.ReviewedAt.IsZero() {
		r.ReviewedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin review transaction: %w", err)
	}
	defer tx.Rollback()

	var status Status
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM messages WHERE id = ?`, r.MessageID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("message %d: %w", r.MessageID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load message %d: %w", r.MessageID, err)
	}

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reviews WHERE message_id = ?`, r.MessageID,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("failed to check existing review: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("message %d already reviewed: %w", r.MessageID, ErrConflict)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO reviews (message_id, label, reviewed_by, reviewed_at, note)
		VALUES (?, ?, ?, ?, ?)
	`, r.MessageID, r.Label, r.ReviewedBy, r.ReviewedAt, r.Note)
	if err != nil {
		return fmt.Errorf("failed to create review: %w", classify(err))
	}
	if r.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read new review id: %w", err)
	}

	newStatus := StatusInInbox
	if r.Label == LabelSpam {
		newStatus = StatusInSpam
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET true_label = ?, status = ? WHERE id = ?
	`, r.Label, newStatus, r.MessageID); err != nil {
		return fmt.Errorf("failed to apply verdict to message %d: %w", r.MessageID, err)
	}

	bump, err := tx.ExecContext(ctx, `
		UPDATE system_settings
		SET new_gold_since_train = new_gold_since_train + 1, updated_at = ?
		WHERE id = 1
	`, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to bump retrain counter: %w", err)
	}
	if rows, err := bump.RowsAffected(); err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	} else if rows == 0 {
		return fmt.Errorf("settings row missing: %w", ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit review: %w", classify(err))
	}
	return nil
}

// GetReviewByMessage retrieves the review attached to a message.
func (s *Store) GetReviewByMessage(ctx context.Context, messageID int64) (*Review, error) {
	r := &Review{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, message_id, label, reviewed_by, reviewed_at, note
		FROM reviews WHERE message_id = ?
	`, messageID).Scan(&r.ID, &r.MessageID, &r.Label, &r.ReviewedBy, &r.ReviewedAt, &r.Note)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("review for message %d: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review: %w", err)
	}
	return r, nil
}

// CountReviews returns the total number of recorded reviews.
func (s *Store) CountReviews(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reviews`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count reviews: %w", err)
	}
	return count, nil
}

// ListGoldMessages returns every message that has a review, ordered by ID.
// These carry human-verified labels and always join the training set.
func (s *Store) ListGoldMessages(ctx context.Context) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.text, m.source, m.split, m.true_label, m.status, m.created_at, m.last_model_version
		FROM messages m
		JOIN reviews r ON r.message_id = m.id
		ORDER BY m.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list gold messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}
