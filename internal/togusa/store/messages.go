package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Source says where a message came from.
type Source string

const (
	SourceDataset Source = "dataset"
	SourceRuntime Source = "runtime"
)

// Split partitions imported dataset rows between training and the frozen
// validation holdout. Runtime messages carry no split.
type Split string

const (
	SplitTrainPool         Split = "train_pool"
	SplitValidationHoldout Split = "validation_holdout"
)

// Label is a ground-truth verdict.
type Label string

const (
	LabelHam  Label = "ham"
	LabelSpam Label = "spam"
)

// Status is a message's position in its lifecycle. Dataset rows never enter
// the queue directly; a runtime copy is enqueued and the original moves to
// StatusScored so it is not picked twice.
type Status string

const (
	StatusDataset       Status = "dataset"
	StatusQueued        Status = "queued"
	StatusProcessing    Status = "processing"
	StatusInInbox       Status = "in_inbox"
	StatusInSpam        Status = "in_spam"
	StatusPendingReview Status = "pending_review"
	StatusScored        Status = "scored"
)

// Message is the unit of work flowing through the pipeline.
type Message struct {
	ID               int64
	Text             string
	Source           Source
	Split            sql.NullString
	TrueLabel        sql.NullString
	Status           Status
	CreatedAt        time.Time
	LastModelVersion sql.NullInt64
}

// Labeled returns the message's ground-truth label, if it has one.
func (m *Message) Labeled() (Label, bool) {
	if !m.TrueLabel.Valid {
		return "", false
	}
	return Label(m.TrueLabel.String), true
}

const messageColumns = `id, text, source, split, true_label, status, created_at, last_model_version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	m := &Message{}
	err := row.Scan(
		&m.ID, &m.Text, &m.Source, &m.Split, &m.TrueLabel,
		&m.Status, &m.CreatedAt, &m.LastModelVersion,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// CreateMessage inserts a new message and fills in its assigned ID.
func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (text, source, split, true_label, status, created_at, last_model_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.Text, m.Source, m.Split, m.TrueLabel, m.Status, m.CreatedAt, m.LastModelVersion)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", classify(err))
	}

	m.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read new message id: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, id int64) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message %d: %w", id, err)
	}
	return m, nil
}

// TransitionMessageStatus is the conditional-update primitive: it moves a
// message from one status to another only if it is still in the expected
// one, reporting whether this caller won the transition. Exclusive queue
// claim is built on it.
func (s *Store) TransitionMessageStatus(ctx context.Context, id int64, from, to Status) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = ? WHERE id = ? AND status = ?
	`, to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition message %d: %w", id, classify(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows == 1, nil
}

// OldestQueuedID returns the ID of the oldest queued message, FIFO by
// creation time with ID as tiebreak. ErrNotFound means the queue is empty.
func (s *Store) OldestQueuedID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM messages
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, StatusQueued).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("no queued messages: %w", ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find oldest queued message: %w", err)
	}
	return id, nil
}

// CountMessagesByStatus returns a histogram of all messages by status.
func (s *Store) CountMessagesByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM messages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}
	return counts, nil
}

// ListTrainPoolMessages returns labeled dataset rows from the training pool
// ordered by ID, capped at limit when limit > 0.
func (s *Store) ListTrainPoolMessages(ctx context.Context, limit int) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + ` FROM messages
		WHERE source = ? AND split = ? AND true_label IS NOT NULL
		ORDER BY id ASC`
	args := []any{SourceDataset, SplitTrainPool}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list train pool: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// ListHoldoutMessages returns all labeled validation-holdout rows ordered by
// ID. The holdout is frozen: the same set comes back for every training run
// within one import.
func (s *Store) ListHoldoutMessages(ctx context.Context) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE source = ? AND split = ? AND true_label IS NOT NULL
		ORDER BY id ASC
	`, SourceDataset, SplitValidationHoldout)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdout: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]*Message, error) {
	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

// CopyValidationBatch picks up to n unconsumed validation-holdout originals,
// enqueues runtime copies and marks the originals consumed, all in one
// transaction. When every original has been consumed the set is reset and
// the selection retried once. The created copies are returned directly;
// callers must not re-query by status, which races with concurrent scorers.
func (s *Store) CopyValidationBatch(ctx context.Context, n int, copyLabel bool) ([]*Message, error) {
	if n <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	originals, err := selectUnconsumedHoldout(ctx, tx, n)
	if err != nil {
		return nil, err
	}
	if len(originals) == 0 {
		// Every holdout original has been consumed: reset the set and go
		// around once more.
		_, err := tx.ExecContext(ctx, `
			UPDATE messages SET status = ?
			WHERE source = ? AND split = ? AND status = ?
		`, StatusDataset, SourceDataset, SplitValidationHoldout, StatusScored)
		if err != nil {
			return nil, fmt.Errorf("failed to reset consumed holdout: %w", err)
		}
		originals, err = selectUnconsumedHoldout(ctx, tx, n)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	copies := make([]*Message, 0, len(originals))
	for _, orig := range originals {
		c := &Message{
			Text:      orig.Text,
			Source:    SourceRuntime,
			Status:    StatusQueued,
			CreatedAt: now,
		}
		if copyLabel {
			c.TrueLabel = orig.TrueLabel
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO messages (text, source, split, true_label, status, created_at, last_model_version)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, c.Text, c.Source, c.Split, c.TrueLabel, c.Status, c.CreatedAt, c.LastModelVersion)
		if err != nil {
			return nil, fmt.Errorf("failed to copy message %d: %w", orig.ID, classify(err))
		}
		c.ID, err = result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read copied message id: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET status = ? WHERE id = ? AND status = ?
		`, StatusScored, orig.ID, StatusDataset); err != nil {
			return nil, fmt.Errorf("failed to consume original %d: %w", orig.ID, err)
		}

		copies = append(copies, c)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", classify(err))
	}
	return copies, nil
}

func selectUnconsumedHoldout(ctx context.Context, tx *sql.Tx, n int) ([]*Message, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE source = ? AND split = ? AND status = ?
		ORDER BY id ASC
		LIMIT ?
	`, SourceDataset, SplitValidationHoldout, StatusDataset, n)
	if err != nil {
		return nil, fmt.Errorf("failed to select unconsumed holdout: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// CountDatasetMessages returns how many imported dataset rows exist,
// regardless of consumption state.
func (s *Store) CountDatasetMessages(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE source = ?`, SourceDataset,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dataset messages: %w", err)
	}
	return count, nil
}

// DeleteDatasetMessages removes all imported dataset rows. Used by forced
// re-import; runtime rows are untouched.
func (s *Store) DeleteDatasetMessages(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE source = ?`, SourceDataset)
	if err != nil {
		return 0, fmt.Errorf("failed to delete dataset messages: %w", classify(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows, nil
}

// InsertDatasetMessages bulk-inserts imported samples in one transaction.
func (s *Store) InsertDatasetMessages(ctx context.Context, messages []*Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin import transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (text, source, split, true_label, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare import statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range messages {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		result, err := stmt.ExecContext(ctx, m.Text, m.Source, m.Split, m.TrueLabel, m.Status, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert dataset message: %w", classify(err))
		}
		if m.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read dataset message id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit import: %w", classify(err))
	}
	return nil
}
