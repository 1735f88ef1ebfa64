// Package queue implements the durable message queue on top of the store.
//
// Claiming is exclusive: the oldest queued message is moved to processing
// with a conditional update, so concurrent workers can race for the same
// message and exactly one wins. The loser simply moves on to the next
// candidate. All queue state lives in SQLite; a restart resumes where the
// previous process stopped.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bdobrica/Togusa/internal/togusa/events"
	"github.com/bdobrica/Togusa/internal/togusa/observability"
	"github.com/bdobrica/Togusa/internal/togusa/store"
)

// ErrEmpty is returned by ClaimNext when no queued messages exist.
var ErrEmpty = errors.New("queue is empty")

// ErrEmptyText rejects enqueueing a message with no content.
var ErrEmptyText = errors.New("message text is empty")

// Service exposes queue operations to the scoring workers and the simulator.
type Service struct {
	store    *store.Store
	notifier events.Notifier
}

// NewService creates a queue service. A nil notifier disables batch events.
func NewService(st *store.Store, notifier events.Notifier) *Service {
	if notifier == nil {
		notifier = events.Noop{}
	}
	return &Service{store: st, notifier: notifier}
}

// Enqueue adds a runtime message to the tail of the queue.
func (s *Service) Enqueue(ctx context.Context, text string) (*store.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	m := &store.Message{
		Text:   text,
		Source: store.SourceRuntime,
		Status: store.StatusQueued,
	}
	if err := s.store.CreateMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to enqueue message: %w", err)
	}

	observability.WithTrace(ctx).Debug("queue: enqueued message", "message_id", m.ID)
	return m, nil
}

// EnqueueFromValidation copies up to n unconsumed validation-holdout
// originals into the queue as runtime messages. When copyLabel is set the
// copies keep their ground truth so scoring can report correctness. Returns
// the created copies; an empty slice means nothing has been imported yet.
func (s *Service) EnqueueFromValidation(ctx context.Context, n int, copyLabel bool) ([]*store.Message, error) {
	copies, err := s.store.CopyValidationBatch(ctx, n, copyLabel)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue validation batch: %w", err)
	}
	if len(copies) == 0 {
		return nil, nil
	}

	batchID := uuid.NewString()
	observability.WithTrace(ctx).Info("queue: enqueued validation batch",
		"batch_id", batchID, "count", len(copies), "copy_label", copyLabel)
	s.notifier.Notify(ctx, events.Event{
		Kind:    events.KindQueueBatch,
		Message: fmt.Sprintf("enqueued %d validation message(s), batch %s", len(copies), batchID[:8]),
	})

	return copies, nil
}

// ClaimNext claims the oldest queued message for exclusive processing. When
// another worker wins the race for a candidate, the next oldest is tried
// until the queue is exhausted. ErrEmpty means there is nothing to claim.
func (s *Service) ClaimNext(ctx context.Context) (*store.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id, err := s.store.OldestQueuedID(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrEmpty
		}
		if err != nil {
			return nil, fmt.Errorf("failed to find claim candidate: %w", err)
		}

		won, err := s.store.TransitionMessageStatus(ctx, id, store.StatusQueued, store.StatusProcessing)
		if err != nil {
			return nil, fmt.Errorf("failed to claim message %d: %w", id, err)
		}
		if !won {
			// Lost the race for this candidate; try the next oldest.
			continue
		}

		msg, err := s.store.GetMessage(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load claimed message %d: %w", id, err)
		}
		return msg, nil
	}
}

// Counts returns the message histogram by status.
func (s *Service) Counts(ctx context.Context) (map[store.Status]int, error) {
	return s.store.CountMessagesByStatus(ctx)
}
