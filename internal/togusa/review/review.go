// Package review records moderator verdicts on held messages.
//
// Each verdict becomes the message's ground truth, moves it to its terminal
// folder and bumps the retrain counter. When the counter crosses the
// configured threshold the retrain runner is woken immediately; the runner
// re-checks the trigger under the training lock, so a wake that loses the
// race is harmless.
package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bdobrica/Togusa/internal/togusa/events"
	"github.com/bdobrica/Togusa/internal/togusa/observability"
	"github.com/bdobrica/Togusa/internal/togusa/store"
)

// ErrInvalidLabel rejects verdicts that are neither ham nor spam.
var ErrInvalidLabel = errors.New("label must be ham or spam")

// Kicker wakes the retrain runner ahead of its next scheduled check.
type Kicker interface {
	Kick()
}

// TriggerState is a snapshot of the retrain trigger.
type TriggerState struct {
	// Due reports whether a retrain should run now.
	Due bool
	// NewGold is the number of gold labels recorded since the last training.
	NewGold int
	// Threshold is the configured trigger level.
	Threshold int
}

// Service records reviews and evaluates the retrain trigger.
type Service struct {
	store    *store.Store
	notifier events.Notifier
	kicker   Kicker
}

// NewService creates a review service. The notifier and kicker are optional;
// a nil kicker leaves retraining to the background runner's own schedule.
func NewService(st *store.Store, notifier events.Notifier, kicker Kicker) *Service {
	if notifier == nil {
		notifier = events.Noop{}
	}
	return &Service{store: st, notifier: notifier, kicker: kicker}
}

// AddReview records a moderator verdict for a message. The verdict is
// persisted atomically with the label, terminal status and retrain counter
// bump. When the bump crosses the retrain threshold the runner is kicked.
func (s *Service) AddReview(ctx context.Context, messageID int64, label store.Label, reviewedBy, note string) (*store.Review, error) {
	if label != store.LabelHam && label != store.LabelSpam {
		return nil, fmt.Errorf("review label %q: %w", label, ErrInvalidLabel)
	}
	if reviewedBy == "" {
		return nil, errors.New("review requires a reviewer identity")
	}

	r := &store.Review{
		MessageID:  messageID,
		Label:      label,
		ReviewedBy: reviewedBy,
	}
	if note != "" {
		r.Note = sql.NullString{String: note, Valid: true}
	}

	if err := s.store.CreateReview(ctx, r); err != nil {
		return nil, err
	}

	observability.WithTrace(ctx).Info("review: recorded verdict",
		"message_id", messageID, "label", label, "reviewed_by", reviewedBy)
	s.notifier.Notify(ctx, events.Event{
		Kind:      events.KindReviewRecorded,
		MessageID: messageID,
		Message:   fmt.Sprintf("message %d reviewed as %s by %s", messageID, label, reviewedBy),
	})

	s.maybeKick(ctx)
	return r, nil
}

// CheckAutoRetrain reports whether the gold counter has crossed the
// configured threshold with auto-retrain enabled.
func (s *Service) CheckAutoRetrain(ctx context.Context) (TriggerState, error) {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return TriggerState{}, fmt.Errorf("failed to read retrain trigger: %w", err)
	}

	state := TriggerState{
		NewGold:   settings.NewGoldSinceLastTrain,
		Threshold: settings.RetrainGoldThreshold,
	}
	state.Due = settings.AutoRetrainEnabled &&
		state.Threshold > 0 &&
		state.NewGold >= state.Threshold
	return state, nil
}

// maybeKick wakes the retrain runner when the trigger holds. Failures to
// read the trigger are logged only; the verdict itself already committed.
func (s *Service) maybeKick(ctx context.Context) {
	if s.kicker == nil {
		return
	}

	log := observability.WithTrace(ctx)
	state, err := s.CheckAutoRetrain(ctx)
	if err != nil {
		log.Warn("review: failed to check retrain trigger", "err", err)
		return
	}
	if state.Due {
		log.Info("review: retrain threshold crossed, waking runner",
			"new_gold", state.NewGold, "threshold", state.Threshold)
		s.kicker.Kick()
	}
}
