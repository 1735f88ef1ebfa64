// Package scoring turns claimed messages into persisted predictions.
//
// A score is a spam probability from the active classifier, mapped through
// the three-zone decision policy: below the allow threshold the message goes
// to the inbox, at or above the block threshold it goes to spam, anything in
// between is held for human review. Thresholds are read from settings on
// every call, so runtime changes apply to the next message without restart.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/bdobrica/Togusa/internal/togusa/classifier"
	"github.com/bdobrica/Togusa/internal/togusa/observability"
	"github.com/bdobrica/Togusa/internal/togusa/store"
)

// ErrNotReady means no model version has been activated yet. Cold-started
// agents return it until the first training completes.
var ErrNotReady = errors.New("no active model version")

// Result is the outcome of scoring one message.
type Result struct {
	MessageID int64
	Text      string
	PSpam     float64
	Decision  store.Decision
	NewStatus store.Status
	// ModelVersion is the registry version number that produced the score.
	ModelVersion int
	// TrueLabel is the message's ground truth, when it has one.
	TrueLabel store.Label
	// IsCorrect compares the decision against TrueLabel. Nil when the
	// message is unlabeled or was held for review, where no verdict exists
	// to be right or wrong about.
	IsCorrect *bool
}

// Service scores messages with the active model version.
type Service struct {
	store      *store.Store
	classifier classifier.Classifier

	// loadedVersion is the registry row last loaded into the classifier by
	// this service. Loading is idempotent, so a stale value after an
	// external activation only costs one redundant load.
	loadedVersion atomic.Int64
}

// NewService creates a scoring service.
func NewService(st *store.Store, cls classifier.Classifier) *Service {
	return &Service{store: st, classifier: cls}
}

// Ready reports whether an active model version exists.
func (s *Service) Ready(ctx context.Context) (bool, error) {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read settings: %w", err)
	}
	return settings.ActiveModelVersion.Valid, nil
}

// ScoreMessage scores one claimed message and persists the outcome. The
// message must be in processing; the prediction insert and status move are
// one transaction, so a crash mid-score never leaves a half-recorded result.
func (s *Service) ScoreMessage(ctx context.Context, msg *store.Message) (*Result, error) {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if !settings.ActiveModelVersion.Valid {
		return nil, ErrNotReady
	}

	active, err := s.store.GetModelVersion(ctx, settings.ActiveModelVersion.Int64)
	if err != nil {
		return nil, fmt.Errorf("failed to load active version: %w", err)
	}
	if err := s.ensureLoaded(ctx, active); err != nil {
		return nil, err
	}

	pSpam, err := s.classifier.Predict(ctx, msg.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to score message %d: %w", msg.ID, err)
	}

	decision, newStatus := decide(pSpam, settings.ThresholdAllow, settings.ThresholdBlock)

	prediction := &store.Prediction{
		MessageID:      msg.ID,
		ModelVersionID: active.ID,
		PSpam:          pSpam,
		Decision:       decision,
	}
	if err := s.store.RecordPrediction(ctx, prediction, newStatus); err != nil {
		return nil, err
	}

	result := &Result{
		MessageID:    msg.ID,
		Text:         msg.Text,
		PSpam:        pSpam,
		Decision:     decision,
		NewStatus:    newStatus,
		ModelVersion: active.Version,
	}
	if label, ok := msg.Labeled(); ok {
		result.TrueLabel = label
		if decision != store.DecisionPendingReview {
			correct := (decision == store.DecisionBlock) == (label == store.LabelSpam)
			result.IsCorrect = &correct
		}
	}

	log := observability.WithTrace(ctx)
	log.Debug("scoring: message scored",
		"message_id", msg.ID, "p_spam", pSpam,
		"decision", decision, "model_version", active.Version)
	return result, nil
}

// ensureLoaded makes sure the classifier holds the active artifact before
// predicting. Cheap version check first; the load itself happens once per
// activation, not once per message.
func (s *Service) ensureLoaded(ctx context.Context, active *store.ModelVersion) error {
	if s.loadedVersion.Load() == active.ID {
		return nil
	}

	if err := s.classifier.Load(ctx, active.ArtifactPath); err != nil {
		return fmt.Errorf("failed to load artifact for version %d: %w", active.Version, err)
	}
	s.loadedVersion.Store(active.ID)

	observability.WithTrace(ctx).Info("scoring: loaded active model",
		"version", active.Version, "artifact", active.ArtifactPath)
	return nil
}

// decide maps a spam probability into the three-zone policy. The allow
// comparison is strict and the block comparison is not, so equal thresholds
// leave an empty review zone instead of swallowing every boundary score.
func decide(pSpam, allow, block float64) (store.Decision, store.Status) {
	switch {
	case pSpam < allow:
		return store.DecisionAllow, store.StatusInInbox
	case pSpam >= block:
		return store.DecisionBlock, store.StatusInSpam
	default:
		return store.DecisionPendingReview, store.StatusPendingReview
	}
}
