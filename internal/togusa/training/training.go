// Package training builds, evaluates and activates classifier versions.
//
// A training run assembles its set from the imported train pool, capped by
// the chosen template, plus every gold-labeled message, then evaluates the
// result against the frozen validation holdout and persists the outcome as a
// new registry version. Runs are serialized by an in-process mutex: the
// scheduled retrain path and manual runs can fire concurrently, but only one
// trains at a time, and the scheduled path re-checks its trigger under the
// lock so a crossing consumed by an earlier run is skipped rather than
// trained twice.
package training

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bdobrica/Togusa/internal/togusa/classifier"
	"github.com/bdobrica/Togusa/internal/togusa/events"
	"github.com/bdobrica/Togusa/internal/togusa/observability"
	"github.com/bdobrica/Togusa/internal/togusa/store"
)

var (
	// ErrEmptyTrainSet means no labeled samples were available to train on.
	ErrEmptyTrainSet = errors.New("training set is empty")
	// ErrTrainingFailed wraps classifier errors raised during a run.
	ErrTrainingFailed = errors.New("model training failed")
)

// Template selects how much of the train pool joins a run. Gold labels are
// always included on top of the pool.
type Template string

const (
	TemplateLight  Template = "light"
	TemplateMedium Template = "medium"
	TemplateFull   Template = "full"
)

// DefaultTemplate is used when no template is configured.
const DefaultTemplate = TemplateMedium

const (
	lightPoolCap  = 500
	mediumPoolCap = 2000
)

// ParseTemplate validates a template name, case-insensitively.
func ParseTemplate(s string) (Template, error) {
	t := Template(strings.ToLower(strings.TrimSpace(s)))
	if _, err := t.poolCap(); err != nil {
		return "", err
	}
	return t, nil
}

// poolCap returns the train-pool cap for the template; 0 means unlimited.
func (t Template) poolCap() (int, error) {
	switch t {
	case TemplateLight:
		return lightPoolCap, nil
	case TemplateMedium:
		return mediumPoolCap, nil
	case TemplateFull:
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown train template %q", t)
	}
}

// Service runs training and activation against one store and classifier.
type Service struct {
	store      *store.Store
	classifier classifier.Classifier
	modelsDir  string
	notifier   events.Notifier

	// mu serializes training and activation end to end.
	mu sync.Mutex
}

// NewService creates a training service writing artifacts under modelsDir.
func NewService(st *store.Store, cls classifier.Classifier, modelsDir string, notifier events.Notifier) *Service {
	if notifier == nil {
		notifier = events.Noop{}
	}
	return &Service{
		store:      st,
		classifier: cls,
		modelsDir:  modelsDir,
		notifier:   notifier,
	}
}

// TrainModel runs one training pass and persists the resulting version,
// optionally activating it. The gold counter resets only when the whole run
// succeeds; a failed run leaves the trigger armed for the next attempt.
func (s *Service) TrainModel(ctx context.Context, template Template, activate bool) (*store.ModelVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trainLocked(ctx, template, activate)
}

// ForceRetrain runs a training pass right away, ignoring the gold-label
// counter. It still serializes with scheduled runs.
func (s *Service) ForceRetrain(ctx context.Context, template Template, activate bool) (*store.ModelVersion, error) {
	return s.TrainModel(ctx, template, activate)
}

// TrainIfDue re-reads the retrain trigger under the training lock and runs a
// training pass with activation only when the crossing still holds. Returns
// (nil, nil) when a concurrent run already consumed the trigger or the
// trigger is not armed.
func (s *Service) TrainIfDue(ctx context.Context, template Template) (*store.ModelVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read retrain trigger: %w", err)
	}
	if !settings.AutoRetrainEnabled ||
		settings.RetrainGoldThreshold <= 0 ||
		settings.NewGoldSinceLastTrain < settings.RetrainGoldThreshold {
		return nil, nil
	}

	return s.trainLocked(ctx, template, true)
}

// ActivateModel atomically points the registry at an existing version and
// loads its artifact into the classifier.
func (s *Service) ActivateModel(ctx context.Context, versionID int64) (*store.ModelVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mv, err := s.store.GetModelVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if err := s.activateLocked(ctx, mv); err != nil {
		return nil, err
	}
	return mv, nil
}

func (s *Service) trainLocked(ctx context.Context, template Template, activate bool) (*store.ModelVersion, error) {
	poolCap, err := template.poolCap()
	if err != nil {
		return nil, err
	}

	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	pool, err := s.store.ListTrainPoolMessages(ctx, poolCap)
	if err != nil {
		return nil, fmt.Errorf("failed to load train pool: %w", err)
	}
	gold, err := s.store.ListGoldMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load gold labels: %w", err)
	}

	trainSet := make([]classifier.Sample, 0, len(pool)+len(gold))
	trainSet = appendSamples(trainSet, pool)
	trainSet = appendSamples(trainSet, gold)
	if len(trainSet) == 0 {
		return nil, ErrEmptyTrainSet
	}

	holdout, err := s.store.ListHoldoutMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load validation holdout: %w", err)
	}
	validationSet := appendSamples(make([]classifier.Sample, 0, len(holdout)), holdout)

	version, err := s.store.NextVersionNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to assign version number: %w", err)
	}
	artifactPath := filepath.Join(s.modelsDir, fmt.Sprintf("spam_model_v%d.json", version))

	log := observability.WithTrace(ctx)
	start := time.Now()
	log.Info("training: starting run",
		"version", version, "template", template,
		"train_size", len(trainSet), "gold_included", len(gold),
		"validation_size", len(validationSet))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	artifactPath, err = s.classifier.Train(ctx, trainSet, artifactPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrainingFailed, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metrics, err := s.classifier.Evaluate(ctx, validationSet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrainingFailed, err)
	}

	mv := &store.ModelVersion{
		Version:           version,
		TrainTemplate:     string(template),
		TrainSetSize:      len(trainSet),
		GoldIncludedCount: len(gold),
		ValidationSetSize: len(validationSet),
		Accuracy:          metrics.Accuracy,
		Precision:         metrics.Precision,
		Recall:            metrics.Recall,
		F1:                metrics.F1,
		ThresholdAllow:    settings.ThresholdAllow,
		ThresholdBlock:    settings.ThresholdBlock,
		ArtifactPath:      artifactPath,
	}
	if err := s.store.CreateModelVersion(ctx, mv); err != nil {
		return nil, fmt.Errorf("failed to persist version %d: %w", version, err)
	}

	s.notifier.Notify(ctx, events.Event{
		Kind:    events.KindModelTrained,
		Version: version,
		Message: fmt.Sprintf("model v%d trained on %d samples (accuracy %.3f, f1 %.3f)",
			version, len(trainSet), metrics.Accuracy, metrics.F1),
	})

	if activate {
		if err := s.activateLocked(ctx, mv); err != nil {
			return nil, err
		}
	}

	// Subtract only what this run saw at assembly. Reviews that committed
	// since then keep their bump and count toward the next run.
	if err := s.store.ConsumeGoldCounter(ctx, settings.NewGoldSinceLastTrain, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to consume gold counter: %w", err)
	}

	log.Info("training: run complete",
		"version", version, "accuracy", metrics.Accuracy, "f1", metrics.F1,
		"activated", activate, "duration", time.Since(start))
	return mv, nil
}

// activateLocked flips the registry pointer, then loads the artifact. The
// database flip is atomic; when the in-memory load fails afterwards, scoring
// keeps retrying the load and erroring until an artifact loads, rather than
// serving a model that disagrees with the registry.
func (s *Service) activateLocked(ctx context.Context, mv *store.ModelVersion) error {
	if err := s.store.ActivateModelVersion(ctx, mv.ID); err != nil {
		return fmt.Errorf("failed to activate version %d: %w", mv.Version, err)
	}
	mv.IsActive = true

	if err := s.classifier.Load(ctx, mv.ArtifactPath); err != nil {
		return fmt.Errorf("version %d activated but artifact load failed: %w", mv.Version, err)
	}

	observability.WithTrace(ctx).Info("training: model activated",
		"version", mv.Version, "artifact", mv.ArtifactPath)
	s.notifier.Notify(ctx, events.Event{
		Kind:    events.KindModelActivated,
		Version: mv.Version,
		Message: fmt.Sprintf("model v%d activated", mv.Version),
	})
	return nil
}

func appendSamples(dst []classifier.Sample, messages []*store.Message) []classifier.Sample {
	for _, m := range messages {
		label, ok := m.Labeled()
		if !ok {
			continue
		}
		dst = append(dst, classifier.Sample{
			Text: m.Text,
			Spam: label == store.LabelSpam,
		})
	}
	return dst
}
