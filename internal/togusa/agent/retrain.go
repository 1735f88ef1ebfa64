package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/Togusa/common/trace"
	"github.com/bdobrica/Togusa/internal/togusa/events"
	"github.com/bdobrica/Togusa/internal/togusa/store"
	"github.com/bdobrica/Togusa/internal/togusa/training"
)

// Trainer runs a training pass when the retrain trigger is satisfied. A nil
// model version with a nil error means the trigger was not due.
type Trainer interface {
	TrainIfDue(ctx context.Context, template training.Template) (*store.ModelVersion, error)
}

// RetrainRunnerConfig tunes the retrain loop.
type RetrainRunnerConfig struct {
	// Template selects the training pool size for scheduled runs.
	Template training.Template
	// CheckInterval is how often the gold-label counter is checked.
	CheckInterval time.Duration
	// ErrorBackoff is an extra pause after a failed training run.
	ErrorBackoff time.Duration
}

// RetrainRunner periodically asks the training service whether enough new
// gold labels have accumulated and runs a train-and-activate pass when they
// have. Kick wakes the loop early, so a review that crosses the threshold
// does not have to wait out the full check interval.
//
// A failed run leaves the counter untouched; the next tick retries with
// whatever has accumulated since.
type RetrainRunner struct {
	trainer  Trainer
	notifier events.Notifier
	config   RetrainRunnerConfig
	logger   *slog.Logger

	kickCh chan struct{}

	stopMu sync.Mutex
	stopCh chan struct{}
}

// NewRetrainRunner creates the retrain loop. Zero config fields fall back to
// the defaults (medium template, 10s check interval, 5s error backoff). If
// logger is nil, the default slog logger is used.
func NewRetrainRunner(trainer Trainer, notifier events.Notifier, config RetrainRunnerConfig, logger *slog.Logger) *RetrainRunner {
	if config.Template == "" {
		config.Template = training.DefaultTemplate
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = 10 * time.Second
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = 5 * time.Second
	}
	if notifier == nil {
		notifier = events.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrainRunner{
		trainer:  trainer,
		notifier: notifier,
		config:   config,
		logger:   logger,
		kickCh:   make(chan struct{}, 1),
	}
}

// Kick asks the runner to check the trigger now instead of waiting for the
// next scheduled tick. Safe to call from any goroutine; kicks arriving while
// a check is already pending coalesce into one.
func (r *RetrainRunner) Kick() {
	select {
	case r.kickCh <- struct{}{}:
	default:
	}
}

// Run starts the periodic trigger-check loop. It blocks until ctx is
// cancelled or Stop is called. Call this in a goroutine.
func (r *RetrainRunner) Run(ctx context.Context) {
	r.stopMu.Lock()
	r.stopCh = make(chan struct{})
	stopCh := r.stopCh
	r.stopMu.Unlock()

	r.logger.Info("retrain: runner started",
		"template", string(r.config.Template),
		"check_interval", r.config.CheckInterval.String(),
	)

	ticker := time.NewTicker(r.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
		case <-r.kickCh:
		}

		if err := r.tick(ctx); err != nil {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-time.After(r.config.ErrorBackoff):
			}
		}
	}
}

// Stop signals the runner to stop. Safe to call multiple times.
func (r *RetrainRunner) Stop() {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()

	if r.stopCh != nil {
		select {
		case <-r.stopCh:
			// Already closed.
		default:
			close(r.stopCh)
		}
	}
}

// tick runs one trigger check. Successful runs announce themselves through
// the training service; here only skips and failures are reported.
func (r *RetrainRunner) tick(ctx context.Context) error {
	tctx := trace.WithTraceID(ctx, trace.GenerateID())

	mv, err := r.trainer.TrainIfDue(tctx, r.config.Template)
	if err != nil {
		r.logger.Error("retrain: training run failed",
			"template", string(r.config.Template),
			"err", err,
		)
		r.notifier.Notify(tctx, events.Event{
			Kind:    events.KindRetrainFailed,
			Message: fmt.Sprintf("retrain failed: %v", err),
		})
		return err
	}
	if mv == nil {
		r.logger.Debug("retrain: trigger not satisfied")
	}
	return nil
}
