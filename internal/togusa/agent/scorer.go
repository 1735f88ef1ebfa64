// Package agent hosts the long-lived runners that keep the classification
// pipeline moving: scoring workers that drain the message queue, the retrain
// loop that watches the gold-label counter, and the optional simulator that
// feeds holdout traffic back through the live path.
//
// All runners share one shape: Run blocks until ctx is cancelled or Stop is
// called, every delay in between is cancellable, and failures are logged
// rather than returned so a bad iteration never kills the loop.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/Togusa/common/trace"
	"github.com/bdobrica/Togusa/internal/togusa/events"
	"github.com/bdobrica/Togusa/internal/togusa/queue"
	"github.com/bdobrica/Togusa/internal/togusa/scoring"
	"github.com/bdobrica/Togusa/internal/togusa/store"
)

// Claimer hands out queued messages, one at a time. Each message is claimed
// by exactly one caller.
type Claimer interface {
	ClaimNext(ctx context.Context) (*store.Message, error)
}

// Scorer classifies a claimed message against the active model and persists
// the outcome.
type Scorer interface {
	Ready(ctx context.Context) (bool, error)
	ScoreMessage(ctx context.Context, msg *store.Message) (*scoring.Result, error)
}

// ScoreRunnerConfig tunes the pauses between scoring iterations.
type ScoreRunnerConfig struct {
	// Name identifies the worker in logs when several run side by side.
	Name string
	// NotReadyDelay is slept while no model version is active yet.
	NotReadyDelay time.Duration
	// IdleDelay is slept when the queue is empty.
	IdleDelay time.Duration
	// BusyDelay is slept after a message was scored, so a full queue
	// drains quickly without starving other work.
	BusyDelay time.Duration
	// ErrorDelay is slept after any failure before the next attempt.
	ErrorDelay time.Duration
}

// ScoreRunner drains the message queue: claim the oldest queued message,
// score it against the active model, emit the outcome, repeat. How long it
// pauses before the next iteration depends on what the current one found.
type ScoreRunner struct {
	claimer  Claimer
	scorer   Scorer
	notifier events.Notifier
	config   ScoreRunnerConfig
	logger   *slog.Logger

	stopMu sync.Mutex
	stopCh chan struct{}
}

// NewScoreRunner creates a scoring worker. Zero config fields fall back to
// the defaults (2s not-ready, 500ms idle, 100ms busy, 1s error). If notifier
// is nil outcomes are not emitted; if logger is nil the default slog logger
// is used.
func NewScoreRunner(claimer Claimer, scorer Scorer, notifier events.Notifier, config ScoreRunnerConfig, logger *slog.Logger) *ScoreRunner {
	if config.Name == "" {
		config.Name = "scorer"
	}
	if config.NotReadyDelay <= 0 {
		config.NotReadyDelay = 2 * time.Second
	}
	if config.IdleDelay <= 0 {
		config.IdleDelay = 500 * time.Millisecond
	}
	if config.BusyDelay <= 0 {
		config.BusyDelay = 100 * time.Millisecond
	}
	if config.ErrorDelay <= 0 {
		config.ErrorDelay = time.Second
	}
	if notifier == nil {
		notifier = events.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScoreRunner{
		claimer:  claimer,
		scorer:   scorer,
		notifier: notifier,
		config:   config,
		logger:   logger,
	}
}

// Run starts the claim → score → emit loop. It blocks until ctx is cancelled
// or Stop is called. Call this in a goroutine.
func (r *ScoreRunner) Run(ctx context.Context) {
	r.stopMu.Lock()
	r.stopCh = make(chan struct{})
	stopCh := r.stopCh
	r.stopMu.Unlock()

	r.logger.Info("scorer: worker started", "worker", r.config.Name)

	for {
		delay := r.iterate(ctx)
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-time.After(delay):
		}
	}
}

// Stop signals the runner to stop. Safe to call multiple times.
func (r *ScoreRunner) Stop() {
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

// iterate performs one claim → score → emit pass and reports how long to
// pause before the next one. Each pass carries its own trace ID so the
// claim, the prediction, and the emitted event correlate in logs.
func (r *ScoreRunner) iterate(ctx context.Context) time.Duration {
	tctx := trace.WithTraceID(ctx, trace.GenerateID())

	ready, err := r.scorer.Ready(tctx)
	if err != nil {
		r.logger.Error("scorer: readiness check failed", "worker", r.config.Name, "err", err)
		return r.config.ErrorDelay
	}
	if !ready {
		r.logger.Debug("scorer: no active model yet", "worker", r.config.Name)
		return r.config.NotReadyDelay
	}

	msg, err := r.claimer.ClaimNext(tctx)
	if errors.Is(err, queue.ErrEmpty) {
		return r.config.IdleDelay
	}
	if err != nil {
		r.logger.Error("scorer: claim failed", "worker", r.config.Name, "err", err)
		return r.config.ErrorDelay
	}

	res, err := r.scorer.ScoreMessage(tctx, msg)
	if err != nil {
		if errors.Is(err, scoring.ErrNotReady) {
			// The readiness check passed, so this only happens when the
			// settings row was reset in between. The message stays claimed
			// and is scored once a model is active again.
			r.logger.Warn("scorer: model not ready after claim",
				"worker", r.config.Name,
				"message_id", msg.ID,
			)
			return r.config.NotReadyDelay
		}
		r.logger.Error("scorer: scoring failed",
			"worker", r.config.Name,
			"message_id", msg.ID,
			"err", err,
		)
		return r.config.ErrorDelay
	}

	r.notifier.Notify(tctx, events.Event{
		Kind:      events.KindMessageScored,
		MessageID: res.MessageID,
		Version:   res.ModelVersion,
		PSpam:     res.PSpam,
		Decision:  string(res.Decision),
		Message:   formatScore(res),
	})
	return r.config.BusyDelay
}

// formatScore renders a one-line summary of a scoring outcome for humans.
func formatScore(res *scoring.Result) string {
	msg := fmt.Sprintf("message %d scored %.3f, decision %s", res.MessageID, res.PSpam, res.Decision)
	if res.IsCorrect != nil {
		if *res.IsCorrect {
			msg += " (correct)"
		} else {
			msg += " (incorrect)"
		}
	}
	return msg
}
