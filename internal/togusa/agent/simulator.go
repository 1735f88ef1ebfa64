package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/Togusa/common/trace"
	"github.com/bdobrica/Togusa/internal/togusa/store"
)

// Feeder copies validation-holdout messages into the live queue.
type Feeder interface {
	EnqueueFromValidation(ctx context.Context, n int, copyLabel bool) ([]*store.Message, error)
}

// SimulatorConfig tunes the traffic feeder.
type SimulatorConfig struct {
	// Interval is how often a batch is enqueued.
	Interval time.Duration
	// BatchSize is how many holdout messages each batch copies.
	BatchSize int
	// CopyLabel carries the ground-truth label onto the queued copy, so
	// scored messages report whether the decision was correct.
	CopyLabel bool
}

// Simulator replays validation-holdout messages through the live pipeline at
// a fixed interval. It stands in for an inbound message source, so the
// scoring loop can be observed end to end without one attached.
type Simulator struct {
	feeder Feeder
	config SimulatorConfig
	logger *slog.Logger

	stopMu sync.Mutex
	stopCh chan struct{}
}

// NewSimulator creates a feeder runner. If interval is zero it defaults to
// 5 seconds, if batch size is zero it defaults to 5 messages. If logger is
// nil, the default slog logger is used.
func NewSimulator(feeder Feeder, config SimulatorConfig, logger *slog.Logger) *Simulator {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		feeder: feeder,
		config: config,
		logger: logger,
	}
}

// Run starts the periodic feed loop. It blocks until ctx is cancelled or
// Stop is called. Call this in a goroutine.
func (s *Simulator) Run(ctx context.Context) {
	s.stopMu.Lock()
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.stopMu.Unlock()

	s.logger.Info("simulator: started",
		"interval", s.config.Interval.String(),
		"batch_size", s.config.BatchSize,
		"copy_label", s.config.CopyLabel,
	)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.feed(ctx)
		}
	}
}

// Stop signals the runner to stop. Safe to call multiple times.
func (s *Simulator) Stop() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.stopCh != nil {
		select {
		case <-s.stopCh:
			// Already closed.
		default:
			close(s.stopCh)
		}
	}
}

// feed enqueues one batch. The queue service logs and announces the batch
// itself, so only failures and empty holdouts are reported here.
func (s *Simulator) feed(ctx context.Context) {
	tctx := trace.WithTraceID(ctx, trace.GenerateID())

	msgs, err := s.feeder.EnqueueFromValidation(tctx, s.config.BatchSize, s.config.CopyLabel)
	if err != nil {
		s.logger.Warn("simulator: enqueue failed", "err", err)
		return
	}
	if len(msgs) == 0 {
		s.logger.Debug("simulator: holdout empty, nothing to enqueue")
	}
}
