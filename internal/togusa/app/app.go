// Package app wires the Togusa agent together: store, classifier, services,
// runners, notifiers and the optional health server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bdobrica/Togusa/internal/togusa/agent"
	"github.com/bdobrica/Togusa/internal/togusa/classifier"
	"github.com/bdobrica/Togusa/internal/togusa/config"
	"github.com/bdobrica/Togusa/internal/togusa/dataset"
	"github.com/bdobrica/Togusa/internal/togusa/events"
	"github.com/bdobrica/Togusa/internal/togusa/matrix"
	"github.com/bdobrica/Togusa/internal/togusa/queue"
	"github.com/bdobrica/Togusa/internal/togusa/review"
	"github.com/bdobrica/Togusa/internal/togusa/scoring"
	"github.com/bdobrica/Togusa/internal/togusa/store"
	"github.com/bdobrica/Togusa/internal/togusa/training"
)

// Config holds application configuration.
type Config struct {
	// DatabasePath is the SQLite database file.
	DatabasePath string
	// HealthAddr is the TCP address for the health/status HTTP server
	// (e.g. ":8090"). When empty the server is disabled.
	HealthAddr string
	// ScorerWorkers is the number of concurrent scoring workers. Values
	// below 1 are treated as 1.
	ScorerWorkers int
	// AutoImport runs the dataset import at startup. A missing dataset file
	// is logged and skipped, not fatal; an agent can run on reviews alone.
	AutoImport bool
	// Tuning is the pipeline tuning configuration (thresholds, runner
	// delays, simulator, digest). Threshold and retrain values seed the
	// settings row on first open.
	Tuning config.Config
	// Matrix is the optional outbound notification client. Notifications
	// are enabled only when all credentials and MatrixRoom are set.
	Matrix matrix.Config
	// MatrixRoom is the room ID that receives operator notices.
	MatrixRoom string
}

// App is the assembled Togusa agent.
type App struct {
	store        *store.Store
	queue        *queue.Service
	training     *training.Service
	reviews      *review.Service
	digest       *events.Digest
	scorers      []*agent.ScoreRunner
	retrain      *agent.RetrainRunner
	simulator    *agent.Simulator
	healthServer *HealthServer
}

// New creates a new Togusa application.
func New(cfg *Config) (*App, error) {
	slog.Info("opening database", "path", cfg.DatabasePath)
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Seed the settings row from the tuning file. Only the first open
	// writes anything; runtime changes stay authoritative afterwards.
	if err := st.EnsureSettings(context.Background(), store.Settings{
		ThresholdAllow:       cfg.Tuning.ThresholdAllow,
		ThresholdBlock:       cfg.Tuning.ThresholdBlock,
		RetrainGoldThreshold: cfg.Tuning.RetrainGoldThreshold,
		AutoRetrainEnabled:   cfg.Tuning.AutoRetrain,
	}); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to seed settings: %w", err)
	}

	// Build the notifier chain progressively; Matrix is attached only when
	// fully configured.
	notifier := events.Fanout{events.LogNotifier{}}
	var digest *events.Digest
	if cfg.Matrix.Homeserver != "" && cfg.Matrix.UserID != "" &&
		cfg.Matrix.AccessToken != "" && cfg.MatrixRoom != "" {
		slog.Info("connecting to Matrix", "homeserver", cfg.Matrix.Homeserver)
		client, err := matrix.New(&cfg.Matrix)
		if err != nil {
			slog.Warn("Matrix notifier unavailable; continuing without it", "err", err)
		} else {
			if err := client.JoinRoom(cfg.MatrixRoom); err != nil {
				slog.Warn("could not join notification room; notices may fail",
					"room", cfg.MatrixRoom, "err", err)
			}
			digest = events.NewDigest(
				events.NewMatrixNotifier(client, cfg.MatrixRoom),
				cfg.Tuning.Digest.Window(), cfg.Tuning.Digest.MaxBatch)
			notifier = append(notifier, digest)
			slog.Info("Matrix notifier ready", "room", cfg.MatrixRoom)
		}
	}

	cls := classifier.NewBayes()
	queueSvc := queue.NewService(st, notifier)
	scoringSvc := scoring.NewService(st, cls)
	trainingSvc := training.NewService(st, cls, cfg.Tuning.ModelsDir, notifier)

	retrainRunner := agent.NewRetrainRunner(trainingSvc, notifier, agent.RetrainRunnerConfig{
		Template:      cfg.Tuning.Template(),
		CheckInterval: cfg.Tuning.Retrain.CheckInterval(),
		ErrorBackoff:  cfg.Tuning.Retrain.ErrorBackoff(),
	}, nil)
	reviewSvc := review.NewService(st, notifier, retrainRunner)

	if cfg.AutoImport {
		result, err := dataset.Import(context.Background(), st, cfg.Tuning.DatasetPath, false)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.Warn("dataset file missing, skipping import", "path", cfg.Tuning.DatasetPath)
		case err != nil:
			st.Close()
			return nil, fmt.Errorf("failed to import dataset: %w", err)
		case result.Imported > 0:
			slog.Info("dataset imported",
				"train_pool", result.TrainPool, "holdout", result.Holdout)
		}
	}

	workers := cfg.ScorerWorkers
	if workers < 1 {
		workers = 1
	}
	scorers := make([]*agent.ScoreRunner, 0, workers)
	for i := 1; i <= workers; i++ {
		scorers = append(scorers, agent.NewScoreRunner(queueSvc, scoringSvc, notifier,
			agent.ScoreRunnerConfig{
				Name:          fmt.Sprintf("scorer-%d", i),
				NotReadyDelay: cfg.Tuning.Scorer.NotReadyDelay(),
				IdleDelay:     cfg.Tuning.Scorer.IdleDelay(),
				BusyDelay:     cfg.Tuning.Scorer.BusyDelay(),
				ErrorDelay:    cfg.Tuning.Scorer.ErrorDelay(),
			}, nil))
	}

	var simulator *agent.Simulator
	if cfg.Tuning.Simulator.Enabled {
		simulator = agent.NewSimulator(queueSvc, agent.SimulatorConfig{
			Interval:  cfg.Tuning.Simulator.Interval(),
			BatchSize: cfg.Tuning.Simulator.BatchSize,
			CopyLabel: cfg.Tuning.Simulator.CopyLabel,
		}, nil)
		slog.Info("holdout simulator enabled",
			"interval", cfg.Tuning.Simulator.Interval(),
			"batch_size", cfg.Tuning.Simulator.BatchSize)
	}

	var healthServer *HealthServer
	if cfg.HealthAddr != "" {
		healthServer = NewHealthServer(cfg.HealthAddr, st)
	}

	return &App{
		store:        st,
		queue:        queueSvc,
		training:     trainingSvc,
		reviews:      reviewSvc,
		digest:       digest,
		scorers:      scorers,
		retrain:      retrainRunner,
		simulator:    simulator,
		healthServer: healthServer,
	}, nil
}

// Queue exposes the message queue, the agent's ingestion surface.
func (a *App) Queue() *queue.Service {
	return a.queue
}

// Reviews exposes the review service so embedding programs can record
// moderator verdicts against the running agent. Verdicts recorded here feed
// the retrain trigger and wake the retrain runner when it crosses.
func (a *App) Reviews() *review.Service {
	return a.reviews
}

// Training exposes the training service for manual retrain and activation.
func (a *App) Training() *training.Service {
	return a.training
}

// Run starts the runners and blocks until an interrupt arrives.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.healthServer != nil {
		if err := a.healthServer.Start(ctx); err != nil {
			slog.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	for _, s := range a.scorers {
		go s.Run(ctx)
	}
	go a.retrain.Run(ctx)
	if a.simulator != nil {
		go a.simulator.Run(ctx)
	}

	slog.Info("Togusa is running; press Ctrl+C to stop",
		"scorers", len(a.scorers))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop releases the application's resources in reverse dependency order.
func (a *App) Stop() {
	for _, s := range a.scorers {
		s.Stop()
	}
	a.retrain.Stop()
	if a.simulator != nil {
		a.simulator.Stop()
	}

	if a.digest != nil {
		if err := a.digest.Close(); err != nil {
			slog.Warn("failed to flush notification digest", "err", err)
		}
	}

	if a.healthServer != nil {
		slog.Info("stopping health server")
		a.healthServer.Stop()
	}

	slog.Info("closing database")
	a.store.Close()
}
