package scoring_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/bdobrica/Togusa/internal/togusa/classifier"
	"github.com/bdobrica/Togusa/internal/togusa/scoring"
	"github.com/bdobrica/Togusa/internal/togusa/store"
)

// fixedClassifier returns one canned probability for every text.
type fixedClassifier struct {
	mu    sync.Mutex
	p     float64
	loads []string
}

func (f *fixedClassifier) Train(_ context.Context, _ []classifier.Sample, artifactPath string) (string, error) {
	return artifactPath, nil
}

func (f *fixedClassifier) Evaluate(_ context.Context, _ []classifier.Sample) (classifier.Metrics, error) {
	return classifier.Metrics{}, nil
}

func (f *fixedClassifier) Load(_ context.Context, artifactPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, artifactPath)
	return nil
}

func (f *fixedClassifier) Predict(_ context.Context, _ string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.p, nil
}

func (f *fixedClassifier) setP(p float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.p = p
}

func (f *fixedClassifier) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "togusa-scoring-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db file: %v", err)
	}
	f.Close()

	s, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.EnsureSettings(context.Background(), store.Settings{
		ThresholdAllow:       0.30,
		ThresholdBlock:       0.70,
		RetrainGoldThreshold: 100,
		AutoRetrainEnabled:   true,
	}); err != nil {
		t.Fatalf("EnsureSettings: %v", err)
	}
	return s
}

func activateVersion(t *testing.T, s *store.Store, artifactPath string) *store.ModelVersion {
	t.Helper()
	ctx := context.Background()

	version, err := s.NextVersionNumber(ctx)
	if err != nil {
		t.Fatalf("NextVersionNumber: %v", err)
	}
	mv := &store.ModelVersion{
		Version:       version,
		TrainTemplate: "light",
		ArtifactPath:  artifactPath,
	}
	if err := s.CreateModelVersion(ctx, mv); err != nil {
		t.Fatalf("CreateModelVersion: %v", err)
	}
	if err := s.ActivateModelVersion(ctx, mv.ID); err != nil {
		t.Fatalf("ActivateModelVersion: %v", err)
	}
	return mv
}

func processingMessage(t *testing.T, s *store.Store, text string, label store.Label) *store.Message {
	t.Helper()
	m := &store.Message{
		Text:   text,
		Source: store.SourceRuntime,
		Status: store.StatusQueued,
	}
	if label != "" {
		m.TrueLabel = sql.NullString{String: string(label), Valid: true}
	}
	if err := s.CreateMessage(context.Background(), m); err != nil {
		t.Fatalf("CreateMessage(%q): %v", text, err)
	}
	won, err := s.TransitionMessageStatus(context.Background(), m.ID, store.StatusQueued, store.StatusProcessing)
	if err != nil || !won {
		t.Fatalf("claim for test: won=%v err=%v", won, err)
	}
	m.Status = store.StatusProcessing
	return m
}

func TestScoreMessage_ColdStart(t *testing.T) {
	st := newTestStore(t)
	svc := scoring.NewService(st, &fixedClassifier{p: 0.5})
	ctx := context.Background()

	m := processingMessage(t, st, "hello", "")

	_, err := svc.ScoreMessage(ctx, m)
	if !errors.Is(err, scoring.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}

	// Nothing was recorded and the message stayed claimed.
	count, err := st.CountPredictions(ctx)
	if err != nil {
		t.Fatalf("CountPredictions: %v", err)
	}
	if count != 0 {
		t.Errorf("predictions after cold start: got %d, want 0", count)
	}
	got, err := st.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Status != store.StatusProcessing {
		t.Errorf("status: got %q, want %q", got.Status, store.StatusProcessing)
	}
}

func TestReady(t *testing.T) {
	st := newTestStore(t)
	svc := scoring.NewService(st, &fixedClassifier{})
	ctx := context.Background()

	ready, err := svc.Ready(ctx)
	if err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if ready {
		t.Error("no version activated yet, Ready should be false")
	}

	activateVersion(t, st, "models/v1.json")

	ready, err = svc.Ready(ctx)
	if err != nil {
		t.Fatalf("Ready after activation: %v", err)
	}
	if !ready {
		t.Error("Ready should be true after activation")
	}
}

func TestScoreMessage_ThreeZones(t *testing.T) {
	cases := []struct {
		name       string
		p          float64
		decision   store.Decision
		status     store.Status
	}{
		{"allow zone", 0.10, store.DecisionAllow, store.StatusInInbox},
		{"review zone", 0.50, store.DecisionPendingReview, store.StatusPendingReview},
		{"block zone", 0.90, store.DecisionBlock, store.StatusInSpam},
		{"allow boundary is strict", 0.30, store.DecisionPendingReview, store.StatusPendingReview},
		{"block boundary is inclusive", 0.70, store.DecisionBlock, store.StatusInSpam},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newTestStore(t)
			cls := &fixedClassifier{p: tc.p}
			svc := scoring.NewService(st, cls)
			ctx := context.Background()

			mv := activateVersion(t, st, "models/v1.json")
			m := processingMessage(t, st, "score me", "")

			result, err := svc.ScoreMessage(ctx, m)
			if err != nil {
				t.Fatalf("ScoreMessage: %v", err)
			}

			if result.Decision != tc.decision {
				t.Errorf("decision: got %q, want %q", result.Decision, tc.decision)
			}
			if result.NewStatus != tc.status {
				t.Errorf("new status: got %q, want %q", result.NewStatus, tc.status)
			}
			if result.ModelVersion != mv.Version {
				t.Errorf("model version: got %d, want %d", result.ModelVersion, mv.Version)
			}

			got, err := st.GetMessage(ctx, m.ID)
			if err != nil {
				t.Fatalf("GetMessage: %v", err)
			}
			if got.Status != tc.status {
				t.Errorf("persisted status: got %q, want %q", got.Status, tc.status)
			}
			if !got.LastModelVersion.Valid || got.LastModelVersion.Int64 != mv.ID {
				t.Errorf("last model version: got %+v, want %d", got.LastModelVersion, mv.ID)
			}

			predictions, err := st.ListPredictionsForMessage(ctx, m.ID)
			if err != nil {
				t.Fatalf("ListPredictionsForMessage: %v", err)
			}
			if len(predictions) != 1 {
				t.Fatalf("predictions: got %d, want 1", len(predictions))
			}
			if predictions[0].PSpam != tc.p || predictions[0].Decision != tc.decision {
				t.Errorf("prediction row: %+v", predictions[0])
			}
		})
	}
}

func TestScoreMessage_EqualThresholdsEmptyReviewZone(t *testing.T) {
	st := newTestStore(t)
	cls := &fixedClassifier{}
	svc := scoring.NewService(st, cls)
	ctx := context.Background()

	if err := st.UpdateThresholds(ctx, 0.5, 0.5); err != nil {
		t.Fatalf("UpdateThresholds: %v", err)
	}
	activateVersion(t, st, "models/v1.json")

	cls.setP(0.5)
	result, err := svc.ScoreMessage(ctx, processingMessage(t, st, "boundary", ""))
	if err != nil {
		t.Fatalf("ScoreMessage at boundary: %v", err)
	}
	if result.Decision != store.DecisionBlock {
		t.Errorf("boundary score with equal thresholds: got %q, want block", result.Decision)
	}

	cls.setP(0.49)
	result, err = svc.ScoreMessage(ctx, processingMessage(t, st, "below", ""))
	if err != nil {
		t.Fatalf("ScoreMessage below boundary: %v", err)
	}
	if result.Decision != store.DecisionAllow {
		t.Errorf("below-boundary score with equal thresholds: got %q, want allow", result.Decision)
	}
}

func TestScoreMessage_Correctness(t *testing.T) {
	cases := []struct {
		name  string
		p     float64
		label store.Label
		want  func(*scoring.Result) bool
	}{
		{"blocked spam is correct", 0.9, store.LabelSpam,
			func(r *scoring.Result) bool { return r.IsCorrect != nil && *r.IsCorrect }},
		{"blocked ham is incorrect", 0.9, store.LabelHam,
			func(r *scoring.Result) bool { return r.IsCorrect != nil && !*r.IsCorrect }},
		{"allowed ham is correct", 0.1, store.LabelHam,
			func(r *scoring.Result) bool { return r.IsCorrect != nil && *r.IsCorrect }},
		{"held message has no verdict", 0.5, store.LabelSpam,
			func(r *scoring.Result) bool { return r.IsCorrect == nil }},
		{"unlabeled message has no verdict", 0.9, "",
			func(r *scoring.Result) bool { return r.IsCorrect == nil }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newTestStore(t)
			svc := scoring.NewService(st, &fixedClassifier{p: tc.p})

			activateVersion(t, st, "models/v1.json")
			m := processingMessage(t, st, "judge me", tc.label)

			result, err := svc.ScoreMessage(context.Background(), m)
			if err != nil {
				t.Fatalf("ScoreMessage: %v", err)
			}
			if result.TrueLabel != tc.label {
				t.Errorf("TrueLabel: got %q, want %q", result.TrueLabel, tc.label)
			}
			if !tc.want(result) {
				t.Errorf("correctness check failed: IsCorrect=%v", result.IsCorrect)
			}
		})
	}
}

func TestScoreMessage_ConflictWhenNotProcessing(t *testing.T) {
	st := newTestStore(t)
	svc := scoring.NewService(st, &fixedClassifier{p: 0.9})
	ctx := context.Background()

	activateVersion(t, st, "models/v1.json")

	// Never claimed: still queued.
	m := &store.Message{Text: "unclaimed", Source: store.SourceRuntime, Status: store.StatusQueued}
	if err := st.CreateMessage(ctx, m); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	_, err := svc.ScoreMessage(ctx, m)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for unclaimed message, got %v", err)
	}
}

func TestScoreMessage_LoadsArtifactOncePerActivation(t *testing.T) {
	st := newTestStore(t)
	cls := &fixedClassifier{p: 0.9}
	svc := scoring.NewService(st, cls)
	ctx := context.Background()

	activateVersion(t, st, "models/v1.json")

	for i := 0; i < 3; i++ {
		if _, err := svc.ScoreMessage(ctx, processingMessage(t, st, "msg", "")); err != nil {
			t.Fatalf("ScoreMessage #%d: %v", i, err)
		}
	}
	if cls.loadCount() != 1 {
		t.Errorf("loads after 3 scores: got %d, want 1", cls.loadCount())
	}

	// A new activation must trigger exactly one more load.
	activateVersion(t, st, "models/v2.json")
	if _, err := svc.ScoreMessage(ctx, processingMessage(t, st, "msg", "")); err != nil {
		t.Fatalf("ScoreMessage after activation: %v", err)
	}
	if cls.loadCount() != 2 {
		t.Errorf("loads after second activation: got %d, want 2", cls.loadCount())
	}
}
