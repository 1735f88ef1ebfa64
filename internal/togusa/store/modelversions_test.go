package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bdobrica/Togusa/internal/togusa/store"
)

func testVersion(version int) *store.ModelVersion {
	return &store.ModelVersion{
		Version:           version,
		TrainTemplate:     "light",
		TrainSetSize:      400,
		GoldIncludedCount: 12,
		ValidationSetSize: 100,
		Accuracy:          0.95,
		Precision:         0.90,
		Recall:            0.88,
		F1:                0.89,
		ThresholdAllow:    0.30,
		ThresholdBlock:    0.70,
		ArtifactPath:      "models/spam_model_v1.json",
	}
}

func TestCreateAndGetModelVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mv := testVersion(1)
	if err := s.CreateModelVersion(ctx, mv); err != nil {
		t.Fatalf("CreateModelVersion: %v", err)
	}
	if mv.ID == 0 {
		t.Fatal("model version should have an assigned id")
	}

	got, err := s.GetModelVersion(ctx, mv.ID)
	if err != nil {
		t.Fatalf("GetModelVersion: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("Version: got %d, want 1", got.Version)
	}
	if got.IsActive {
		t.Error("new versions must be inactive until activation")
	}
	if got.F1 != 0.89 {
		t.Errorf("F1: got %v, want 0.89", got.F1)
	}
	if got.ArtifactPath != "models/spam_model_v1.json" {
		t.Errorf("ArtifactPath: got %q", got.ArtifactPath)
	}
}

func TestCreateModelVersion_DuplicateVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateModelVersion(ctx, testVersion(7)); err != nil {
		t.Fatalf("first CreateModelVersion: %v", err)
	}

	err := s.CreateModelVersion(ctx, testVersion(7))
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate version, got %v", err)
	}
}

func TestNextVersionNumber(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	next, err := s.NextVersionNumber(ctx)
	if err != nil {
		t.Fatalf("NextVersionNumber: %v", err)
	}
	if next != 1 {
		t.Errorf("empty registry: got %d, want 1", next)
	}

	if err := s.CreateModelVersion(ctx, testVersion(3)); err != nil {
		t.Fatalf("CreateModelVersion: %v", err)
	}

	next, err = s.NextVersionNumber(ctx)
	if err != nil {
		t.Fatalf("NextVersionNumber: %v", err)
	}
	if next != 4 {
		t.Errorf("after version 3: got %d, want 4", next)
	}
}

func TestActivateModelVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1 := testVersion(1)
	v2 := testVersion(2)
	if err := s.CreateModelVersion(ctx, v1); err != nil {
		t.Fatalf("CreateModelVersion(v1): %v", err)
	}
	if err := s.CreateModelVersion(ctx, v2); err != nil {
		t.Fatalf("CreateModelVersion(v2): %v", err)
	}

	if _, err := s.ActiveModelVersion(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before activation, got %v", err)
	}

	if err := s.ActivateModelVersion(ctx, v1.ID); err != nil {
		t.Fatalf("ActivateModelVersion(v1): %v", err)
	}
	active, err := s.ActiveModelVersion(ctx)
	if err != nil {
		t.Fatalf("ActiveModelVersion: %v", err)
	}
	if active.ID != v1.ID {
		t.Errorf("active: got id %d, want %d", active.ID, v1.ID)
	}

	// Flipping to v2 must atomically retire v1.
	if err := s.ActivateModelVersion(ctx, v2.ID); err != nil {
		t.Fatalf("ActivateModelVersion(v2): %v", err)
	}

	versions, err := s.ListModelVersions(ctx)
	if err != nil {
		t.Fatalf("ListModelVersions: %v", err)
	}
	activeCount := 0
	for _, mv := range versions {
		if mv.IsActive {
			activeCount++
			if mv.ID != v2.ID {
				t.Errorf("wrong active version: got id %d, want %d", mv.ID, v2.ID)
			}
		}
	}
	if activeCount != 1 {
		t.Errorf("active versions: got %d, want exactly 1", activeCount)
	}

	st, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if !st.ActiveModelVersion.Valid || st.ActiveModelVersion.Int64 != v2.ID {
		t.Errorf("settings pointer: got %+v, want %d", st.ActiveModelVersion, v2.ID)
	}
}

func TestActivateModelVersion_AlreadyActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1 := testVersion(1)
	if err := s.CreateModelVersion(ctx, v1); err != nil {
		t.Fatalf("CreateModelVersion: %v", err)
	}
	if err := s.ActivateModelVersion(ctx, v1.ID); err != nil {
		t.Fatalf("first ActivateModelVersion: %v", err)
	}

	// Re-activating the active version succeeds and changes nothing.
	if err := s.ActivateModelVersion(ctx, v1.ID); err != nil {
		t.Fatalf("second ActivateModelVersion: %v", err)
	}

	active, err := s.ActiveModelVersion(ctx)
	if err != nil {
		t.Fatalf("ActiveModelVersion: %v", err)
	}
	if active.ID != v1.ID {
		t.Errorf("active: got id %d, want %d", active.ID, v1.ID)
	}
}

func TestActivateModelVersion_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.ActivateModelVersion(context.Background(), 999)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// --- Predictions ---

func TestRecordPrediction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mv := testVersion(1)
	if err := s.CreateModelVersion(ctx, mv); err != nil {
		t.Fatalf("CreateModelVersion: %v", err)
	}

	m := queueMessage(t, s, "WIN FREE IPHONE NOW!!!")
	if _, err := s.TransitionMessageStatus(ctx, m.ID, store.StatusQueued, store.StatusProcessing); err != nil {
		t.Fatalf("TransitionMessageStatus: %v", err)
	}

	p := &store.Prediction{
		MessageID:      m.ID,
		ModelVersionID: mv.ID,
		PSpam:          0.93,
		Decision:       store.DecisionBlock,
	}
	if err := s.RecordPrediction(ctx, p, store.StatusInSpam); err != nil {
		t.Fatalf("RecordPrediction: %v", err)
	}
	if p.ID == 0 {
		t.Error("prediction should have an assigned id")
	}

	got, err := s.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Status != store.StatusInSpam {
		t.Errorf("Status: got %q, want %q", got.Status, store.StatusInSpam)
	}
	if !got.LastModelVersion.Valid || got.LastModelVersion.Int64 != mv.ID {
		t.Errorf("LastModelVersion: got %+v, want %d", got.LastModelVersion, mv.ID)
	}

	preds, err := s.ListPredictionsForMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("ListPredictionsForMessage: %v", err)
	}
	if len(preds) != 1 {
		t.Fatalf("expected 1 prediction, got %d", len(preds))
	}
	if preds[0].PSpam != 0.93 || preds[0].Decision != store.DecisionBlock {
		t.Errorf("prediction: %+v", preds[0])
	}
}

func TestRecordPrediction_RequiresProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mv := testVersion(1)
	if err := s.CreateModelVersion(ctx, mv); err != nil {
		t.Fatalf("CreateModelVersion: %v", err)
	}

	m := queueMessage(t, s, "still queued")

	err := s.RecordPrediction(ctx, &store.Prediction{
		MessageID:      m.ID,
		ModelVersionID: mv.ID,
		PSpam:          0.5,
		Decision:       store.DecisionPendingReview,
	}, store.StatusPendingReview)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for unclaimed message, got %v", err)
	}

	// The rejected write must leave no prediction row behind.
	count, err := s.CountPredictions(ctx)
	if err != nil {
		t.Fatalf("CountPredictions: %v", err)
	}
	if count != 0 {
		t.Errorf("predictions: got %d, want 0", count)
	}
}
