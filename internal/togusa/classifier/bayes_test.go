package classifier_test

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bdobrica/Togusa/internal/togusa/classifier"
)

func trainingSamples() []classifier.Sample {
	return []classifier.Sample{
		{Text: "WINNER!! You have won a FREE prize, claim now", Spam: true},
		{Text: "URGENT! Your mobile number won a cash prize, call now", Spam: true},
		{Text: "Free entry in a weekly competition, txt WIN to claim", Spam: true},
		{Text: "Congratulations you won, click to claim your free reward", Spam: true},
		{Text: "Are we still meeting for lunch tomorrow?", Spam: false},
		{Text: "I'll be home by six, do you need anything from the shop", Spam: false},
		{Text: "Thanks for the lift this morning, see you later", Spam: false},
		{Text: "Can you send me the notes from class please", Spam: false},
	}
}

func trainedBayes(t *testing.T) *classifier.Bayes {
	t.Helper()
	b := classifier.NewBayes()
	path := filepath.Join(t.TempDir(), "model.json")
	if _, err := b.Train(context.Background(), trainingSamples(), path); err != nil {
		t.Fatalf("Train: %v", err)
	}
	return b
}

func TestBayes_PredictSeparatesClasses(t *testing.T) {
	b := trainedBayes(t)
	ctx := context.Background()

	spam, err := b.Predict(ctx, "WINNER! claim your free prize now")
	if err != nil {
		t.Fatalf("Predict spam: %v", err)
	}
	ham, err := b.Predict(ctx, "see you at lunch tomorrow")
	if err != nil {
		t.Fatalf("Predict ham: %v", err)
	}

	if spam <= ham {
		t.Errorf("expected spammy text to score above hammy text: spam=%v ham=%v", spam, ham)
	}
	if spam < 0 || spam > 1 || ham < 0 || ham > 1 {
		t.Errorf("probabilities out of [0,1]: spam=%v ham=%v", spam, ham)
	}
}

func TestBayes_PredictBeforeLoad(t *testing.T) {
	b := classifier.NewBayes()

	_, err := b.Predict(context.Background(), "hello")
	if !errors.Is(err, classifier.ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
}

func TestBayes_PredictEmptyText(t *testing.T) {
	b := trainedBayes(t)

	for _, text := range []string{"", "   ", "\t\n"} {
		if _, err := b.Predict(context.Background(), text); !errors.Is(err, classifier.ErrInvalidInput) {
			t.Errorf("Predict(%q): expected ErrInvalidInput, got %v", text, err)
		}
	}
}

func TestBayes_TrainEmptySet(t *testing.T) {
	b := classifier.NewBayes()

	_, err := b.Train(context.Background(), nil, filepath.Join(t.TempDir(), "m.json"))
	if !errors.Is(err, classifier.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := b.Predict(context.Background(), "hello"); !errors.Is(err, classifier.ErrNotLoaded) {
		t.Errorf("failed train must not leave a model loaded, got %v", err)
	}
}

func TestBayes_TrainFailureKeepsPreviousModel(t *testing.T) {
	b := trainedBayes(t)
	ctx := context.Background()

	before, err := b.Predict(ctx, "free prize winner")
	if err != nil {
		t.Fatalf("Predict before: %v", err)
	}

	if _, err := b.Train(ctx, nil, filepath.Join(t.TempDir(), "m.json")); err == nil {
		t.Fatal("expected error for empty training set")
	}

	after, err := b.Predict(ctx, "free prize winner")
	if err != nil {
		t.Fatalf("Predict after failed train: %v", err)
	}
	if before != after {
		t.Errorf("model changed after failed train: before=%v after=%v", before, after)
	}
}

func TestBayes_LoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "model.json")

	first := classifier.NewBayes()
	if _, err := first.Train(ctx, trainingSamples(), path); err != nil {
		t.Fatalf("Train: %v", err)
	}
	want, err := first.Predict(ctx, "free prize winner call now")
	if err != nil {
		t.Fatalf("Predict original: %v", err)
	}

	second := classifier.NewBayes()
	if err := second.Load(ctx, path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := second.Predict(ctx, "free prize winner call now")
	if err != nil {
		t.Fatalf("Predict loaded: %v", err)
	}

	if got != want {
		t.Errorf("loaded model disagrees with trained model: got %v, want %v", got, want)
	}
	if second.ArtifactPath() != path {
		t.Errorf("ArtifactPath: got %q, want %q", second.ArtifactPath(), path)
	}
}

func TestBayes_LoadMissingArtifact(t *testing.T) {
	b := classifier.NewBayes()

	err := b.Load(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestBayes_EvaluateMetrics(t *testing.T) {
	b := trainedBayes(t)

	// The evaluation set reuses training texts, so every row should land on
	// its own class and the confusion matrix is fully predictable.
	metrics, err := b.Evaluate(context.Background(), trainingSamples())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if metrics.TP != 4 || metrics.TN != 4 || metrics.FP != 0 || metrics.FN != 0 {
		t.Fatalf("confusion matrix: got TP=%d TN=%d FP=%d FN=%d, want 4/4/0/0",
			metrics.TP, metrics.TN, metrics.FP, metrics.FN)
	}
	if metrics.Accuracy != 1.0 || metrics.Precision != 1.0 || metrics.Recall != 1.0 || metrics.F1 != 1.0 {
		t.Errorf("metrics: got %+v, want all 1.0", metrics)
	}
}

func TestBayes_EvaluateEmptySet(t *testing.T) {
	b := trainedBayes(t)

	metrics, err := b.Evaluate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if metrics != (classifier.Metrics{}) {
		t.Errorf("expected zero metrics for empty set, got %+v", metrics)
	}
}

func TestBayes_EvaluateZeroDenominators(t *testing.T) {
	// Train on ham only so the model never predicts spam; precision has a
	// zero denominator and must come back 0 rather than NaN.
	b := classifier.NewBayes()
	samples := []classifier.Sample{
		{Text: "see you at lunch", Spam: false},
		{Text: "call me when you get home", Spam: false},
		{Text: "thanks for the notes", Spam: false},
	}
	if _, err := b.Train(context.Background(), samples, filepath.Join(t.TempDir(), "m.json")); err != nil {
		t.Fatalf("Train: %v", err)
	}

	metrics, err := b.Evaluate(context.Background(), []classifier.Sample{
		{Text: "see you at lunch", Spam: false},
		{Text: "call me when you get home", Spam: true},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if metrics.FN != 1 || metrics.TN != 1 {
		t.Fatalf("confusion matrix: got %+v, want FN=1 TN=1", metrics)
	}
	if metrics.Precision != 0 {
		t.Errorf("Precision with zero denominator: got %v, want 0", metrics.Precision)
	}
	if metrics.F1 != 0 {
		t.Errorf("F1 with zero denominator: got %v, want 0", metrics.F1)
	}
}

func TestBayes_EvaluateNotLoaded(t *testing.T) {
	b := classifier.NewBayes()

	_, err := b.Evaluate(context.Background(), trainingSamples())
	if !errors.Is(err, classifier.ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
}

func TestBayes_ConcurrentPredict(t *testing.T) {
	b := trainedBayes(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Predict(ctx, "free prize winner"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Predict: %v", err)
	}
}
