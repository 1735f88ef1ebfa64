package review_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/bdobrica/Togusa/internal/togusa/events"
	"github.com/bdobrica/Togusa/internal/togusa/review"
	"github.com/bdobrica/Togusa/internal/togusa/store"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingNotifier) Notify(_ context.Context, evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingNotifier) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

type fakeKicker struct {
	mu    sync.Mutex
	kicks int
}

func (f *fakeKicker) Kick() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicks++
}

func (f *fakeKicker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kicks
}

func newTestStore(t *testing.T, goldThreshold int, autoRetrain bool) *store.Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "togusa-review-*.db")
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
		RetrainGoldThreshold: goldThreshold,
		AutoRetrainEnabled:   autoRetrain,
	}); err != nil {
		t.Fatalf("EnsureSettings: %v", err)
	}
	return s
}

func pendingMessage(t *testing.T, s *store.Store, text string) *store.Message {
	t.Helper()
	m := &store.Message{
		Text:   text,
		Source: store.SourceRuntime,
		Status: store.StatusPendingReview,
	}
	if err := s.CreateMessage(context.Background(), m); err != nil {
		t.Fatalf("CreateMessage(%q): %v", text, err)
	}
	return m
}

func TestAddReview_SpamVerdict(t *testing.T) {
	st := newTestStore(t, 100, true)
	notifier := &recordingNotifier{}
	svc := review.NewService(st, notifier, nil)
	ctx := context.Background()

	m := pendingMessage(t, st, "you won a prize")

	r, err := svc.AddReview(ctx, m.ID, store.LabelSpam, "@mod:example.com", "obvious scam")
	if err != nil {
		t.Fatalf("AddReview: %v", err)
	}
	if r.ID == 0 {
		t.Error("review should have an assigned id")
	}

	got, err := st.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Status != store.StatusInSpam {
		t.Errorf("status: got %q, want %q", got.Status, store.StatusInSpam)
	}
	label, ok := got.Labeled()
	if !ok || label != store.LabelSpam {
		t.Errorf("label: got %q (ok=%v), want spam", label, ok)
	}

	settings, err := st.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if settings.NewGoldSinceLastTrain != 1 {
		t.Errorf("gold counter: got %d, want 1", settings.NewGoldSinceLastTrain)
	}

	evts := notifier.snapshot()
	if len(evts) != 1 || evts[0].Kind != events.KindReviewRecorded {
		t.Fatalf("expected one review.recorded event, got %+v", evts)
	}
	if evts[0].MessageID != m.ID {
		t.Errorf("event message id: got %d, want %d", evts[0].MessageID, m.ID)
	}
}

func TestAddReview_HamVerdict(t *testing.T) {
	st := newTestStore(t, 100, true)
	svc := review.NewService(st, nil, nil)
	ctx := context.Background()

	m := pendingMessage(t, st, "lunch tomorrow?")

	if _, err := svc.AddReview(ctx, m.ID, store.LabelHam, "@mod:example.com", ""); err != nil {
		t.Fatalf("AddReview: %v", err)
	}

	got, err := st.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Status != store.StatusInInbox {
		t.Errorf("status: got %q, want %q", got.Status, store.StatusInInbox)
	}
}

func TestAddReview_InvalidLabel(t *testing.T) {
	st := newTestStore(t, 100, true)
	svc := review.NewService(st, nil, nil)

	m := pendingMessage(t, st, "hmm")

	_, err := svc.AddReview(context.Background(), m.ID, store.Label("maybe"), "@mod:example.com", "")
	if !errors.Is(err, review.ErrInvalidLabel) {
		t.Fatalf("expected ErrInvalidLabel, got %v", err)
	}
}

func TestAddReview_MissingMessage(t *testing.T) {
	svc := review.NewService(newTestStore(t, 100, true), nil, nil)

	_, err := svc.AddReview(context.Background(), 9999, store.LabelHam, "@mod:example.com", "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddReview_Duplicate(t *testing.T) {
	st := newTestStore(t, 100, true)
	svc := review.NewService(st, nil, nil)
	ctx := context.Background()

	m := pendingMessage(t, st, "reviewed twice")

	if _, err := svc.AddReview(ctx, m.ID, store.LabelHam, "@mod:example.com", ""); err != nil {
		t.Fatalf("first AddReview: %v", err)
	}
	_, err := svc.AddReview(ctx, m.ID, store.LabelSpam, "@other:example.com", "")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// The losing verdict must not change the message.
	got, err := st.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Status != store.StatusInInbox {
		t.Errorf("status after duplicate: got %q, want %q", got.Status, store.StatusInInbox)
	}
}

func TestCheckAutoRetrain(t *testing.T) {
	st := newTestStore(t, 2, true)
	svc := review.NewService(st, nil, nil)
	ctx := context.Background()

	state, err := svc.CheckAutoRetrain(ctx)
	if err != nil {
		t.Fatalf("CheckAutoRetrain: %v", err)
	}
	if state.Due {
		t.Error("trigger should not be due with zero gold labels")
	}

	for _, text := range []string{"first", "second"} {
		m := pendingMessage(t, st, text)
		if _, err := svc.AddReview(ctx, m.ID, store.LabelSpam, "@mod:example.com", ""); err != nil {
			t.Fatalf("AddReview(%q): %v", text, err)
		}
	}

	state, err = svc.CheckAutoRetrain(ctx)
	if err != nil {
		t.Fatalf("CheckAutoRetrain: %v", err)
	}
	if !state.Due {
		t.Errorf("trigger should be due: %+v", state)
	}
	if state.NewGold != 2 || state.Threshold != 2 {
		t.Errorf("trigger state: got %+v, want NewGold=2 Threshold=2", state)
	}
}

func TestCheckAutoRetrain_Disabled(t *testing.T) {
	st := newTestStore(t, 1, false)
	svc := review.NewService(st, nil, nil)
	ctx := context.Background()

	m := pendingMessage(t, st, "gold")
	if _, err := svc.AddReview(ctx, m.ID, store.LabelHam, "@mod:example.com", ""); err != nil {
		t.Fatalf("AddReview: %v", err)
	}

	state, err := svc.CheckAutoRetrain(ctx)
	if err != nil {
		t.Fatalf("CheckAutoRetrain: %v", err)
	}
	if state.Due {
		t.Error("trigger must stay quiet when auto-retrain is disabled")
	}
}

func TestAddReview_KicksRunnerOnThreshold(t *testing.T) {
	st := newTestStore(t, 2, true)
	kicker := &fakeKicker{}
	svc := review.NewService(st, nil, kicker)
	ctx := context.Background()

	first := pendingMessage(t, st, "first")
	if _, err := svc.AddReview(ctx, first.ID, store.LabelSpam, "@mod:example.com", ""); err != nil {
		t.Fatalf("AddReview: %v", err)
	}
	if kicker.count() != 0 {
		t.Fatalf("kick before threshold: got %d, want 0", kicker.count())
	}

	second := pendingMessage(t, st, "second")
	if _, err := svc.AddReview(ctx, second.ID, store.LabelSpam, "@mod:example.com", ""); err != nil {
		t.Fatalf("AddReview: %v", err)
	}
	if kicker.count() != 1 {
		t.Errorf("kick at threshold: got %d, want 1", kicker.count())
	}
}
