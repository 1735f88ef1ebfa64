// Package events provides the pipeline notification subsystem.
//
// Every significant pipeline transition is published as an Event: a message
// receiving a score, a moderator recording a review, a model finishing
// training or becoming active. Notifiers fan these out to operators, either
// as structured log lines or as concise notices in a Matrix room, so a
// running agent can be monitored without tailing the database.
//
// Supported event kinds (Event.Kind):
//   - KindMessageScored, KindReviewRecorded, KindReviewDigest
//   - KindModelTrained, KindModelActivated, KindRetrainFailed
//   - KindQueueBatch
//
// All events carry the originating trace ID so operators can correlate a
// notice with the structured log stream.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Togusa/common/trace"
)

// Kind is a machine-readable event category.
type Kind string

const (
	KindMessageScored  Kind = "message.scored"
	KindReviewRecorded Kind = "review.recorded"
	KindReviewDigest   Kind = "review.digest"
	KindModelTrained   Kind = "model.trained"
	KindModelActivated Kind = "model.activated"
	KindRetrainFailed  Kind = "retrain.failed"
	KindQueueBatch     Kind = "queue.batch"
)

// decisionPendingReview matches the persisted decision value for scores that
// land between the thresholds. Kept as a literal so this package stays
// independent of the storage layer.
const decisionPendingReview = "pending_review"

// Event carries the data that notifiers format and deliver.
type Event struct {
	// Kind identifies the type of event.
	Kind Kind
	// ID uniquely identifies this event. Assigned when empty.
	ID string
	// MessageID is set on message-level events (scored, reviewed).
	MessageID int64
	// Version is the model version number on model-level events.
	Version int
	// PSpam is the spam probability on scoring events.
	PSpam float64
	// Decision is the persisted decision on scoring events.
	Decision string
	// Message is a human-friendly description of what happened.
	Message string
	// TraceID ties the notification back to the structured logs.
	// When empty the value is taken from the context.
	TraceID string
	// Timestamp defaults to time.Now() when zero.
	Timestamp time.Time
}

// normalize fills the generated fields an emitter may have left empty.
func (e *Event) normalize(ctx context.Context) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.TraceID == "" {
		e.TraceID = trace.FromContext(ctx)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
}

// Notifier delivers pipeline events to operators.
type Notifier interface {
	// Notify publishes an event. Implementations MUST NOT block the caller
	// for longer than a short timeout; delivery failures should be logged,
	// not propagated.
	Notify(ctx context.Context, evt Event)
}

// Noop is a no-op Notifier used when notifications are disabled.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(_ context.Context, _ Event) {}

// Fanout delivers each event to every wrapped notifier in order.
type Fanout []Notifier

// Notify publishes evt to all wrapped notifiers.
func (f Fanout) Notify(ctx context.Context, evt Event) {
	evt.normalize(ctx)
	for _, n := range f {
		n.Notify(ctx, evt)
	}
}

// LogNotifier writes events to the structured log. Scoring events are logged
// at DEBUG because one fires per message; failures are promoted to WARN.
type LogNotifier struct{}

// Notify logs evt.
func (LogNotifier) Notify(ctx context.Context, evt Event) {
	evt.normalize(ctx)

	attrs := []any{
		"event_id", evt.ID,
		"kind", evt.Kind,
		"trace_id", evt.TraceID,
	}
	if evt.MessageID != 0 {
		attrs = append(attrs, "message_id", evt.MessageID)
	}
	if evt.Version != 0 {
		attrs = append(attrs, "version", evt.Version)
	}
	if evt.Kind == KindMessageScored {
		attrs = append(attrs, "p_spam", evt.PSpam, "decision", evt.Decision)
	}

	switch evt.Kind {
	case KindMessageScored:
		slog.Debug(evt.Message, attrs...)
	case KindRetrainFailed:
		slog.Warn(evt.Message, attrs...)
	default:
		slog.Info(evt.Message, attrs...)
	}
}
