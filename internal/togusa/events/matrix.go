package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdobrica/Togusa/common/retry"
)

// Sender is the subset of the Matrix client needed by MatrixNotifier.
// Defined as an interface so the notifier can be unit-tested independently.
type Sender interface {
	SendNotice(roomID, message string) error
}

// MatrixNotifier posts formatted notices to a Matrix room.
type MatrixNotifier struct {
	sender Sender
	roomID string
	retry  retry.Config
}

// NewMatrixNotifier creates a MatrixNotifier that posts to roomID via sender.
func NewMatrixNotifier(sender Sender, roomID string) *MatrixNotifier {
	return &MatrixNotifier{
		sender: sender,
		roomID: roomID,
		retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
	}
}

// Notify formats evt as a human-readable notice and posts it to the room.
// Transient send failures are retried briefly; final errors are logged at
// WARN level and never propagated to the caller.
func (n *MatrixNotifier) Notify(ctx context.Context, evt Event) {
	if n.roomID == "" {
		return
	}
	evt.normalize(ctx)

	msg := formatEvent(evt)
	err := retry.Do(ctx, n.retry, func() error {
		return n.sender.SendNotice(n.roomID, msg)
	})
	if err != nil {
		slog.Warn("events: failed to send room notice",
			"room", n.roomID, "kind", evt.Kind, "err", err)
	} else {
		slog.Debug("events: sent notice", "room", n.roomID, "kind", evt.Kind)
	}
}

// formatEvent renders one event as a notice body.
func formatEvent(evt Event) string {
	msg := fmt.Sprintf("%s [%s] %s", kindIcon(evt.Kind), evt.Kind, evt.Message)
	if evt.TraceID != "" {
		msg = fmt.Sprintf("%s\n  trace: %s", msg, evt.TraceID)
	}
	return msg
}

// kindIcon returns a Unicode icon for the event kind.
func kindIcon(k Kind) string {
	switch k {
	case KindMessageScored:
		return "📊"
	case KindReviewRecorded:
		return "🏷️"
	case KindReviewDigest:
		return "📋"
	case KindModelTrained:
		return "🧠"
	case KindModelActivated:
		return "✅"
	case KindRetrainFailed:
		return "❌"
	case KindQueueBatch:
		return "📥"
	default:
		return "ℹ️"
	}
}
