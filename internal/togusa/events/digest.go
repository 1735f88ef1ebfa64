package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	microbatch "github.com/joeycumines/go-microbatch"
)

// Digest wraps a Notifier and coalesces pending-review scoring events into a
// single periodic summary, so a busy queue does not flood the room with one
// notice per held message. All other events pass through immediately.
type Digest struct {
	next    Notifier
	batcher *microbatch.Batcher[Event]
}

// NewDigest creates a Digest in front of next. A summary is emitted when
// maxBatch pending-review events accumulate or window elapses since the
// first buffered event, whichever comes first.
func NewDigest(next Notifier, window time.Duration, maxBatch int) *Digest {
	d := &Digest{next: next}
	d.batcher = microbatch.NewBatcher[Event](&microbatch.BatcherConfig{
		MaxSize:       maxBatch,
		FlushInterval: window,
	}, d.flush)
	return d
}

// Notify buffers pending-review scoring events and forwards everything else.
func (d *Digest) Notify(ctx context.Context, evt Event) {
	evt.normalize(ctx)

	if evt.Kind != KindMessageScored || evt.Decision != decisionPendingReview {
		d.next.Notify(ctx, evt)
		return
	}

	if _, err := d.batcher.Submit(ctx, evt); err != nil {
		// Batcher is shutting down; deliver directly rather than drop.
		slog.Debug("events: digest unavailable, forwarding directly", "err", err)
		d.next.Notify(ctx, evt)
	}
}

// Close flushes any buffered events and stops the digest. Blocks until the
// final summary has been delivered or the grace period expires.
func (d *Digest) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d.batcher.Shutdown(ctx)
}

// flush renders one buffered batch as a single review-digest event.
func (d *Digest) flush(ctx context.Context, jobs []Event) error {
	if len(jobs) == 0 {
		return nil
	}

	parts := make([]string, 0, len(jobs))
	for _, evt := range jobs {
		parts = append(parts, fmt.Sprintf("#%d (%.2f)", evt.MessageID, evt.PSpam))
	}

	d.next.Notify(ctx, Event{
		Kind:    KindReviewDigest,
		Message: fmt.Sprintf("%d message(s) held for review: %s", len(jobs), strings.Join(parts, ", ")),
	})
	return nil
}
