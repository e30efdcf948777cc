package phrases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vibe-backend/internal/queue"
	"vibe-backend/internal/regions"
	"vibe-backend/internal/shared/background"
	"vibe-backend/internal/shared/metrics"
	"vibe-backend/internal/shared/telemetry"
)

// Sink receives the grouped deltas of one flush.
type Sink interface {
	Deliver(ctx context.Context, groups []Delta) error
}

// Applier writes each group to the store, then rebuilds the snapshots of the
// regions it touched. A failed group does not stop the others.
type Applier struct {
	Store     Store
	Snapshots *Snapshots
}

// Deliver applies groups and returns the joined per-group errors.
func (a *Applier) Deliver(ctx context.Context, groups []Delta) error {
	var errs []error
	touched := map[string]struct{}{}
	for _, g := range groups {
		if err := a.Store.AddDelta(ctx, g); err != nil {
			metrics.IncPhraseGroupFailure()
			telemetry.Warn("phrases.group_failed", map[string]any{
				"region":     g.Region,
				"phrase":     g.Phrase,
				"category":   g.Category,
				"weight":     g.Weight,
				"request_id": background.RequestIDFromContext(ctx),
				"error":      err.Error(),
			})
			errs = append(errs, fmt.Errorf("%s/%s/%s: %w", g.Region, g.Phrase, g.Category, err))
			continue
		}
		touched[g.Region] = struct{}{}
	}

	if a.Snapshots != nil && len(touched) > 0 {
		touched[regions.Global] = struct{}{}
		for region := range touched {
			if _, err := a.Snapshots.Build(ctx, region); err != nil {
				telemetry.Warn("phrases.snapshot_failed", map[string]any{"region": region, "error": err.Error()})
			}
		}
	}
	return errors.Join(errs...)
}

// QueueSink ships each flush as one queue message for cmd/worker to apply.
type QueueSink struct {
	Client queue.Client
	now    func() time.Time
}

// NewQueueSink constructs a QueueSink.
func NewQueueSink(client queue.Client) *QueueSink {
	return &QueueSink{Client: client, now: func() time.Time { return time.Now().UTC() }}
}

func (s *QueueSink) Deliver(ctx context.Context, groups []Delta) error {
	if len(groups) == 0 {
		return nil
	}
	msg := queue.Message{
		RequestID:  background.RequestIDFromContext(ctx),
		EnqueuedAt: s.now().Format(time.RFC3339),
		Version:    queue.CurrentVersion,
		Deltas:     make([]queue.PhraseDelta, 0, len(groups)),
	}
	for _, g := range groups {
		msg.Deltas = append(msg.Deltas, queue.PhraseDelta{
			Region:   g.Region,
			Phrase:   g.Phrase,
			Category: g.Category,
			Weight:   g.Weight,
		})
	}
	if err := s.Client.Send(ctx, msg); err != nil {
		metrics.IncQueueMessage("send_failed")
		return fmt.Errorf("enqueue phrase batch: %w", err)
	}
	metrics.IncQueueMessage("sent")
	return nil
}

// FromMessage converts a queue payload back into deltas.
func FromMessage(msg queue.Message) []Delta {
	out := make([]Delta, 0, len(msg.Deltas))
	for _, d := range msg.Deltas {
		out = append(out, Delta{Region: regions.Normalize(d.Region), Phrase: d.Phrase, Category: d.Category, Weight: d.Weight})
	}
	return out
}

var (
	_ Sink = (*Applier)(nil)
	_ Sink = (*QueueSink)(nil)
)
