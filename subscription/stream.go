package subscription

import (
	"context"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/types"
)

// AttachStream switches a subscription to push delivery. Queued events are
// drained to the returned channel as they arrive; while attached the
// subscription cannot expire and Sync is starved of events. Only one stream
// may be attached at a time. The returned detach func is idempotent and must
// be called when the consumer is done; canceling the context also detaches.
func (m *Manager) AttachStream(ctx context.Context, id string) (<-chan types.ChangeEvent, func(), error) {
	sub, err := m.lookup(id)
	if err != nil {
		return nil, nil, err
	}

	sub.mu.Lock()
	if sub.streamDone != nil {
		sub.mu.Unlock()
		return nil, nil, errors.NewConflict(errors.ConflictStreamAttached, id)
	}
	done := make(chan struct{})
	sub.streamDone = done
	sub.touchLocked()
	sub.mu.Unlock()

	out := make(chan types.ChangeEvent)
	detach := func() {
		sub.mu.Lock()
		if sub.streamDone == done {
			close(done)
			sub.streamDone = nil
			sub.touchLocked()
		}
		sub.mu.Unlock()
	}

	go m.streamPump(ctx, sub, done, out)

	m.logger.Debug("stream attached", "subscriptionId", id)
	return out, detach, nil
}

// streamPump forwards queued events to the consumer channel until the
// context is canceled, the stream is detached, or the subscription is
// deleted. Events buffered before attach are delivered first.
func (m *Manager) streamPump(ctx context.Context, sub *subscription, done chan struct{}, out chan<- types.ChangeEvent) {
	defer close(out)

	for {
		events := sub.queue.DrainAll()
		for _, event := range events {
			select {
			case out <- event:
				if m.metrics != nil {
					m.metrics.EventsDelivered.Inc()
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}

		select {
		case <-sub.wake:
		case <-ctx.Done():
			return
		case <-done:
			return
		}
	}
}
