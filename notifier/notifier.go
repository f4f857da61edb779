// Package notifier is the single internal fan-out point for change events.
// Stores publish every committed mutation here; the subscription manager
// subscribes once at startup. Publish only stamps and enqueues, so stores may
// call it while holding their commit locks; a single dispatch goroutine
// delivers events to listeners in publication order with no store lock held.
// Events for the same elementId reach every listener in emission order; there
// is no cross-object ordering guarantee.
package notifier

import (
	"log/slog"
	"sync"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/metric"
	"github.com/cesmii/i3x/pkg/timestamp"
	"github.com/cesmii/i3x/types"
)

// Listener receives published events. Notify runs on the dispatch goroutine,
// never on a publisher's goroutine, so it may take its own locks or call back
// into the stores. A listener that cannot keep up still buffers or drops on
// its own side: a slow Notify stalls delivery for every listener.
type Listener interface {
	Notify(event types.ChangeEvent)
}

// Dependencies contains everything the notifier needs.
type Dependencies struct {
	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry
}

// Notifier fans change events out to registered listeners. Safe for
// concurrent use.
type Notifier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	listeners  []Listener
	queue      []types.ChangeEvent
	seq        uint64
	delivering bool
	stopped    bool
	done       chan struct{}

	logger  *slog.Logger
	metrics *metric.Metrics
}

// New creates a notifier and starts its dispatch goroutine.
func New(deps Dependencies) (*Notifier, error) {
	if deps.Logger == nil {
		return nil, errors.WrapInvalid(nil, "Notifier", "New", "logger is required")
	}
	n := &Notifier{
		done:   make(chan struct{}),
		logger: deps.Logger.With("component", "notifier"),
	}
	n.cond = sync.NewCond(&n.mu)
	if deps.Metrics != nil {
		n.metrics = deps.Metrics.CoreMetrics()
	}
	go n.dispatch()
	return n, nil
}

// Subscribe registers a listener for all subsequent events.
func (n *Notifier) Subscribe(l Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, l)
	n.logger.Debug("listener subscribed", "listeners", len(n.listeners))
}

// Publish assigns the event a sequence number and enqueues it for delivery.
// It never blocks and never invokes listeners, so it is safe to call while
// holding the lock that serialized the commit; callers that publish an
// element's mutations in commit order get per-element ordering end to end.
func (n *Notifier) Publish(event types.ChangeEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = timestamp.Now()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		n.logger.Debug("event dropped after stop", "type", event.Type, "elementId", event.ElementID)
		return
	}

	n.seq++
	event.Seq = n.seq
	n.queue = append(n.queue, event)
	if n.metrics != nil {
		n.metrics.EventsPublished.WithLabelValues(string(event.Type)).Inc()
	}
	n.cond.Broadcast()
}

// Flush blocks until every event published before the call has been delivered
// to all listeners. It is a read barrier for callers that need to observe the
// effects of their own mutations, such as a subscription sync.
func (n *Notifier) Flush() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for len(n.queue) > 0 || n.delivering {
		n.cond.Wait()
	}
}

// Stop drains the queue, delivers the remaining events, and terminates the
// dispatch goroutine. Publish calls after Stop are dropped.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.stopped = true
	n.cond.Broadcast()
	n.mu.Unlock()
	<-n.done
}

func (n *Notifier) dispatch() {
	defer close(n.done)
	for {
		n.mu.Lock()
		for len(n.queue) == 0 && !n.stopped {
			n.cond.Wait()
		}
		if len(n.queue) == 0 && n.stopped {
			n.mu.Unlock()
			return
		}
		batch := n.queue
		n.queue = nil
		n.delivering = true
		listeners := make([]Listener, len(n.listeners))
		copy(listeners, n.listeners)
		n.mu.Unlock()

		for _, event := range batch {
			for _, l := range listeners {
				l.Notify(event)
			}
		}

		n.mu.Lock()
		n.delivering = false
		n.cond.Broadcast()
		n.mu.Unlock()
	}
}
