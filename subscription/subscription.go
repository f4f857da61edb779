// Package subscription manages change-notification subscriptions: lifecycle,
// per-subscription watch lists with composition depth, bounded delivery
// queues with drop accounting, and both consumption models. A stream
// consumer drains its queue continuously over a push channel; a sync
// consumer drains it on demand, observing how many events overflow dropped
// since the previous drain.
package subscription

import (
	"sort"
	"sync"

	"github.com/cesmii/i3x/pkg/buffer"
	"github.com/cesmii/i3x/pkg/timestamp"
	"github.com/cesmii/i3x/types"
)

// State is a subscription lifecycle state.
type State string

const (
	// StateCreated exists only between allocation and activation; Create
	// returns subscriptions already active.
	StateCreated State = "created"
	// StateActive accepts registrations and deliveries.
	StateActive State = "active"
	// StateClosed is the terminal state after an explicit delete.
	StateClosed State = "closed"
	// StateExpired is the terminal state after idle timeout.
	StateExpired State = "expired"
)

// MonitoredItem is one watch-list entry: an element and the composition
// depth below it that matches descendant events (0 = unbounded, 1 = the
// element itself only).
type MonitoredItem struct {
	ElementID string `json:"elementId"`
	MaxDepth  int    `json:"maxDepth"`
}

// Summary describes a subscription for listings and detail reads.
type Summary struct {
	SubscriptionID string          `json:"subscriptionId"`
	Created        int64           `json:"created"`
	State          State           `json:"state"`
	MonitoredItems []MonitoredItem `json:"monitoredItems"`
	QueueDepth     int             `json:"queueDepth"`
	QueueCapacity  int             `json:"queueCapacity"`
	DroppedCount   uint64          `json:"droppedCount"`
	StreamAttached bool            `json:"streamAttached"`
}

// SyncResult is one atomic queue drain.
type SyncResult struct {
	Events []types.ChangeEvent `json:"events"`
	// DroppedCount is the number of events lost to overflow since the
	// previous drain.
	DroppedCount uint64 `json:"droppedCount"`
}

// subscription is the manager-internal state. The struct lock covers state,
// items and the stream fields; the queue has its own locking and the dropped
// counter is only touched under the struct lock via the drop callback path
// and Sync.
type subscription struct {
	mu      sync.Mutex
	id      string
	created int64
	state   State
	items   map[string]int
	queue   buffer.Buffer[types.ChangeEvent]

	// dropped accumulates overflow losses since the last sync drain.
	dropped uint64

	// lastActivity is unix ms of the last register/sync/stream touch,
	// the idle-expiry clock.
	lastActivity int64

	// wake signals the stream drainer that the queue has new items.
	wake chan struct{}

	// streamDone is non-nil while a stream consumer is attached; closing
	// it stops the drainer. Expiry never fires while attached.
	streamDone chan struct{}
}

func (s *subscription) touchLocked() {
	s.lastActivity = timestamp.Now()
}

func (s *subscription) summaryLocked() Summary {
	items := make([]MonitoredItem, 0, len(s.items))
	for id, depth := range s.items {
		items = append(items, MonitoredItem{ElementID: id, MaxDepth: depth})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ElementID < items[j].ElementID })
	return Summary{
		SubscriptionID: s.id,
		Created:        s.created,
		State:          s.state,
		MonitoredItems: items,
		QueueDepth:     s.queue.Size(),
		QueueCapacity:  s.queue.Capacity(),
		DroppedCount:   s.dropped,
		StreamAttached: s.streamDone != nil,
	}
}

// signalWake nudges the stream drainer without blocking the publisher.
func (s *subscription) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
