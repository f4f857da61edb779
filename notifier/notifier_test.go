package notifier

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesmii/i3x/types"
)

type recordingListener struct {
	mu     sync.Mutex
	events []types.ChangeEvent
}

func (l *recordingListener) Notify(event types.ChangeEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingListener) snapshot() []types.ChangeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.ChangeEvent, len(l.events))
	copy(out, l.events)
	return out
}

func newTestNotifier(t *testing.T) *Notifier {
	t.Helper()
	n, err := New(Dependencies{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	t.Cleanup(n.Stop)
	return n
}

func TestNewRequiresLogger(t *testing.T) {
	_, err := New(Dependencies{})
	require.Error(t, err)
}

func TestPublishFansOutToAllListeners(t *testing.T) {
	n := newTestNotifier(t)
	first := &recordingListener{}
	second := &recordingListener{}
	n.Subscribe(first)
	n.Subscribe(second)

	n.Publish(types.ChangeEvent{Type: types.ChangeObjectCreated, ElementID: "pump1"})
	n.Publish(types.ChangeEvent{Type: types.ChangeValueWritten, ElementID: "pump1"})
	n.Flush()

	for _, l := range []*recordingListener{first, second} {
		events := l.snapshot()
		require.Len(t, events, 2)
		assert.Equal(t, types.ChangeObjectCreated, events[0].Type)
		assert.Equal(t, types.ChangeValueWritten, events[1].Type)
	}
}

func TestPublishAssignsMonotonicSeqAndTimestamp(t *testing.T) {
	n := newTestNotifier(t)
	l := &recordingListener{}
	n.Subscribe(l)

	for i := 0; i < 5; i++ {
		n.Publish(types.ChangeEvent{Type: types.ChangeValueWritten, ElementID: "pump1"})
	}
	n.Flush()

	events := l.snapshot()
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Positive(t, ev.Timestamp)
	}
}

// lockingListener reads back through the same mutex publishers hold while
// calling Publish, the shape of a subscription match walking the graph.
type lockingListener struct {
	mu     *sync.Mutex
	events int
	done   chan struct{}
	target int
}

func (l *lockingListener) Notify(types.ChangeEvent) {
	l.mu.Lock()
	l.events++
	if l.events == l.target {
		close(l.done)
	}
	l.mu.Unlock()
}

func TestPublishDoesNotInvokeListenersUnderCallerLock(t *testing.T) {
	n := newTestNotifier(t)

	var storeMu sync.Mutex
	const publishers = 8
	const perPublisher = 300

	l := &lockingListener{
		mu:     &storeMu,
		done:   make(chan struct{}),
		target: publishers * perPublisher,
	}
	n.Subscribe(l)

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(publisher int) {
			defer wg.Done()
			element := fmt.Sprintf("obj-%d", publisher)
			for i := 0; i < perPublisher; i++ {
				// Publish under the lock the listener also needs,
				// as stores do with their commit locks.
				storeMu.Lock()
				n.Publish(types.ChangeEvent{Type: types.ChangeObjectCreated, ElementID: element})
				storeMu.Unlock()
			}
		}(p)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		n.Flush()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(10 * time.Second):
		t.Fatal("publishers wedged: delivery ran under a publisher-held lock")
	}
	select {
	case <-l.done:
	case <-time.After(10 * time.Second):
		t.Fatal("listener never received all events")
	}
}

func TestFlushWaitsForDelivery(t *testing.T) {
	n := newTestNotifier(t)

	release := make(chan struct{})
	slow := &gatedListener{release: release, seen: make(chan types.ChangeEvent, 1)}
	n.Subscribe(slow)

	n.Publish(types.ChangeEvent{Type: types.ChangeObjectCreated, ElementID: "pump1"})

	flushed := make(chan struct{})
	go func() {
		n.Flush()
		close(flushed)
	}()

	// Flush cannot return while the listener is still inside Notify.
	<-slow.seen
	select {
	case <-flushed:
		t.Fatal("flush returned before delivery completed")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-flushed:
	case <-time.After(5 * time.Second):
		t.Fatal("flush never returned")
	}
}

type gatedListener struct {
	release chan struct{}
	seen    chan types.ChangeEvent
}

func (l *gatedListener) Notify(event types.ChangeEvent) {
	l.seen <- event
	<-l.release
}

func TestStopDeliversQueuedEventsAndDropsLater(t *testing.T) {
	n := newTestNotifier(t)
	l := &recordingListener{}
	n.Subscribe(l)

	n.Publish(types.ChangeEvent{Type: types.ChangeObjectCreated, ElementID: "pump1"})
	n.Stop()

	events := l.snapshot()
	require.Len(t, events, 1)

	n.Publish(types.ChangeEvent{Type: types.ChangeObjectDeleted, ElementID: "pump1"})
	assert.Len(t, l.snapshot(), 1)
}

func TestConcurrentPublishKeepsPerElementOrder(t *testing.T) {
	n := newTestNotifier(t)
	l := &recordingListener{}
	n.Subscribe(l)

	const writers = 4
	const perWriter = 100

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(writer int) {
			defer wg.Done()
			element := fmt.Sprintf("obj-%d", writer)
			for i := 0; i < perWriter; i++ {
				n.Publish(types.ChangeEvent{
					Type:      types.ChangeValueWritten,
					ElementID: element,
					Point:     &types.ValuePoint{ElementID: element, Value: i},
				})
			}
		}(w)
	}
	wg.Wait()
	n.Flush()

	events := l.snapshot()
	require.Len(t, events, writers*perWriter)

	// Per element, values must appear in write order even under
	// concurrent publishers for other elements.
	lastValue := make(map[string]int)
	for _, ev := range events {
		v := ev.Point.Value.(int)
		if prev, seen := lastValue[ev.ElementID]; seen {
			assert.Equal(t, prev+1, v, "out-of-order delivery for %s", ev.ElementID)
		} else {
			assert.Zero(t, v)
		}
		lastValue[ev.ElementID] = v
	}
}
