package subscription

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/metric"
	"github.com/cesmii/i3x/pkg/buffer"
	"github.com/cesmii/i3x/pkg/timestamp"
	"github.com/cesmii/i3x/types"
)

// GraphReader is the slice of the graph store the manager needs: existence
// checks for registrations and parent resolution for depth matching.
type GraphReader interface {
	Object(id string) (*types.Object, bool)
	Exists(id string) bool
}

// Config tunes the subscription manager.
type Config struct {
	// QueueCapacity bounds each subscription's delivery queue.
	QueueCapacity int `json:"queueCapacity" yaml:"queueCapacity"`

	// IdleTimeout expires subscriptions with no sync or stream activity.
	// An attached stream suppresses expiry regardless of elapsed time.
	IdleTimeout time.Duration `json:"idleTimeout" yaml:"idleTimeout"`

	// GCInterval is the expiry sweep period.
	GCInterval time.Duration `json:"gcInterval" yaml:"gcInterval"`
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		QueueCapacity: 1024,
		IdleTimeout:   5 * time.Minute,
		GCInterval:    30 * time.Second,
	}
}

// Flusher blocks until all previously published events have been delivered.
// The change notifier satisfies it.
type Flusher interface {
	Flush()
}

// Dependencies contains everything the manager needs.
type Dependencies struct {
	Graph   GraphReader
	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry
	Config  Config

	// Flusher, when set, is drained before each sync so a client reading
	// its own writes sees them in the same sync.
	Flusher Flusher
}

// Manager owns all subscription state. It implements notifier.Listener and
// is subscribed to the change notifier once at startup. Safe for concurrent
// use.
type Manager struct {
	mu   sync.RWMutex
	subs map[string]*subscription

	graph    GraphReader
	flusher  Flusher
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics
	config   Config
}

// NewManager creates a subscription manager.
func NewManager(deps Dependencies) (*Manager, error) {
	if deps.Graph == nil {
		return nil, errors.WrapInvalid(nil, "SubscriptionManager", "NewManager", "graph reader is required")
	}
	if deps.Logger == nil {
		return nil, errors.WrapInvalid(nil, "SubscriptionManager", "NewManager", "logger is required")
	}
	cfg := deps.Config
	defaults := DefaultConfig()
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaults.QueueCapacity
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaults.IdleTimeout
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = defaults.GCInterval
	}

	m := &Manager{
		subs:     make(map[string]*subscription),
		graph:    deps.Graph,
		flusher:  deps.Flusher,
		logger:   deps.Logger.With("component", "subscription"),
		registry: deps.Metrics,
		config:   cfg,
	}
	if deps.Metrics != nil {
		m.metrics = deps.Metrics.CoreMetrics()
	}
	return m, nil
}

// Run drives the idle-expiry sweep until the context is canceled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.expireIdle()
		}
	}
}

// Create allocates a new active subscription and returns its summary.
func (m *Manager) Create() (Summary, error) {
	sub := &subscription{
		id:      uuid.NewString(),
		created: timestamp.Now(),
		state:   StateActive,
		items:   make(map[string]int),
		wake:    make(chan struct{}, 1),
	}
	sub.lastActivity = sub.created

	queue, err := buffer.NewCircular[types.ChangeEvent](m.config.QueueCapacity,
		buffer.WithOverflowPolicy[types.ChangeEvent](buffer.DropOldest),
		buffer.WithDropCallback[types.ChangeEvent](func(types.ChangeEvent) {
			sub.mu.Lock()
			sub.dropped++
			sub.mu.Unlock()
			if m.metrics != nil {
				m.metrics.EventsDropped.Inc()
			}
		}),
	)
	if err != nil {
		return Summary{}, errors.Wrap(err, "SubscriptionManager", "Create", "create queue")
	}
	sub.queue = queue

	m.mu.Lock()
	m.subs[sub.id] = sub
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SubscriptionsActive.Inc()
	}
	m.logger.Debug("subscription created", "subscriptionId", sub.id)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.summaryLocked(), nil
}

// List returns summaries of all live subscriptions ordered by creation time.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	out := make([]Summary, 0, len(subs))
	for _, sub := range subs {
		sub.mu.Lock()
		out = append(out, sub.summaryLocked())
		sub.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created != out[j].Created {
			return out[i].Created < out[j].Created
		}
		return out[i].SubscriptionID < out[j].SubscriptionID
	})
	return out
}

// Get returns one subscription's summary.
func (m *Manager) Get(id string) (Summary, error) {
	sub, err := m.lookup(id)
	if err != nil {
		return Summary{}, err
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.summaryLocked(), nil
}

// Delete closes the subscription, releasing its queue and any attached
// stream. Deleting a missing or already closed subscription is a no-op.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if ok {
		delete(m.subs, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	sub.mu.Lock()
	sub.state = StateClosed
	if sub.streamDone != nil {
		close(sub.streamDone)
		sub.streamDone = nil
	}
	sub.mu.Unlock()
	_ = sub.queue.Close()

	if m.metrics != nil {
		m.metrics.SubscriptionsActive.Dec()
	}
	m.logger.Debug("subscription deleted", "subscriptionId", id)
}

// Register adds elements to the watch list. Elements that do not resolve are
// skipped and reported rather than failing the batch.
func (m *Manager) Register(id string, elementIDs []string, maxDepth int) (registered, skipped []string, err error) {
	sub, err := m.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	if maxDepth < 0 {
		return nil, nil, errors.NewValidation("maxDepth", "maxDepth cannot be negative")
	}

	registered = make([]string, 0, len(elementIDs))
	for _, elementID := range elementIDs {
		if elementID == "" || !m.graph.Exists(elementID) {
			m.logger.Warn("skipping unresolvable registration",
				"subscriptionId", id, "elementId", elementID)
			skipped = append(skipped, elementID)
			continue
		}
		registered = append(registered, elementID)
	}

	sub.mu.Lock()
	for _, elementID := range registered {
		sub.items[elementID] = maxDepth
	}
	sub.touchLocked()
	sub.mu.Unlock()
	return registered, skipped, nil
}

// Unregister removes elements from the watch list. Unregistering an
// unwatched element is a no-op. Returns the elements actually removed.
func (m *Manager) Unregister(id string, elementIDs []string) ([]string, error) {
	sub, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	var removed []string
	for _, elementID := range elementIDs {
		if _, watched := sub.items[elementID]; watched {
			delete(sub.items, elementID)
			removed = append(removed, elementID)
		}
	}
	sub.touchLocked()
	return removed, nil
}

// Sync atomically drains the queue and resets the overflow counter. The
// returned DroppedCount tells the consumer how many events were lost since
// its previous drain.
func (m *Manager) Sync(id string) (SyncResult, error) {
	sub, err := m.lookup(id)
	if err != nil {
		return SyncResult{}, err
	}
	if m.flusher != nil {
		m.flusher.Flush()
	}

	// The subscription lock spans the drain and the counter swap so a
	// concurrent overflow cannot slip between them.
	sub.mu.Lock()
	events := sub.queue.DrainAll()
	dropped := sub.dropped
	sub.dropped = 0
	sub.touchLocked()
	sub.mu.Unlock()

	if m.metrics != nil {
		m.metrics.EventsDelivered.Add(float64(len(events)))
	}
	return SyncResult{Events: events, DroppedCount: dropped}, nil
}

// Notify implements notifier.Listener: the event is enqueued to every
// subscription watching the changed element directly or through a
// registered ancestor within depth. Never blocks; a full queue drops its
// oldest entry.
func (m *Manager) Notify(event types.ChangeEvent) {
	m.mu.RLock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		sub.mu.Lock()
		matched := sub.state == StateActive && m.matchesLocked(sub, event.ElementID)
		sub.mu.Unlock()
		if !matched {
			continue
		}
		// Queue writes happen outside the subscription lock; the drop
		// callback takes it.
		_ = sub.queue.Write(event)
		sub.signalWake()
	}
}

// matchesLocked reports whether the changed element is watched: either
// registered itself, or a descendant of a registered element at distance k
// with k < maxDepth (maxDepth 0 matches any distance).
func (m *Manager) matchesLocked(sub *subscription, elementID string) bool {
	if len(sub.items) == 0 {
		return false
	}
	if _, direct := sub.items[elementID]; direct {
		return true
	}

	// Walk the ancestor chain; distance counts parent hops.
	distance := 0
	cur := elementID
	visited := map[string]struct{}{cur: {}}
	for {
		obj, ok := m.graph.Object(cur)
		if !ok || obj.ParentID == "" {
			return false
		}
		distance++
		cur = obj.ParentID
		if _, seen := visited[cur]; seen {
			return false
		}
		visited[cur] = struct{}{}
		if depth, watched := sub.items[cur]; watched {
			if depth == 0 || distance < depth {
				return true
			}
		}
	}
}

func (m *Manager) lookup(id string) (*subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, errors.NewNotFound("subscription", id)
	}
	return sub, nil
}

// expireIdle transitions idle subscriptions to Expired and removes them.
// A subscription with an attached stream never expires.
func (m *Manager) expireIdle() {
	cutoff := timestamp.Now() - m.config.IdleTimeout.Milliseconds()

	m.mu.Lock()
	var expired []*subscription
	for id, sub := range m.subs {
		sub.mu.Lock()
		idle := sub.streamDone == nil && sub.lastActivity < cutoff
		if idle {
			sub.state = StateExpired
			delete(m.subs, id)
			expired = append(expired, sub)
		}
		sub.mu.Unlock()
	}
	m.mu.Unlock()

	for _, sub := range expired {
		_ = sub.queue.Close()
		if m.metrics != nil {
			m.metrics.SubscriptionsActive.Dec()
			m.metrics.SubscriptionsExpired.Inc()
		}
		m.logger.Info("subscription expired", "subscriptionId", sub.id)
	}
}
