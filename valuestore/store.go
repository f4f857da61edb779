// Package valuestore owns the per-object time-series of VQT value points:
// append-only writes, current-value reads with recursive composition, ranged
// history with epoch-aligned aggregation. Series are held in memory per
// element, hydrated lazily from the persistence backend, and written through
// asynchronously by a worker pool since the (timestamp, seq) keys make
// backend appends order-independent.
package valuestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/metric"
	"github.com/cesmii/i3x/notifier"
	"github.com/cesmii/i3x/pkg/retry"
	"github.com/cesmii/i3x/pkg/timestamp"
	"github.com/cesmii/i3x/pkg/worker"
	"github.com/cesmii/i3x/storage"
	"github.com/cesmii/i3x/types"
)

// GraphReader is the slice of the graph store the value store needs for
// existence checks and composition traversal.
type GraphReader interface {
	Object(id string) (*types.Object, bool)
	Exists(id string) bool
	Children(id string) []string
}

// SchemaResolver resolves the effective schema for advisory value validation.
type SchemaResolver interface {
	ResolveEffectiveSchema(typeID string) (types.Schema, error)
}

// Config tunes the value store.
type Config struct {
	// Workers and WriteQueue size the async persistence pool.
	Workers    int `json:"workers" yaml:"workers"`
	WriteQueue int `json:"writeQueue" yaml:"writeQueue"`

	// DefaultWindow is the history range applied when start/end are
	// absent, counted back from now.
	DefaultWindow time.Duration `json:"defaultWindow" yaml:"defaultWindow"`
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		WriteQueue:    1024,
		DefaultWindow: time.Hour,
	}
}

// Dependencies contains everything the value store needs.
type Dependencies struct {
	Backend  storage.Backend
	Graph    GraphReader
	Resolver SchemaResolver
	Notifier *notifier.Notifier
	Logger   *slog.Logger
	Metrics  *metric.MetricsRegistry
	Config   Config
}

type seqPoint struct {
	types.ValuePoint
	seq uint64
}

// series is one element's append window. Its own lock keeps concurrent
// writers to different elements from blocking each other.
type series struct {
	mu     sync.Mutex
	points []seqPoint
}

type persistJob struct {
	elementID string
	ts        int64
	seq       uint64
	data      []byte
}

// Store is the value store. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	series map[string]*series

	seqMu sync.Mutex
	seq   uint64

	backend  storage.Backend
	graph    GraphReader
	resolver SchemaResolver
	notifier *notifier.Notifier
	writers  *worker.Pool[persistJob]
	logger   *slog.Logger
	metrics  *metric.Metrics
	config   Config
}

// New creates a value store and starts its persistence workers.
func New(ctx context.Context, deps Dependencies) (*Store, error) {
	if deps.Backend == nil {
		return nil, errors.WrapInvalid(nil, "ValueStore", "New", "backend is required")
	}
	if deps.Graph == nil {
		return nil, errors.WrapInvalid(nil, "ValueStore", "New", "graph reader is required")
	}
	if deps.Notifier == nil {
		return nil, errors.WrapInvalid(nil, "ValueStore", "New", "notifier is required")
	}
	if deps.Logger == nil {
		return nil, errors.WrapInvalid(nil, "ValueStore", "New", "logger is required")
	}
	cfg := deps.Config
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.WriteQueue <= 0 {
		cfg.WriteQueue = DefaultConfig().WriteQueue
	}
	if cfg.DefaultWindow <= 0 {
		cfg.DefaultWindow = DefaultConfig().DefaultWindow
	}

	s := &Store{
		series:   make(map[string]*series),
		seq:      uint64(timestamp.Now()), // restart-safe tie-break base
		backend:  deps.Backend,
		graph:    deps.Graph,
		resolver: deps.Resolver,
		notifier: deps.Notifier,
		logger:   deps.Logger.With("component", "valuestore"),
		config:   cfg,
	}
	if deps.Metrics != nil {
		s.metrics = deps.Metrics.CoreMetrics()
	}

	var opts []worker.Option[persistJob]
	if deps.Metrics != nil {
		opts = append(opts, worker.WithMetricsRegistry[persistJob](deps.Metrics, "valuestore_writes"))
	}
	s.writers = worker.NewPool(cfg.Workers, cfg.WriteQueue, s.persistPoint, opts...)
	if err := s.writers.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "ValueStore", "New", "start write pool")
	}
	return s, nil
}

// Stop drains the persistence pool.
func (s *Store) Stop(timeout time.Duration) error {
	return s.writers.Stop(timeout)
}

// Notify implements notifier.Listener: on object deletion the in-memory
// series is released (backend history is removed by the graph store).
func (s *Store) Notify(event types.ChangeEvent) {
	if event.Type != types.ChangeObjectDeleted {
		return
	}
	s.mu.Lock()
	delete(s.series, event.ElementID)
	s.mu.Unlock()
}

func (s *Store) observe(operation, status string) {
	if s.metrics != nil {
		s.metrics.StoreOperations.WithLabelValues("value", operation, status).Inc()
	}
}

func (s *Store) nextSeq() uint64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.seq++
	return s.seq
}

func (s *Store) persistPoint(ctx context.Context, job persistJob) error {
	err := retry.Do(ctx, retry.Quick(), func() error {
		return s.backend.AppendPoint(ctx, job.elementID, job.ts, job.seq, job.data)
	})
	if err != nil {
		s.logger.Error("failed to persist value point",
			"elementId", job.elementID, "timestamp", job.ts, "error", err)
		return err
	}
	return nil
}

// getSeries returns the element's series, hydrating it from the backend on
// first access after a restart.
func (s *Store) getSeries(ctx context.Context, elementID string) (*series, error) {
	s.mu.RLock()
	sr, ok := s.series[elementID]
	s.mu.RUnlock()
	if ok {
		return sr, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sr, ok := s.series[elementID]; ok {
		return sr, nil
	}

	raw, err := s.backend.LoadPoints(ctx, elementID, minTS, maxTS)
	if err != nil {
		return nil, errors.WrapTransient(err, "ValueStore", "getSeries", "hydrate series")
	}
	sr = &series{}
	for i, data := range raw {
		var point types.ValuePoint
		if err := json.Unmarshal(data, &point); err != nil {
			s.logger.Warn("skipping corrupt value point", "elementId", elementID, "error", err)
			continue
		}
		// Backend order is (ts, seq) ascending; re-assigned seqs keep
		// that order and stay below any live sequence number.
		sr.points = append(sr.points, seqPoint{ValuePoint: point, seq: uint64(i)})
	}
	s.series[elementID] = sr
	return sr, nil
}

const (
	minTS = int64(-1) << 62
	maxTS = int64(1)<<62 - 1
)

// validatePoint checks quality and timestamp and runs the advisory schema
// validation against the object's effective type schema.
func (s *Store) validatePoint(obj *types.Object, point *types.ValuePoint, loc string) error {
	ve := &errors.ValidationError{}
	if point.Quality == "" {
		point.Quality = types.QualityGood
	}
	if !point.Quality.IsValid() {
		ve.Add(loc+"quality", fmt.Sprintf("unknown quality %q", point.Quality))
	}
	if point.Timestamp == 0 {
		point.Timestamp = timestamp.Now()
	}
	if err := timestamp.Validate(point.Timestamp); err != nil {
		ve.Add(loc+"timestamp", err.Error())
	}

	if s.resolver != nil && obj.TypeID != "" {
		schema, err := s.resolver.ResolveEffectiveSchema(obj.TypeID)
		if err == nil {
			if verr := schema.ValidateValue(point.Value); verr != nil {
				var nested *errors.ValidationError
				if errors.As(verr, &nested) {
					for _, d := range nested.Details {
						ve.Add(loc+"value."+d.Loc, d.Msg)
					}
				}
			}
		}
	}

	if ve.Empty() {
		return nil
	}
	return ve
}

// WriteValue appends one value point for the element and publishes
// value_written. Past points are never mutated. Returns the stored point.
func (s *Store) WriteValue(ctx context.Context, point types.ValuePoint) (*types.ValuePoint, error) {
	obj, ok := s.graph.Object(point.ElementID)
	if !ok {
		s.observe("writeValue", "not_found")
		return nil, errors.NewNotFound("object", point.ElementID)
	}
	if err := s.validatePoint(obj, &point, ""); err != nil {
		s.observe("writeValue", "invalid")
		return nil, err
	}

	sr, err := s.getSeries(ctx, point.ElementID)
	if err != nil {
		s.observe("writeValue", "error")
		return nil, err
	}

	// The per-series lock covers append and publish, so per-element event
	// order matches write order end to end.
	sr.mu.Lock()
	seq := s.nextSeq()
	sr.insert(seqPoint{ValuePoint: point, seq: seq})
	s.enqueuePersist(point, seq)
	s.notifier.Publish(types.ChangeEvent{
		Type:      types.ChangeValueWritten,
		ElementID: point.ElementID,
		Timestamp: point.Timestamp,
		Point:     &point,
	})
	sr.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ValuePointsWritten.Inc()
	}
	s.observe("writeValue", "ok")
	return &point, nil
}

// WriteHistory appends a batch of points for the element. The whole batch is
// validated before anything is written; backfill emits no change events.
// Returns the number of points written.
func (s *Store) WriteHistory(ctx context.Context, elementID string, points []types.ValuePoint) (int, error) {
	obj, ok := s.graph.Object(elementID)
	if !ok {
		s.observe("writeHistory", "not_found")
		return 0, errors.NewNotFound("object", elementID)
	}

	batch := make([]types.ValuePoint, len(points))
	ve := &errors.ValidationError{}
	for i := range points {
		batch[i] = points[i]
		batch[i].ElementID = elementID
		if err := s.validatePoint(obj, &batch[i], fmt.Sprintf("values[%d].", i)); err != nil {
			var nested *errors.ValidationError
			if errors.As(err, &nested) {
				ve.Details = append(ve.Details, nested.Details...)
			}
		}
	}
	if !ve.Empty() {
		s.observe("writeHistory", "invalid")
		return 0, ve
	}

	sr, err := s.getSeries(ctx, elementID)
	if err != nil {
		s.observe("writeHistory", "error")
		return 0, err
	}

	sr.mu.Lock()
	for _, point := range batch {
		seq := s.nextSeq()
		sr.insert(seqPoint{ValuePoint: point, seq: seq})
		s.enqueuePersist(point, seq)
	}
	sr.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ValuePointsWritten.Add(float64(len(batch)))
	}
	s.observe("writeHistory", "ok")
	return len(batch), nil
}

func (s *Store) enqueuePersist(point types.ValuePoint, seq uint64) {
	data, err := json.Marshal(point)
	if err != nil {
		s.logger.Error("failed to marshal value point", "elementId", point.ElementID, "error", err)
		return
	}
	job := persistJob{elementID: point.ElementID, ts: point.Timestamp, seq: seq, data: data}
	if err := s.writers.Submit(job); err != nil {
		s.logger.Error("persistence queue full, point not persisted",
			"elementId", point.ElementID, "timestamp", point.Timestamp)
	}
}

// insert keeps the series ordered by (timestamp, seq). Live writes append;
// backfill inserts.
func (sr *series) insert(p seqPoint) {
	n := len(sr.points)
	if n == 0 || lessSeqPoint(sr.points[n-1], p) {
		sr.points = append(sr.points, p)
		return
	}
	idx := sort.Search(n, func(i int) bool { return !lessSeqPoint(sr.points[i], p) })
	sr.points = append(sr.points, seqPoint{})
	copy(sr.points[idx+1:], sr.points[idx:])
	sr.points[idx] = p
}

func lessSeqPoint(a, b seqPoint) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.seq < b.seq
}
