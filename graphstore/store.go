// Package graphstore owns Object records and the two edge sets over them:
// the parent/child composition forest and typed relationship edges with
// derived reverse edges. All structural mutations run under one store lock so
// cycle-check-then-commit is atomic; every committed mutation is published to
// the change notifier in commit order.
package graphstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/metric"
	"github.com/cesmii/i3x/notifier"
	"github.com/cesmii/i3x/pkg/retry"
	"github.com/cesmii/i3x/storage"
	"github.com/cesmii/i3x/types"
)

// SchemaRegistry is the slice of the registry the graph store needs to
// validate references.
type SchemaRegistry interface {
	NamespaceExists(uri string) bool
	ObjectType(id string) (types.ObjectType, bool)
	RelationshipType(id string) (types.RelationshipType, bool)
}

// Dependencies contains everything the graph store needs.
type Dependencies struct {
	Backend  storage.Backend
	Registry SchemaRegistry
	Notifier *notifier.Notifier
	Logger   *slog.Logger
	Metrics  *metric.MetricsRegistry
}

// Store is the object graph store. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	objects map[string]*types.Object

	// children maps a parent elementId to the set of its child ids.
	children map[string]map[string]struct{}

	// reverse is the derived reverse-relationship index: target elementId
	// to the set of (source, relationship type) pairs pointing at it.
	// Rebuilt incrementally on every relationship write, never stored.
	reverse map[string]map[types.RelatedRef]struct{}

	backend  storage.Backend
	registry SchemaRegistry
	notifier *notifier.Notifier
	logger   *slog.Logger
	metrics  *metric.Metrics
}

// New creates a graph store and loads existing objects from the backend.
func New(ctx context.Context, deps Dependencies) (*Store, error) {
	if deps.Backend == nil {
		return nil, errors.WrapInvalid(nil, "GraphStore", "New", "backend is required")
	}
	if deps.Registry == nil {
		return nil, errors.WrapInvalid(nil, "GraphStore", "New", "registry is required")
	}
	if deps.Notifier == nil {
		return nil, errors.WrapInvalid(nil, "GraphStore", "New", "notifier is required")
	}
	if deps.Logger == nil {
		return nil, errors.WrapInvalid(nil, "GraphStore", "New", "logger is required")
	}

	s := &Store{
		objects:  make(map[string]*types.Object),
		children: make(map[string]map[string]struct{}),
		reverse:  make(map[string]map[types.RelatedRef]struct{}),
		backend:  deps.Backend,
		registry: deps.Registry,
		notifier: deps.Notifier,
		logger:   deps.Logger.With("component", "graphstore"),
	}
	if deps.Metrics != nil {
		s.metrics = deps.Metrics.CoreMetrics()
	}

	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	records, err := s.backend.LoadRecords(ctx, storage.KindObject)
	if err != nil {
		return errors.Wrap(err, "GraphStore", "load", "load objects")
	}
	for id, data := range records {
		var obj types.Object
		if err := json.Unmarshal(data, &obj); err != nil {
			s.logger.Warn("skipping corrupt object record", "elementId", id, "error", err)
			continue
		}
		s.objects[obj.ElementID] = &obj
	}

	// Derived state is rebuilt, never trusted from storage.
	for _, obj := range s.objects {
		if obj.ParentID != "" {
			s.addChild(obj.ParentID, obj.ElementID)
		}
		s.indexRelationships(obj)
	}
	for _, obj := range s.objects {
		obj.IsComposition = len(s.children[obj.ElementID]) > 0
	}

	if s.metrics != nil {
		s.metrics.ObjectsTotal.Set(float64(len(s.objects)))
	}
	s.logger.Info("graph store loaded", "objects", len(s.objects))
	return nil
}

func (s *Store) observe(operation, status string) {
	if s.metrics != nil {
		s.metrics.StoreOperations.WithLabelValues("graph", operation, status).Inc()
	}
}

func (s *Store) persist(ctx context.Context, obj *types.Object) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrap(err, "GraphStore", "persist", "marshal object")
	}
	err = retry.Do(ctx, retry.Quick(), func() error {
		return s.backend.PutRecord(ctx, storage.KindObject, obj.ElementID, data)
	})
	if err != nil {
		return errors.WrapTransient(err, "GraphStore", "persist", "write object")
	}
	return nil
}

func (s *Store) addChild(parentID, childID string) {
	set, ok := s.children[parentID]
	if !ok {
		set = make(map[string]struct{})
		s.children[parentID] = set
	}
	set[childID] = struct{}{}
}

func (s *Store) removeChild(parentID, childID string) {
	if set, ok := s.children[parentID]; ok {
		delete(set, childID)
		if len(set) == 0 {
			delete(s.children, parentID)
		}
	}
}

func (s *Store) indexRelationships(obj *types.Object) {
	for relType, targets := range obj.Relationships {
		for _, target := range targets {
			ref := types.RelatedRef{SourceID: obj.ElementID, RelationshipTypeID: relType}
			set, ok := s.reverse[target]
			if !ok {
				set = make(map[types.RelatedRef]struct{})
				s.reverse[target] = set
			}
			set[ref] = struct{}{}
		}
	}
}

func (s *Store) unindexRelationships(obj *types.Object) {
	for relType, targets := range obj.Relationships {
		for _, target := range targets {
			ref := types.RelatedRef{SourceID: obj.ElementID, RelationshipTypeID: relType}
			if set, ok := s.reverse[target]; ok {
				delete(set, ref)
				if len(set) == 0 {
					delete(s.reverse, target)
				}
			}
		}
	}
}

// GetByIDs returns deep copies of the objects found among ids, preserving
// request order. Unknown ids are skipped.
func (s *Store) GetByIDs(ids []string) []*types.Object {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Object, 0, len(ids))
	for _, id := range ids {
		if obj, ok := s.objects[id]; ok {
			out = append(out, obj.Clone())
		}
	}
	return out
}

// Object returns a copy of the object with the given elementId.
func (s *Store) Object(id string) (*types.Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[id]
	if !ok {
		return nil, false
	}
	return obj.Clone(), true
}

// Exists reports whether the elementId resolves to an object.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[id]
	return ok
}

// ListByType returns copies of all objects with the exact typeId, ordered by
// elementId. An empty typeId lists every object.
func (s *Store) ListByType(typeID string) []*types.Object {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Object
	for _, obj := range s.objects {
		if typeID == "" || obj.TypeID == typeID {
			out = append(out, obj.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ElementID < out[j].ElementID })
	return out
}

// Children returns the object's direct child ids in lexical order.
func (s *Store) Children(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.childrenLocked(id)
}

func (s *Store) childrenLocked(id string) []string {
	set := s.children[id]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for child := range set {
		out = append(out, child)
	}
	sort.Strings(out)
	return out
}
