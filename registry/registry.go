// Package registry owns the Namespace, ObjectType and RelationshipType
// records and validates every schema reference: namespace existence, base
// type resolution and base-chain acyclicity, relationship reverse pairing.
// Effective schemas (the deep merge of a type's base chain) are resolved here
// and memoized until a re-registration invalidates them.
package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/metric"
	"github.com/cesmii/i3x/pkg/retry"
	"github.com/cesmii/i3x/storage"
	"github.com/cesmii/i3x/types"
)

// Dependencies contains everything the registry needs.
type Dependencies struct {
	Backend storage.Backend
	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry
}

// Registry is the identifier and schema registry. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	namespaces map[string]types.Namespace
	objTypes   map[string]types.ObjectType
	relTypes   map[string]types.RelationshipType

	// effective memoizes resolved schemas per typeId; any type
	// re-registration clears it since descendants may be affected.
	effective map[string]types.Schema

	backend storage.Backend
	logger  *slog.Logger
	metrics *metric.Metrics
}

// New creates a registry and loads existing records from the backend.
func New(ctx context.Context, deps Dependencies) (*Registry, error) {
	if deps.Backend == nil {
		return nil, errors.WrapInvalid(nil, "Registry", "New", "backend is required")
	}
	if deps.Logger == nil {
		return nil, errors.WrapInvalid(nil, "Registry", "New", "logger is required")
	}

	r := &Registry{
		namespaces: make(map[string]types.Namespace),
		objTypes:   make(map[string]types.ObjectType),
		relTypes:   make(map[string]types.RelationshipType),
		effective:  make(map[string]types.Schema),
		backend:    deps.Backend,
		logger:     deps.Logger.With("component", "registry"),
	}
	if deps.Metrics != nil {
		r.metrics = deps.Metrics.CoreMetrics()
	}

	if err := r.load(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load(ctx context.Context) error {
	namespaces, err := r.backend.LoadRecords(ctx, storage.KindNamespace)
	if err != nil {
		return errors.Wrap(err, "Registry", "load", "load namespaces")
	}
	for id, data := range namespaces {
		var ns types.Namespace
		if err := json.Unmarshal(data, &ns); err != nil {
			r.logger.Warn("skipping corrupt namespace record", "uri", id, "error", err)
			continue
		}
		r.namespaces[ns.URI] = ns
	}

	objTypes, err := r.backend.LoadRecords(ctx, storage.KindObjectType)
	if err != nil {
		return errors.Wrap(err, "Registry", "load", "load object types")
	}
	for id, data := range objTypes {
		var ot types.ObjectType
		if err := json.Unmarshal(data, &ot); err != nil {
			r.logger.Warn("skipping corrupt object type record", "elementId", id, "error", err)
			continue
		}
		r.objTypes[ot.ElementID] = ot
	}

	relTypes, err := r.backend.LoadRecords(ctx, storage.KindRelationshipType)
	if err != nil {
		return errors.Wrap(err, "Registry", "load", "load relationship types")
	}
	for id, data := range relTypes {
		var rt types.RelationshipType
		if err := json.Unmarshal(data, &rt); err != nil {
			r.logger.Warn("skipping corrupt relationship type record", "elementId", id, "error", err)
			continue
		}
		r.relTypes[rt.ElementID] = rt
	}

	r.logger.Info("registry loaded",
		"namespaces", len(r.namespaces),
		"objectTypes", len(r.objTypes),
		"relationshipTypes", len(r.relTypes))
	return nil
}

func (r *Registry) observe(operation, status string) {
	if r.metrics != nil {
		r.metrics.StoreOperations.WithLabelValues("registry", operation, status).Inc()
	}
}

func (r *Registry) persist(ctx context.Context, kind storage.RecordKind, id string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "Registry", "persist", "marshal record")
	}
	err = retry.Do(ctx, retry.Quick(), func() error {
		return r.backend.PutRecord(ctx, kind, id, data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Registry", "persist", "write record")
	}
	return nil
}

// RegisterNamespace creates or updates a namespace. Re-registering an
// existing URI updates the display name, but only while no registered type
// references the namespace: once referenced its content is frozen, and only
// identical re-registrations are accepted.
func (r *Registry) RegisterNamespace(ctx context.Context, ns types.Namespace) error {
	if ns.URI == "" {
		r.observe("registerNamespace", "invalid")
		return errors.NewValidation("uri", "namespace uri is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.namespaces[ns.URI]; exists && prev != ns && r.namespaceReferencedLocked(ns.URI) {
		r.observe("registerNamespace", "conflict")
		return errors.NewConflict(errors.ConflictNamespaceInUse, ns.URI)
	}

	if err := r.persist(ctx, storage.KindNamespace, ns.URI, ns); err != nil {
		r.observe("registerNamespace", "error")
		return err
	}
	r.namespaces[ns.URI] = ns
	r.observe("registerNamespace", "ok")
	r.logger.Debug("namespace registered", "uri", ns.URI)
	return nil
}

// namespaceReferencedLocked reports whether any registered type lives in the
// namespace.
func (r *Registry) namespaceReferencedLocked(uri string) bool {
	for _, ot := range r.objTypes {
		if ot.NamespaceURI == uri {
			return true
		}
	}
	for _, rt := range r.relTypes {
		if rt.NamespaceURI == uri {
			return true
		}
	}
	return false
}

// RegisterObjectType creates or updates an object type. The schema document
// must be well formed and the base chain must resolve without cycles.
// Re-registering an existing elementId is an update; stored objects are never
// retroactively invalidated since value validation is advisory at write time.
func (r *Registry) RegisterObjectType(ctx context.Context, ot types.ObjectType) error {
	if err := r.validateObjectType(&ot); err != nil {
		r.observe("registerObjectType", "invalid")
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.namespaces[ot.NamespaceURI]; !ok {
		r.observe("registerObjectType", "invalid")
		return errors.NewNotFound("namespace", ot.NamespaceURI)
	}
	if err := r.checkBaseChain(ot); err != nil {
		r.observe("registerObjectType", "invalid")
		return err
	}

	if err := r.persist(ctx, storage.KindObjectType, ot.ElementID, ot); err != nil {
		r.observe("registerObjectType", "error")
		return err
	}
	r.objTypes[ot.ElementID] = ot
	r.effective = make(map[string]types.Schema)
	r.observe("registerObjectType", "ok")
	r.logger.Debug("object type registered", "elementId", ot.ElementID, "baseTypeId", ot.BaseTypeID)
	return nil
}

// RegisterRelationshipType creates or updates a relationship type. ReverseOf
// may name the type itself (symmetric relationship) or an already registered
// type; register one side of a mutual pair first, then re-register it with
// the reverse reference once the other side exists.
func (r *Registry) RegisterRelationshipType(ctx context.Context, rt types.RelationshipType) error {
	if rt.ElementID == "" {
		r.observe("registerRelationshipType", "invalid")
		return errors.NewValidation("elementId", "relationship type elementId is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.namespaces[rt.NamespaceURI]; !ok {
		r.observe("registerRelationshipType", "invalid")
		return errors.NewNotFound("namespace", rt.NamespaceURI)
	}
	if rt.ReverseOf != "" && rt.ReverseOf != rt.ElementID {
		if _, ok := r.relTypes[rt.ReverseOf]; !ok {
			r.observe("registerRelationshipType", "invalid")
			return errors.NewNotFound("relationshiptype", rt.ReverseOf)
		}
	}

	if err := r.persist(ctx, storage.KindRelationshipType, rt.ElementID, rt); err != nil {
		r.observe("registerRelationshipType", "error")
		return err
	}
	r.relTypes[rt.ElementID] = rt
	r.observe("registerRelationshipType", "ok")
	r.logger.Debug("relationship type registered", "elementId", rt.ElementID, "reverseOf", rt.ReverseOf)
	return nil
}

// Namespaces returns all namespaces ordered by URI.
func (r *Registry) Namespaces() []types.Namespace {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Namespace, 0, len(r.namespaces))
	for _, ns := range r.namespaces {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// NamespaceExists reports whether the URI is registered.
func (r *Registry) NamespaceExists(uri string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.namespaces[uri]
	return ok
}

// ObjectTypesByIDs returns the object types found among ids, preserving
// request order. Unknown ids are skipped.
func (r *Registry) ObjectTypesByIDs(ids []string) []types.ObjectType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ObjectType, 0, len(ids))
	for _, id := range ids {
		if ot, ok := r.objTypes[id]; ok {
			out = append(out, ot)
		}
	}
	return out
}

// ObjectType returns the type with the given elementId.
func (r *Registry) ObjectType(id string) (types.ObjectType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ot, ok := r.objTypes[id]
	return ot, ok
}

// ListObjectTypesByNamespace returns the namespace's types ordered by
// elementId. An empty URI lists every type.
func (r *Registry) ListObjectTypesByNamespace(uri string) []types.ObjectType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.ObjectType
	for _, ot := range r.objTypes {
		if uri == "" || ot.NamespaceURI == uri {
			out = append(out, ot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ElementID < out[j].ElementID })
	return out
}

// RelationshipTypesByIDs returns the relationship types found among ids,
// preserving request order. Unknown ids are skipped.
func (r *Registry) RelationshipTypesByIDs(ids []string) []types.RelationshipType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.RelationshipType, 0, len(ids))
	for _, id := range ids {
		if rt, ok := r.relTypes[id]; ok {
			out = append(out, rt)
		}
	}
	return out
}

// RelationshipType returns the relationship type with the given elementId.
func (r *Registry) RelationshipType(id string) (types.RelationshipType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.relTypes[id]
	return rt, ok
}

// ListRelationshipTypesByNamespace returns the namespace's relationship types
// ordered by elementId. An empty URI lists every type.
func (r *Registry) ListRelationshipTypesByNamespace(uri string) []types.RelationshipType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.RelationshipType
	for _, rt := range r.relTypes {
		if uri == "" || rt.NamespaceURI == uri {
			out = append(out, rt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ElementID < out[j].ElementID })
	return out
}
