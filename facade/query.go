package facade

import (
	"context"
	"fmt"
	"time"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/pkg/timestamp"
	"github.com/cesmii/i3x/types"
	"github.com/cesmii/i3x/valuestore"
)

func locIndex(field string, i int) string {
	return fmt.Sprintf("%s[%d]", field, i)
}

// Namespaces lists all registered namespaces.
func (f *Facade) Namespaces(ctx context.Context) ([]types.Namespace, error) {
	if err := f.allow(ctx, CapabilityRead); err != nil {
		return nil, err
	}
	return f.registry.Namespaces(), nil
}

// ObjectTypes lists object types, optionally filtered by namespace.
func (f *Facade) ObjectTypes(ctx context.Context, namespaceURI string) ([]types.ObjectType, error) {
	if err := f.allow(ctx, CapabilityRead); err != nil {
		return nil, err
	}
	return f.registry.ListObjectTypesByNamespace(namespaceURI), nil
}

// ObjectTypesByIDs resolves the selected object types in request order.
// Unresolvable ids are omitted.
func (f *Facade) ObjectTypesByIDs(ctx context.Context, sel IDSelector) ([]types.ObjectType, error) {
	if err := f.allow(ctx, CapabilityRead); err != nil {
		return nil, err
	}
	ids, err := sel.IDs()
	if err != nil {
		return nil, err
	}
	return f.registry.ObjectTypesByIDs(ids), nil
}

// RelationshipTypes lists relationship types, optionally filtered by
// namespace.
func (f *Facade) RelationshipTypes(ctx context.Context, namespaceURI string) ([]types.RelationshipType, error) {
	if err := f.allow(ctx, CapabilityRead); err != nil {
		return nil, err
	}
	return f.registry.ListRelationshipTypesByNamespace(namespaceURI), nil
}

// RelationshipTypesByIDs resolves the selected relationship types in
// request order. Unresolvable ids are omitted.
func (f *Facade) RelationshipTypesByIDs(ctx context.Context, sel IDSelector) ([]types.RelationshipType, error) {
	if err := f.allow(ctx, CapabilityRead); err != nil {
		return nil, err
	}
	ids, err := sel.IDs()
	if err != nil {
		return nil, err
	}
	return f.registry.RelationshipTypesByIDs(ids), nil
}

// Objects lists objects, optionally filtered by type.
func (f *Facade) Objects(ctx context.Context, typeID string) ([]*types.Object, error) {
	if err := f.allow(ctx, CapabilityRead); err != nil {
		return nil, err
	}
	return f.graph.ListByType(typeID), nil
}

// ObjectsByIDs resolves the selected objects in request order.
// Unresolvable ids are omitted.
func (f *Facade) ObjectsByIDs(ctx context.Context, sel IDSelector) ([]*types.Object, error) {
	if err := f.allow(ctx, CapabilityRead); err != nil {
		return nil, err
	}
	ids, err := sel.IDs()
	if err != nil {
		return nil, err
	}
	return f.graph.GetByIDs(ids), nil
}

// RelatedRequest selects the traversal roots, an optional relationship type
// restricting the edges followed, and the depth bound (0 = unbounded).
type RelatedRequest struct {
	IDSelector
	RelationshipType string `json:"relationshiptype,omitempty"`
	MaxDepth         int    `json:"maxDepth,omitempty"`

	// IncludeMetadata keeps the namespace and relationship map on each
	// result. Off by default so traversal responses stay identity-sized.
	IncludeMetadata bool `json:"includeMetadata,omitempty"`
}

// Related traverses from each selected root and concatenates the results in
// request order, deduplicating across roots.
func (f *Facade) Related(ctx context.Context, req RelatedRequest) ([]*types.Object, error) {
	if err := f.allow(ctx, CapabilityRead); err != nil {
		return nil, err
	}
	ids, err := req.IDs()
	if err != nil {
		return nil, err
	}

	var out []*types.Object
	seen := make(map[string]struct{})
	for _, id := range ids {
		related, err := f.graph.GetRelated(id, req.RelationshipType, req.MaxDepth)
		if err != nil {
			return nil, err
		}
		for _, obj := range related {
			if _, dup := seen[obj.ElementID]; dup {
				continue
			}
			seen[obj.ElementID] = struct{}{}
			if !req.IncludeMetadata {
				obj.NamespaceURI = ""
				obj.Relationships = nil
			}
			out = append(out, obj)
		}
	}
	return out, nil
}

// ValueRequest selects the elements whose current values are read and the
// composition depth bound.
type ValueRequest struct {
	IDSelector
	MaxDepth int `json:"maxDepth,omitempty"`
}

// CurrentValues reads the current value of each selected element, recursing
// into composition children up to MaxDepth, and flattens every tree into
// one point list in request order.
func (f *Facade) CurrentValues(ctx context.Context, req ValueRequest) ([]types.ValuePoint, error) {
	if err := f.allow(ctx, CapabilityRead); err != nil {
		return nil, err
	}
	ids, err := req.IDs()
	if err != nil {
		return nil, err
	}

	var out []types.ValuePoint
	for _, id := range ids {
		node, err := f.values.CurrentValue(ctx, id, req.MaxDepth)
		if err != nil {
			return nil, err
		}
		out = append(out, node.Flatten()...)
	}
	return out, nil
}

// AggregateRequest configures epoch-aligned bucket aggregation of a history
// query.
type AggregateRequest struct {
	Func           types.AggregateFunc `json:"func"`
	IntervalMs     int64               `json:"intervalMs"`
	IncludeNonGood bool                `json:"includeNonGood,omitempty"`
}

// HistoryRequest selects the elements, time range, composition depth and
// optional aggregation of a history read. Timestamps are unix ms or RFC3339
// strings; absent bounds default to the store's bounded window.
type HistoryRequest struct {
	IDSelector
	StartTime any               `json:"startTime,omitempty"`
	EndTime   any               `json:"endTime,omitempty"`
	MaxDepth  int               `json:"maxDepth,omitempty"`
	Aggregate *AggregateRequest `json:"aggregate,omitempty"`
}

// History reads the ranged history of each selected element and
// concatenates the results in request order.
func (f *Facade) History(ctx context.Context, req HistoryRequest) ([]types.ValuePoint, error) {
	if err := f.allow(ctx, CapabilityRead); err != nil {
		return nil, err
	}
	ids, err := req.IDs()
	if err != nil {
		return nil, err
	}
	q, err := historyQuery(req)
	if err != nil {
		return nil, err
	}

	var out []types.ValuePoint
	for _, id := range ids {
		points, err := f.values.History(ctx, id, q)
		if err != nil {
			return nil, err
		}
		out = append(out, points...)
	}
	return out, nil
}

func historyQuery(req HistoryRequest) (valuestore.HistoryQuery, error) {
	q := valuestore.HistoryQuery{MaxDepth: req.MaxDepth}

	ve := &errors.ValidationError{}
	q.Start = parseInstant(req.StartTime, "startTime", ve)
	q.End = parseInstant(req.EndTime, "endTime", ve)
	if !ve.Empty() {
		return q, ve
	}

	if req.Aggregate != nil {
		q.Aggregate = &valuestore.AggregateQuery{
			Func:           req.Aggregate.Func,
			Interval:       time.Duration(req.Aggregate.IntervalMs) * time.Millisecond,
			IncludeNonGood: req.Aggregate.IncludeNonGood,
		}
	}
	return q, nil
}

// parseInstant interprets an absent bound as 0, which the value store fills
// with its default window.
func parseInstant(input any, loc string, ve *errors.ValidationError) int64 {
	if input == nil {
		return 0
	}
	ms := timestamp.Parse(input)
	if ms == 0 {
		ve.Add(loc, "unrecognized timestamp")
	}
	return ms
}
